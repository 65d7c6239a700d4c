package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kobgit/kob-git-updater/internal/models"
	"github.com/kobgit/kob-git-updater/internal/testutil"
)

// noRenameFs behaves like a filesystem where source and target live on
// different devices.
type noRenameFs struct {
	afero.Fs
}

func (noRenameFs) Rename(oldname, newname string) error {
	return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: errors.New("invalid cross-device link")}
}

// stuckSourceFs cannot rename, and deleting src removes a.php before failing
// with a permission error.
type stuckSourceFs struct {
	noRenameFs
	src string
}

func (fs stuckSourceFs) RemoveAll(path string) error {
	if path != fs.src {
		return fs.noRenameFs.RemoveAll(path)
	}
	if err := fs.noRenameFs.Remove(filepath.Join(path, "a.php")); err != nil {
		return err
	}
	return &os.PathError{Op: "unlinkat", Path: path, Err: os.ErrPermission}
}

type failingStrategy struct {
	name    string
	partial bool
}

func (s failingStrategy) Name() string { return s.name }

func (s failingStrategy) Move(_ context.Context, _, dst string) error {
	if s.partial {
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return err
		}
		os.WriteFile(filepath.Join(dst, "half.php"), []byte("<?php"), 0o644)
	}
	return errors.New(s.name + " failed")
}

type layout struct {
	root    string
	plugins string
	themes  string
}

func newLayout(t *testing.T) layout {
	t.Helper()
	root := t.TempDir()
	return layout{
		root:    root,
		plugins: filepath.Join(root, "wp-content", "plugins"),
		themes:  filepath.Join(root, "wp-content", "themes"),
	}
}

// extracted creates a directory named like a GitHub zipball root.
func (l layout) extracted(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(l.root, "scratch", name)
	testutil.WriteTree(t, dir, files)
	return dir
}

func quietLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{Level: log.FatalLevel})
}

func TestInstall_PluginLandsInSlugDirectory(t *testing.T) {
	l := newLayout(t)
	src := l.extracted(t, "owner-my-plugin-abc1234", map[string]string{
		"my-plugin.php":    "<?php /* Plugin Name: Mine */",
		"includes/lib.php": "<?php",
	})

	inst := New(l.plugins, l.themes, WithLogger(quietLogger()))
	res, err := inst.Install(context.Background(), models.KindPlugin, src, "my-plugin/my-plugin.php")
	require.NoError(t, err)

	want := filepath.Join(l.plugins, "my-plugin")
	assert.Equal(t, want, res.TargetPath)
	assert.Equal(t, "my-plugin", res.ExpectedDirectoryName)
	assert.Equal(t, filepath.Base(res.TargetPath), res.ExpectedDirectoryName)
	assert.Equal(t, "rename", res.Strategy)
	assert.Len(t, res.Attempts, 1)

	assert.Equal(t, map[string]string{
		"my-plugin.php":    "<?php /* Plugin Name: Mine */",
		"includes/lib.php": "<?php",
	}, testutil.ReadTree(t, want))
	assert.NoDirExists(t, src)
}

func TestInstall_Theme(t *testing.T) {
	l := newLayout(t)
	src := l.extracted(t, "owner-twentykob-main", map[string]string{
		"style.css": "/* Theme Name: Kob */",
	})

	inst := New(l.plugins, l.themes, WithLogger(quietLogger()))
	res, err := inst.Install(context.Background(), models.KindTheme, src, "twentykob")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(l.themes, "twentykob"), res.TargetPath)
	assert.FileExists(t, filepath.Join(l.themes, "twentykob", "style.css"))
}

func TestInstall_ReplacesExistingInstallation(t *testing.T) {
	l := newLayout(t)
	testutil.WriteTree(t, filepath.Join(l.plugins, "my-plugin"), map[string]string{
		"my-plugin.php": "old",
		"obsolete.php":  "gone after update",
	})
	src := l.extracted(t, "my-plugin-2.0.0", map[string]string{"my-plugin.php": "new"})

	inst := New(l.plugins, l.themes, WithLogger(quietLogger()))
	_, err := inst.Install(context.Background(), models.KindPlugin, src, "my-plugin/my-plugin.php")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"my-plugin.php": "new"}, testutil.ReadTree(t, filepath.Join(l.plugins, "my-plugin")))
}

func TestInstall_Idempotent(t *testing.T) {
	l := newLayout(t)
	files := map[string]string{"my-plugin.php": "<?php", "readme.txt": "hello"}
	inst := New(l.plugins, l.themes, WithLogger(quietLogger()))

	_, err := inst.Install(context.Background(), models.KindPlugin, l.extracted(t, "first", files), "my-plugin/my-plugin.php")
	require.NoError(t, err)
	first := testutil.ReadTree(t, filepath.Join(l.plugins, "my-plugin"))

	_, err = inst.Install(context.Background(), models.KindPlugin, l.extracted(t, "second", files), "my-plugin/my-plugin.php")
	require.NoError(t, err)
	second := testutil.ReadTree(t, filepath.Join(l.plugins, "my-plugin"))

	assert.Equal(t, first, second)
	entries, err := os.ReadDir(l.plugins)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestInstall_FallsBackWhenRenameFails(t *testing.T) {
	l := newLayout(t)
	src := l.extracted(t, "my-plugin-main", map[string]string{
		"my-plugin.php":   "<?php",
		"assets/app.js":   "console.log(1)",
		"assets/empty/.k": "",
	})

	inst := New(l.plugins, l.themes, WithFs(noRenameFs{afero.NewOsFs()}), WithLogger(quietLogger()))
	res, err := inst.Install(context.Background(), models.KindPlugin, src, "my-plugin/my-plugin.php")
	require.NoError(t, err)

	assert.Equal(t, "copy-remove", res.Strategy)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "rename", res.Attempts[0].Strategy)
	assert.Error(t, res.Attempts[0].Err)
	assert.NoError(t, res.Attempts[1].Err)

	assert.Equal(t, "console.log(1)", testutil.ReadTree(t, res.TargetPath)["assets/app.js"])
	assert.NoDirExists(t, src)
}

func TestInstall_SourceCleanupFailureKeepsCompleteCopy(t *testing.T) {
	l := newLayout(t)
	src := l.extracted(t, "my-plugin-main", map[string]string{
		"a.php":     "<?php // a",
		"sub/b.php": "<?php // b",
	})

	fs := stuckSourceFs{noRenameFs: noRenameFs{afero.NewOsFs()}, src: src}
	inst := New(l.plugins, l.themes, WithFs(fs), WithLogger(quietLogger()))
	res, err := inst.Install(context.Background(), models.KindPlugin, src, "my-plugin/a.php")
	require.NoError(t, err)

	assert.Equal(t, "copy-remove", res.Strategy)
	require.Len(t, res.Attempts, 2)
	assert.NoError(t, res.Attempts[1].Err)
	assert.Equal(t, map[string]string{
		"a.php":     "<?php // a",
		"sub/b.php": "<?php // b",
	}, testutil.ReadTree(t, res.TargetPath))
}

func TestSourceCleanupError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &SourceCleanupError{Err: os.ErrPermission})
	assert.True(t, isSourceCleanup(err))
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.False(t, isSourceCleanup(errors.New("copy: boom")))
}

func TestInstall_CleansPartialTargetBetweenStrategies(t *testing.T) {
	l := newLayout(t)
	src := l.extracted(t, "repo-main", map[string]string{"my-plugin.php": "<?php"})

	inst := New(l.plugins, l.themes,
		WithStrategies(failingStrategy{name: "half", partial: true}, RenameStrategy{Fs: afero.NewOsFs()}),
		WithLogger(quietLogger()))
	res, err := inst.Install(context.Background(), models.KindPlugin, src, "my-plugin/my-plugin.php")
	require.NoError(t, err)

	assert.Equal(t, "rename", res.Strategy)
	assert.Equal(t, map[string]string{"my-plugin.php": "<?php"}, testutil.ReadTree(t, res.TargetPath))
}

func TestInstall_AllStrategiesFail(t *testing.T) {
	l := newLayout(t)
	testutil.WriteTree(t, filepath.Join(l.plugins, "my-plugin"), map[string]string{"my-plugin.php": "old"})
	src := l.extracted(t, "repo-main", map[string]string{"my-plugin.php": "new"})

	inst := New(l.plugins, l.themes,
		WithStrategies(failingStrategy{name: "one", partial: true}, failingStrategy{name: "two"}),
		WithLogger(quietLogger()))
	res, err := inst.Install(context.Background(), models.KindPlugin, src, "my-plugin/my-plugin.php")
	assert.Nil(t, res)

	var installErr *InstallError
	require.ErrorAs(t, err, &installErr)
	assert.True(t, errors.Is(err, ErrAllStrategiesFailed))
	assert.True(t, installErr.TargetRemoved)
	require.Len(t, installErr.Attempts, 2)
	assert.Equal(t, "one", installErr.Attempts[0].Strategy)
	assert.Equal(t, "two", installErr.Attempts[1].Strategy)
	assert.Contains(t, err.Error(), "manual intervention")

	assert.NoDirExists(t, filepath.Join(l.plugins, "my-plugin"), "partial target must not be left behind")
	assert.DirExists(t, src, "source is untouched when nothing succeeded")
}

func TestInstall_FreshInstallFailureKeepsNothingRemoved(t *testing.T) {
	l := newLayout(t)
	src := l.extracted(t, "repo-main", map[string]string{"style.css": "x"})

	inst := New(l.plugins, l.themes, WithStrategies(failingStrategy{name: "only"}), WithLogger(quietLogger()))
	_, err := inst.Install(context.Background(), models.KindTheme, src, "kob")

	var installErr *InstallError
	require.ErrorAs(t, err, &installErr)
	assert.False(t, installErr.TargetRemoved)
	assert.NotContains(t, err.Error(), "manual intervention")
}

func TestInstall_NormalizesPermissions(t *testing.T) {
	l := newLayout(t)
	src := l.extracted(t, "repo-main", map[string]string{"my-plugin.php": "<?php", "lib/a.php": "<?php"})
	require.NoError(t, os.Chmod(filepath.Join(src, "my-plugin.php"), 0o600))
	require.NoError(t, os.Chmod(filepath.Join(src, "lib"), 0o700))

	inst := New(l.plugins, l.themes, WithLogger(quietLogger()))
	res, err := inst.Install(context.Background(), models.KindPlugin, src, "my-plugin/my-plugin.php")
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(res.TargetPath, "my-plugin.php"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(res.TargetPath, "lib"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestInstall_MissingSource(t *testing.T) {
	l := newLayout(t)
	inst := New(l.plugins, l.themes, WithLogger(quietLogger()))

	_, err := inst.Install(context.Background(), models.KindPlugin, filepath.Join(l.root, "nope"), "my-plugin/my-plugin.php")
	var installErr *InstallError
	require.ErrorAs(t, err, &installErr)
	assert.Empty(t, installErr.Attempts)
}

func TestTarget(t *testing.T) {
	inst := New("/wp/plugins", "/wp/themes", WithLogger(quietLogger()))

	tests := []struct {
		name    string
		kind    models.Kind
		slug    string
		want    string
		wantErr bool
	}{
		{"Plugin", models.KindPlugin, "kob-git-updater/kob-git-updater.php", "/wp/plugins/kob-git-updater", false},
		{"Theme", models.KindTheme, "kob-theme", "/wp/themes/kob-theme", false},
		{"Plugin without folder", models.KindPlugin, "hello.php", "", true},
		{"Unknown kind", models.Kind("mu-plugin"), "x", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := inst.Target(tt.kind, tt.slug)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tt.want), got)
		})
	}
}

func TestNativeCopyStrategy(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	testutil.WriteTree(t, src, map[string]string{"a.php": "a", "d/b.php": "b"})
	dst := filepath.Join(root, "dst")

	require.NoError(t, NativeCopyStrategy{}.Move(context.Background(), src, dst))
	assert.Equal(t, map[string]string{"a.php": "a", "d/b.php": "b"}, testutil.ReadTree(t, dst))
	assert.NoDirExists(t, src)
}

func TestShellStrategy(t *testing.T) {
	if _, err := exec.LookPath("cp"); err != nil {
		t.Skip("cp not available")
	}
	root := t.TempDir()
	src := filepath.Join(root, "src")
	testutil.WriteTree(t, src, map[string]string{"a.php": "a", "d/b.php": "b"})
	dst := filepath.Join(root, "dst")

	require.NoError(t, ShellStrategy{}.Move(context.Background(), src, dst))
	assert.Equal(t, map[string]string{"a.php": "a", "d/b.php": "b"}, testutil.ReadTree(t, dst))
	assert.NoDirExists(t, src)
}
