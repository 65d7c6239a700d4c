package host

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kobgit/kob-git-updater/internal/models"
)

func TestReadVersionHeader(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{"Plugin docblock", "<?php\n/**\n * Plugin Name: Kob\n * Version: 1.4.2\n */", "1.4.2"},
		{"Theme stylesheet", "/*\nTheme Name: Kob\nVersion: 2.0.0-beta.1\n*/\nbody{}", "2.0.0-beta.1"},
		{"Inline close", "/* Version: 3.1 */", "3.1"},
		{"Case insensitive", "<?php\n// version: dev-main\n", "dev-main"},
		{"Windows line endings", "<?php\r\n/*\r\n * Version: 0.9.0\r\n */", "0.9.0"},
		{"Requires PHP is not Version", "<?php\n/*\n * Requires PHP: 8.1\n */", ""},
		{"Missing", "<?php echo 'hi';", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadVersionHeader(strings.NewReader(tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestReadVersionHeader_OnlyScansFirst8KiB(t *testing.T) {
	content := "<?php\n/*\n" + strings.Repeat(" * filler line\n", 1000) + " * Version: 9.9.9\n */"
	got, err := ReadVersionHeader(strings.NewReader(content))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInstalledVersion(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/wp/plugins/kob/kob.php", []byte("<?php\n/*\n * Version: 1.2.3\n */"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/wp/themes/kob-theme/style.css", []byte("/*\nTheme Name: Kob\nVersion: dev-main\n*/"), 0o644))

	w := NewWordPress(fs, "/wp/plugins", "/wp/themes")

	v, err := w.InstalledVersion(models.KindPlugin, "kob/kob.php")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", v)

	v, err = w.InstalledVersion(models.KindTheme, "kob-theme")
	require.NoError(t, err)
	assert.Equal(t, "dev-main", v)

	v, err = w.InstalledVersion(models.KindPlugin, "missing/missing.php")
	require.NoError(t, err)
	assert.Empty(t, v)

	_, err = w.InstalledVersion(models.Kind("widget"), "x")
	assert.Error(t, err)
}
