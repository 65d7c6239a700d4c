// Package installer moves an extracted package into the WordPress plugins or
// themes directory under the directory name WordPress expects for its slug.
package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/kobgit/kob-git-updater/internal/models"
)

// Operation describes a single install.
type Operation struct {
	Kind                  models.Kind `json:"kind"`
	ExpectedDirectoryName string      `json:"expected_directory_name"`
	SourcePath            string      `json:"source_path"`
	TargetPath            string      `json:"target_path"`
}

// Attempt records the outcome of one strategy.
type Attempt struct {
	Strategy string `json:"strategy"`
	Err      error  `json:"-"`
}

func (a Attempt) String() string {
	if a.Err == nil {
		return a.Strategy + ": ok"
	}
	return a.Strategy + ": " + a.Err.Error()
}

// Result is returned by a successful Install.
type Result struct {
	Operation
	Strategy string    `json:"strategy"`
	Attempts []Attempt `json:"attempts"`
}

// InstallError is returned when the package could not be put in place.
type InstallError struct {
	Op       Operation
	Attempts []Attempt
	// TargetRemoved is set when the previous installation was deleted but
	// nothing could be installed in its place.
	TargetRemoved bool
	Err           error
}

func (e *InstallError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "install %s into %s failed", e.Op.ExpectedDirectoryName, e.Op.TargetPath)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if len(e.Attempts) > 0 {
		parts := make([]string, len(e.Attempts))
		for i, a := range e.Attempts {
			parts[i] = a.String()
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(parts, "; "))
	}
	if e.TargetRemoved {
		b.WriteString("; previous installation was removed, manual intervention required")
	}
	return b.String()
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// ErrAllStrategiesFailed is wrapped by InstallError when no strategy managed
// to move the content.
var ErrAllStrategiesFailed = errors.New("all install strategies failed")

// Installer places extracted packages into the host directories.
type Installer struct {
	fs         afero.Fs
	pluginsDir string
	themesDir  string
	strategies []Strategy
	logger     *log.Logger
}

// Option configures an Installer.
type Option func(*Installer)

// WithFs sets the filesystem used for removal, rename, copy and permission
// normalization.
func WithFs(fs afero.Fs) Option {
	return func(i *Installer) {
		i.fs = fs
	}
}

// WithStrategies replaces the default strategy chain.
func WithStrategies(strategies ...Strategy) Option {
	return func(i *Installer) {
		i.strategies = strategies
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(i *Installer) {
		i.logger = logger
	}
}

// New creates an Installer writing plugins below pluginsDir and themes below
// themesDir.
func New(pluginsDir, themesDir string, opts ...Option) *Installer {
	i := &Installer{
		fs:         afero.NewOsFs(),
		pluginsDir: pluginsDir,
		themesDir:  themesDir,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.strategies == nil {
		i.strategies = DefaultStrategies(i.fs)
	}
	if i.logger == nil {
		i.logger = log.WithPrefix("installer")
	}
	return i
}

// Target returns the directory a package of kind with slug is installed to.
func (i *Installer) Target(kind models.Kind, slug string) (string, error) {
	name := models.SlugDirectory(kind, slug)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", &models.ValidationError{Field: "slug", Message: fmt.Sprintf("cannot derive a directory name from slug %q", slug)}
	}
	switch kind {
	case models.KindPlugin:
		return filepath.Join(i.pluginsDir, name), nil
	case models.KindTheme:
		return filepath.Join(i.themesDir, name), nil
	default:
		return "", &models.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown package kind %q", kind)}
	}
}

// Install replaces the installed copy of slug with the contents of
// contentDir. contentDir is consumed; when a strategy copied the tree but
// could not delete the source, the install still counts as successful and
// the leftovers are the caller's to clean up.
func (i *Installer) Install(ctx context.Context, kind models.Kind, contentDir, slug string) (*Result, error) {
	target, err := i.Target(kind, slug)
	if err != nil {
		return nil, err
	}
	op := Operation{
		Kind:                  kind,
		ExpectedDirectoryName: filepath.Base(target),
		SourcePath:            contentDir,
		TargetPath:            target,
	}

	if _, err := i.fs.Stat(contentDir); err != nil {
		return nil, &InstallError{Op: op, Err: fmt.Errorf("source directory: %w", err)}
	}

	removed := false
	if _, err := i.fs.Stat(target); err == nil {
		if err := i.fs.RemoveAll(target); err != nil {
			return nil, &InstallError{Op: op, Err: fmt.Errorf("failed to remove existing installation: %w", err)}
		}
		removed = true
		i.logger.Debug("removed existing installation", "target", target)
	}

	if err := i.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, i.fail(&InstallError{Op: op, TargetRemoved: removed, Err: fmt.Errorf("failed to create parent directory: %w", err)})
	}

	var attempts []Attempt
	for _, s := range i.strategies {
		if err := ctx.Err(); err != nil {
			return nil, i.fail(&InstallError{Op: op, Attempts: attempts, TargetRemoved: removed, Err: err})
		}

		err := s.Move(ctx, contentDir, target)
		if isSourceCleanup(err) {
			// dst is complete; the leftover source goes with the scratch dir.
			i.logger.Warn("package installed but source was not removed", "strategy", s.Name(), "source", contentDir, "err", err)
			err = nil
		}
		attempts = append(attempts, Attempt{Strategy: s.Name(), Err: err})
		if err == nil {
			if err := i.normalizePermissions(target); err != nil {
				i.logger.Warn("failed to normalize permissions", "target", target, "err", err)
			}
			i.logger.Info("package installed", "kind", kind, "target", target, "strategy", s.Name())
			return &Result{Operation: op, Strategy: s.Name(), Attempts: attempts}, nil
		}

		i.logger.Warn("install strategy failed", "strategy", s.Name(), "target", target, "err", err)
		if rmErr := i.fs.RemoveAll(target); rmErr != nil {
			i.logger.Warn("failed to clean partial target", "target", target, "err", rmErr)
		}
	}

	return nil, i.fail(&InstallError{Op: op, Attempts: attempts, TargetRemoved: removed, Err: ErrAllStrategiesFailed})
}

func (i *Installer) fail(err *InstallError) *InstallError {
	if err.TargetRemoved {
		i.logger.Error("package removed but not reinstalled, manual intervention required",
			"target", err.Op.TargetPath, "err", err)
	} else {
		i.logger.Error("install failed", "target", err.Op.TargetPath, "err", err)
	}
	return err
}

// normalizePermissions makes directories 0755 and files 0644.
func (i *Installer) normalizePermissions(root string) error {
	return afero.Walk(i.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		switch {
		case info.IsDir():
			return i.fs.Chmod(p, 0o755)
		case info.Mode().IsRegular():
			return i.fs.Chmod(p, 0o644)
		}
		return nil
	})
}
