package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Strategy moves a directory tree from src to dst. dst does not exist when
// Move is called; its parent does.
type Strategy interface {
	Name() string
	Move(ctx context.Context, src, dst string) error
}

// SourceCleanupError is returned by a strategy that wrote dst completely but
// could not delete src afterwards. The install itself succeeded.
type SourceCleanupError struct {
	Err error
}

func (e *SourceCleanupError) Error() string {
	return "remove source: " + e.Err.Error()
}

func (e *SourceCleanupError) Unwrap() error {
	return e.Err
}

// isSourceCleanup reports whether err only concerns the leftover source.
func isSourceCleanup(err error) bool {
	var ce *SourceCleanupError
	return errors.As(err, &ce)
}

// DefaultStrategies returns the chain tried by Install, in order.
func DefaultStrategies(fs afero.Fs) []Strategy {
	return []Strategy{
		RenameStrategy{Fs: fs},
		CopyRemoveStrategy{Fs: fs},
		NativeCopyStrategy{},
		ShellStrategy{},
	}
}

// RenameStrategy renames src to dst.
type RenameStrategy struct {
	Fs afero.Fs
}

func (RenameStrategy) Name() string { return "rename" }

func (s RenameStrategy) Move(_ context.Context, src, dst string) error {
	return s.Fs.Rename(src, dst)
}

// CopyRemoveStrategy copies the tree through the filesystem abstraction and
// then deletes the source. Used when src and dst are on different devices.
type CopyRemoveStrategy struct {
	Fs afero.Fs
}

func (CopyRemoveStrategy) Name() string { return "copy-remove" }

func (s CopyRemoveStrategy) Move(ctx context.Context, src, dst string) error {
	err := afero.Walk(s.Fs, src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			return s.Fs.MkdirAll(target, 0o755)
		case info.Mode().IsRegular():
			return copyFile(s.Fs, p, target)
		default:
			return nil
		}
	})
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if err := s.Fs.RemoveAll(src); err != nil {
		return &SourceCleanupError{Err: err}
	}
	return nil
}

func copyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// NativeCopyStrategy copies with os.CopyFS on the real filesystem.
type NativeCopyStrategy struct{}

func (NativeCopyStrategy) Name() string { return "native-copy" }

func (NativeCopyStrategy) Move(_ context.Context, src, dst string) error {
	if err := os.CopyFS(dst, os.DirFS(src)); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if err := os.RemoveAll(src); err != nil {
		return &SourceCleanupError{Err: err}
	}
	return nil
}

// ShellStrategy falls back to cp and rm, for hosts where the Go runtime
// lacks permissions that the system tools have.
type ShellStrategy struct{}

func (ShellStrategy) Name() string { return "shell" }

func (ShellStrategy) Move(ctx context.Context, src, dst string) error {
	if out, err := exec.CommandContext(ctx, "cp", "-r", src, dst).CombinedOutput(); err != nil {
		return fmt.Errorf("cp: %w: %s", err, strings.TrimSpace(string(out)))
	}
	if out, err := exec.CommandContext(ctx, "rm", "-rf", src).CombinedOutput(); err != nil {
		return &SourceCleanupError{Err: fmt.Errorf("rm: %w: %s", err, strings.TrimSpace(string(out)))}
	}
	return nil
}
