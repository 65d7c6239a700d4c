package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const writeCheckName = ".kob-write-check"

// EnsureWritableDir makes sure path is a directory the process can write
// into, creating it and its parents when missing.
func EnsureWritableDir(path string) error {
	if path == "" {
		return fmt.Errorf("directory path cannot be empty")
	}
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	switch {
	case err == nil:
		if !info.IsDir() {
			return fmt.Errorf("path exists but is not a directory: %s", clean)
		}
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(clean, 0755); err != nil {
			return fmt.Errorf("cannot create directory: %w", err)
		}
	default:
		return fmt.Errorf("cannot access path: %w", err)
	}

	if err := checkWritePermission(clean); err != nil {
		return fmt.Errorf("no write permission for %s: %w", clean, err)
	}
	return nil
}

// EnsureWritableDirs runs EnsureWritableDir on every non-empty path and
// joins the failures.
func EnsureWritableDirs(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := EnsureWritableDir(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func checkWritePermission(dir string) error {
	marker := filepath.Join(dir, writeCheckName)
	f, err := os.Create(marker)
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(marker)
}
