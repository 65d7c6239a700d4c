package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
)

// extractZip unpacks the zip at archivePath into dest and returns the path
// of its single top-level directory along with any loose top-level entries
// that were left out.
func extractZip(ctx context.Context, archivePath, dest string) (string, []string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return "", nil, err
	}
	defer file.Close()

	// Identify by content only: the temp file name always ends in .zip.
	format, _, err := archives.Identify(ctx, "", file)
	if err != nil {
		if errors.Is(err, archives.NoMatch) {
			return "", nil, errors.New("downloaded file is not an archive")
		}
		return "", nil, fmt.Errorf("failed to identify archive: %w", err)
	}
	if format.Extension() != ".zip" {
		return "", nil, fmt.Errorf("expected a zip archive, got %s", format.Extension())
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", nil, err
	}

	handler := func(ctx context.Context, info archives.FileInfo) error {
		return writeEntry(dest, info)
	}
	if err := (archives.Zip{}).Extract(ctx, file, handler); err != nil {
		return "", nil, err
	}

	return topLevelDir(dest)
}

// writeEntry materializes a single archive entry below dest.
func writeEntry(dest string, info archives.FileInfo) error {
	name := filepath.FromSlash(strings.TrimPrefix(info.NameInArchive, "/"))
	target := filepath.Join(dest, name)
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return fmt.Errorf("archive entry %q escapes the extraction directory", info.NameInArchive)
	}

	if info.IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	// Links are not needed by WordPress packages and are never followed.
	if info.Mode()&fs.ModeSymlink != 0 || info.LinkTarget != "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	src, err := info.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", info.NameInArchive, err)
	}
	defer src.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", info.NameInArchive, err)
	}
	return out.Close()
}

// topLevelDir returns the only directory directly below dir. GitHub wraps
// every zipball in a single "{repo}-{ref}" folder. Loose files next to it
// are reported in ignored and are not installed.
func topLevelDir(dir string) (content string, ignored []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil, err
	}

	var dirs []string
	for _, e := range entries {
		switch {
		case e.Name() == "__MACOSX":
		case e.IsDir():
			dirs = append(dirs, e.Name())
		default:
			ignored = append(ignored, e.Name())
		}
	}
	if len(dirs) != 1 {
		return "", nil, fmt.Errorf("%w: expected one top-level directory, found %d", ErrUnexpectedStructure, len(dirs))
	}
	return filepath.Join(dir, dirs[0]), ignored, nil
}
