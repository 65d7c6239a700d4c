// Package host reads installed package versions from a WordPress content
// directory.
package host

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"

	"github.com/kobgit/kob-git-updater/internal/models"
)

// headerScanLimit is how much of a file WordPress itself inspects for
// header fields.
const headerScanLimit = 8 * 1024

var versionHeader = regexp.MustCompile(`(?mi)^[ \t/*#@]*Version:(.*)$`)

// WordPress resolves installed versions from plugin main files and theme
// stylesheets.
type WordPress struct {
	fs         afero.Fs
	pluginsDir string
	themesDir  string
}

// NewWordPress creates a reader for the given plugins and themes
// directories. A nil fs means the OS filesystem.
func NewWordPress(fs afero.Fs, pluginsDir, themesDir string) *WordPress {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &WordPress{fs: fs, pluginsDir: pluginsDir, themesDir: themesDir}
}

// InstalledVersion returns the Version header of the installed package, or
// "" when it is not installed.
func (w *WordPress) InstalledVersion(kind models.Kind, slug string) (string, error) {
	var file string
	switch kind {
	case models.KindPlugin:
		file = filepath.Join(w.pluginsDir, filepath.FromSlash(slug))
	case models.KindTheme:
		file = filepath.Join(w.themesDir, slug, "style.css")
	default:
		return "", fmt.Errorf("unknown package kind %q", kind)
	}

	f, err := w.fs.Open(file)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	return ReadVersionHeader(f)
}

// ReadVersionHeader extracts the Version header from the first 8 KiB of r.
func ReadVersionHeader(r io.Reader) (string, error) {
	head, err := io.ReadAll(io.LimitReader(bufio.NewReader(r), headerScanLimit))
	if err != nil {
		return "", err
	}
	// WordPress normalizes CR line endings before matching.
	text := strings.ReplaceAll(string(head), "\r", "\n")

	m := versionHeader.FindStringSubmatch(text)
	if m == nil {
		return "", nil
	}
	return cleanHeaderValue(m[1]), nil
}

func cleanHeaderValue(v string) string {
	if i := strings.Index(v, "*/"); i >= 0 {
		v = v[:i]
	}
	if i := strings.Index(v, "?>"); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
