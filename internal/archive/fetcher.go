// Package archive downloads GitHub zipballs and unpacks them into scratch
// space, locating the single top-level directory GitHub wraps content in.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kobgit/kob-git-updater/internal/githubapi"
)

// DefaultTimeout bounds a single archive download.
const DefaultTimeout = 300 * time.Second

// FetchError reports a failed download or an archive that cannot be used.
type FetchError struct {
	URL      string
	Status   int
	Cause    string
	TokenSet bool
	Err      error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Cause)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d, token configured: %t)", e.Status, e.TokenSet)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ErrUnexpectedStructure is wrapped by FetchError when an archive does not
// contain exactly one top-level directory.
var ErrUnexpectedStructure = errors.New("unexpected archive structure")

// Extracted is an unpacked archive. Close removes all scratch space.
type Extracted struct {
	// ContentDir is the single top-level directory of the archive.
	ContentDir string
	scratchDir string
}

// Close deletes the extraction scratch directory. It is safe to call more
// than once.
func (e *Extracted) Close() error {
	if e == nil || e.scratchDir == "" {
		return nil
	}
	err := os.RemoveAll(e.scratchDir)
	e.scratchDir = ""
	return err
}

// Fetcher downloads and extracts zip archives.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	tempDir    string
	logger     *log.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets the HTTP client used for downloads.
func WithHTTPClient(hc *http.Client) Option {
	return func(f *Fetcher) {
		f.httpClient = hc
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithTempDir sets where temporary archives and scratch directories live.
func WithTempDir(dir string) Option {
	return func(f *Fetcher) {
		f.tempDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		userAgent:  githubapi.DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = log.WithPrefix("archive")
	}
	return f
}

// FetchAndExtract downloads url with token and unpacks it. The caller must
// Close the result once the content has been consumed. On error nothing is
// left behind on disk.
func (f *Fetcher) FetchAndExtract(ctx context.Context, url, token string) (*Extracted, error) {
	archivePath, err := f.download(ctx, url, token)
	if err != nil {
		return nil, err
	}
	defer os.Remove(archivePath)

	scratch, err := os.MkdirTemp(f.tempDir, "kob-extract-*")
	if err != nil {
		return nil, &FetchError{URL: url, Cause: "cannot create scratch directory", Err: err}
	}

	content, ignored, err := extractZip(ctx, archivePath, scratch)
	if err != nil {
		os.RemoveAll(scratch)
		return nil, &FetchError{URL: url, Cause: "cannot extract archive", Err: err}
	}
	if len(ignored) > 0 {
		f.logger.Warn("archive has files outside its top-level directory, they will not be installed", "url", url, "files", ignored)
	}

	f.logger.Debug("archive extracted", "url", url, "content", content)
	return &Extracted{ContentDir: content, scratchDir: scratch}, nil
}

// download streams url into a fresh temporary file and returns its path.
func (f *Fetcher) download(ctx context.Context, url, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &FetchError{URL: url, Cause: "invalid download URL", TokenSet: token != "", Err: err}
	}
	githubapi.SetRequestHeaders(req, f.userAgent, token)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", &FetchError{URL: url, Cause: "download failed", TokenSet: token != "", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &FetchError{URL: url, Status: resp.StatusCode, Cause: statusCause(resp.StatusCode), TokenSet: token != ""}
	}

	tmp, err := os.CreateTemp(f.tempDir, "kob-archive-*.zip")
	if err != nil {
		return "", &FetchError{URL: url, Cause: "cannot create temporary file", Err: err}
	}

	n, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp.Name())
		return "", &FetchError{URL: url, Cause: "cannot write temporary file", Err: errors.Join(copyErr, closeErr)}
	}

	f.logger.Debug("archive downloaded", "url", url, "bytes", n, "token_set", token != "")
	return tmp.Name(), nil
}

func statusCause(status int) string {
	switch status {
	case http.StatusNotFound:
		return "archive not found or repository is private"
	case http.StatusUnauthorized:
		return "invalid or missing access token"
	case http.StatusForbidden:
		return "access denied or rate limited"
	default:
		return "unexpected response status"
	}
}
