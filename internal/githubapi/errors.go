package githubapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v82/github"
)

// APIError is returned for any upstream response outside the 2xx range, for
// malformed JSON bodies and for requests refused locally because the rate
// limit is exhausted.
type APIError struct {
	Status      int
	Message     string
	URL         string
	RateLimited bool
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("GitHub API %s: %s", e.URL, e.Message)
	}
	return fmt.Sprintf("GitHub API %s returned %d: %s", e.URL, e.Status, e.Message)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// StatusOf returns the upstream HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// errorMessage extracts GitHub's "message" field, falling back to the status text.
func errorMessage(status int, body []byte) string {
	var errResp github.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		return errResp.Message
	}
	return http.StatusText(status)
}
