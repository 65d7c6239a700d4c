package updater

import (
	"fmt"
	"strings"
)

// OperationError wraps a failed check or install with the context an
// administrator needs to fix it.
type OperationError struct {
	Op         string
	Repository string
	Private    bool
	TokenSet   bool
	Status     int
	Err        error
}

func (e *OperationError) Error() string {
	visibility := "public"
	if e.Private {
		visibility = "private"
	}
	details := []string{visibility + " repository", fmt.Sprintf("token configured: %t", e.TokenSet)}
	if e.Status != 0 {
		details = append(details, fmt.Sprintf("upstream status: %d", e.Status))
	}
	msg := fmt.Sprintf("%s %s (%s): %v", e.Op, e.Repository, strings.Join(details, ", "), e.Err)
	if hint := e.hint(); hint != "" {
		msg += "; " + hint
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func (e *OperationError) hint() string {
	switch {
	case e.Status == 404 && !e.TokenSet:
		return "private repositories require an access token"
	case e.Status == 404 && e.Private:
		return "check that the token has access to this repository"
	case e.Status == 401:
		return "the access token is invalid or expired"
	}
	return ""
}
