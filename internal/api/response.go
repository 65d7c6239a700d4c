package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kobgit/kob-git-updater/internal/archive"
	"github.com/kobgit/kob-git-updater/internal/githubapi"
	"github.com/kobgit/kob-git-updater/internal/installer"
	"github.com/kobgit/kob-git-updater/internal/jobs"
	"github.com/kobgit/kob-git-updater/internal/models"
	"github.com/kobgit/kob-git-updater/internal/store"
	"github.com/kobgit/kob-git-updater/internal/updater"
)

// Error codes returned next to the message in error bodies.
const (
	codeInvalid        = "invalid_request"
	codeNotFound       = "not_found"
	codeConflict       = "conflict"
	codeUpstream       = "upstream_error"
	codeInstallFailed  = "install_failed"
	codeInternalServer = "internal_error"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// RespondWithJSON writes payload as JSON with the given status code.
func RespondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to marshal response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// RespondWithError writes an error body whose code is derived from status.
func RespondWithError(w http.ResponseWriter, status int, message string) {
	RespondWithJSON(w, status, errorBody{Error: message, Code: codeForStatus(status)})
}

func (s *Server) respondWithServiceError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "err", err)
	}
	RespondWithJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	status, _ := classifyError(err)
	return status
}

func classifyError(err error) (int, string) {
	var validationErr *models.ValidationError
	var installErr *installer.InstallError
	var fetchErr *archive.FetchError
	var opErr *updater.OperationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, codeInvalid
	case errors.Is(err, updater.ErrRepositoryNotFound), errors.Is(err, store.ErrNotFound), errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, updater.ErrRepositoryExists), errors.Is(err, store.ErrSlugTaken), errors.Is(err, jobs.ErrJobRunning):
		return http.StatusConflict, codeConflict
	case errors.As(err, &installErr):
		return http.StatusInternalServerError, codeInstallFailed
	case errors.As(err, &fetchErr), githubapi.StatusOf(err) != 0:
		if githubapi.IsNotFound(err) {
			return http.StatusNotFound, codeNotFound
		}
		return http.StatusBadGateway, codeUpstream
	case errors.As(err, &opErr):
		return http.StatusBadGateway, codeUpstream
	default:
		return http.StatusInternalServerError, codeInternalServer
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return codeInvalid
	case http.StatusNotFound:
		return codeNotFound
	case http.StatusConflict:
		return codeConflict
	case http.StatusBadGateway:
		return codeUpstream
	default:
		return codeInternalServer
	}
}
