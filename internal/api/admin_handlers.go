package api

import (
	"encoding/json"
	"net/http"

	"github.com/kobgit/kob-git-updater/internal/jobs"
)

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]any{
		"version":   s.app.Version,
		"token_set": s.app.GitHub().HasToken(),
	})
}

// handleRunAdminJob starts a registered job and answers with its status.
// The job defaults to the update check when no name is given.
func (s *Server) handleRunAdminJob(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		JobName string `json:"job_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if payload.JobName == "" {
		payload.JobName = jobs.CheckUpdatesJobID
	}

	if err := s.app.JobManager().RunJob(payload.JobName, s.app); err != nil {
		s.respondWithServiceError(w, err)
		return
	}

	status, _ := s.app.JobManager().Status(payload.JobName)
	RespondWithJSON(w, http.StatusAccepted, status)
}

func (s *Server) handleGetAdminJobsStatus(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.app.JobManager().GetStatus())
}
