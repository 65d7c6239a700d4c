package api

import (
	"encoding/json"
	"net/http"
	"strings"
)

// handleSetToken replaces the access token for the running process. The
// token is not written back to the configuration file.
func (s *Server) handleSetToken(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	s.app.Service().SetToken(strings.TrimSpace(payload.Token))
	s.logger.Info("access token replaced", "token_set", payload.Token != "")
	RespondWithJSON(w, http.StatusOK, map[string]bool{"token_set": s.app.GitHub().HasToken()})
}

func (s *Server) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	login, err := s.app.Service().ValidateToken(r.Context())
	if err != nil {
		RespondWithJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]any{"valid": true, "login": login})
}
