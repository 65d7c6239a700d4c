package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kobgit/kob-git-updater/internal/models"
	"github.com/kobgit/kob-git-updater/internal/updater"
)

func (s *Server) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := s.app.Service().Repositories()
	if err != nil {
		s.respondWithServiceError(w, err)
		return
	}
	if repos == nil {
		repos = []*models.RepositoryConfig{}
	}
	RespondWithJSON(w, http.StatusOK, repos)
}

func (s *Server) handleGetRepository(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.app.Service().Repository(chi.URLParam(r, "owner"), chi.URLParam(r, "repo"))
	if err != nil {
		s.respondWithServiceError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleAddRepository(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Owner string `json:"owner"`
		Repo  string `json:"repo"`
		Kind  string `json:"kind"`
		Slug  string `json:"slug"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	kind, err := models.ParseKind(payload.Kind)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := s.app.Service().AddRepository(r.Context(), updater.AddParams{
		Owner: payload.Owner,
		Repo:  payload.Repo,
		Kind:  kind,
		Slug:  payload.Slug,
	})
	if err != nil {
		s.respondWithServiceError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleRemoveRepository(w http.ResponseWriter, r *http.Request) {
	err := s.app.Service().RemoveRepository(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"))
	if err != nil {
		s.respondWithServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheckRepository(w http.ResponseWriter, r *http.Request) {
	svc := s.app.Service()
	cfg, err := svc.Repository(chi.URLParam(r, "owner"), chi.URLParam(r, "repo"))
	if err != nil {
		s.respondWithServiceError(w, err)
		return
	}

	res := svc.Check(r.Context(), cfg)
	if res.Err != nil {
		RespondWithJSON(w, statusForError(res.Err), res)
		return
	}
	RespondWithJSON(w, http.StatusOK, res)
}

// handleCheckAll runs a synchronous check of every repository.
func (s *Server) handleCheckAll(w http.ResponseWriter, r *http.Request) {
	results, err := s.app.Service().CheckAll(r.Context())
	if err != nil {
		s.respondWithServiceError(w, err)
		return
	}
	if results == nil {
		results = []updater.CheckResult{}
	}
	RespondWithJSON(w, http.StatusOK, results)
}

// handleInstallRepository installs the newest artifact. With
// ?only_if_available=true it behaves as an upgrade and skips the install
// when nothing newer exists.
func (s *Server) handleInstallRepository(w http.ResponseWriter, r *http.Request) {
	owner, repo := chi.URLParam(r, "owner"), chi.URLParam(r, "repo")
	svc := s.app.Service()

	onlyIfAvailable, _ := strconv.ParseBool(r.URL.Query().Get("only_if_available"))
	if onlyIfAvailable {
		res, err := svc.Upgrade(r.Context(), owner, repo)
		if err != nil {
			s.respondWithServiceError(w, err)
			return
		}
		RespondWithJSON(w, http.StatusOK, res)
		return
	}

	res, err := svc.Install(r.Context(), owner, repo)
	if err != nil {
		s.respondWithServiceError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, res)
}

func (s *Server) handleListUpdates(w http.ResponseWriter, r *http.Request) {
	notices, err := s.app.Store().ListUpdates()
	if err != nil {
		s.respondWithServiceError(w, err)
		return
	}
	if notices == nil {
		notices = []*models.UpdateNotice{}
	}
	RespondWithJSON(w, http.StatusOK, notices)
}
