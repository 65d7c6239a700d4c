// Package api exposes the updater over a JSON HTTP interface.
package api

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kobgit/kob-git-updater/internal/core"
)

// Server holds the dependencies for our API.
type Server struct {
	app    *core.App
	logger *log.Logger
}

// NewServer creates a new Server instance.
func NewServer(app *core.App) *Server {
	return &Server{app: app, logger: log.WithPrefix("api")}
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.logger.StandardLog(), NoColor: true}))
	r.Use(middleware.Recoverer)
	// Installs may download large archives.
	r.Use(middleware.Timeout(10 * time.Minute))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/version", s.handleGetVersion)

		r.Route("/repositories", func(r chi.Router) {
			r.Get("/", s.handleListRepositories)
			r.Post("/", s.handleAddRepository)
			r.Route("/{owner}/{repo}", func(r chi.Router) {
				r.Get("/", s.handleGetRepository)
				r.Delete("/", s.handleRemoveRepository)
				r.Post("/check", s.handleCheckRepository)
				r.Post("/install", s.handleInstallRepository)
			})
		})
		r.Post("/check", s.handleCheckAll)

		r.Get("/updates", s.handleListUpdates)

		r.Put("/token", s.handleSetToken)
		r.Post("/token/validate", s.handleValidateToken)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/jobs/status", s.handleGetAdminJobsStatus)
			r.Post("/jobs/run", s.handleRunAdminJob)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DB().PingContext(r.Context()); err != nil {
		RespondWithError(w, http.StatusServiceUnavailable, "Database connection failed")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
