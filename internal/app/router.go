package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-pm/meridian-pm/internal/auth"
	"github.com/meridian-pm/meridian-pm/internal/deliverables"
	"github.com/meridian-pm/meridian-pm/internal/milestones"
	"github.com/meridian-pm/meridian-pm/internal/projects"
	"github.com/meridian-pm/meridian-pm/internal/shared"
	"github.com/meridian-pm/meridian-pm/internal/timetracking"
	"github.com/meridian-pm/meridian-pm/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager

	AuthHandler         *auth.Handler
	ProjectsHandler     *projects.Handler
	MilestonesHandler   *milestones.Handler
	DeliverablesHandler *deliverables.Handler
	TimeHandler         *timetracking.Handler
	JobHandler          *jobs.Handler
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Route("/projects", params.ProjectsHandler.MountRoutes)
	if params.MilestonesHandler != nil {
		params.MilestonesHandler.MountRoutes(r)
	}
	if params.DeliverablesHandler != nil {
		params.DeliverablesHandler.MountRoutes(r)
	}
	if params.TimeHandler != nil {
		params.TimeHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
