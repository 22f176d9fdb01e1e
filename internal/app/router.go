package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clinicos/backoffice/internal/accounting"
	corporatehttp "github.com/clinicos/backoffice/internal/corporate/http"
	"github.com/clinicos/backoffice/internal/observability"
	"github.com/clinicos/backoffice/internal/platform/httpx"
	"github.com/clinicos/backoffice/internal/rates"
	"github.com/clinicos/backoffice/jobs"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
	DB      Pinger

	RatesHandler     *rates.Handler
	CorporateHandler *corporatehttp.Handler
	FinanceHandler   *accounting.Handler
	JobHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.DB.Ping(ctx); err != nil {
				if params.Logger != nil {
					params.Logger.Warn("health check", slog.Any("error", err))
				}
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		if params.RatesHandler != nil {
			api.Route("/rates", params.RatesHandler.MountRoutes)
		}
		if params.CorporateHandler != nil {
			api.Route("/corporate", params.CorporateHandler.MountRoutes)
		}
		if params.FinanceHandler != nil {
			api.Route("/finance", params.FinanceHandler.MountRoutes)
		}
	})
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Config != nil && params.Config.ExportDir != "" {
		exports := http.StripPrefix("/exports/", http.FileServer(http.Dir(params.Config.ExportDir)))
		r.Method(http.MethodGet, "/exports/*", exports)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no route for "+r.URL.Path)
	})
	return r
}
