package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	closehttp "github.com/odyssey-erp/odyssey-ledger/internal/close/http"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/numbering"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/reconciliation"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger     *slog.Logger
	Config     *Config
	Services   *Services
	Enqueuer   reconciliation.Enqueuer
	JobHandler *jobs.Handler
	Metrics    *observability.Metrics
	// Readiness probes keyed by dependency name, served on /readyz.
	Readiness map[string]func(context.Context) error
}

// NewRouter constructs the chi.Router with ledger defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readinessHandler(params.Logger, params.Readiness))

	if svc := params.Services; svc != nil {
		r.Route("/api", func(r chi.Router) {
			numbering.NewHandler(params.Logger, svc.Numbering).MountRoutes(r)
			ledger.NewHandler(params.Logger, hookedLedger{Service: svc.Ledger, hooks: svc.Hooks}).MountRoutes(r)
			closehttp.NewHandler(params.Logger, svc.Close).MountRoutes(r)
			reconciliation.NewHandler(params.Logger, hookedReconciliation{Service: svc.Reconciliation, hooks: svc.Hooks}, params.Enqueuer).MountRoutes(r)
		})
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

func readinessHandler(logger *slog.Logger, probes map[string]func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		out := make(map[string]string, len(probes))
		for name, probe := range probes {
			if err := probe(r.Context()); err != nil {
				status = http.StatusServiceUnavailable
				out[name] = err.Error()
				if logger != nil {
					logger.Warn("readiness probe failed", slog.String("dependency", name), slog.Any("error", err))
				}
				continue
			}
			out[name] = "ok"
		}
		httpx.JSON(w, status, out)
	}
}
