package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/opencoordinator/pbs/internal/metrics"
)

// NewMetricsRouter serves the prometheus registry on its own port so
// scrapes never compete with transaction traffic.
func NewMetricsRouter(reg *metrics.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status": "ok", "service": "metrics"}`))
	})

	r.Handle("/metrics", reg.Handler())

	return r
}
