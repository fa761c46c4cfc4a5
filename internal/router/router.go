package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/opencoordinator/pbs/internal/auth"
	"github.com/opencoordinator/pbs/internal/config"
	_ "github.com/opencoordinator/pbs/internal/docs"
	"github.com/opencoordinator/pbs/internal/handlers"
	"github.com/opencoordinator/pbs/internal/metrics"
	"github.com/opencoordinator/pbs/internal/middleware"
	"github.com/opencoordinator/pbs/internal/services/consume"
	"github.com/opencoordinator/pbs/internal/services/ratelimit"
)

// Config carries the constructed dependencies the router wires together.
type Config struct {
	Config      *config.Config
	Logger      *zap.Logger
	Registry    *metrics.Registry
	Consume     *consume.Service
	AuthService *auth.Service
	Limiter     ratelimit.Limiter
	Health      *handlers.HealthHandler
}

// New builds the API router. The transaction protocol routes sit behind
// instrumentation, optional rate limiting and the auth middleware; probe
// and docs routes stay open.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Logger(cfg.Logger))

	if len(cfg.Config.CORS.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Config.CORS.AllowedOrigins,
			AllowedMethods:   cfg.Config.CORS.AllowedMethods,
			AllowedHeaders:   cfg.Config.CORS.AllowedHeaders,
			ExposedHeaders:   cfg.Config.CORS.ExposedHeaders,
			AllowCredentials: cfg.Config.CORS.AllowCredentials,
			MaxAge:           cfg.Config.CORS.MaxAge,
		}))
	}

	// Probes and docs
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)
	r.Get("/v1/service:status", cfg.Health.ServiceStatus)
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	txnHandler := handlers.NewTransactionHandler(&handlers.TransactionConfig{
		Logger:       cfg.Logger,
		Consume:      cfg.Consume,
		PeerSite:     cfg.Config.Peer.Site,
		MaxBodyBytes: cfg.Config.Server.MaxBodyBytes,
	})

	authMiddleware := middleware.NewAuthMiddleware(&middleware.AuthConfig{
		Logger:      cfg.Logger,
		AuthService: cfg.AuthService,
	})

	// Transaction protocol. The colon segments are literal path text,
	// not chi parameters.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Instrument(cfg.Registry, cfg.Config.Peer.Site))

		// Status was never part of the protocol, so it 404s before auth.
		r.Get("/v1/transactions:status", txnHandler.GetStatus)

		r.Group(func(r chi.Router) {
			if cfg.Limiter != nil {
				r.Use(middleware.RateLimit(cfg.Limiter, cfg.Config.RateLimit.Window, cfg.Logger))
			}
			r.Use(authMiddleware.Authenticate)

			r.Post("/v1/transactions:begin", txnHandler.Begin)
			r.Post("/v1/transactions:prepare", txnHandler.Prepare)
			r.Post("/v1/transactions:commit", txnHandler.Commit)
			r.Post("/v1/transactions:notify", txnHandler.Notify)
			r.Post("/v1/transactions:abort", txnHandler.Abort)
			r.Post("/v1/transactions:end", txnHandler.End)
			r.Post("/v1/transactions:consume-budget", txnHandler.ConsumeBudget)
		})
	})

	// Not found handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		if _, err := w.Write([]byte(`{"error": {"code": "NOT_FOUND", "message": "not found"}}`)); err != nil {
			cfg.Logger.Error("Failed to write 404 response", zap.Error(err))
		}
	})

	return r
}
