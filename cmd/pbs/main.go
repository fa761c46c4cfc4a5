package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/opencoordinator/pbs/internal/auth"
	"github.com/opencoordinator/pbs/internal/budget"
	"github.com/opencoordinator/pbs/internal/config"
	"github.com/opencoordinator/pbs/internal/database"
	"github.com/opencoordinator/pbs/internal/handlers"
	"github.com/opencoordinator/pbs/internal/logger"
	"github.com/opencoordinator/pbs/internal/metrics"
	"github.com/opencoordinator/pbs/internal/router"
	"github.com/opencoordinator/pbs/internal/services/consume"
	"github.com/opencoordinator/pbs/internal/services/ratelimit"
	"github.com/opencoordinator/pbs/internal/services/retention"
	"github.com/opencoordinator/pbs/internal/store"
)

// @title Privacy Budget Service API
// @version 1.0
// @description Transaction protocol for consuming per-key hourly privacy budgets.

// @host localhost:8080
// @BasePath /

// version is stamped at build time via -ldflags.
var version = "dev"

type AppMode struct {
	DatabaseAvailable bool
	RedisAvailable    bool
	IsLiteMode        bool
}

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Detect available dependencies
	appMode := detectDependencies(cfg, log)

	if appMode.IsLiteMode {
		log.Warn("Running in LITE MODE - budgets are held in memory and vanish on restart",
			zap.Bool("database", appMode.DatabaseAvailable),
			zap.Bool("redis", appMode.RedisAvailable))
		log.Warn("Disabled in LITE MODE:",
			zap.Strings("disabled", []string{
				"Durable budget storage",
				"Operator allowlist",
				"Database-driven migration phase",
				"Retention sweeping across restarts",
			}))
	} else {
		log.Info("Running in FULL MODE - budgets persisted to PostgreSQL")
	}

	// Initialize database if available
	var db *gorm.DB
	if appMode.DatabaseAvailable {
		db, err = database.New(&database.Config{
			DSN:             cfg.Database.URL,
			MaxConnections:  cfg.Database.MaxConnections,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			LogLevel:        database.LogLevelFor(cfg.Logging.Level),
			LogWriter:       logger.NewGormLogger(log),
		})
		if err != nil {
			log.Warn("Failed to initialize database, switching to LITE MODE", zap.Error(err))
			appMode.DatabaseAvailable = false
			appMode.IsLiteMode = true
			db = nil
		} else {
			defer database.Close(db)
		}
	}

	// Redis is optional in every mode; without it the auth cache and
	// rate limiter degrade to local equivalents.
	var redisClient *redis.Client
	if appMode.RedisAvailable {
		redisClient, err = newRedisClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to initialize redis, continuing without it", zap.Error(err))
			appMode.RedisAvailable = false
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	// Budget storage
	var budgetStore store.BudgetStore
	if db != nil {
		budgetStore = store.NewGormStore(db, &store.GormConfig{
			MaxCommitAttempts: cfg.Budget.CommitAttempts,
			CommitTimeout:     cfg.Budget.CommitTimeout,
		}, log)
	} else {
		budgetStore = store.NewMemoryStore()
	}

	// Migration phase: pinned by config, or served from the service
	// params table with a short cache when a database is present.
	var phase budget.PhaseProvider = budget.StaticPhase(cfg.Budget.MigrationPhase)
	if db != nil && cfg.Budget.PhaseFromDB {
		phase = store.NewParamPhase(db, log, store.ParamPhaseConfig{
			Fallback: budget.Phase(cfg.Budget.MigrationPhase),
			TTL:      cfg.Budget.PhaseCacheTTL,
		})
	}

	registry := metrics.NewRegistry(version)

	// Auth backends
	var authCache *auth.Cache
	if redisClient != nil {
		authCache = auth.NewCache(redisClient, log, cfg.Auth.CacheTTL)
	}
	var oidcVerifier *auth.OIDCVerifier
	if strings.ToLower(cfg.Auth.Mode) == auth.ModeOIDC {
		oidcVerifier, err = auth.NewOIDCVerifier(context.Background(), auth.OIDCConfig{
			Issuer:       cfg.Auth.OIDC.Issuer,
			PublicIssuer: cfg.Auth.OIDC.PublicIssuer,
			ClientID:     cfg.Auth.OIDC.ClientID,
		})
		if err != nil {
			log.Fatal("Failed to initialize OIDC verifier", zap.Error(err))
		}
	}
	authService := auth.NewService(auth.ServiceConfig{
		Mode:         cfg.Auth.Mode,
		StaticTokens: cfg.Auth.StaticTokens,
		JWTSecret:    cfg.Auth.JWT.Secret,
		JWTIssuer:    cfg.Auth.JWT.Issuer,
	}, db, authCache, oidcVerifier, log)

	consumeService := consume.NewService(budgetStore, phase, registry, log, consume.Config{
		MaxConcurrent: cfg.Budget.MaxConcurrentCommits,
	})

	// Rate limiting is off unless configured; redis gives a shared
	// window, otherwise each replica limits on its own.
	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		rlCfg := ratelimit.Config{
			Limit:  cfg.RateLimit.RequestsPerWindow,
			Window: cfg.RateLimit.Window,
		}
		if redisClient != nil {
			limiter = ratelimit.NewRedisLimiter(redisClient, log, rlCfg)
		} else {
			limiter = ratelimit.NewInMemoryLimiter(log, rlCfg)
		}
	}

	healthHandler := handlers.NewHealthHandler(budgetStore, redisClient, registry, version)

	mainRouter := router.New(&router.Config{
		Config:      cfg,
		Logger:      log,
		Registry:    registry,
		Consume:     consumeService,
		AuthService: authService,
		Limiter:     limiter,
		Health:      healthHandler,
	})
	metricsRouter := router.NewMetricsRouter(registry)

	// Retention sweeping only matters with durable storage.
	sweeper := retention.NewSweeper(budgetStore, log, retention.Config{
		RetentionDays: cfg.Budget.RetentionDays,
		Interval:      cfg.Budget.RetentionInterval,
	})
	if db != nil {
		if err := sweeper.Start(context.Background()); err != nil {
			log.Fatal("Failed to start retention sweeper", zap.Error(err))
		}
		defer sweeper.Stop()
	}

	servers := []*http.Server{
		{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      mainRouter,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		{
			Addr:         fmt.Sprintf(":%d", cfg.Server.MetricsPort),
			Handler:      metricsRouter,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}

	// Start servers in goroutines
	for i, srv := range servers {
		go func(s *http.Server, idx int) {
			serverType := "Main API"
			if idx == 1 {
				serverType = "Metrics"
			}

			log.Info(fmt.Sprintf("%s server starting", serverType),
				zap.String("address", s.Addr))

			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal(fmt.Sprintf("%s server failed to start", serverType),
					zap.Error(err))
			}
		}(srv, i)
	}

	log.Info("Privacy budget service started",
		zap.String("version", version),
		zap.Int("api_port", cfg.Server.Port),
		zap.Int("metrics_port", cfg.Server.MetricsPort),
		zap.Bool("lite_mode", appMode.IsLiteMode),
		zap.Int("migration_phase", cfg.Budget.MigrationPhase))

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down servers...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("Server forced to shutdown", zap.Error(err))
		}
	}

	log.Info("Servers shutdown complete")
}

// detectDependencies checks if PostgreSQL and Redis are available
func detectDependencies(cfg *config.Config, log *zap.Logger) AppMode {
	mode := AppMode{}

	// Check if database is configured and reachable
	if cfg.Database.URL != "" {
		log.Debug("Checking database connectivity...", zap.String("url", maskConnectionString(cfg.Database.URL)))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		dbConfig := &database.Config{
			DSN:             cfg.Database.URL,
			MaxConnections:  1,
			MaxIdleConns:    1,
			ConnMaxLifetime: time.Second * 5,
		}
		if err := database.TestConnection(ctx, dbConfig); err == nil {
			mode.DatabaseAvailable = true
			log.Debug("Database is available")
		} else {
			log.Debug("Database is not available", zap.Error(err))
		}
	}

	// Check if Redis is configured and reachable
	if cfg.Redis.URL != "" {
		log.Debug("Checking Redis connectivity...", zap.String("url", maskConnectionString(cfg.Redis.URL)))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if client, err := newRedisClient(cfg.Redis); err == nil {
			if err := client.Ping(ctx).Err(); err == nil {
				mode.RedisAvailable = true
				log.Debug("Redis is available")
			} else {
				log.Debug("Redis is not available", zap.Error(err))
			}
			client.Close()
		} else {
			log.Debug("Redis URL is not parseable", zap.Error(err))
		}
	}

	// Redis stays optional; only the database decides lite mode.
	mode.IsLiteMode = !mode.DatabaseAvailable

	// Allow override via environment variable
	if os.Getenv("PBS_LITE_MODE") == "true" {
		mode.IsLiteMode = true
		mode.DatabaseAvailable = false
		log.Info("LITE MODE forced via environment variable")
	}

	return mode
}

func newRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opt.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}
	return redis.NewClient(opt), nil
}

// maskConnectionString masks sensitive parts of connection strings
func maskConnectionString(conn string) string {
	if len(conn) > 20 {
		return conn[:10] + "****" + conn[len(conn)-10:]
	}
	return "****"
}
