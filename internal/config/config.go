package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Peer      PeerConfig      `mapstructure:"peer"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	MetricsPort      int           `mapstructure:"metrics_port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdown time.Duration `mapstructure:"graceful_shutdown"`
	MaxBodyBytes     int64         `mapstructure:"max_body_bytes"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// AuthConfig selects how inbound x-auth-token material is verified.
// Mode "none" skips verification and trusts the claimed identity; it is
// only acceptable for development and lite-mode deployments.
type AuthConfig struct {
	Mode         string            `mapstructure:"mode"` // none, static, jwt, oidc
	StaticTokens map[string]string `mapstructure:"static_tokens"`
	JWT          JWTConfig         `mapstructure:"jwt"`
	OIDC         OIDCConfig        `mapstructure:"oidc"`
	CacheTTL     time.Duration     `mapstructure:"cache_ttl"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type OIDCConfig struct {
	Issuer       string `mapstructure:"issuer"`
	PublicIssuer string `mapstructure:"public_issuer"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// BudgetConfig tunes the consume path and the storage migration.
type BudgetConfig struct {
	MigrationPhase       int           `mapstructure:"migration_phase"`
	PhaseFromDB          bool          `mapstructure:"phase_from_db"`
	PhaseCacheTTL        time.Duration `mapstructure:"phase_cache_ttl"`
	MaxConcurrentCommits int           `mapstructure:"max_concurrent_commits"`
	CommitAttempts       int           `mapstructure:"commit_attempts"`
	CommitTimeout        time.Duration `mapstructure:"commit_timeout"`
	RetentionDays        int           `mapstructure:"retention_days"`
	RetentionInterval    time.Duration `mapstructure:"retention_interval"`
}

type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
}

// PeerConfig describes the other coordinator and how to call it.
type PeerConfig struct {
	URL             string        `mapstructure:"url"`
	Site            string        `mapstructure:"site"`
	OwnSite         string        `mapstructure:"own_site"`
	Region          string        `mapstructure:"region"`
	AuthToken       string        `mapstructure:"auth_token"`
	TokenURL        string        `mapstructure:"token_url"`
	ClientID        string        `mapstructure:"client_id"`
	ClientSecret    string        `mapstructure:"client_secret"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	InitialBackoff  time.Duration `mapstructure:"initial_backoff"`
	BackoffCap      time.Duration `mapstructure:"backoff_cap"`
	MaxConnsPerHost int           `mapstructure:"max_conns_per_host"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/pbs")
	}

	setDefaults(v)

	v.AutomaticEnv()
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Budget.MigrationPhase < 1 || c.Budget.MigrationPhase > 4 {
		return fmt.Errorf("budget.migration_phase must be 1..4, got %d", c.Budget.MigrationPhase)
	}
	switch strings.ToLower(c.Auth.Mode) {
	case "none", "static", "jwt", "oidc":
	default:
		return fmt.Errorf("auth.mode must be none, static, jwt or oidc, got %q", c.Auth.Mode)
	}
	if strings.EqualFold(c.Auth.Mode, "jwt") && c.Auth.JWT.Secret == "" {
		return fmt.Errorf("auth.jwt.secret is required in jwt mode")
	}
	if strings.EqualFold(c.Auth.Mode, "oidc") && c.Auth.OIDC.Issuer == "" {
		return fmt.Errorf("auth.oidc.issuer is required in oidc mode")
	}
	if c.Budget.RetentionDays < 0 {
		return fmt.Errorf("budget.retention_days must not be negative, got %d", c.Budget.RetentionDays)
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("rate_limit.requests_per_window must be positive when rate limiting is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.graceful_shutdown", "30s")
	v.SetDefault("server.max_body_bytes", 1<<20)

	// Database defaults
	v.SetDefault("database.max_connections", 100)
	v.SetDefault("database.max_idle_connections", 10)
	v.SetDefault("database.conn_max_lifetime", "1h")

	// Redis defaults
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)

	// Auth defaults
	v.SetDefault("auth.mode", "none")
	v.SetDefault("auth.cache_ttl", "1m")

	// Budget defaults
	v.SetDefault("budget.migration_phase", 1)
	v.SetDefault("budget.phase_from_db", true)
	v.SetDefault("budget.phase_cache_ttl", "30s")
	v.SetDefault("budget.max_concurrent_commits", 64)
	v.SetDefault("budget.commit_attempts", 5)
	v.SetDefault("budget.commit_timeout", "10s")
	v.SetDefault("budget.retention_days", 40)
	v.SetDefault("budget.retention_interval", "1h")

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_window", 600)
	v.SetDefault("rate_limit.window", "1m")

	// Peer defaults
	v.SetDefault("peer.region", "us-east-1")
	v.SetDefault("peer.max_retries", 3)
	v.SetDefault("peer.request_timeout", "30s")
	v.SetDefault("peer.connect_timeout", "5s")
	v.SetDefault("peer.initial_backoff", "100ms")
	v.SetDefault("peer.backoff_cap", "5s")
	v.SetDefault("peer.max_conns_per_host", 64)
	v.SetDefault("peer.breaker_failures", 5)
	v.SetDefault("peer.breaker_cooldown", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "")

	// CORS defaults
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", 86400)
}

func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "PBS_PORT")
	v.BindEnv("server.metrics_port", "PBS_METRICS_PORT")
	v.BindEnv("server.read_timeout", "PBS_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "PBS_WRITE_TIMEOUT")
	v.BindEnv("server.idle_timeout", "PBS_IDLE_TIMEOUT")

	// Database
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("database.max_connections", "DATABASE_MAX_CONNECTIONS")
	v.BindEnv("database.max_idle_connections", "DATABASE_MAX_IDLE_CONNECTIONS")

	// Redis
	v.BindEnv("redis.url", "REDIS_URL")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// Auth
	v.BindEnv("auth.mode", "PBS_AUTH_MODE")
	v.BindEnv("auth.jwt.secret", "PBS_JWT_SECRET")
	v.BindEnv("auth.jwt.issuer", "PBS_JWT_ISSUER")
	v.BindEnv("auth.oidc.issuer", "PBS_OIDC_ISSUER")
	v.BindEnv("auth.oidc.client_id", "PBS_OIDC_CLIENT_ID")
	v.BindEnv("auth.oidc.client_secret", "PBS_OIDC_CLIENT_SECRET")

	// Budget
	v.BindEnv("budget.migration_phase", "PBS_MIGRATION_PHASE")
	v.BindEnv("budget.phase_from_db", "PBS_PHASE_FROM_DB")
	v.BindEnv("budget.retention_days", "PBS_RETENTION_DAYS")
	v.BindEnv("budget.max_concurrent_commits", "PBS_MAX_CONCURRENT_COMMITS")

	// Rate limiting
	v.BindEnv("rate_limit.enabled", "PBS_RATE_LIMIT_ENABLED")
	v.BindEnv("rate_limit.requests_per_window", "PBS_RATE_LIMIT_REQUESTS")

	// Peer
	v.BindEnv("peer.url", "PBS_PEER_URL")
	v.BindEnv("peer.site", "PBS_PEER_SITE")
	v.BindEnv("peer.own_site", "PBS_OWN_SITE")
	v.BindEnv("peer.region", "PBS_PEER_REGION")
	v.BindEnv("peer.auth_token", "PBS_PEER_AUTH_TOKEN")

	// Logging
	v.BindEnv("logging.level", "LOG_LEVEL")
	v.BindEnv("logging.format", "LOG_FORMAT")
}
