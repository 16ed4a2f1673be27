package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/socketgate/pkg/directory"
	"github.com/platinummonkey/socketgate/pkg/middleware"
	"github.com/platinummonkey/socketgate/pkg/observability"
)

// Storage modes
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Token verification
	Auth AuthConfig

	// Connection and event limits
	Limits LimitsConfig

	// Session re-validation
	Session SessionConfig

	// Storage configuration
	Storage StorageConfig

	// Audit trail
	Audit AuditConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// TrustProxy honours X-Forwarded-For when keying connection attempts
	TrustProxy bool
	// AllowedOrigins for the WebSocket upgrade; empty allows same-origin only
	AllowedOrigins []string
	// PingInterval between server pings on an open connection
	PingInterval time.Duration
}

// AuthConfig holds bearer token settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Leeway    time.Duration
}

// LimitsConfig holds rate limit settings
type LimitsConfig struct {
	ConnectionMaxAttempts int
	ConnectionWindow      time.Duration
	// PenalizeUnknownUser counts USER_NOT_FOUND against the connection limiter
	PenalizeUnknownUser bool
	// Distributed keeps limiter state in Redis so replicas share counters
	Distributed bool
	// EventLimitsFile is a YAML file of per-event policies, watched for changes
	EventLimitsFile string
	// SweepInterval for in-memory limiter compaction
	SweepInterval time.Duration
}

// SessionConfig holds session guard settings
type SessionConfig struct {
	// GuardInterval between periodic checks of each open connection; 0 disables
	GuardInterval time.Duration
	// SensitiveEvents are re-validated before every message
	SensitiveEvents []string
}

// StorageConfig holds directory and Redis connection settings
type StorageConfig struct {
	Mode string

	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	// Production broadcasts authentication decisions as well as authorization ones
	Production bool
	// FileDir enables the rotating JSON lines sink when set
	FileDir      string
	FileMaxSize  int64
	FileMaxFiles int
	// Database writes decisions to Postgres; requires postgres storage
	Database  bool
	Retention time.Duration
	Workers   int
	QueueSize int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Auth:          loadAuthConfig(),
		Limits:        loadLimitsConfig(),
		Session:       loadSessionConfig(),
		Storage:       loadStorageConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SOCKETGATE_HOST", "0.0.0.0"),
		Port:            getEnv("SOCKETGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("SOCKETGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SOCKETGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("SOCKETGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SOCKETGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("SOCKETGATE_HEALTH_PORT", "9090"),
		TrustProxy:      getEnvBool("SOCKETGATE_TRUST_PROXY", false),
		AllowedOrigins:  getEnvList("SOCKETGATE_ALLOWED_ORIGINS"),
		PingInterval:    getEnvDuration("SOCKETGATE_PING_INTERVAL", 30*time.Second),
	}
}

// loadAuthConfig loads token verification settings from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret: getEnv("SOCKETGATE_JWT_SECRET", ""),
		Issuer:    getEnv("SOCKETGATE_JWT_ISSUER", "socketgate"),
		Leeway:    getEnvDuration("SOCKETGATE_JWT_LEEWAY", 30*time.Second),
	}
}

// loadLimitsConfig loads rate limit settings from environment
func loadLimitsConfig() LimitsConfig {
	def := middleware.ConnectionAttemptConfig()
	return LimitsConfig{
		ConnectionMaxAttempts: getEnvInt("SOCKETGATE_CONNECT_MAX_ATTEMPTS", def.MaxAttempts),
		ConnectionWindow:      getEnvDuration("SOCKETGATE_CONNECT_WINDOW", def.Window),
		PenalizeUnknownUser:   getEnvBool("SOCKETGATE_PENALIZE_UNKNOWN_USER", true),
		Distributed:           getEnvBool("SOCKETGATE_DISTRIBUTED_LIMITS", false),
		EventLimitsFile:       getEnv("SOCKETGATE_EVENT_LIMITS_FILE", ""),
		SweepInterval:         getEnvDuration("SOCKETGATE_LIMITER_SWEEP_INTERVAL", 5*time.Minute),
	}
}

// loadSessionConfig loads session guard settings from environment
func loadSessionConfig() SessionConfig {
	cfg := SessionConfig{
		GuardInterval:   getEnvDuration("SOCKETGATE_SESSION_GUARD_INTERVAL", time.Minute),
		SensitiveEvents: getEnvList("SOCKETGATE_SENSITIVE_EVENTS"),
	}
	if cfg.SensitiveEvents == nil {
		cfg.SensitiveEvents = []string{"case:assign", "report:sign", "user:update"}
	}
	return cfg
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() StorageConfig {
	cfg := StorageConfig{
		Mode:             strings.ToLower(getEnv("SOCKETGATE_STORAGE_MODE", StorageMemory)),
		PostgresURL:      getEnv("SOCKETGATE_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("SOCKETGATE_POSTGRES_MAX_CONNS", 20),
		PostgresMinConns: getEnvInt("SOCKETGATE_POSTGRES_MIN_CONNS", 5),
		PostgresTimeout:  getEnvDuration("SOCKETGATE_POSTGRES_TIMEOUT", 5*time.Second),
		RedisURL:         getEnv("SOCKETGATE_REDIS_URL", ""),
		RedisPassword:    getEnv("SOCKETGATE_REDIS_PASSWORD", ""),
	}
	if redisDB := getEnvInt("SOCKETGATE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	return cfg
}

// loadAuditConfig loads audit trail settings from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Production:   getEnvBool("SOCKETGATE_AUDIT_PRODUCTION", false),
		FileDir:      getEnv("SOCKETGATE_AUDIT_FILE_DIR", ""),
		FileMaxSize:  getEnvInt64("SOCKETGATE_AUDIT_FILE_MAX_SIZE", 100*1024*1024),
		FileMaxFiles: getEnvInt("SOCKETGATE_AUDIT_FILE_MAX_FILES", 10),
		Database:     getEnvBool("SOCKETGATE_AUDIT_DATABASE", false),
		Retention:    getEnvDuration("SOCKETGATE_AUDIT_RETENTION", 90*24*time.Hour),
		Workers:      getEnvInt("SOCKETGATE_AUDIT_WORKERS", 2),
		QueueSize:    getEnvInt("SOCKETGATE_AUDIT_QUEUE_SIZE", 1024),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("SOCKETGATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("SOCKETGATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("SOCKETGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("SOCKETGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("SOCKETGATE_OTEL_SERVICE_NAME", "socketgate"),
		OTelServiceVersion: getEnv("SOCKETGATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("SOCKETGATE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("SOCKETGATE_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate auth config
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.Audit.Production && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 bytes in production")
	}

	// Validate limits
	if c.Limits.ConnectionMaxAttempts <= 0 {
		return fmt.Errorf("connection max attempts must be positive")
	}
	if c.Limits.ConnectionWindow <= 0 {
		return fmt.Errorf("connection window must be positive")
	}
	if c.Limits.Distributed && c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required for distributed limits")
	}

	// Validate storage config based on mode
	switch c.Storage.Mode {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage mode: %s (must be memory or postgres)", c.Storage.Mode)
	}

	// Validate audit config
	if c.Audit.Database && c.Storage.Mode != StoragePostgres {
		return fmt.Errorf("audit database sink requires postgres storage")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// ConnectionLimit returns the connection-attempt limiter configuration
func (c *Config) ConnectionLimit() *middleware.RateLimitConfig {
	return &middleware.RateLimitConfig{
		MaxAttempts: c.Limits.ConnectionMaxAttempts,
		Window:      c.Limits.ConnectionWindow,
	}
}

// Postgres returns the directory connection settings
func (c *Config) Postgres() directory.ConnectionConfig {
	return directory.ConnectionConfig{
		URL:         c.Storage.PostgresURL,
		MaxConns:    c.Storage.PostgresMaxConns,
		MinConns:    c.Storage.PostgresMinConns,
		Timeout:     c.Storage.PostgresTimeout,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
	}
}

// Redis returns the Redis connection settings
func (c *Config) Redis() directory.RedisConfig {
	return directory.RedisConfig{
		URL:      c.Storage.RedisURL,
		Password: c.Storage.RedisPassword,
		DB:       c.Storage.RedisDB,
	}
}

// OTel returns the tracing configuration
func (c *Config) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, or returns nil when unset
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
