package config

import (
	"fmt"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/gateway"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/ratelimit"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

const (
	RateLimitBackendLocal = "local"
	RateLimitBackendRedis = "redis"
)

type Config struct {
	AppName                       string        `env:"APP_NAME" env-default:"fern-api"`
	Version                       string        `env:"APP_VERSION" env-default:"dev"`
	Port                          int           `env:"PORT" env-default:"3000"`
	LogLevel                      string        `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool          `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int           `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"60"`
	HttpServerReadTimeoutSeconds  int           `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int           `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	ReadHeaderTimeoutSeconds      int           `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int           `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"`
	StartupMaxAttempts            int           `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`
	ShutdownTimeout               time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"30s"`

	DatabaseDriver          string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost            string        `env:"DB_HOST" env-default:"localhost"`
	DatabasePort            string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName        string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword        string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName            string        `env:"DB_NAME" env-default:"fern"`
	DatabaseSSLMode         string        `env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"5m"`

	// 0 migrates to the newest migration in the folder.
	DatabaseMigrationVersion      int    `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationFolderPath   string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationForce        int    `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool   `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	RedisEnabled  bool   `env:"REDIS_ENABLED" env-default:"true"`
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Empty disables the Kafka event sink.
	KafkaBrokers        string `env:"KAFKA_BROKERS" env-default:""`
	KafkaSyncEventTopic string `env:"KAFKA_SYNC_EVENT_TOPIC" env-default:"fern.integration-events"`
	ObserverQueueSize   int    `env:"OBSERVER_QUEUE_SIZE" env-default:"1024"`

	OTLPEnabled  bool   `env:"OTLP_ENABLED" env-default:"false"`
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	OTLPInsecure bool   `env:"OTLP_INSECURE" env-default:"true"`

	// AuthEnabled requires OIDC bearer tokens; otherwise the tenant comes from X-Tenant-ID.
	AuthEnabled   bool   `env:"AUTH_ENABLED" env-default:"false"`
	AuthIssuerURL string `env:"AUTH_ISSUER_URL" env-default:""`
	AuthClientID  string `env:"AUTH_CLIENT_ID" env-default:""`

	// CredentialEncryptionKey is a base64 encoded 32 byte key.
	CredentialEncryptionKey string `env:"CREDENTIAL_ENCRYPTION_KEY" env-default:""`

	RateLimitBackend  string        `env:"RATE_LIMIT_BACKEND" env-default:"local"`
	RateLimitTokens   int           `env:"RATE_LIMIT_TOKENS" env-default:"100"`
	RateLimitInterval time.Duration `env:"RATE_LIMIT_INTERVAL" env-default:"1m"`

	BreakerCallTimeout  time.Duration `env:"BREAKER_CALL_TIMEOUT" env-default:"10s"`
	BreakerFailureRatio float64       `env:"BREAKER_FAILURE_RATIO" env-default:"0.5"`
	BreakerMinRequests  int           `env:"BREAKER_MIN_REQUESTS" env-default:"5"`
	BreakerInterval     time.Duration `env:"BREAKER_INTERVAL" env-default:"1m"`
	BreakerResetTimeout time.Duration `env:"BREAKER_RESET_TIMEOUT" env-default:"30s"`

	SyncBatchSize       int           `env:"SYNC_BATCH_SIZE" env-default:"100"`
	SyncStaleness       time.Duration `env:"SYNC_STALENESS_WINDOW" env-default:"1h"`
	SyncPendingLimit    int           `env:"SYNC_PENDING_LIMIT" env-default:"500"`
	SyncLeaseEnabled    bool          `env:"SYNC_LEASE_ENABLED" env-default:"false"`
	SyncLeaseTTL        time.Duration `env:"SYNC_LEASE_TTL" env-default:"5m"`
	TokenRefreshSkew    time.Duration `env:"TOKEN_REFRESH_SKEW" env-default:"60s"`
	ProviderHTTPTimeout time.Duration `env:"PROVIDER_HTTP_TIMEOUT" env-default:"30s"`
	MaxRetryAfter       time.Duration `env:"PROVIDER_MAX_RETRY_AFTER" env-default:"2m"`

	SchedulerEnabled      bool          `env:"SCHEDULER_ENABLED" env-default:"true"`
	SchedulerPollInterval time.Duration `env:"SCHEDULER_POLL_INTERVAL" env-default:"60s"`
	SchedulerLockTTL      time.Duration `env:"SCHEDULER_LOCK_TTL" env-default:"10m"`

	SalesforceTokenURL   string `env:"SALESFORCE_TOKEN_URL" env-default:""`
	SalesforceAPIVersion string `env:"SALESFORCE_API_VERSION" env-default:""`
	HubSpotTokenURL      string `env:"HUBSPOT_TOKEN_URL" env-default:""`
	HubSpotInstanceURL   string `env:"HUBSPOT_INSTANCE_URL" env-default:""`
	HubSpotAPIVersion    string `env:"HUBSPOT_API_VERSION" env-default:""`
	PipedriveTokenURL    string `env:"PIPEDRIVE_TOKEN_URL" env-default:""`
	PipedriveInstanceURL string `env:"PIPEDRIVE_INSTANCE_URL" env-default:""`
	PipedriveAPIVersion  string `env:"PIPEDRIVE_API_VERSION" env-default:""`
	ZohoTokenURL         string `env:"ZOHO_TOKEN_URL" env-default:""`
	ZohoInstanceURL      string `env:"ZOHO_INSTANCE_URL" env-default:""`
	ZohoAPIVersion       string `env:"ZOHO_API_VERSION" env-default:""`
}

// Load reads an optional .env file and binds the environment onto Config.
func Load() (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg := &Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate catches settings that would only fail later at first use.
func (c *Config) Validate() error {
	if c.CredentialEncryptionKey == "" {
		return fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY is required")
	}
	switch c.RateLimitBackend {
	case RateLimitBackendLocal:
	case RateLimitBackendRedis:
		if !c.RedisEnabled {
			return fmt.Errorf("RATE_LIMIT_BACKEND=redis requires REDIS_ENABLED")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q, got %q", RateLimitBackendLocal, RateLimitBackendRedis, c.RateLimitBackend)
	}
	if c.SyncLeaseEnabled && !c.RedisEnabled {
		return fmt.Errorf("SYNC_LEASE_ENABLED requires REDIS_ENABLED")
	}
	if c.AuthEnabled && (c.AuthIssuerURL == "" || c.AuthClientID == "") {
		return fmt.Errorf("AUTH_ENABLED requires AUTH_ISSUER_URL and AUTH_CLIENT_ID")
	}
	if c.BreakerMinRequests < 0 {
		return fmt.Errorf("BREAKER_MIN_REQUESTS must not be negative")
	}
	return nil
}

func (c *Config) Database() database.Config {
	return database.Config{
		Driver:          c.DatabaseDriver,
		Host:            c.DatabaseHost,
		Port:            c.DatabasePort,
		User:            c.DatabaseUserName,
		Password:        c.DatabasePassword,
		Name:            c.DatabaseName,
		SSLMode:         c.DatabaseSSLMode,
		MaxOpenConns:    c.DatabaseMaxOpenConns,
		MaxIdleConns:    c.DatabaseMaxIdleConns,
		ConnMaxLifetime: c.DatabaseConnMaxLifetime,
	}
}

func (c *Config) Migration() *database.MigrationConfig {
	version := c.DatabaseMigrationVersion
	if version < 0 {
		version = 0
	}
	return &database.MigrationConfig{
		MigrationFolderPath: c.DatabaseMigrationFolderPath,
		Version:             uint(version),
		Force:               c.DatabaseMigrationForce,
		AutoRollback:        c.DatabaseMigrationAutoRollback,
	}
}

func (c *Config) Redis() redis.Config {
	return redis.Config{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

func (c *Config) Tracing() tracing.Config {
	return tracing.Config{
		ServiceName: c.AppName,
		Enabled:     c.OTLPEnabled,
		OTLP: exporters.OTLPConfig{
			Endpoint: c.OTLPEndpoint,
			Protocol: c.OTLPProtocol,
			Insecure: c.OTLPInsecure,
		},
	}
}

func (c *Config) Quota() ratelimit.Quota {
	return ratelimit.Quota{Tokens: c.RateLimitTokens, Interval: c.RateLimitInterval}
}

func (c *Config) Breaker() gateway.BreakerConfig {
	return gateway.BreakerConfig{
		CallTimeout:  c.BreakerCallTimeout,
		FailureRatio: c.BreakerFailureRatio,
		MinRequests:  uint32(c.BreakerMinRequests),
		Interval:     c.BreakerInterval,
		ResetTimeout: c.BreakerResetTimeout,
	}
}

func (c *Config) Gateway() gateway.Config {
	return gateway.Config{
		BatchSize:     c.SyncBatchSize,
		RefreshSkew:   c.TokenRefreshSkew,
		HTTPTimeout:   c.ProviderHTTPTimeout,
		MaxRetryAfter: c.MaxRetryAfter,
	}
}

// ProviderOverrides holds only the providers with at least one override set.
func (c *Config) ProviderOverrides() map[models.ProviderType]gateway.ProviderSettings {
	overrides := map[models.ProviderType]gateway.ProviderSettings{
		models.ProviderSalesforce: {TokenURL: c.SalesforceTokenURL, APIVersion: c.SalesforceAPIVersion},
		models.ProviderHubSpot:    {TokenURL: c.HubSpotTokenURL, DefaultInstanceURL: c.HubSpotInstanceURL, APIVersion: c.HubSpotAPIVersion},
		models.ProviderPipedrive:  {TokenURL: c.PipedriveTokenURL, DefaultInstanceURL: c.PipedriveInstanceURL, APIVersion: c.PipedriveAPIVersion},
		models.ProviderZoho:       {TokenURL: c.ZohoTokenURL, DefaultInstanceURL: c.ZohoInstanceURL, APIVersion: c.ZohoAPIVersion},
	}
	for provider, settings := range overrides {
		if settings == (gateway.ProviderSettings{}) {
			delete(overrides, provider)
		}
	}
	return overrides
}
