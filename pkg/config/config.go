package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "development"
	AppEnvProd = "production"
)

type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Platform   PlatformConfig
	Ledger     LedgerConfig
	Payout     PayoutConfig
	Reconciler ReconcilerConfig
	GCP        GCPConfig
	PubSub     PubSubConfig
	Outbox     OutboxConfig
	RateLimit  RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"A2UBRIDGE_APP_ENV" required:"true"`
	Port         string `envconfig:"A2UBRIDGE_APP_PORT" default:"8080"`
	APIKey       string `envconfig:"A2UBRIDGE_API_KEY" required:"true"`
	LogLevel     string `envconfig:"A2UBRIDGE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"A2UBRIDGE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"A2UBRIDGE_DB_DSN"`
	Driver string `envconfig:"A2UBRIDGE_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"A2UBRIDGE_DB_HOST"`
	Port     int    `envconfig:"A2UBRIDGE_DB_PORT" default:"5432"`
	User     string `envconfig:"A2UBRIDGE_DB_USER"`
	Password string `envconfig:"A2UBRIDGE_DB_PASSWORD"`
	Name     string `envconfig:"A2UBRIDGE_DB_NAME"`
	SSLMode  string `envconfig:"A2UBRIDGE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"A2UBRIDGE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"A2UBRIDGE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"A2UBRIDGE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"A2UBRIDGE_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	AutoMigrate bool `envconfig:"A2UBRIDGE_AUTO_MIGRATE" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"A2UBRIDGE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"A2UBRIDGE_REDIS_ADDR"`
	Password     string        `envconfig:"A2UBRIDGE_REDIS_PASSWORD"`
	DB           int           `envconfig:"A2UBRIDGE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"A2UBRIDGE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"A2UBRIDGE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"A2UBRIDGE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"A2UBRIDGE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"A2UBRIDGE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// PlatformConfig points the platform gateway at the payment platform API.
type PlatformConfig struct {
	BaseURL        string        `envconfig:"A2UBRIDGE_PLATFORM_BASE_URL" default:"https://api.minepi.com"`
	APIKey         string        `envconfig:"A2UBRIDGE_PLATFORM_API_KEY" required:"true"`
	RequestTimeout time.Duration `envconfig:"A2UBRIDGE_PLATFORM_TIMEOUT" default:"20s"`
	MaxRetries     int           `envconfig:"A2UBRIDGE_PLATFORM_MAX_RETRIES" default:"3"`

	// SkipCompletion settles sagas without calling the platform complete
	// endpoint, for platform/network pairings that do not require it.
	SkipCompletion bool `envconfig:"A2UBRIDGE_PLATFORM_SKIP_COMPLETION" default:"false"`
}

// LedgerConfig points the ledger gateway at a Horizon-style endpoint.
type LedgerConfig struct {
	HorizonURL        string        `envconfig:"A2UBRIDGE_LEDGER_HORIZON_URL" default:"https://api.testnet.minepi.com"`
	NetworkPassphrase string        `envconfig:"A2UBRIDGE_LEDGER_NETWORK_PASSPHRASE" required:"true"`
	RequestTimeout    time.Duration `envconfig:"A2UBRIDGE_LEDGER_TIMEOUT" default:"20s"`
	MaxRetries        int           `envconfig:"A2UBRIDGE_LEDGER_MAX_RETRIES" default:"3"`
}

// PayoutConfig holds the source wallet and saga policy knobs.
type PayoutConfig struct {
	SourceSecretSeed string        `envconfig:"A2UBRIDGE_PAYOUT_SOURCE_SECRET_SEED" required:"true"`
	MinReserve       string        `envconfig:"A2UBRIDGE_PAYOUT_MIN_RESERVE" default:"1"`
	TxValidity       time.Duration `envconfig:"A2UBRIDGE_PAYOUT_TX_VALIDITY" default:"3m"`
	CompleteRetries  int           `envconfig:"A2UBRIDGE_PAYOUT_COMPLETE_RETRIES" default:"5"`
	IdempotencyTTL   time.Duration `envconfig:"A2UBRIDGE_PAYOUT_IDEMPOTENCY_TTL" default:"168h"`
}

type ReconcilerConfig struct {
	Interval     time.Duration `envconfig:"A2UBRIDGE_RECONCILER_INTERVAL" default:"1m"`
	LockTTL      time.Duration `envconfig:"A2UBRIDGE_RECONCILER_LOCK_TTL" default:"5m"`
	BatchSize    int           `envconfig:"A2UBRIDGE_RECONCILER_BATCH_SIZE" default:"50"`
	StaleAfter   time.Duration `envconfig:"A2UBRIDGE_RECONCILER_STALE_AFTER" default:"5m"`
	MetricsPort  string        `envconfig:"A2UBRIDGE_RECONCILER_METRICS_PORT" default:"9090"`
	RunOnStartup bool          `envconfig:"A2UBRIDGE_RECONCILER_RUN_ON_STARTUP" default:"true"`
}

// RateLimitConfig throttles payout creation; zero limits disable the check.
type RateLimitConfig struct {
	PayoutWindow   time.Duration `envconfig:"A2UBRIDGE_RATE_LIMIT_PAYOUT_WINDOW" default:"1m"`
	PayoutIPLimit  int           `envconfig:"A2UBRIDGE_RATE_LIMIT_PAYOUT_IP_LIMIT" default:"60"`
	PayoutUIDLimit int           `envconfig:"A2UBRIDGE_RATE_LIMIT_PAYOUT_UID_LIMIT" default:"10"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"A2UBRIDGE_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	PayoutTopic        string `envconfig:"A2UBRIDGE_PUBSUB_PAYOUT_TOPIC" default:"a2u-payout-events"`
	PayoutSubscription string `envconfig:"A2UBRIDGE_PUBSUB_PAYOUT_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"A2UBRIDGE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"A2UBRIDGE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"A2UBRIDGE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		"A2UBRIDGE_DB_HOST": db.Host,
		"A2UBRIDGE_DB_USER": db.User,
		"A2UBRIDGE_DB_NAME": db.Name,
	}
	for _, env := range []string{"A2UBRIDGE_DB_HOST", "A2UBRIDGE_DB_USER", "A2UBRIDGE_DB_NAME"} {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either A2UBRIDGE_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
