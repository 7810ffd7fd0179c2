package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	PayOS        PayOSConfig
	Session      SessionConfig
	Events       EventsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Kafka        KafkaConfig
	Outbox       OutboxConfig
	Janitor      JanitorConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Events.validate(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"STOREFRONT_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"STOREFRONT_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"STOREFRONT_DB_DSN"`
	Driver string `envconfig:"STOREFRONT_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"STOREFRONT_DB_HOST"`
	Port     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	User     string `envconfig:"STOREFRONT_DB_USER"`
	Password string `envconfig:"STOREFRONT_DB_PASSWORD"`
	Name     string `envconfig:"STOREFRONT_DB_NAME"`
	SSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"STOREFRONT_DB_SLOW_QUERY" default:"200ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STOREFRONT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
}

// PayOSConfig points at the storefront backend that fronts the PayOS gateway.
type PayOSConfig struct {
	BaseURL        string        `envconfig:"STOREFRONT_PAYOS_BASE_URL" required:"true"`
	APIKey         string        `envconfig:"STOREFRONT_PAYOS_API_KEY"`
	RequestTimeout time.Duration `envconfig:"STOREFRONT_PAYOS_REQUEST_TIMEOUT" default:"10s"`
	CancelReason   string        `envconfig:"STOREFRONT_PAYOS_CANCEL_REASON" default:"User cancelled payment"`
}

type SessionConfig struct {
	PollInterval   time.Duration `envconfig:"STOREFRONT_SESSION_POLL_INTERVAL" default:"3s"`
	WindowSeconds  int           `envconfig:"STOREFRONT_SESSION_WINDOW_SECONDS" default:"900"`
	SuccessDelay   time.Duration `envconfig:"STOREFRONT_SESSION_SUCCESS_DELAY" default:"1500ms"`
	ExpiryGrace    time.Duration `envconfig:"STOREFRONT_SESSION_EXPIRY_GRACE" default:"2s"`
	LockTTL        time.Duration `envconfig:"STOREFRONT_SESSION_LOCK_TTL" default:"20m"`
	QRSize         int           `envconfig:"STOREFRONT_SESSION_QR_SIZE" default:"256"`
	MaxConcurrency int           `envconfig:"STOREFRONT_SESSION_MAX_OPEN" default:"1000"`
}

// Window returns the payment window as a duration.
func (s SessionConfig) Window() time.Duration {
	return time.Duration(s.WindowSeconds) * time.Second
}

type EventsConfig struct {
	Backend string `envconfig:"STOREFRONT_EVENTS_BACKEND" default:"none"`
	Topic   string `envconfig:"STOREFRONT_EVENTS_TOPIC" default:"payment.state.changed"`
}

func (e EventsConfig) validate(cfg Config) error {
	switch strings.ToLower(strings.TrimSpace(e.Backend)) {
	case EventsBackendNone, "":
		return nil
	case EventsBackendPubSub:
		if cfg.GCP.ProjectID == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvGCPProjectID, EnvEventsBackend, EventsBackendPubSub)
		}
		return nil
	case EventsBackendKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("%s is required when %s=%s", EnvKafkaBrokers, EnvEventsBackend, EventsBackendKafka)
		}
		return nil
	default:
		return fmt.Errorf("unsupported %s %q", EnvEventsBackend, e.Backend)
	}
}

// Normalized returns the lower-cased backend name, defaulting to none.
func (e EventsConfig) Normalized() string {
	backend := strings.ToLower(strings.TrimSpace(e.Backend))
	if backend == "" {
		return EventsBackendNone
	}
	return backend
}

type GCPConfig struct {
	ProjectID              string `envconfig:"STOREFRONT_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"STOREFRONT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"STOREFRONT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	PaymentsTopic string `envconfig:"STOREFRONT_PUBSUB_PAYMENTS_TOPIC" default:"payment-session-events"`
}

type KafkaConfig struct {
	Brokers      []string      `envconfig:"STOREFRONT_KAFKA_BROKERS"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_KAFKA_WRITE_TIMEOUT" default:"5s"`
}

// OutboxConfig controls whether payment events go through the database
// outbox and how the relay drains it.
type OutboxConfig struct {
	Enabled        bool `envconfig:"STOREFRONT_OUTBOX_ENABLED" default:"false"`
	BatchSize      int  `envconfig:"STOREFRONT_OUTBOX_BATCH_SIZE" default:"50"`
	PollIntervalMS int  `envconfig:"STOREFRONT_OUTBOX_POLL_INTERVAL_MS" default:"500"`
	MaxAttempts    int  `envconfig:"STOREFRONT_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type JanitorConfig struct {
	Interval   time.Duration `envconfig:"STOREFRONT_JANITOR_INTERVAL" default:"5m"`
	PendingTTL time.Duration `envconfig:"STOREFRONT_JANITOR_PENDING_TTL" default:"24h"`
	BatchSize  int           `envconfig:"STOREFRONT_JANITOR_BATCH_SIZE" default:"100"`
	LockTTL    time.Duration `envconfig:"STOREFRONT_JANITOR_LOCK_TTL" default:"4m"`
}

// RateLimitConfig throttles session creation per client IP and per order.
type RateLimitConfig struct {
	SessionWindow     time.Duration `envconfig:"STOREFRONT_RATE_LIMIT_SESSION_WINDOW" default:"1m"`
	SessionIPLimit    int           `envconfig:"STOREFRONT_RATE_LIMIT_SESSION_IP" default:"30"`
	SessionOrderLimit int           `envconfig:"STOREFRONT_RATE_LIMIT_SESSION_ORDER" default:"5"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.Driver = "sqlite"
		db.DSN = "file:storefront.db?cache=shared"
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range dbPartsEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
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
