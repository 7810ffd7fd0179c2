package config

const EnvPrefix = "STOREFRONT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EventsBackendNone   = "none"
	EventsBackendPubSub = "pubsub"
	EventsBackendKafka  = "kafka"
)

// Env var names referenced outside struct tags (validation messages, tests).
const (
	EnvAppEnv          = "STOREFRONT_APP_ENV"
	EnvPort            = "STOREFRONT_APP_PORT"
	EnvDBDSN           = "STOREFRONT_DB_DSN"
	EnvDBHost          = "STOREFRONT_DB_HOST"
	EnvDBUser          = "STOREFRONT_DB_USER"
	EnvDBName          = "STOREFRONT_DB_NAME"
	EnvRedisURL        = "STOREFRONT_REDIS_URL"
	EnvUseSQLite       = "STOREFRONT_USE_SQLITE"
	EnvPayOSBaseURL    = "STOREFRONT_PAYOS_BASE_URL"
	EnvSessionPoll     = "STOREFRONT_SESSION_POLL_INTERVAL"
	EnvSessionWindow   = "STOREFRONT_SESSION_WINDOW_SECONDS"
	EnvEventsBackend   = "STOREFRONT_EVENTS_BACKEND"
	EnvGCPProjectID    = "STOREFRONT_GCP_PROJECT_ID"
	EnvKafkaBrokers    = "STOREFRONT_KAFKA_BROKERS"
	EnvJanitorInterval = "STOREFRONT_JANITOR_INTERVAL"
)

var dbPartsEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
