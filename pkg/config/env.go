package config

const EnvPrefix = "MEDIAPIPE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	StorageBackendGCS    = "gcs"
	StorageBackendLocal  = "local"
	StorageBackendMemory = "memory"
)

const (
	EnvAppEnv   = "MEDIAPIPE_APP_ENV"
	EnvPort     = "MEDIAPIPE_APP_PORT"
	EnvLogLevel = "MEDIAPIPE_LOG_LEVEL"

	EnvDBDSN    = "MEDIAPIPE_DB_DSN"
	EnvDBDriver = "MEDIAPIPE_DB_DRIVER"
	EnvDBHost   = "MEDIAPIPE_DB_HOST"
	EnvDBPort   = "MEDIAPIPE_DB_PORT"
	EnvDBUser   = "MEDIAPIPE_DB_USER"
	EnvDBPass   = "MEDIAPIPE_DB_PASSWORD"
	EnvDBName   = "MEDIAPIPE_DB_NAME"

	EnvRedisURL = "MEDIAPIPE_REDIS_URL"

	EnvGCPProjectID      = "MEDIAPIPE_GCP_PROJECT_ID"
	EnvGCSBucket         = "MEDIAPIPE_GCS_BUCKET_NAME"
	EnvStorageBackend    = "MEDIAPIPE_STORAGE_BACKEND"
	EnvStorageStaging    = "MEDIAPIPE_STORAGE_STAGING_PREFIX"
	EnvPubSubReadyTopic  = "MEDIAPIPE_PUBSUB_READY_TOPIC"
	EnvPubSubUploadsSub  = "MEDIAPIPE_PUBSUB_UPLOADS_SUBSCRIPTION"
	EnvPipelineClasses   = "MEDIAPIPE_PIPELINE_CLASSES"
	EnvPipelineConc      = "MEDIAPIPE_PIPELINE_CONCURRENCY_PER_KIND"
	EnvPipelineOverrides = "MEDIAPIPE_PIPELINE_CONCURRENCY_OVERRIDES"
	EnvPipelineIdleMin   = "MEDIAPIPE_PIPELINE_IDLE_BACKOFF_MIN_MS"
	EnvPipelineIdleMax   = "MEDIAPIPE_PIPELINE_IDLE_BACKOFF_MAX_MS"
	EnvPipelineThreshold = "MEDIAPIPE_PIPELINE_ALERT_THRESHOLD"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
