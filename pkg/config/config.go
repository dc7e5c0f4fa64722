package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	GCS          GCSConfig
	Storage      StorageConfig
	PubSub       PubSubConfig
	Pipeline     PipelineConfig
	Cron         CronConfig
}

var validate = validator.New()

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MEDIAPIPE_APP_ENV" required:"true"`
	Port         string `envconfig:"MEDIAPIPE_APP_PORT" default:"8081"`
	LogLevel     string `envconfig:"MEDIAPIPE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MEDIAPIPE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MEDIAPIPE_SERVICE_KIND" default:"media-worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"MEDIAPIPE_DB_DSN"`
	Driver string `envconfig:"MEDIAPIPE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MEDIAPIPE_DB_HOST"`
	LegacyPort     int    `envconfig:"MEDIAPIPE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MEDIAPIPE_DB_USER"`
	LegacyPassword string `envconfig:"MEDIAPIPE_DB_PASSWORD"`
	LegacyName     string `envconfig:"MEDIAPIPE_DB_NAME"`
	LegacySSLMode  string `envconfig:"MEDIAPIPE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MEDIAPIPE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MEDIAPIPE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MEDIAPIPE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MEDIAPIPE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the configured driver is the embedded sqlite driver.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"MEDIAPIPE_REDIS_URL"`
	Address      string        `envconfig:"MEDIAPIPE_REDIS_ADDR"`
	Password     string        `envconfig:"MEDIAPIPE_REDIS_PASSWORD"`
	DB           int           `envconfig:"MEDIAPIPE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MEDIAPIPE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MEDIAPIPE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MEDIAPIPE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MEDIAPIPE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MEDIAPIPE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"MEDIAPIPE_AUTO_MIGRATE" default:"false"`
	// UploadConsumer enables the storage finalize consumer that records uploaded_at.
	UploadConsumer bool `envconfig:"MEDIAPIPE_FEATURE_UPLOAD_CONSUMER" default:"false"`
}

type EventingConfig struct {
	ReadyIdempotencyTTL time.Duration `envconfig:"MEDIAPIPE_EVENTING_IDEMPOTENCY_TTL" default:"168h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MEDIAPIPE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"MEDIAPIPE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MEDIAPIPE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName string `envconfig:"MEDIAPIPE_GCS_BUCKET_NAME"`
	// BaseURL overrides the JSON API endpoint (fake-gcs-server, tests).
	BaseURL string `envconfig:"MEDIAPIPE_GCS_BASE_URL" default:"https://storage.googleapis.com"`
}

type StorageConfig struct {
	Backend string `envconfig:"MEDIAPIPE_STORAGE_BACKEND" default:"gcs"`
	// LocalRoot is the directory used by the local backend.
	LocalRoot string `envconfig:"MEDIAPIPE_STORAGE_LOCAL_ROOT" default:"./data/objects"`
	// StagingPrefix is where uploaders write originals; empty means in place.
	StagingPrefix string `envconfig:"MEDIAPIPE_STORAGE_STAGING_PREFIX"`
}

type PubSubConfig struct {
	ReadyTopic          string `envconfig:"MEDIAPIPE_PUBSUB_READY_TOPIC"`
	UploadsSubscription string `envconfig:"MEDIAPIPE_PUBSUB_UPLOADS_SUBSCRIPTION"`
}

type PipelineConfig struct {
	Classes              []string       `envconfig:"MEDIAPIPE_PIPELINE_CLASSES" default:"global_image,user_image,web_media,global_animation,user_audio,user_pdf" validate:"min=1,dive,required"`
	ConcurrencyPerKind   int            `envconfig:"MEDIAPIPE_PIPELINE_CONCURRENCY_PER_KIND" default:"2" validate:"gte=1,lte=64"`
	ConcurrencyOverrides map[string]int `envconfig:"MEDIAPIPE_PIPELINE_CONCURRENCY_OVERRIDES" validate:"dive,gte=0,lte=64"`
	IdleBackoffMinMS     int            `envconfig:"MEDIAPIPE_PIPELINE_IDLE_BACKOFF_MIN_MS" default:"250" validate:"gte=1"`
	IdleBackoffMaxMS     int            `envconfig:"MEDIAPIPE_PIPELINE_IDLE_BACKOFF_MAX_MS" default:"10000" validate:"gtefield=IdleBackoffMinMS"`
	TransientBackoffMS   int            `envconfig:"MEDIAPIPE_PIPELINE_TRANSIENT_BACKOFF_MS" default:"1000" validate:"gte=1"`
	DownloadTimeoutMS    int            `envconfig:"MEDIAPIPE_PIPELINE_DOWNLOAD_TIMEOUT_MS" default:"60000" validate:"gte=1"`
	UploadTimeoutMS      int            `envconfig:"MEDIAPIPE_PIPELINE_UPLOAD_TIMEOUT_MS" default:"60000" validate:"gte=1"`
	DecodeTimeoutMS      int            `envconfig:"MEDIAPIPE_PIPELINE_DECODE_TIMEOUT_MS" default:"30000" validate:"gte=1"`
	DecodeWorkers        int            `envconfig:"MEDIAPIPE_PIPELINE_DECODE_WORKERS" default:"0" validate:"gte=0"`
	AlertThreshold       int            `envconfig:"MEDIAPIPE_PIPELINE_ALERT_THRESHOLD" default:"3" validate:"gte=1"`
}

// Validate checks the pipeline bounds.
func (p PipelineConfig) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid pipeline config: %w", err)
	}
	return nil
}

// Concurrency returns the worker count for the named class.
func (p PipelineConfig) Concurrency(class string) int {
	if n, ok := p.ConcurrencyOverrides[class]; ok {
		return n
	}
	return p.ConcurrencyPerKind
}

func (p PipelineConfig) IdleBackoffMin() time.Duration {
	return time.Duration(p.IdleBackoffMinMS) * time.Millisecond
}

func (p PipelineConfig) IdleBackoffMax() time.Duration {
	return time.Duration(p.IdleBackoffMaxMS) * time.Millisecond
}

func (p PipelineConfig) TransientBackoff() time.Duration {
	return time.Duration(p.TransientBackoffMS) * time.Millisecond
}

func (p PipelineConfig) DownloadTimeout() time.Duration {
	return time.Duration(p.DownloadTimeoutMS) * time.Millisecond
}

func (p PipelineConfig) UploadTimeout() time.Duration {
	return time.Duration(p.UploadTimeoutMS) * time.Millisecond
}

func (p PipelineConfig) DecodeTimeout() time.Duration {
	return time.Duration(p.DecodeTimeoutMS) * time.Millisecond
}

type CronConfig struct {
	Enabled  bool          `envconfig:"MEDIAPIPE_CRON_ENABLED" default:"true"`
	Interval time.Duration `envconfig:"MEDIAPIPE_CRON_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"MEDIAPIPE_CRON_LOCK_TTL" default:"55s"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
