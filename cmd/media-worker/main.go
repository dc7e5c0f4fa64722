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
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/mediapipe/api"
	"github.com/angelmondragon/mediapipe/api/handlers"
	"github.com/angelmondragon/mediapipe/internal/claim"
	"github.com/angelmondragon/mediapipe/internal/cron"
	"github.com/angelmondragon/mediapipe/internal/derive"
	"github.com/angelmondragon/mediapipe/internal/notify"
	"github.com/angelmondragon/mediapipe/internal/objectstore"
	"github.com/angelmondragon/mediapipe/internal/pipeline"
	"github.com/angelmondragon/mediapipe/internal/scheduler"
	"github.com/angelmondragon/mediapipe/internal/uploads"
	"github.com/angelmondragon/mediapipe/pkg/config"
	"github.com/angelmondragon/mediapipe/pkg/db"
	"github.com/angelmondragon/mediapipe/pkg/enums"
	"github.com/angelmondragon/mediapipe/pkg/idempotency"
	"github.com/angelmondragon/mediapipe/pkg/instance"
	"github.com/angelmondragon/mediapipe/pkg/logger"
	"github.com/angelmondragon/mediapipe/pkg/metrics"
	"github.com/angelmondragon/mediapipe/pkg/migrate"
	"github.com/angelmondragon/mediapipe/pkg/pubsub"
	"github.com/angelmondragon/mediapipe/pkg/redis"
	"github.com/angelmondragon/mediapipe/pkg/storage"
	"github.com/angelmondragon/mediapipe/pkg/storage/gcs"
	"github.com/angelmondragon/mediapipe/pkg/storage/local"
	"github.com/angelmondragon/mediapipe/pkg/storage/memory"
)

const (
	serviceName  = "media-worker"
	cronLockName = "media-cron"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting media worker")

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "media worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "media worker shutting down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
	}()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	closers = append(closers, dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	deps := map[string]handlers.Pinger{"database": dbClient}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return fmt.Errorf("bootstrap redis: %w", err)
		}
		closers = append(closers, redisClient.Close)
		deps["redis"] = redisClient
	}

	provider, err := newStorage(ctx, cfg, logg)
	if err != nil {
		return fmt.Errorf("bootstrap storage: %w", err)
	}
	if gcsClient, ok := provider.(*gcs.Client); ok {
		closers = append(closers, gcsClient.Close)
		deps["storage"] = gcsClient
	}

	layout := storage.NewLayout(cfg.Storage.StagingPrefix)
	gateway, err := objectstore.NewGateway(provider, layout, cfg.Pipeline.DownloadTimeout(), cfg.Pipeline.UploadTimeout())
	if err != nil {
		return err
	}
	engine, err := derive.NewEngine(cfg.Pipeline.DecodeWorkers, cfg.Pipeline.DecodeTimeout())
	if err != nil {
		return err
	}

	var psClient *pubsub.Client
	if needsPubSub(cfg) {
		psClient, err = pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return fmt.Errorf("bootstrap pubsub: %w", err)
		}
		closers = append(closers, psClient.Close)
		deps["pubsub"] = psClient
	}

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)

	params := ServiceParams{Logger: logg, DB: dbClient}
	var notifier notify.Notifier = notify.NewLogNotifier(logg)
	if psClient != nil && cfg.PubSub.ReadyTopic != "" {
		pub := psClient.ReadyPublisher()
		closers = append(closers, func() error { pub.Stop(); return nil })

		var dedup *idempotency.Manager
		if redisClient != nil {
			dedup, err = idempotency.NewManager(redisClient, cfg.Eventing.ReadyIdempotencyTTL)
			if err != nil {
				return err
			}
		}
		ps, err := notify.NewPubSubNotifier(pub, dedup, logg)
		if err != nil {
			return err
		}
		notifier = ps
		params.Notifier = ps
	}

	claimer := claim.NewClaimer()
	coordinator, err := pipeline.NewCoordinator(pipeline.Params{
		DB:       dbClient,
		Claimer:  claimer,
		Store:    gateway,
		Engine:   engine,
		Notifier: notifier,
		Logger:   logg,
		Metrics:  pipelineMetrics,
	})
	if err != nil {
		return err
	}

	params.Scheduler, err = scheduler.New(scheduler.Params{
		Processor: coordinator,
		Config:    cfg.Pipeline,
		Logger:    logg,
		Metrics:   pipelineMetrics,
	})
	if err != nil {
		return err
	}

	if cfg.Cron.Enabled {
		params.Cron, err = newCron(cfg, logg, dbClient, redisClient, claimer, pipelineMetrics)
		if err != nil {
			return err
		}
	}

	if cfg.FeatureFlags.UploadConsumer {
		params.Uploads, err = uploads.NewConsumer(uploads.NewRepository(dbClient.DB()), psClient.UploadsSubscription(), layout, logg)
		if err != nil {
			return err
		}
	}

	params.HTTP = &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           api.NewRouter(cfg, logg, prometheus.DefaultGatherer, deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	service, err := NewService(params)
	if err != nil {
		return err
	}
	return service.Run(ctx)
}

func needsPubSub(cfg *config.Config) bool {
	return cfg.PubSub.ReadyTopic != "" || cfg.FeatureFlags.UploadConsumer
}

func newStorage(ctx context.Context, cfg *config.Config, logg *logger.Logger) (storage.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Backend)) {
	case config.StorageBackendGCS:
		return gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
	case config.StorageBackendLocal:
		return local.New(cfg.Storage.LocalRoot)
	case config.StorageBackendMemory:
		logg.Warn(ctx, "memory storage backend selected; objects are lost on exit")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func newCron(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, claimer *claim.Claimer, pm *metrics.PipelineMetrics) (*cron.Service, error) {
	var lock cron.Lock = &cron.LocalLock{}
	if redisClient != nil {
		redisLock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(cronLockName, cfg.App.Env), cfg.Cron.LockTTL)
		if err != nil {
			return nil, err
		}
		lock = redisLock
	}

	classes, err := enums.ParseClasses(cfg.Pipeline.Classes)
	if err != nil {
		return nil, err
	}
	backlog, err := cron.NewBacklogJob(cron.BacklogJobParams{
		Logger:  logg,
		DB:      dbClient.DB(),
		Counter: claimer,
		Classes: classes,
		Metrics: pm,
	})
	if err != nil {
		return nil, err
	}

	return cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(backlog),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
}
