package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	redis "github.com/redis/go-redis/v9"
	"github.com/vitovidale/video-pipeline/domain"
	"github.com/vitovidale/video-pipeline/infrastructure"
	"github.com/vitovidale/video-pipeline/infrastructure/push"
	"github.com/vitovidale/video-pipeline/metrics"
	"github.com/vitovidale/video-pipeline/usecase"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const devJWTSecret = "supersecretjwtkeythatshouldbeverylongandrandominproduction"

func main() {
	fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(
			infrastructure.LoadConfig,
			newLogger,
			newRegistry,
			newMetrics,
			newDatabase,
			newIDGenerator,
			newClock,
			fx.Annotate(infrastructure.NewGormUnitOfWork, fx.As(new(domain.UnitOfWork))),
			newJobQueue,
			newVideoLocker,
			newHub,
			newUploadURLSigner,
			usecase.NewCreditLedger,
			usecase.NewJobDispatcher,
			newNotificationService,
			newEventBus,
			usecase.NewUploadVideoUseCase,
			usecase.NewVideoService,
			usecase.NewWebhookIngestor,
			newScheduler,
			infrastructure.NewVideoHandlers,
			infrastructure.NewCreditHandlers,
			infrastructure.NewNotificationHandlers,
			infrastructure.NewWebhookHandlers,
			newHTTPServer,
		),
		fx.Invoke(runMigrations, runBackground, func(*http.Server) {}),
	).Run()
}

func newLogger(lc fx.Lifecycle, cfg infrastructure.Config) (*zap.Logger, error) {
	log, err := infrastructure.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = log.Sync()
			return nil
		},
	})
	return log, nil
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func newDatabase(lc fx.Lifecycle, cfg infrastructure.Config, log *zap.Logger) (*gorm.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := infrastructure.OpenDatabase(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return db, nil
}

func runMigrations(db *gorm.DB, log *zap.Logger) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if err := infrastructure.RunMigrations(sqlDB); err != nil {
		return err
	}
	log.Info("database migrations applied")
	return nil
}

func newIDGenerator(cfg infrastructure.Config) (domain.IDGenerator, error) {
	return snowflake.NewNode(cfg.WorkerID)
}

func newClock() domain.Clock {
	return domain.SystemClock{}
}

func newJobQueue(lc fx.Lifecycle, cfg infrastructure.Config, log *zap.Logger) (domain.JobPublisher, *infrastructure.RabbitMQJobQueue, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	queue, err := infrastructure.DialRabbitMQ(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return queue.Close() },
	})
	return queue, queue, nil
}

// newVideoLocker uses Redis when REDIS_ADDR is set so several instances can
// share the per-video lock; otherwise the lock is in-process.
func newVideoLocker(lc fx.Lifecycle, cfg infrastructure.Config, log *zap.Logger) (usecase.VideoLocker, error) {
	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR not set, using in-process video lock")
		return usecase.NewLocalVideoLocker(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return client.Close() },
	})
	return infrastructure.NewRedisVideoLocker(client, log), nil
}

func newHub(cfg infrastructure.Config, log *zap.Logger, m *metrics.Metrics) (*push.Hub, domain.PushHub, usecase.Heartbeater) {
	hub := push.NewHub(log, m, push.WithConnectionTimeout(cfg.SSETimeout))
	return hub, hub, hub
}

func newUploadURLSigner(cfg infrastructure.Config, clock domain.Clock, log *zap.Logger) domain.UploadURLGenerator {
	if cfg.UploadURLSecret == "" {
		log.Warn("UPLOAD_URL_SECRET not set, upload initiation will fail")
	}
	return infrastructure.NewHMACUploadURLSigner(cfg.UploadURLBase, cfg.UploadURLSecret, cfg.UploadURLTTL, clock)
}

func newNotificationService(
	cfg infrastructure.Config,
	uow domain.UnitOfWork,
	hub domain.PushHub,
	ids domain.IDGenerator,
	clock domain.Clock,
	log *zap.Logger,
	m *metrics.Metrics,
) *usecase.NotificationService {
	return usecase.NewNotificationService(uow, hub, ids, clock, log, m, usecase.NotificationConfig{
		RetryInterval: cfg.NotificationRetryInterval,
		Retention:     cfg.NotificationRetention,
	})
}

func newEventBus(notifications *usecase.NotificationService, log *zap.Logger) (*usecase.EventBus, usecase.EventPublisher) {
	bus := usecase.NewEventBus(notifications, log, usecase.EventBusConfig{})
	return bus, bus
}

func newScheduler(
	cfg infrastructure.Config,
	hub usecase.Heartbeater,
	notifications *usecase.NotificationService,
	dispatcher *usecase.JobDispatcher,
	uow domain.UnitOfWork,
	log *zap.Logger,
	m *metrics.Metrics,
) *usecase.Scheduler {
	return usecase.NewScheduler(usecase.SchedulerConfig{
		HeartbeatInterval:         cfg.HeartbeatInterval,
		NotificationRetryInterval: cfg.NotificationRetryInterval,
		JobRedispatchInterval:     cfg.JobRedispatchInterval,
	}, hub, notifications, dispatcher, uow, log, m)
}

// runBackground starts the event bus and the sweeps and stops them after the
// HTTP server has drained.
func runBackground(lc fx.Lifecycle, bus *usecase.EventBus, scheduler *usecase.Scheduler, log *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{}, 2)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer func() { stopped <- struct{}{} }()
				if err := bus.Run(ctx); err != nil {
					log.Error("event bus stopped", zap.Error(err))
				}
			}()
			go func() {
				defer func() { stopped <- struct{}{} }()
				scheduler.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			for i := 0; i < 2; i++ {
				select {
				case <-stopped:
				case <-stopCtx.Done():
					return stopCtx.Err()
				}
			}
			return nil
		},
	})
}

func newHTTPServer(
	lc fx.Lifecycle,
	cfg infrastructure.Config,
	log *zap.Logger,
	reg *prometheus.Registry,
	db *gorm.DB,
	queue *infrastructure.RabbitMQJobQueue,
	hub *push.Hub,
	videos *infrastructure.VideoHandlers,
	credits *infrastructure.CreditHandlers,
	notifications *infrastructure.NotificationHandlers,
	webhooks *infrastructure.WebhookHandlers,
) *http.Server {
	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		log.Warn("JWT_SECRET not set, using a development secret; do not run like this in production")
		secret = []byte(devJWTSecret)
	}
	if cfg.WebhookSecret == "" {
		log.Warn("WEBHOOK_SECRET not set, worker callbacks will be rejected")
	}

	router := infrastructure.NewRouter(infrastructure.RouterConfig{
		JWTSecret:     secret,
		WebhookSecret: cfg.WebhookSecret,
		Videos:        videos,
		Credits:       credits,
		Notifications: notifications,
		Webhooks:      webhooks,
		Hub:           hub,
		Gatherer:      reg,
		Database:      func(ctx context.Context) error { return infrastructure.PingDatabase(ctx, db) },
		RabbitMQ:      func(context.Context) error { return queue.Healthy() },
		Log:           log,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// Streams never finish on their own; close them so Shutdown can drain.
			closed := hub.DisconnectAll()
			log.Info("closed live connections", zap.Int("count", closed))

			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
	return srv
}
