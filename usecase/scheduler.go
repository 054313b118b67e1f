package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/vitovidale/video-pipeline/domain"
	"github.com/vitovidale/video-pipeline/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	SweepHeartbeat         = "heartbeat"
	SweepNotificationRetry = "notification_retry"
	SweepNotificationPurge = "notification_purge"
	SweepJobRedispatch     = "job_redispatch"

	defaultHeartbeatEvery  = 30 * time.Second
	defaultPurgeEvery      = 24 * time.Hour
	defaultRedispatchEvery = time.Minute
	defaultSweepTimeout    = time.Minute
)

// Heartbeater writes a keep-alive to every live connection and returns how
// many dead ones it removed.
type Heartbeater interface {
	Heartbeat() int
}

type SchedulerConfig struct {
	HeartbeatInterval         time.Duration
	NotificationRetryInterval time.Duration
	PurgeInterval             time.Duration
	JobRedispatchInterval     time.Duration
	SweepTimeout              time.Duration
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatEvery
	}
	if c.NotificationRetryInterval <= 0 {
		c.NotificationRetryInterval = DefaultNotificationRetryInterval
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = defaultPurgeEvery
	}
	if c.JobRedispatchInterval <= 0 {
		c.JobRedispatchInterval = defaultRedispatchEvery
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = defaultSweepTimeout
	}
	return c
}

// Scheduler runs the periodic sweeps. Each sweep runs on its own ticker and is
// single-flight: a run requested while the same sweep is in progress joins it.
type Scheduler struct {
	cfg           SchedulerConfig
	hub           Heartbeater
	notifications *NotificationService
	dispatcher    *JobDispatcher
	uow           domain.UnitOfWork
	log           *zap.Logger
	metrics       *metrics.Metrics
	flight        singleflight.Group
}

func NewScheduler(cfg SchedulerConfig, hub Heartbeater, notifications *NotificationService, dispatcher *JobDispatcher, uow domain.UnitOfWork, log *zap.Logger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		cfg:           cfg.withDefaults(),
		hub:           hub,
		notifications: notifications,
		dispatcher:    dispatcher,
		uow:           uow,
		log:           log.Named("scheduler"),
		metrics:       m,
	}
}

func (s *Scheduler) RunForever(ctx context.Context) {
	intervals := map[string]time.Duration{
		SweepHeartbeat:         s.cfg.HeartbeatInterval,
		SweepNotificationRetry: s.cfg.NotificationRetryInterval,
		SweepNotificationPurge: s.cfg.PurgeInterval,
		SweepJobRedispatch:     s.cfg.JobRedispatchInterval,
	}

	var wg sync.WaitGroup
	for name, every := range intervals {
		wg.Add(1)
		go func(name string, every time.Duration) {
			defer wg.Done()
			s.loop(ctx, name, every)
		}(name, every)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx, name); err != nil {
				s.log.Warn("sweep failed", zap.String("sweep", name), zap.Error(err))
			}
		}
	}
}

// RunOnce executes one sweep and reports how many items it affected.
func (s *Scheduler) RunOnce(parent context.Context, name string) (int64, error) {
	v, err, _ := s.flight.Do(name, func() (any, error) {
		ctx, cancel := context.WithTimeout(parent, s.cfg.SweepTimeout)
		defer cancel()

		start := time.Now()
		n, err := s.run(ctx, name)
		s.metrics.ObserveSweep(name, time.Since(start).Seconds())
		if n > 0 {
			s.log.Debug("sweep finished", zap.String("sweep", name), zap.Int64("affected", n))
		}
		return n, err
	})
	n, _ := v.(int64)
	return n, err
}

func (s *Scheduler) run(ctx context.Context, name string) (int64, error) {
	switch name {
	case SweepHeartbeat:
		return int64(s.hub.Heartbeat()), nil
	case SweepNotificationRetry:
		n, err := s.notifications.RetryFailed(ctx)
		return int64(n), err
	case SweepNotificationPurge:
		return s.notifications.PurgeExpired(ctx)
	case SweepJobRedispatch:
		n, err := s.dispatcher.RedispatchFailed(ctx, s.uow)
		return int64(n), err
	default:
		s.log.Warn("unknown sweep", zap.String("sweep", name))
		return 0, nil
	}
}
