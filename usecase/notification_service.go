package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/vitovidale/video-pipeline/domain"
	"github.com/vitovidale/video-pipeline/metrics"
	"go.uber.org/zap"
)

const (
	DefaultNotificationRetryInterval = 5 * time.Minute
	DefaultNotificationRetention     = 30 * 24 * time.Hour
	notificationRetryBatch           = 100
)

type NotificationConfig struct {
	RetryInterval time.Duration
	Retention     time.Duration
}

func (c NotificationConfig) withDefaults() NotificationConfig {
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultNotificationRetryInterval
	}
	if c.Retention <= 0 {
		c.Retention = DefaultNotificationRetention
	}
	return c
}

// NotificationService persists durable notifications and delivers them over
// the push hub. Delivery is best effort; failures are left for RetryFailed.
type NotificationService struct {
	uow     domain.UnitOfWork
	hub     domain.PushHub
	ids     domain.IDGenerator
	clock   domain.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
	cfg     NotificationConfig
}

func NewNotificationService(uow domain.UnitOfWork, hub domain.PushHub, ids domain.IDGenerator, clock domain.Clock, log *zap.Logger, m *metrics.Metrics, cfg NotificationConfig) *NotificationService {
	return &NotificationService{
		uow:     uow,
		hub:     hub,
		ids:     ids,
		clock:   clock,
		log:     log.Named("notification.service"),
		metrics: m,
		cfg:     cfg.withDefaults(),
	}
}

func (s *NotificationService) Handle(ctx context.Context, event Event) error {
	switch ev := event.(type) {
	case NotificationRequested:
		_, err := s.CreateAndSend(ctx, ev)
		return err
	case ProgressUpdated:
		s.PushProgress(ev.MemberID, ev.Payload)
		return nil
	default:
		return fmt.Errorf("unsupported event %T", event)
	}
}

func (s *NotificationService) CreateAndSend(ctx context.Context, req NotificationRequested) (domain.Notification, error) {
	now := s.clock.Now()
	n := domain.Notification{
		ID:             s.ids.Generate(),
		MemberID:       req.MemberID,
		Type:           req.Type,
		Title:          req.Title,
		Content:        req.Content,
		DeliveryStatus: domain.DeliveryStatusPending,
		VideoID:        req.VideoID,
		TransactionID:  req.TransactionID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	repos := s.uow.Repositories()
	if err := repos.Notifications.Create(ctx, n); err != nil {
		return domain.Notification{}, fmt.Errorf("create notification: %w", err)
	}

	if s.deliver(n) {
		n = n.MarkSent(s.clock.Now())
	} else {
		n = n.MarkFailed(s.clock.Now())
		s.log.Info("notification not delivered, left for retry",
			zap.String("notification_id", n.ID.String()),
			zap.String("member_id", n.MemberID.String()),
		)
	}
	if err := repos.Notifications.Update(ctx, n); err != nil {
		// The row stays PENDING and RetryFailed picks it up after one interval.
		s.log.Warn("failed to store delivery result",
			zap.String("notification_id", n.ID.String()),
			zap.String("status", string(n.DeliveryStatus)),
			zap.Error(err),
		)
		return n, fmt.Errorf("update notification status: %w", err)
	}
	return n, nil
}

// RetryFailed redelivers FAILED notifications that are under the retry cap and
// whose last attempt is at least one retry interval old, plus PENDING ones
// whose delivery result was never stored.
func (s *NotificationService) RetryFailed(ctx context.Context) (int, error) {
	now := s.clock.Now()
	repos := s.uow.Repositories()
	candidates, err := repos.Notifications.ListRetryable(ctx, domain.MaxNotificationRetries, now.Add(-s.cfg.RetryInterval), notificationRetryBatch)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, n := range candidates {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if !n.Retryable(now, s.cfg.RetryInterval) {
			continue
		}
		ok := s.deliver(n)
		s.metrics.NotificationRetry(ok)
		if ok {
			n = n.MarkSent(s.clock.Now())
			delivered++
		} else {
			n = n.MarkFailed(s.clock.Now())
			if n.RetryCount >= domain.MaxNotificationRetries {
				s.log.Warn("notification retries exhausted",
					zap.String("notification_id", n.ID.String()),
					zap.Int("retry_count", n.RetryCount),
				)
			}
		}
		if err := repos.Notifications.Update(ctx, n); err != nil {
			s.log.Warn("failed to store retry result", zap.String("notification_id", n.ID.String()), zap.Error(err))
		}
	}
	return delivered, nil
}

// PurgeExpired deletes notifications older than the retention window.
func (s *NotificationService) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().Add(-s.cfg.Retention)
	deleted, err := s.uow.Repositories().Notifications.DeleteCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.metrics.NotificationsDeleted(deleted)
	if deleted > 0 {
		s.log.Info("expired notifications deleted", zap.Int64("count", deleted), zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}

func (s *NotificationService) PushProgress(memberID snowflake.ID, payload domain.ProgressPayload) bool {
	payload.Type = domain.PushEventProgress
	return s.send(memberID, domain.PushEvent{Name: domain.PushEventProgress, Data: payload})
}

func (s *NotificationService) List(ctx context.Context, memberID snowflake.ID, unreadOnly bool, limit, offset int) ([]domain.Notification, error) {
	limit, offset = normalizePage(limit, offset)
	return s.uow.Repositories().Notifications.ListByMember(ctx, memberID, unreadOnly, limit, offset)
}

func (s *NotificationService) UnreadCount(ctx context.Context, memberID snowflake.ID) (int64, error) {
	return s.uow.Repositories().Notifications.CountUnread(ctx, memberID)
}

func (s *NotificationService) MarkRead(ctx context.Context, memberID, notificationID snowflake.ID) error {
	return s.uow.Repositories().Notifications.MarkRead(ctx, memberID, notificationID)
}

func (s *NotificationService) MarkAllRead(ctx context.Context, memberID snowflake.ID) (int64, error) {
	return s.uow.Repositories().Notifications.MarkAllRead(ctx, memberID)
}

func (s *NotificationService) deliver(n domain.Notification) bool {
	return s.send(n.MemberID, domain.PushEvent{Name: domain.PushEventNotification, Data: n.View()})
}

// send treats a panicking hub like a failed write.
func (s *NotificationService) send(memberID snowflake.ID, event domain.PushEvent) (delivered bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("push send panicked", zap.Any("panic", r), zap.String("member_id", memberID.String()))
			delivered = false
		}
	}()
	return s.hub.Send(memberID, event)
}
