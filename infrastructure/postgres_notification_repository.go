package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/vitovidale/video-pipeline/domain"
	"gorm.io/gorm"
)

type PostgresNotificationRepository struct {
	DB    *gorm.DB
	Clock domain.Clock
}

func NewPostgresNotificationRepository(db *gorm.DB, clock domain.Clock) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{DB: db, Clock: clock}
}

func (r *PostgresNotificationRepository) Create(ctx context.Context, n domain.Notification) error {
	rec := toNotificationRecord(n)
	if err := r.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (r *PostgresNotificationRepository) Update(ctx context.Context, n domain.Notification) error {
	rec := toNotificationRecord(n)
	res := r.DB.WithContext(ctx).
		Model(&notificationRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]any{
			"is_read":         rec.IsRead,
			"delivery_status": rec.DeliveryStatus,
			"retry_count":     rec.RetryCount,
			"last_retry_at":   rec.LastRetryAt,
			"sent_at":         rec.SentAt,
			"updated_at":      rec.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update notification: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (r *PostgresNotificationRepository) FindByID(ctx context.Context, id snowflake.ID) (domain.Notification, error) {
	var rec notificationRecord
	err := r.DB.WithContext(ctx).Where("id = ?", int64(id)).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Notification{}, domain.ErrNotificationNotFound
	}
	if err != nil {
		return domain.Notification{}, fmt.Errorf("failed to load notification: %w", err)
	}
	return rec.toDomain(), nil
}

func (r *PostgresNotificationRepository) ListByMember(ctx context.Context, memberID snowflake.ID, unreadOnly bool, limit, offset int) ([]domain.Notification, error) {
	q := r.DB.WithContext(ctx).Where("member_id = ?", int64(memberID))
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	var recs []notificationRecord
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Offset(offset).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return toNotifications(recs), nil
}

func (r *PostgresNotificationRepository) CountUnread(ctx context.Context, memberID snowflake.ID) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).
		Model(&notificationRecord{}).
		Where("member_id = ? AND is_read = ?", int64(memberID), false).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return n, nil
}

// MarkRead is scoped to the owner; another member's notification reads as
// not found.
func (r *PostgresNotificationRepository) MarkRead(ctx context.Context, memberID, id snowflake.ID) error {
	res := r.DB.WithContext(ctx).
		Model(&notificationRecord{}).
		Where("id = ? AND member_id = ?", int64(id), int64(memberID)).
		Updates(map[string]any{"is_read": true, "updated_at": r.Clock.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to mark notification read: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (r *PostgresNotificationRepository) MarkAllRead(ctx context.Context, memberID snowflake.ID) (int64, error) {
	res := r.DB.WithContext(ctx).
		Model(&notificationRecord{}).
		Where("member_id = ? AND is_read = ?", int64(memberID), false).
		Updates(map[string]any{"is_read": true, "updated_at": r.Clock.Now()})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *PostgresNotificationRepository) ListRetryable(ctx context.Context, maxRetries int, cutoff time.Time, limit int) ([]domain.Notification, error) {
	var recs []notificationRecord
	err := r.DB.WithContext(ctx).
		Where("(delivery_status = ? AND retry_count < ? AND (last_retry_at IS NULL OR last_retry_at <= ?)) OR (delivery_status = ? AND created_at <= ?)",
			string(domain.DeliveryStatusFailed), maxRetries, cutoff,
			string(domain.DeliveryStatusPending), cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable notifications: %w", err)
	}
	return toNotifications(recs), nil
}

func (r *PostgresNotificationRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&notificationRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge notifications: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func toNotifications(recs []notificationRecord) []domain.Notification {
	out := make([]domain.Notification, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toDomain())
	}
	return out
}
