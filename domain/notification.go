package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type NotificationType string

const (
	NotificationTypeProcessingCompleted NotificationType = "PROCESSING_COMPLETED"
	NotificationTypeProcessingFailed    NotificationType = "PROCESSING_FAILED"
	NotificationTypeCreditRefunded      NotificationType = "CREDIT_REFUNDED"
	NotificationTypeCreditCharged       NotificationType = "CREDIT_CHARGED"
	NotificationTypeSystem              NotificationType = "SYSTEM"
)

type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "PENDING"
	DeliveryStatusSent    DeliveryStatus = "SENT"
	DeliveryStatusFailed  DeliveryStatus = "FAILED"
)

// MaxNotificationRetries caps redelivery; a notification that has failed this
// many times stays FAILED.
const MaxNotificationRetries = 3

type Notification struct {
	ID             snowflake.ID
	MemberID       snowflake.ID
	Type           NotificationType
	Title          string
	Content        string
	Read           bool
	DeliveryStatus DeliveryStatus
	RetryCount     int
	LastRetryAt    *time.Time
	SentAt         *time.Time
	VideoID        *snowflake.ID
	TransactionID  *snowflake.ID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (n Notification) MarkSent(now time.Time) Notification {
	n.DeliveryStatus = DeliveryStatusSent
	n.SentAt = &now
	n.UpdatedAt = now
	return n
}

func (n Notification) MarkFailed(now time.Time) Notification {
	n.DeliveryStatus = DeliveryStatusFailed
	n.RetryCount++
	n.LastRetryAt = &now
	n.UpdatedAt = now
	return n
}

// Retryable reports whether the retry sweep may attempt delivery again. A row
// still PENDING one interval after creation lost its delivery outcome and is
// retried like a failure.
func (n Notification) Retryable(now time.Time, interval time.Duration) bool {
	cutoff := now.Add(-interval)
	switch n.DeliveryStatus {
	case DeliveryStatusPending:
		return !n.CreatedAt.After(cutoff)
	case DeliveryStatusFailed:
		if n.RetryCount >= MaxNotificationRetries {
			return false
		}
		return n.LastRetryAt == nil || !n.LastRetryAt.After(cutoff)
	default:
		return false
	}
}

// NotificationView is the public shape pushed to clients and served by the API.
type NotificationView struct {
	ID            snowflake.ID     `json:"id"`
	Type          NotificationType `json:"type"`
	Title         string           `json:"title"`
	Content       string           `json:"content"`
	Read          bool             `json:"isRead"`
	VideoID       *snowflake.ID    `json:"videoId,omitempty"`
	TransactionID *snowflake.ID    `json:"transactionId,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}

func (n Notification) View() NotificationView {
	return NotificationView{
		ID:            n.ID,
		Type:          n.Type,
		Title:         n.Title,
		Content:       n.Content,
		Read:          n.Read,
		VideoID:       n.VideoID,
		TransactionID: n.TransactionID,
		CreatedAt:     n.CreatedAt,
	}
}

// ProgressPayload is pushed live and never persisted.
type ProgressPayload struct {
	Type                     string       `json:"type"`
	VideoID                  snowflake.ID `json:"videoId"`
	ProgressPercentage       int          `json:"progressPercentage"`
	EstimatedTimeLeftSeconds *int         `json:"estimatedTimeLeftSeconds"`
	CurrentStep              string       `json:"currentStep"`
	Timestamp                time.Time    `json:"timestamp"`
}

const (
	PushEventConnected    = "connected"
	PushEventHeartbeat    = "heartbeat"
	PushEventNotification = "notification"
	PushEventProgress     = "progress"
)

// PushEvent is one frame written to a live connection.
type PushEvent struct {
	Name string
	Data any
}
