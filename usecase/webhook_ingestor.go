package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/vitovidale/video-pipeline/domain"
	"github.com/vitovidale/video-pipeline/metrics"
	"go.uber.org/zap"
)

type WebhookOutcome string

const (
	WebhookApplied   WebhookOutcome = "applied"
	WebhookDuplicate WebhookOutcome = "duplicate"
)

const (
	webhookStarted   = "processing_started"
	webhookProgress  = "processing_progress"
	webhookCompleted = "processing_completed"
	webhookFailed    = "processing_failed"
)

type ProcessingStartedInput struct {
	VideoID snowflake.ID
	AIJobID string
}

type ProcessingProgressInput struct {
	VideoID                  snowflake.ID
	AIJobID                  string
	ProgressPercentage       int
	EstimatedTimeLeftSeconds *int
	CurrentStep              string
}

type ProcessingCompletedInput struct {
	VideoID   snowflake.ID
	AIJobID   string
	Processed domain.ProcessedFile
}

type ProcessingFailedInput struct {
	VideoID      snowflake.ID
	AIJobID      string
	ErrorMessage string
	ErrorCode    string
}

// errStale rolls back a webhook transaction whose transition was rejected.
var errStale = errors.New("stale webhook")

// WebhookIngestor applies worker callbacks to the video state machine. A
// callback for a video that is no longer eligible is a duplicate or stale
// delivery: it is logged and acknowledged without side effects.
type WebhookIngestor struct {
	uow     domain.UnitOfWork
	ledger  *CreditLedger
	events  EventPublisher
	clock   domain.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewWebhookIngestor(uow domain.UnitOfWork, ledger *CreditLedger, events EventPublisher, clock domain.Clock, log *zap.Logger, m *metrics.Metrics) *WebhookIngestor {
	return &WebhookIngestor{
		uow:     uow,
		ledger:  ledger,
		events:  events,
		clock:   clock,
		log:     log.Named("webhook.ingestor"),
		metrics: m,
	}
}

func (w *WebhookIngestor) OnProcessingStarted(ctx context.Context, in ProcessingStartedInput) (WebhookOutcome, error) {
	return w.ingest(ctx, webhookStarted, in.VideoID, func(ctx context.Context, repos domain.Repositories, video domain.Video) ([]Event, error) {
		next, err := video.StartProcessing(in.AIJobID, w.clock.Now())
		if err != nil {
			return nil, err
		}
		if _, err := repos.Videos.Update(ctx, next); err != nil {
			return nil, err
		}
		return []Event{progressEvent(next, w.clock)}, nil
	})
}

func (w *WebhookIngestor) OnProcessingProgress(ctx context.Context, in ProcessingProgressInput) (WebhookOutcome, error) {
	return w.ingest(ctx, webhookProgress, in.VideoID, func(ctx context.Context, repos domain.Repositories, video domain.Video) ([]Event, error) {
		next, err := video.UpdateProgress(in.ProgressPercentage, in.EstimatedTimeLeftSeconds, in.CurrentStep, w.clock.Now())
		if err != nil {
			return nil, err
		}
		if _, err := repos.Videos.Update(ctx, next); err != nil {
			return nil, err
		}
		return []Event{progressEvent(next, w.clock)}, nil
	})
}

func (w *WebhookIngestor) OnProcessingCompleted(ctx context.Context, in ProcessingCompletedInput) (WebhookOutcome, error) {
	return w.ingest(ctx, webhookCompleted, in.VideoID, func(ctx context.Context, repos domain.Repositories, video domain.Video) ([]Event, error) {
		next, err := video.CompleteProcessing(in.Processed, w.clock.Now())
		if err != nil {
			return nil, err
		}
		if _, err := repos.Videos.Update(ctx, next); err != nil {
			return nil, err
		}
		vid := next.ID
		return []Event{NotificationRequested{
			MemberID: next.MemberID,
			Type:     domain.NotificationTypeProcessingCompleted,
			Title:    "Video processing completed",
			Content:  fmt.Sprintf("Your video '%s' has been processed successfully.", next.Original.Name),
			VideoID:  &vid,
		}}, nil
	})
}

// OnProcessingFailed fails the video and refunds the credits charged for it.
// The refund is issued only after the transition succeeded and only if a
// usage entry for the video exists, so redelivery never refunds twice.
func (w *WebhookIngestor) OnProcessingFailed(ctx context.Context, in ProcessingFailedInput) (WebhookOutcome, error) {
	return w.ingest(ctx, webhookFailed, in.VideoID, func(ctx context.Context, repos domain.Repositories, video domain.Video) ([]Event, error) {
		message := strings.TrimSpace(in.ErrorMessage)
		if code := strings.TrimSpace(in.ErrorCode); code != "" {
			message = fmt.Sprintf("[%s] %s", code, message)
		}
		next, err := video.FailProcessing(message, w.clock.Now())
		if err != nil {
			return nil, err
		}
		if _, err := repos.Videos.Update(ctx, next); err != nil {
			return nil, err
		}

		refund, err := w.refundUsage(ctx, repos, next)
		if err != nil {
			return nil, err
		}

		vid := next.ID
		content := fmt.Sprintf("Processing of '%s' failed: %s.", next.Original.Name, message)
		var txnID *snowflake.ID
		if refund != nil {
			id := refund.ID
			txnID = &id
			content += fmt.Sprintf(" %d credits were refunded.", refund.Amount)
		}
		return []Event{NotificationRequested{
			MemberID:      next.MemberID,
			Type:          domain.NotificationTypeProcessingFailed,
			Title:         "Video processing failed",
			Content:       content,
			VideoID:       &vid,
			TransactionID: txnID,
		}}, nil
	})
}

func (w *WebhookIngestor) refundUsage(ctx context.Context, repos domain.Repositories, video domain.Video) (*domain.CreditTransaction, error) {
	log := w.log.With(zap.String("video_id", video.ID.String()))

	usage, err := repos.Transactions.FindByVideoAndKind(ctx, video.ID, domain.TransactionKindUsage)
	if err != nil {
		return nil, err
	}
	if usage == nil {
		log.Warn("no usage entry for failed video, skipping refund")
		return nil, nil
	}
	prior, err := repos.Transactions.FindByVideoAndKind(ctx, video.ID, domain.TransactionKindRefund)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		log.Warn("video already refunded", zap.String("transaction_id", prior.ID.String()))
		return nil, nil
	}

	used, err := video.RequiredCredits()
	if err != nil {
		return nil, err
	}
	if used != usage.Amount {
		log.Warn("refund differs from recorded usage", zap.Int64("refund", used), zap.Int64("usage", usage.Amount))
	}
	entry, err := w.ledger.RefundTx(ctx, repos, video.MemberID, used, video.ID, video.ErrorMessage)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

type webhookStep func(ctx context.Context, repos domain.Repositories, video domain.Video) ([]Event, error)

func (w *WebhookIngestor) ingest(ctx context.Context, event string, videoID snowflake.ID, step webhookStep) (WebhookOutcome, error) {
	log := w.log.With(zap.String("event", event), zap.String("video_id", videoID.String()))

	var (
		emitted []Event
		cause   error
	)
	err := w.uow.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		video, err := repos.Videos.FindByIDForUpdate(ctx, videoID)
		if err != nil {
			return err
		}
		emitted, err = step(ctx, repos, video)
		if isStale(err) {
			cause = err
			return errStale
		}
		return err
	})

	switch {
	case errors.Is(err, errStale):
		log.Info("duplicate or stale webhook discarded", zap.Error(cause))
		w.metrics.Webhook(event, string(WebhookDuplicate))
		return WebhookDuplicate, nil
	case err != nil:
		log.Error("webhook processing failed", zap.Error(err))
		w.metrics.Webhook(event, "error")
		return "", err
	}

	w.metrics.Webhook(event, string(WebhookApplied))
	log.Info("webhook applied")
	w.events.Publish(emitted...)
	return WebhookApplied, nil
}

func isStale(err error) bool {
	return errors.Is(err, domain.ErrInvalidStatusTransition) || errors.Is(err, domain.ErrVideoVersionConflict)
}

func progressEvent(video domain.Video, clock domain.Clock) ProgressUpdated {
	pct := 0
	if video.ProgressPercentage != nil {
		pct = *video.ProgressPercentage
	}
	return ProgressUpdated{
		MemberID: video.MemberID,
		Payload: domain.ProgressPayload{
			VideoID:                  video.ID,
			ProgressPercentage:       pct,
			EstimatedTimeLeftSeconds: video.EstimatedTimeLeftSeconds,
			CurrentStep:              video.CurrentStep,
			Timestamp:                clock.Now(),
		},
	}
}
