package usecase

import (
	"context"
	"errors"

	"github.com/vitovidale/video-pipeline/domain"
	"github.com/vitovidale/video-pipeline/metrics"
	"go.uber.org/zap"
)

const DefaultDispatchAttempts = 3

// JobDispatcher publishes processing requests to the worker queue. A queue
// outage never fails the caller: after the last attempt the job is recorded as
// SEND_FAILED and returned without error.
type JobDispatcher struct {
	publisher   domain.JobPublisher
	clock       domain.Clock
	log         *zap.Logger
	metrics     *metrics.Metrics
	maxAttempts int
}

func NewJobDispatcher(publisher domain.JobPublisher, clock domain.Clock, log *zap.Logger, m *metrics.Metrics) *JobDispatcher {
	return &JobDispatcher{
		publisher:   publisher,
		clock:       clock,
		log:         log.Named("job.dispatcher"),
		metrics:     m,
		maxAttempts: DefaultDispatchAttempts,
	}
}

// SendWithRetry publishes job and persists its dispatch status through repos.
// The returned job is SENT or SEND_FAILED; the error is non-nil only when the
// status itself could not be stored.
func (d *JobDispatcher) SendWithRetry(ctx context.Context, repos domain.Repositories, job domain.Job) (domain.Job, error) {
	msg := job.Message()
	log := d.log.With(zap.String("job_id", job.ID), zap.String("video_id", job.VideoID.String()))

	var (
		lastErr  error
		attempts int
	)
	if err := msg.Validate(); err != nil {
		lastErr = err
	} else {
		for attempts < d.maxAttempts {
			attempts++
			messageID, err := d.publisher.Publish(ctx, msg)
			if err == nil {
				d.metrics.DispatchAttempt("ok")
				log.Info("job dispatched", zap.Int("attempt", attempts), zap.String("message_id", messageID))
				sent := job.MarkSent(messageID, attempts, d.clock.Now())
				d.metrics.DispatchOutcome(string(sent.Status))
				return sent, repos.Jobs.Update(ctx, sent)
			}
			d.metrics.DispatchAttempt("error")
			lastErr = err
			if !retryable(ctx, err) {
				break
			}
			log.Warn("job dispatch attempt failed", zap.Int("attempt", attempts), zap.Error(err))
		}
	}
	return d.recover(ctx, repos, job, attempts, lastErr)
}

// recover is the terminal hook for a dispatch that could not be published.
func (d *JobDispatcher) recover(ctx context.Context, repos domain.Repositories, job domain.Job, attempts int, cause error) (domain.Job, error) {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	d.log.Error("job dispatch failed, marking SEND_FAILED",
		zap.String("job_id", job.ID),
		zap.String("video_id", job.VideoID.String()),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)
	failed := job.MarkSendFailed(reason, attempts, d.clock.Now())
	d.metrics.DispatchOutcome(string(failed.Status))
	return failed, repos.Jobs.Update(ctx, failed)
}

func retryable(ctx context.Context, err error) bool {
	if errors.Is(err, domain.ErrMalformedJobMessage) {
		return false
	}
	return ctx.Err() == nil
}

// MaxJobDispatchAttempts bounds the total publish attempts across the initial
// dispatch and every redispatch sweep.
const MaxJobDispatchAttempts = 3 * DefaultDispatchAttempts

const redispatchBatch = 50

// RedispatchFailed re-sends SEND_FAILED jobs that still have attempts left.
// Each job is handled in its own transaction.
func (d *JobDispatcher) RedispatchFailed(ctx context.Context, uow domain.UnitOfWork) (int, error) {
	jobs, err := uow.Repositories().Jobs.ListByStatus(ctx, domain.JobStatusSendFailed, MaxJobDispatchAttempts, redispatchBatch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, candidate := range jobs {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		err := uow.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
			job, err := repos.Jobs.FindByID(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if job.Status != domain.JobStatusSendFailed {
				return nil
			}
			job, err = d.SendWithRetry(ctx, repos, job)
			if err != nil {
				return err
			}
			if job.Status == domain.JobStatusSent {
				sent++
			}
			return nil
		})
		if err != nil {
			d.log.Warn("redispatch failed", zap.String("job_id", candidate.ID), zap.Error(err))
		}
	}
	return sent, nil
}
