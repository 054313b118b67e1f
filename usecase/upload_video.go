package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/vitovidale/video-pipeline/domain"
	"go.uber.org/zap"
)

const QueuedStep = "QUEUED"

type UploadVideoInput struct {
	MemberID         snowflake.ID
	OriginalFilename string
	SizeBytes        int64
	ContentType      string
	ProcessingType   domain.ProcessingType
}

type UploadVideoOutput struct {
	Video     domain.Video
	UploadURL domain.UploadURL
}

type CompleteUploadInput struct {
	MemberID snowflake.ID
	VideoID  snowflake.ID
	Metadata domain.VideoMetadata
}

type CompleteUploadOutput struct {
	Video           domain.Video
	Job             domain.Job
	CreditsCharged  int64
	Transaction     domain.CreditTransaction
	RemainingCredit int64
}

// UploadVideoUseCase creates videos awaiting upload and, once the bytes are in
// storage, charges credits and hands the video to the worker queue.
type UploadVideoUseCase struct {
	uow        domain.UnitOfWork
	ledger     *CreditLedger
	dispatcher *JobDispatcher
	urls       domain.UploadURLGenerator
	locker     VideoLocker
	events     EventPublisher
	ids        domain.IDGenerator
	clock      domain.Clock
	log        *zap.Logger
}

func NewUploadVideoUseCase(
	uow domain.UnitOfWork,
	ledger *CreditLedger,
	dispatcher *JobDispatcher,
	urls domain.UploadURLGenerator,
	locker VideoLocker,
	events EventPublisher,
	ids domain.IDGenerator,
	clock domain.Clock,
	log *zap.Logger,
) *UploadVideoUseCase {
	return &UploadVideoUseCase{
		uow:        uow,
		ledger:     ledger,
		dispatcher: dispatcher,
		urls:       urls,
		locker:     locker,
		events:     events,
		ids:        ids,
		clock:      clock,
		log:        log.Named("upload.video"),
	}
}

func (uc *UploadVideoUseCase) Execute(ctx context.Context, input UploadVideoInput) (*UploadVideoOutput, error) {
	if !input.ProcessingType.IsValid() {
		return nil, domain.ErrInvalidProcessingType
	}
	if _, err := uc.uow.Repositories().Members.FindByID(ctx, input.MemberID); err != nil {
		return nil, err
	}

	now := uc.clock.Now()
	videoID := uc.ids.Generate()
	original := domain.FileDescriptor{
		Name:        strings.TrimSpace(input.OriginalFilename),
		SizeBytes:   input.SizeBytes,
		StorageKey:  storageKey(input.MemberID, videoID, input.OriginalFilename, now.Format("20060102150405")),
		ContentType: input.ContentType,
	}
	video, err := domain.NewVideo(videoID, input.MemberID, original, input.ProcessingType, now)
	if err != nil {
		return nil, err
	}

	url, err := uc.urls.GenerateUploadURL(ctx, original.StorageKey, original.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to generate upload url: %w", err)
	}
	if err := uc.uow.Repositories().Videos.Create(ctx, video); err != nil {
		return nil, fmt.Errorf("failed to record video: %w", err)
	}

	uc.log.Info("upload initiated",
		zap.String("video_id", video.ID.String()),
		zap.String("member_id", video.MemberID.String()),
		zap.String("storage_key", original.StorageKey),
	)
	return &UploadVideoOutput{Video: video, UploadURL: url}, nil
}

// CompleteUpload runs upload-complete, debit, dispatch and enqueue as one unit
// of work. The per-video lock and the row lock keep two completion requests
// for the same video from both charging and both dispatching.
func (uc *UploadVideoUseCase) CompleteUpload(ctx context.Context, input CompleteUploadInput) (*CompleteUploadOutput, error) {
	unlock, err := uc.locker.Lock(ctx, input.VideoID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock video: %w", err)
	}
	defer unlock()

	var out CompleteUploadOutput
	err = uc.uow.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		now := uc.clock.Now()
		video, err := repos.Videos.FindByIDForUpdate(ctx, input.VideoID)
		if err != nil {
			return err
		}
		if video.MemberID != input.MemberID {
			return domain.ErrVideoNotFound
		}

		video, err = video.CompleteUpload(input.Metadata, now)
		if err != nil {
			return err
		}
		credits, err := video.RequiredCredits()
		if err != nil {
			return err
		}
		entry, err := uc.ledger.DebitTx(ctx, repos, video.MemberID, credits, video.ID, video.ProcessingType)
		if err != nil {
			return err
		}

		job := domain.Job{
			ID:             uuid.NewString(),
			VideoID:        video.ID,
			MemberID:       video.MemberID,
			StorageKey:     video.Original.StorageKey,
			ProcessingType: video.ProcessingType,
			Status:         domain.JobStatusRequested,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := repos.Jobs.Create(ctx, job); err != nil {
			return err
		}
		job, err = uc.dispatcher.SendWithRetry(ctx, repos, job)
		if err != nil {
			return fmt.Errorf("failed to record dispatch status: %w", err)
		}

		video, err = video.EnqueueForProcessing(job.ID, now)
		if err != nil {
			return err
		}
		video, err = repos.Videos.Update(ctx, video)
		if err != nil {
			return err
		}

		out = CompleteUploadOutput{
			Video:           video,
			Job:             job,
			CreditsCharged:  credits,
			Transaction:     entry,
			RemainingCredit: entry.BalanceAfter,
		}
		return nil
	})
	if err != nil {
		uc.log.Warn("upload completion rejected", zap.String("video_id", input.VideoID.String()), zap.Error(err))
		return nil, err
	}

	uc.log.Info("video queued for processing",
		zap.String("video_id", out.Video.ID.String()),
		zap.String("job_id", out.Job.ID),
		zap.String("dispatch_status", string(out.Job.Status)),
		zap.Int64("credits", out.CreditsCharged),
	)
	uc.events.Publish(ProgressUpdated{
		MemberID: out.Video.MemberID,
		Payload: domain.ProgressPayload{
			VideoID:            out.Video.ID,
			ProgressPercentage: 0,
			CurrentStep:        QueuedStep,
			Timestamp:          uc.clock.Now(),
		},
	})
	return &out, nil
}

func storageKey(memberID, videoID snowflake.ID, filename, stamp string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return fmt.Sprintf("uploads/%d/%d_%s%s", memberID, videoID, stamp, ext)
}
