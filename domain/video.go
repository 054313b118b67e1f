package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type VideoStatus string

const (
	VideoStatusPendingUpload   VideoStatus = "PENDING_UPLOAD"
	VideoStatusUploadCompleted VideoStatus = "UPLOAD_COMPLETED"
	VideoStatusQueued          VideoStatus = "QUEUED"
	VideoStatusProcessing      VideoStatus = "PROCESSING"
	VideoStatusCompleted       VideoStatus = "COMPLETED"
	VideoStatusFailed          VideoStatus = "FAILED"
	VideoStatusArchived        VideoStatus = "ARCHIVED"
)

func (s VideoStatus) IsValid() bool {
	switch s {
	case VideoStatusPendingUpload, VideoStatusUploadCompleted, VideoStatusQueued,
		VideoStatusProcessing, VideoStatusCompleted, VideoStatusFailed, VideoStatusArchived:
		return true
	}
	return false
}

// IsInFlight reports whether the external worker may still report on the video.
func (s VideoStatus) IsInFlight() bool {
	return s == VideoStatusQueued || s == VideoStatusProcessing
}

const (
	OpCompleteUpload       = "complete_upload"
	OpEnqueueForProcessing = "enqueue_for_processing"
	OpStartProcessing      = "start_processing"
	OpUpdateProgress       = "update_progress"
	OpCompleteProcessing   = "complete_processing"
	OpFailProcessing       = "fail_processing"
	OpArchive              = "archive"
	OpMarkOriginalDeleted  = "mark_original_deleted"
)

type FileDescriptor struct {
	Name        string `json:"name"`
	SizeBytes   int64  `json:"sizeBytes"`
	StorageKey  string `json:"storageKey"`
	ContentType string `json:"contentType,omitempty"`
}

type VideoMetadata struct {
	DurationSeconds float64 `json:"durationSeconds"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	Codec           string  `json:"codec,omitempty"`
	BitrateKbps     int64   `json:"bitrate,omitempty"`
	FrameRate       float64 `json:"frameRate,omitempty"`
}

type ProcessedFile struct {
	File         FileDescriptor `json:"file"`
	Metadata     VideoMetadata  `json:"metadata"`
	ThumbnailKey string         `json:"thumbnailKey,omitempty"`
}

// Video is mutated only through the transition methods below. Each returns a
// new snapshot and leaves the receiver untouched.
type Video struct {
	ID               snowflake.ID
	MemberID         snowflake.ID
	Original         FileDescriptor
	OriginalMetadata VideoMetadata
	OriginalDeleted  bool
	Processed        *ProcessedFile
	Status           VideoStatus
	ProcessingType   ProcessingType
	JobID            string
	ExternalJobID    string
	RetryCount       int

	ProgressPercentage       *int
	EstimatedTimeLeftSeconds *int
	CurrentStep              string
	ErrorMessage             string

	UploadCompletedAt *time.Time
	QueuedAt          *time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time

	// Version guards concurrent writers; repositories refuse to persist a
	// snapshot whose version is stale.
	Version int64
}

func NewVideo(id, memberID snowflake.ID, original FileDescriptor, processingType ProcessingType, now time.Time) (Video, error) {
	if id == 0 || memberID == 0 {
		return Video{}, ErrInvalidVideo
	}
	if strings.TrimSpace(original.Name) == "" || strings.TrimSpace(original.StorageKey) == "" || original.SizeBytes <= 0 {
		return Video{}, ErrInvalidVideo
	}
	if !processingType.IsValid() {
		return Video{}, ErrInvalidProcessingType
	}
	return Video{
		ID:             id,
		MemberID:       memberID,
		Original:       original,
		Status:         VideoStatusPendingUpload,
		ProcessingType: processingType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (v Video) CompleteUpload(metadata VideoMetadata, now time.Time) (Video, error) {
	if v.Status != VideoStatusPendingUpload {
		return v, invalidTransition(v.Status, OpCompleteUpload)
	}
	if metadata.DurationSeconds <= 0 {
		return v, ErrInvalidDuration
	}
	next := v.clone()
	next.Status = VideoStatusUploadCompleted
	next.OriginalMetadata = metadata
	next.UploadCompletedAt = &now
	next.UpdatedAt = now
	return next, nil
}

func (v Video) EnqueueForProcessing(jobID string, now time.Time) (Video, error) {
	if v.Status != VideoStatusUploadCompleted {
		return v, invalidTransition(v.Status, OpEnqueueForProcessing)
	}
	next := v.clone()
	next.Status = VideoStatusQueued
	next.JobID = jobID
	next.QueuedAt = &now
	next.UpdatedAt = now
	return next, nil
}

func (v Video) StartProcessing(externalJobID string, now time.Time) (Video, error) {
	if v.Status != VideoStatusQueued {
		return v, invalidTransition(v.Status, OpStartProcessing)
	}
	next := v.clone()
	next.Status = VideoStatusProcessing
	next.ExternalJobID = externalJobID
	zero := 0
	next.ProgressPercentage = &zero
	next.StartedAt = &now
	next.UpdatedAt = now
	return next, nil
}

func (v Video) UpdateProgress(percentage int, etaSeconds *int, step string, now time.Time) (Video, error) {
	if !v.Status.IsInFlight() {
		return v, invalidTransition(v.Status, OpUpdateProgress)
	}
	if percentage < 0 || percentage > 100 {
		return v, ErrInvalidProgressPercentage
	}
	next := v.clone()
	pct := percentage
	next.ProgressPercentage = &pct
	if etaSeconds != nil {
		eta := *etaSeconds
		next.EstimatedTimeLeftSeconds = &eta
	} else {
		next.EstimatedTimeLeftSeconds = nil
	}
	next.CurrentStep = step
	next.UpdatedAt = now
	return next, nil
}

func (v Video) CompleteProcessing(processed ProcessedFile, now time.Time) (Video, error) {
	if !v.Status.IsInFlight() {
		return v, invalidTransition(v.Status, OpCompleteProcessing)
	}
	if strings.TrimSpace(processed.File.StorageKey) == "" {
		return v, ErrProcessedFileMissing
	}
	next := v.clone()
	next.Status = VideoStatusCompleted
	p := processed
	next.Processed = &p
	full := 100
	next.ProgressPercentage = &full
	next.EstimatedTimeLeftSeconds = nil
	next.ErrorMessage = ""
	next.CompletedAt = &now
	next.UpdatedAt = now
	return next, nil
}

func (v Video) FailProcessing(errorMessage string, now time.Time) (Video, error) {
	if !v.Status.IsInFlight() {
		return v, invalidTransition(v.Status, OpFailProcessing)
	}
	next := v.clone()
	next.Status = VideoStatusFailed
	next.ErrorMessage = errorMessage
	next.RetryCount++
	next.ProgressPercentage = nil
	next.EstimatedTimeLeftSeconds = nil
	next.CompletedAt = &now
	next.UpdatedAt = now
	return next, nil
}

func (v Video) Archive(now time.Time) (Video, error) {
	if v.Status != VideoStatusCompleted {
		return v, invalidTransition(v.Status, OpArchive)
	}
	next := v.clone()
	next.Status = VideoStatusArchived
	next.UpdatedAt = now
	return next, nil
}

// MarkOriginalDeleted records that the source upload was removed from storage
// once the processed output exists.
func (v Video) MarkOriginalDeleted(now time.Time) (Video, error) {
	if v.Status != VideoStatusCompleted {
		return v, ErrNotCompleted
	}
	if v.Processed == nil || v.Processed.File.StorageKey == "" {
		return v, ErrProcessedFileMissing
	}
	next := v.clone()
	next.OriginalDeleted = true
	next.UpdatedAt = now
	return next, nil
}

// RequiredCredits is the amount debited when the upload completes and the
// amount refunded if processing fails.
func (v Video) RequiredCredits() (int64, error) {
	return RequiredCredits(v.ProcessingType, v.OriginalMetadata.DurationSeconds)
}

func (v Video) clone() Video {
	next := v
	if v.Processed != nil {
		p := *v.Processed
		next.Processed = &p
	}
	next.ProgressPercentage = cloneInt(v.ProgressPercentage)
	next.EstimatedTimeLeftSeconds = cloneInt(v.EstimatedTimeLeftSeconds)
	next.UploadCompletedAt = cloneTime(v.UploadCompletedAt)
	next.QueuedAt = cloneTime(v.QueuedAt)
	next.StartedAt = cloneTime(v.StartedAt)
	next.CompletedAt = cloneTime(v.CompletedAt)
	return next
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
