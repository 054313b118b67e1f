package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type JobStatus string

const (
	JobStatusRequested  JobStatus = "REQUESTED"
	JobStatusSent       JobStatus = "SENT"
	JobStatusSendFailed JobStatus = "SEND_FAILED"
)

// Job correlates a video with the message handed to the external worker queue.
type Job struct {
	ID             string
	VideoID        snowflake.ID
	MemberID       snowflake.ID
	StorageKey     string
	ProcessingType ProcessingType
	Status         JobStatus
	MessageID      string
	Attempts       int
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobMessage is the payload published to the processing queue.
type JobMessage struct {
	JobID          string         `json:"jobId"`
	VideoID        snowflake.ID   `json:"videoId"`
	MemberID       snowflake.ID   `json:"memberId"`
	ProcessingType ProcessingType `json:"processingType"`
	S3Key          string         `json:"s3Key"`
}

func (j Job) Message() JobMessage {
	return JobMessage{
		JobID:          j.ID,
		VideoID:        j.VideoID,
		MemberID:       j.MemberID,
		ProcessingType: j.ProcessingType,
		S3Key:          j.StorageKey,
	}
}

func (m JobMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" || m.VideoID == 0 || m.MemberID == 0 ||
		strings.TrimSpace(m.S3Key) == "" || !m.ProcessingType.IsValid() {
		return ErrMalformedJobMessage
	}
	return nil
}

func (j Job) MarkSent(messageID string, attempts int, now time.Time) Job {
	j.Status = JobStatusSent
	j.MessageID = messageID
	j.Attempts += attempts
	j.LastError = ""
	j.UpdatedAt = now
	return j
}

func (j Job) MarkSendFailed(reason string, attempts int, now time.Time) Job {
	j.Status = JobStatusSendFailed
	j.Attempts += attempts
	j.LastError = reason
	j.UpdatedAt = now
	return j
}
