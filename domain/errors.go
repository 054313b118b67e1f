package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidStatusTransition   = errors.New("invalid_status_transition")
	ErrInvalidProgressPercentage = errors.New("invalid_progress_percentage")
	ErrNotCompleted              = errors.New("not_completed")
	ErrProcessedFileMissing      = errors.New("processed_file_missing")
	ErrVideoNotFound             = errors.New("video_not_found")
	ErrVideoVersionConflict      = errors.New("video_version_conflict")
	ErrInvalidVideo              = errors.New("invalid_video")

	ErrInsufficientCredit    = errors.New("insufficient_credit")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidProcessingType = errors.New("invalid_processing_type")
	ErrInvalidDuration       = errors.New("invalid_duration")
	ErrMemberNotFound        = errors.New("member_not_found")
	ErrTransactionNotFound   = errors.New("transaction_not_found")
	ErrAlreadyAnnotated      = errors.New("already_annotated")
	ErrDuplicateLedgerEntry  = errors.New("duplicate_ledger_entry")
	ErrInvalidNote           = errors.New("invalid_note")

	ErrMalformedJobMessage = errors.New("malformed_job_message")
	ErrJobNotFound         = errors.New("job_not_found")
	ErrDuplicateJob        = errors.New("duplicate_job")

	ErrNotificationNotFound = errors.New("notification_not_found")
)

// TransitionError reports a state-machine operation attempted from a state
// that does not allow it.
type TransitionError struct {
	From      VideoStatus
	Operation string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s from %s", ErrInvalidStatusTransition, e.Operation, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidStatusTransition
}

func invalidTransition(from VideoStatus, op string) error {
	return &TransitionError{From: from, Operation: op}
}
