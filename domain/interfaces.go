// domain/interfaces.go
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type VideoRepository interface {
	Create(ctx context.Context, video Video) error
	FindByID(ctx context.Context, videoID snowflake.ID) (Video, error)
	// FindByIDForUpdate locks the row until the surrounding transaction ends.
	FindByIDForUpdate(ctx context.Context, videoID snowflake.ID) (Video, error)
	FindByMemberID(ctx context.Context, memberID snowflake.ID, limit, offset int) ([]Video, error)
	// Update persists the snapshot if nobody else wrote the row since it was
	// read, returning it with the bumped version.
	Update(ctx context.Context, video Video) (Video, error)
}

type MemberRepository interface {
	Create(ctx context.Context, member Member) error
	FindByID(ctx context.Context, memberID snowflake.ID) (Member, error)
	FindByIDForUpdate(ctx context.Context, memberID snowflake.ID) (Member, error)
	// AdjustBalance applies delta and returns the new balance. A delta that
	// would take the balance below zero fails with ErrInsufficientCredit.
	AdjustBalance(ctx context.Context, memberID snowflake.ID, delta int64) (int64, error)
}

type CreditTransactionRepository interface {
	Append(ctx context.Context, txn CreditTransaction) error
	FindByID(ctx context.Context, id snowflake.ID) (CreditTransaction, error)
	FindByVideoAndKind(ctx context.Context, videoID snowflake.ID, kind TransactionKind) (*CreditTransaction, error)
	ListByMember(ctx context.Context, memberID snowflake.ID, limit, offset int) ([]CreditTransaction, int64, error)
	Annotate(ctx context.Context, id snowflake.ID, note string) error
}

type JobRepository interface {
	Create(ctx context.Context, job Job) error
	Update(ctx context.Context, job Job) error
	FindByID(ctx context.Context, jobID string) (Job, error)
	FindByVideoID(ctx context.Context, videoID snowflake.ID) (Job, error)
	ListByStatus(ctx context.Context, status JobStatus, maxAttempts, limit int) ([]Job, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n Notification) error
	Update(ctx context.Context, n Notification) error
	FindByID(ctx context.Context, id snowflake.ID) (Notification, error)
	ListByMember(ctx context.Context, memberID snowflake.ID, unreadOnly bool, limit, offset int) ([]Notification, error)
	CountUnread(ctx context.Context, memberID snowflake.ID) (int64, error)
	MarkRead(ctx context.Context, memberID, id snowflake.ID) error
	MarkAllRead(ctx context.Context, memberID snowflake.ID) (int64, error)
	ListRetryable(ctx context.Context, maxRetries int, cutoff time.Time, limit int) ([]Notification, error)
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repositories is one consistent view of the store: either bound to a
// transaction or to the plain connection pool.
type Repositories struct {
	Videos        VideoRepository
	Members       MemberRepository
	Transactions  CreditTransactionRepository
	Jobs          JobRepository
	Notifications NotificationRepository
}

type UnitOfWork interface {
	Repositories() Repositories
	// WithinTx commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

type JobPublisher interface {
	// Publish returns the broker message id. Errors wrapping
	// ErrMalformedJobMessage are permanent; anything else may be retried.
	Publish(ctx context.Context, message JobMessage) (string, error)
}

type PushHub interface {
	Send(memberID snowflake.ID, event PushEvent) bool
}

type UploadURL struct {
	URL       string    `json:"uploadUrl"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type UploadURLGenerator interface {
	GenerateUploadURL(ctx context.Context, storageKey, contentType string) (UploadURL, error)
}

type IDGenerator interface {
	Generate() snowflake.ID
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
