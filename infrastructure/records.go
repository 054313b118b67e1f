package infrastructure

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/vitovidale/video-pipeline/domain"
)

type memberRecord struct {
	ID            int64     `gorm:"primaryKey;autoIncrement:false"`
	Email         string    `gorm:"size:255;uniqueIndex;not null"`
	Name          string    `gorm:"size:255;not null"`
	CreditBalance int64     `gorm:"not null;default:0;check:credit_balance >= 0"`
	CreatedAt     time.Time `gorm:"autoCreateTime:false;not null"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false;not null"`
}

func (memberRecord) TableName() string { return "members" }

type videoRecord struct {
	ID                  int64                 `gorm:"primaryKey;autoIncrement:false"`
	MemberID            int64                 `gorm:"index;not null"`
	OriginalName        string                `gorm:"size:255;not null"`
	OriginalSizeBytes   int64                 `gorm:"not null"`
	OriginalStorageKey  string                `gorm:"size:512;not null"`
	OriginalContentType string                `gorm:"size:128"`
	OriginalMetadata    domain.VideoMetadata  `gorm:"type:text;serializer:json"`
	OriginalDeleted     bool                  `gorm:"not null;default:false"`
	Processed           *domain.ProcessedFile `gorm:"type:text;serializer:json"`
	Status              string                `gorm:"size:32;index;not null"`
	ProcessingType      string                `gorm:"size:32;not null"`
	JobID               string                `gorm:"size:64"`
	ExternalJobID       string                `gorm:"size:128"`
	RetryCount          int                   `gorm:"not null;default:0"`
	ProgressPercentage  *int                  `gorm:"column:progress_percentage"`
	EstimatedTimeLeft   *int                  `gorm:"column:estimated_time_left_seconds"`
	CurrentStep         string                `gorm:"size:128"`
	ErrorMessage        string                `gorm:"type:text"`
	UploadCompletedAt   *time.Time            `gorm:"column:upload_completed_at"`
	QueuedAt            *time.Time            `gorm:"column:queued_at"`
	StartedAt           *time.Time            `gorm:"column:started_at"`
	CompletedAt         *time.Time            `gorm:"column:completed_at"`
	CreatedAt           time.Time             `gorm:"autoCreateTime:false;index;not null"`
	UpdatedAt           time.Time             `gorm:"autoUpdateTime:false;not null"`
	Version             int64                 `gorm:"not null;default:0"`
}

func (videoRecord) TableName() string { return "videos" }

// creditTransactionRecord rows are append-only apart from the one-time
// annotation. The (video_id, kind) index allows one usage and one refund per
// video; charges carry no video and are unconstrained.
type creditTransactionRecord struct {
	ID             int64     `gorm:"primaryKey;autoIncrement:false"`
	MemberID       int64     `gorm:"index;not null"`
	Kind           string    `gorm:"size:16;not null;uniqueIndex:uq_credit_video_kind,priority:2"`
	Amount         int64     `gorm:"not null;check:amount > 0"`
	VideoID        *int64    `gorm:"uniqueIndex:uq_credit_video_kind,priority:1"`
	ProcessingType *string   `gorm:"size:32"`
	Description    string    `gorm:"type:text"`
	Annotated      bool      `gorm:"not null;default:false"`
	BalanceAfter   int64     `gorm:"not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime:false;index;not null"`
}

func (creditTransactionRecord) TableName() string { return "credit_transactions" }

type jobRecord struct {
	ID             string    `gorm:"primaryKey;size:64"`
	VideoID        int64     `gorm:"uniqueIndex;not null"`
	MemberID       int64     `gorm:"index;not null"`
	StorageKey     string    `gorm:"size:512;not null"`
	ProcessingType string    `gorm:"size:32;not null"`
	Status         string    `gorm:"size:16;index;not null"`
	MessageID      string    `gorm:"size:64"`
	Attempts       int       `gorm:"not null;default:0"`
	LastError      string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"autoCreateTime:false;not null"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime:false;not null"`
}

func (jobRecord) TableName() string { return "jobs" }

type notificationRecord struct {
	ID             int64      `gorm:"primaryKey;autoIncrement:false"`
	MemberID       int64      `gorm:"index;not null"`
	Type           string     `gorm:"size:32;not null"`
	Title          string     `gorm:"size:255;not null"`
	Content        string     `gorm:"type:text"`
	IsRead         bool       `gorm:"not null;default:false"`
	DeliveryStatus string     `gorm:"size:16;index;not null"`
	RetryCount     int        `gorm:"not null;default:0"`
	LastRetryAt    *time.Time `gorm:"index"`
	SentAt         *time.Time `gorm:"column:sent_at"`
	VideoID        *int64     `gorm:"index"`
	TransactionID  *int64     `gorm:"column:transaction_id"`
	CreatedAt      time.Time  `gorm:"autoCreateTime:false;index;not null"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime:false;not null"`
}

func (notificationRecord) TableName() string { return "notifications" }

// Models lists every persisted record, for AutoMigrate in tests.
func Models() []any {
	return []any{
		&memberRecord{},
		&videoRecord{},
		&creditTransactionRecord{},
		&jobRecord{},
		&notificationRecord{},
	}
}

func toMemberRecord(m domain.Member) memberRecord {
	return memberRecord{
		ID:            int64(m.ID),
		Email:         m.Email,
		Name:          m.Name,
		CreditBalance: m.CreditBalance,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func (r memberRecord) toDomain() domain.Member {
	return domain.Member{
		ID:            snowflake.ID(r.ID),
		Email:         r.Email,
		Name:          r.Name,
		CreditBalance: r.CreditBalance,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func toVideoRecord(v domain.Video) videoRecord {
	return videoRecord{
		ID:                  int64(v.ID),
		MemberID:            int64(v.MemberID),
		OriginalName:        v.Original.Name,
		OriginalSizeBytes:   v.Original.SizeBytes,
		OriginalStorageKey:  v.Original.StorageKey,
		OriginalContentType: v.Original.ContentType,
		OriginalMetadata:    v.OriginalMetadata,
		OriginalDeleted:     v.OriginalDeleted,
		Processed:           v.Processed,
		Status:              string(v.Status),
		ProcessingType:      string(v.ProcessingType),
		JobID:               v.JobID,
		ExternalJobID:       v.ExternalJobID,
		RetryCount:          v.RetryCount,
		ProgressPercentage:  v.ProgressPercentage,
		EstimatedTimeLeft:   v.EstimatedTimeLeftSeconds,
		CurrentStep:         v.CurrentStep,
		ErrorMessage:        v.ErrorMessage,
		UploadCompletedAt:   v.UploadCompletedAt,
		QueuedAt:            v.QueuedAt,
		StartedAt:           v.StartedAt,
		CompletedAt:         v.CompletedAt,
		CreatedAt:           v.CreatedAt,
		UpdatedAt:           v.UpdatedAt,
		Version:             v.Version,
	}
}

func (r videoRecord) toDomain() domain.Video {
	return domain.Video{
		ID:       snowflake.ID(r.ID),
		MemberID: snowflake.ID(r.MemberID),
		Original: domain.FileDescriptor{
			Name:        r.OriginalName,
			SizeBytes:   r.OriginalSizeBytes,
			StorageKey:  r.OriginalStorageKey,
			ContentType: r.OriginalContentType,
		},
		OriginalMetadata:         r.OriginalMetadata,
		OriginalDeleted:          r.OriginalDeleted,
		Processed:                r.Processed,
		Status:                   domain.VideoStatus(r.Status),
		ProcessingType:           domain.ProcessingType(r.ProcessingType),
		JobID:                    r.JobID,
		ExternalJobID:            r.ExternalJobID,
		RetryCount:               r.RetryCount,
		ProgressPercentage:       r.ProgressPercentage,
		EstimatedTimeLeftSeconds: r.EstimatedTimeLeft,
		CurrentStep:              r.CurrentStep,
		ErrorMessage:             r.ErrorMessage,
		UploadCompletedAt:        r.UploadCompletedAt,
		QueuedAt:                 r.QueuedAt,
		StartedAt:                r.StartedAt,
		CompletedAt:              r.CompletedAt,
		CreatedAt:                r.CreatedAt,
		UpdatedAt:                r.UpdatedAt,
		Version:                  r.Version,
	}
}

func toCreditTransactionRecord(t domain.CreditTransaction) creditTransactionRecord {
	rec := creditTransactionRecord{
		ID:           int64(t.ID),
		MemberID:     int64(t.MemberID),
		Kind:         string(t.Kind),
		Amount:       t.Amount,
		Description:  t.Description,
		Annotated:    t.Annotated,
		BalanceAfter: t.BalanceAfter,
		CreatedAt:    t.CreatedAt,
	}
	if t.VideoID != nil {
		id := int64(*t.VideoID)
		rec.VideoID = &id
	}
	if t.ProcessingType != nil {
		pt := string(*t.ProcessingType)
		rec.ProcessingType = &pt
	}
	return rec
}

func (r creditTransactionRecord) toDomain() domain.CreditTransaction {
	t := domain.CreditTransaction{
		ID:           snowflake.ID(r.ID),
		MemberID:     snowflake.ID(r.MemberID),
		Kind:         domain.TransactionKind(r.Kind),
		Amount:       r.Amount,
		Description:  r.Description,
		Annotated:    r.Annotated,
		BalanceAfter: r.BalanceAfter,
		CreatedAt:    r.CreatedAt,
	}
	if r.VideoID != nil {
		id := snowflake.ID(*r.VideoID)
		t.VideoID = &id
	}
	if r.ProcessingType != nil {
		pt := domain.ProcessingType(*r.ProcessingType)
		t.ProcessingType = &pt
	}
	return t
}

func toJobRecord(j domain.Job) jobRecord {
	return jobRecord{
		ID:             j.ID,
		VideoID:        int64(j.VideoID),
		MemberID:       int64(j.MemberID),
		StorageKey:     j.StorageKey,
		ProcessingType: string(j.ProcessingType),
		Status:         string(j.Status),
		MessageID:      j.MessageID,
		Attempts:       j.Attempts,
		LastError:      j.LastError,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func (r jobRecord) toDomain() domain.Job {
	return domain.Job{
		ID:             r.ID,
		VideoID:        snowflake.ID(r.VideoID),
		MemberID:       snowflake.ID(r.MemberID),
		StorageKey:     r.StorageKey,
		ProcessingType: domain.ProcessingType(r.ProcessingType),
		Status:         domain.JobStatus(r.Status),
		MessageID:      r.MessageID,
		Attempts:       r.Attempts,
		LastError:      r.LastError,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func toNotificationRecord(n domain.Notification) notificationRecord {
	return notificationRecord{
		ID:             int64(n.ID),
		MemberID:       int64(n.MemberID),
		Type:           string(n.Type),
		Title:          n.Title,
		Content:        n.Content,
		IsRead:         n.Read,
		DeliveryStatus: string(n.DeliveryStatus),
		RetryCount:     n.RetryCount,
		LastRetryAt:    n.LastRetryAt,
		SentAt:         n.SentAt,
		VideoID:        optionalID(n.VideoID),
		TransactionID:  optionalID(n.TransactionID),
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
	}
}

func (r notificationRecord) toDomain() domain.Notification {
	return domain.Notification{
		ID:             snowflake.ID(r.ID),
		MemberID:       snowflake.ID(r.MemberID),
		Type:           domain.NotificationType(r.Type),
		Title:          r.Title,
		Content:        r.Content,
		Read:           r.IsRead,
		DeliveryStatus: domain.DeliveryStatus(r.DeliveryStatus),
		RetryCount:     r.RetryCount,
		LastRetryAt:    r.LastRetryAt,
		SentAt:         r.SentAt,
		VideoID:        snowflakeID(r.VideoID),
		TransactionID:  snowflakeID(r.TransactionID),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func optionalID(id *snowflake.ID) *int64 {
	if id == nil {
		return nil
	}
	v := int64(*id)
	return &v
}

func snowflakeID(id *int64) *snowflake.ID {
	if id == nil {
		return nil
	}
	v := snowflake.ID(*id)
	return &v
}
