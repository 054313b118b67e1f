package infrastructure

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/vitovidale/video-pipeline/domain"
	"gorm.io/gorm"
)

type PostgresJobRepository struct {
	DB *gorm.DB
}

func NewPostgresJobRepository(db *gorm.DB) *PostgresJobRepository {
	return &PostgresJobRepository{DB: db}
}

func (r *PostgresJobRepository) Create(ctx context.Context, job domain.Job) error {
	rec := toJobRecord(job)
	err := r.DB.WithContext(ctx).Create(&rec).Error
	if isUniqueViolation(err) {
		return domain.ErrDuplicateJob
	}
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (r *PostgresJobRepository) Update(ctx context.Context, job domain.Job) error {
	rec := toJobRecord(job)
	res := r.DB.WithContext(ctx).
		Model(&jobRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]any{
			"status":     rec.Status,
			"message_id": rec.MessageID,
			"attempts":   rec.Attempts,
			"last_error": rec.LastError,
			"updated_at": rec.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (r *PostgresJobRepository) FindByID(ctx context.Context, jobID string) (domain.Job, error) {
	return r.findOne(r.DB.WithContext(ctx).Where("id = ?", jobID))
}

func (r *PostgresJobRepository) FindByVideoID(ctx context.Context, videoID snowflake.ID) (domain.Job, error) {
	return r.findOne(r.DB.WithContext(ctx).Where("video_id = ?", int64(videoID)))
}

func (r *PostgresJobRepository) findOne(db *gorm.DB) (domain.Job, error) {
	var rec jobRecord
	err := db.Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Job{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("failed to load job: %w", err)
	}
	return rec.toDomain(), nil
}

// ListByStatus returns the oldest jobs in status with fewer than maxAttempts
// publish attempts.
func (r *PostgresJobRepository) ListByStatus(ctx context.Context, status domain.JobStatus, maxAttempts, limit int) ([]domain.Job, error) {
	var recs []jobRecord
	err := r.DB.WithContext(ctx).
		Where("status = ? AND attempts < ?", string(status), maxAttempts).
		Order("updated_at ASC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	jobs := make([]domain.Job, 0, len(recs))
	for _, rec := range recs {
		jobs = append(jobs, rec.toDomain())
	}
	return jobs, nil
}
