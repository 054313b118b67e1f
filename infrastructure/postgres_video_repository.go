// infrastructure/postgres_video_repository.go
package infrastructure

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/vitovidale/video-pipeline/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresVideoRepository struct {
	DB *gorm.DB
}

func NewPostgresVideoRepository(db *gorm.DB) *PostgresVideoRepository {
	return &PostgresVideoRepository{DB: db}
}

func (r *PostgresVideoRepository) Create(ctx context.Context, video domain.Video) error {
	rec := toVideoRecord(video)
	if err := r.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to insert video: %w", err)
	}
	return nil
}

func (r *PostgresVideoRepository) FindByID(ctx context.Context, videoID snowflake.ID) (domain.Video, error) {
	return r.find(r.DB.WithContext(ctx), videoID)
}

func (r *PostgresVideoRepository) FindByIDForUpdate(ctx context.Context, videoID snowflake.ID) (domain.Video, error) {
	return r.find(r.DB.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), videoID)
}

func (r *PostgresVideoRepository) find(db *gorm.DB, videoID snowflake.ID) (domain.Video, error) {
	var rec videoRecord
	err := db.Where("id = ?", int64(videoID)).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Video{}, domain.ErrVideoNotFound
	}
	if err != nil {
		return domain.Video{}, fmt.Errorf("failed to load video %s: %w", videoID, err)
	}
	return rec.toDomain(), nil
}

func (r *PostgresVideoRepository) FindByMemberID(ctx context.Context, memberID snowflake.ID, limit, offset int) ([]domain.Video, error) {
	var recs []videoRecord
	err := r.DB.WithContext(ctx).
		Where("member_id = ?", int64(memberID)).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).Offset(offset).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query videos: %w", err)
	}
	videos := make([]domain.Video, 0, len(recs))
	for _, rec := range recs {
		videos = append(videos, rec.toDomain())
	}
	return videos, nil
}

// Update writes the snapshot only if the stored version still matches the one
// it was read at, then returns it with the version bumped.
func (r *PostgresVideoRepository) Update(ctx context.Context, video domain.Video) (domain.Video, error) {
	next := video
	next.Version = video.Version + 1
	rec := toVideoRecord(next)

	res := r.DB.WithContext(ctx).
		Model(&videoRecord{}).
		Where("id = ? AND version = ?", rec.ID, video.Version).
		Select("*").Omit("id", "member_id", "created_at").
		Updates(&rec)
	if res.Error != nil {
		return domain.Video{}, fmt.Errorf("failed to update video %s: %w", video.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := r.DB.WithContext(ctx).Model(&videoRecord{}).Where("id = ?", rec.ID).Count(&n).Error; err != nil {
			return domain.Video{}, err
		}
		if n == 0 {
			return domain.Video{}, domain.ErrVideoNotFound
		}
		return domain.Video{}, domain.ErrVideoVersionConflict
	}
	return next, nil
}
