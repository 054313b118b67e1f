package infrastructure

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/vitovidale/video-pipeline/domain"
	"gorm.io/gorm"
)

type PostgresCreditTransactionRepository struct {
	DB *gorm.DB
}

func NewPostgresCreditTransactionRepository(db *gorm.DB) *PostgresCreditTransactionRepository {
	return &PostgresCreditTransactionRepository{DB: db}
}

func (r *PostgresCreditTransactionRepository) Append(ctx context.Context, txn domain.CreditTransaction) error {
	rec := toCreditTransactionRecord(txn)
	err := r.DB.WithContext(ctx).Create(&rec).Error
	if isUniqueViolation(err) {
		return domain.ErrDuplicateLedgerEntry
	}
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (r *PostgresCreditTransactionRepository) FindByID(ctx context.Context, id snowflake.ID) (domain.CreditTransaction, error) {
	var rec creditTransactionRecord
	err := r.DB.WithContext(ctx).Where("id = ?", int64(id)).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.CreditTransaction{}, domain.ErrTransactionNotFound
	}
	if err != nil {
		return domain.CreditTransaction{}, fmt.Errorf("failed to load ledger entry: %w", err)
	}
	return rec.toDomain(), nil
}

// FindByVideoAndKind returns nil, nil when the video has no entry of kind.
func (r *PostgresCreditTransactionRepository) FindByVideoAndKind(ctx context.Context, videoID snowflake.ID, kind domain.TransactionKind) (*domain.CreditTransaction, error) {
	var recs []creditTransactionRecord
	err := r.DB.WithContext(ctx).
		Where("video_id = ? AND kind = ?", int64(videoID), string(kind)).
		Limit(1).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	txn := recs[0].toDomain()
	return &txn, nil
}

func (r *PostgresCreditTransactionRepository) ListByMember(ctx context.Context, memberID snowflake.ID, limit, offset int) ([]domain.CreditTransaction, int64, error) {
	scope := r.DB.WithContext(ctx).Model(&creditTransactionRecord{}).Where("member_id = ?", int64(memberID))

	var total int64
	if err := scope.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}

	var recs []creditTransactionRecord
	err := r.DB.WithContext(ctx).
		Where("member_id = ?", int64(memberID)).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).Offset(offset).
		Find(&recs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	items := make([]domain.CreditTransaction, 0, len(recs))
	for _, rec := range recs {
		items = append(items, rec.toDomain())
	}
	return items, total, nil
}

// Annotate is the only mutation allowed on a ledger row. Amount, kind and
// balance are never touched.
func (r *PostgresCreditTransactionRepository) Annotate(ctx context.Context, id snowflake.ID, note string) error {
	res := r.DB.WithContext(ctx).
		Model(&creditTransactionRecord{}).
		Where("id = ? AND annotated = ?", int64(id), false).
		Updates(map[string]any{
			"description": gorm.Expr("description || ?", " | note: "+note),
			"annotated":   true,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to annotate ledger entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrAlreadyAnnotated
	}
	return nil
}
