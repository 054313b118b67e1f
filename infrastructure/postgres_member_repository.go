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

type PostgresMemberRepository struct {
	DB    *gorm.DB
	Clock domain.Clock
}

func NewPostgresMemberRepository(db *gorm.DB, clock domain.Clock) *PostgresMemberRepository {
	return &PostgresMemberRepository{DB: db, Clock: clock}
}

func (r *PostgresMemberRepository) Create(ctx context.Context, member domain.Member) error {
	rec := toMemberRecord(member)
	if err := r.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to insert member: %w", err)
	}
	return nil
}

func (r *PostgresMemberRepository) FindByID(ctx context.Context, memberID snowflake.ID) (domain.Member, error) {
	return r.find(r.DB.WithContext(ctx), memberID)
}

func (r *PostgresMemberRepository) FindByIDForUpdate(ctx context.Context, memberID snowflake.ID) (domain.Member, error) {
	return r.find(r.DB.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), memberID)
}

func (r *PostgresMemberRepository) find(db *gorm.DB, memberID snowflake.ID) (domain.Member, error) {
	var rec memberRecord
	err := db.Where("id = ?", int64(memberID)).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Member{}, domain.ErrMemberNotFound
	}
	if err != nil {
		return domain.Member{}, fmt.Errorf("failed to load member %s: %w", memberID, err)
	}
	return rec.toDomain(), nil
}

// AdjustBalance applies delta in a single conditional UPDATE so the balance
// can never be observed below zero, even without a prior row lock.
func (r *PostgresMemberRepository) AdjustBalance(ctx context.Context, memberID snowflake.ID, delta int64) (int64, error) {
	db := r.DB.WithContext(ctx)
	res := db.Model(&memberRecord{}).
		Where("id = ? AND credit_balance + ? >= 0", int64(memberID), delta).
		Updates(map[string]any{
			"credit_balance": gorm.Expr("credit_balance + ?", delta),
			"updated_at":     r.Clock.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to adjust balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.find(db, memberID); err != nil {
			return 0, err
		}
		return 0, domain.ErrInsufficientCredit
	}

	var balance int64
	if err := db.Model(&memberRecord{}).Where("id = ?", int64(memberID)).Pluck("credit_balance", &balance).Error; err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}
