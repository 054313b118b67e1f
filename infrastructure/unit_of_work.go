package infrastructure

import (
	"context"
	"errors"
	"strings"

	"github.com/lib/pq"
	"github.com/vitovidale/video-pipeline/domain"
	"gorm.io/gorm"
)

// GormUnitOfWork hands out repositories bound either to the pool or to a
// single transaction.
type GormUnitOfWork struct {
	db    *gorm.DB
	clock domain.Clock
}

func NewGormUnitOfWork(db *gorm.DB, clock domain.Clock) *GormUnitOfWork {
	return &GormUnitOfWork{db: db, clock: clock}
}

func (u *GormUnitOfWork) Repositories() domain.Repositories {
	return u.bind(u.db)
}

func (u *GormUnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, u.bind(tx))
	})
}

func (u *GormUnitOfWork) bind(db *gorm.DB) domain.Repositories {
	return domain.Repositories{
		Videos:        NewPostgresVideoRepository(db),
		Members:       NewPostgresMemberRepository(db, u.clock),
		Transactions:  NewPostgresCreditTransactionRepository(db),
		Jobs:          NewPostgresJobRepository(db),
		Notifications: NewPostgresNotificationRepository(db, u.clock),
	}
}

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
