package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/vitovidale/video-pipeline/domain"
	"github.com/vitovidale/video-pipeline/metrics"
	"go.uber.org/zap"
)

// CreditLedger owns member balances and the append-only transaction history.
// Every balance change and its ledger row are written in one transaction with
// the member row locked.
type CreditLedger struct {
	uow     domain.UnitOfWork
	ids     domain.IDGenerator
	clock   domain.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewCreditLedger(uow domain.UnitOfWork, ids domain.IDGenerator, clock domain.Clock, log *zap.Logger, m *metrics.Metrics) *CreditLedger {
	return &CreditLedger{
		uow:     uow,
		ids:     ids,
		clock:   clock,
		log:     log.Named("credit.ledger"),
		metrics: m,
	}
}

func (l *CreditLedger) Debit(ctx context.Context, memberID snowflake.ID, amount int64, videoID snowflake.ID, processingType domain.ProcessingType) (domain.CreditTransaction, error) {
	var entry domain.CreditTransaction
	err := l.uow.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		var err error
		entry, err = l.DebitTx(ctx, repos, memberID, amount, videoID, processingType)
		return err
	})
	return entry, err
}

// DebitTx is Debit inside a caller-owned transaction.
func (l *CreditLedger) DebitTx(ctx context.Context, repos domain.Repositories, memberID snowflake.ID, amount int64, videoID snowflake.ID, processingType domain.ProcessingType) (domain.CreditTransaction, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return domain.CreditTransaction{}, err
	}
	vid := videoID
	pt := processingType
	description := fmt.Sprintf("%s processing for video %s", processingType, videoID)
	return l.apply(ctx, repos, memberID, domain.TransactionKindUsage, amount, &vid, &pt, description)
}

func (l *CreditLedger) Credit(ctx context.Context, memberID snowflake.ID, amount int64, description string) (domain.CreditTransaction, error) {
	var entry domain.CreditTransaction
	err := l.uow.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		var err error
		entry, err = l.CreditTx(ctx, repos, memberID, amount, description)
		return err
	})
	return entry, err
}

func (l *CreditLedger) CreditTx(ctx context.Context, repos domain.Repositories, memberID snowflake.ID, amount int64, description string) (domain.CreditTransaction, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return domain.CreditTransaction{}, err
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = "credit charge"
	}
	return l.apply(ctx, repos, memberID, domain.TransactionKindCharge, amount, nil, nil, description)
}

func (l *CreditLedger) Refund(ctx context.Context, memberID snowflake.ID, amount int64, videoID snowflake.ID, reason string) (domain.CreditTransaction, error) {
	var entry domain.CreditTransaction
	err := l.uow.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		var err error
		entry, err = l.RefundTx(ctx, repos, memberID, amount, videoID, reason)
		return err
	})
	return entry, err
}

func (l *CreditLedger) RefundTx(ctx context.Context, repos domain.Repositories, memberID snowflake.ID, amount int64, videoID snowflake.ID, reason string) (domain.CreditTransaction, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return domain.CreditTransaction{}, err
	}
	vid := videoID
	description := fmt.Sprintf("refund for video %s", videoID)
	if reason = strings.TrimSpace(reason); reason != "" {
		description += ": " + reason
	}
	return l.apply(ctx, repos, memberID, domain.TransactionKindRefund, amount, &vid, nil, description)
}

func (l *CreditLedger) apply(
	ctx context.Context,
	repos domain.Repositories,
	memberID snowflake.ID,
	kind domain.TransactionKind,
	amount int64,
	videoID *snowflake.ID,
	processingType *domain.ProcessingType,
	description string,
) (domain.CreditTransaction, error) {
	entry, err := l.applyLocked(ctx, repos, memberID, kind, amount, videoID, processingType, description)
	l.metrics.LedgerOperation(string(kind), amount, err)
	if err != nil {
		l.log.Warn("ledger operation rejected",
			zap.String("member_id", memberID.String()),
			zap.String("kind", string(kind)),
			zap.Int64("amount", amount),
			zap.Error(err),
		)
		return domain.CreditTransaction{}, err
	}
	l.log.Info("ledger entry appended",
		zap.String("member_id", memberID.String()),
		zap.String("transaction_id", entry.ID.String()),
		zap.String("kind", string(kind)),
		zap.Int64("amount", amount),
		zap.Int64("balance_after", entry.BalanceAfter),
	)
	return entry, nil
}

func (l *CreditLedger) applyLocked(
	ctx context.Context,
	repos domain.Repositories,
	memberID snowflake.ID,
	kind domain.TransactionKind,
	amount int64,
	videoID *snowflake.ID,
	processingType *domain.ProcessingType,
	description string,
) (domain.CreditTransaction, error) {
	member, err := repos.Members.FindByIDForUpdate(ctx, memberID)
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	if kind == domain.TransactionKindUsage && member.CreditBalance < amount {
		return domain.CreditTransaction{}, fmt.Errorf("%w: balance %d, required %d", domain.ErrInsufficientCredit, member.CreditBalance, amount)
	}

	balance, err := repos.Members.AdjustBalance(ctx, memberID, kind.Sign()*amount)
	if err != nil {
		return domain.CreditTransaction{}, err
	}

	entry := domain.CreditTransaction{
		ID:             l.ids.Generate(),
		MemberID:       memberID,
		Kind:           kind,
		Amount:         amount,
		VideoID:        videoID,
		ProcessingType: processingType,
		Description:    description,
		BalanceAfter:   balance,
		CreatedAt:      l.clock.Now(),
	}
	if err := repos.Transactions.Append(ctx, entry); err != nil {
		return domain.CreditTransaction{}, err
	}
	return entry, nil
}

func (l *CreditLedger) Balance(ctx context.Context, memberID snowflake.ID) (int64, error) {
	member, err := l.uow.Repositories().Members.FindByID(ctx, memberID)
	if err != nil {
		return 0, err
	}
	return member.CreditBalance, nil
}

type TransactionPage struct {
	Items []domain.CreditTransaction
	Total int64
}

func (l *CreditLedger) History(ctx context.Context, memberID snowflake.ID, limit, offset int) (TransactionPage, error) {
	limit, offset = normalizePage(limit, offset)
	items, total, err := l.uow.Repositories().Transactions.ListByMember(ctx, memberID, limit, offset)
	if err != nil {
		return TransactionPage{}, err
	}
	return TransactionPage{Items: items, Total: total}, nil
}

// Annotate appends an audit note to an entry's description. It succeeds at
// most once per entry.
func (l *CreditLedger) Annotate(ctx context.Context, memberID, transactionID snowflake.ID, note string) error {
	note = strings.TrimSpace(note)
	if note == "" {
		return domain.ErrInvalidNote
	}
	return l.uow.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		entry, err := repos.Transactions.FindByID(ctx, transactionID)
		if err != nil {
			return err
		}
		if entry.MemberID != memberID {
			return domain.ErrTransactionNotFound
		}
		if entry.Annotated {
			return domain.ErrAlreadyAnnotated
		}
		return repos.Transactions.Annotate(ctx, transactionID, note)
	})
}

// QuoteCost answers a cost query without touching any balance.
func (l *CreditLedger) QuoteCost(processingType domain.ProcessingType, durationSeconds float64) (domain.CostQuote, error) {
	return domain.QuoteCost(processingType, durationSeconds)
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
