package usecase_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitovidale/video-pipeline/domain"
)

func TestLedgerDebitAndCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.member(t, 100)
	video := f.ids.Generate()

	debit, err := f.ledger.Debit(ctx, member, 40, video, domain.ProcessingTypeBasic)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionKindUsage, debit.Kind)
	assert.Equal(t, int64(60), debit.BalanceAfter)
	require.NotNil(t, debit.ProcessingType)
	assert.Equal(t, domain.ProcessingTypeBasic, *debit.ProcessingType)

	credit, err := f.ledger.Credit(ctx, member, 15, "  ")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionKindCharge, credit.Kind)
	assert.Equal(t, "credit charge", credit.Description)
	assert.Equal(t, int64(75), credit.BalanceAfter)
	assert.Nil(t, credit.VideoID)

	assert.Equal(t, int64(75), f.balance(t, member))
}

func TestLedgerRejectsInvalidAmounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.member(t, 100)

	_, err := f.ledger.Debit(ctx, member, 0, f.ids.Generate(), domain.ProcessingTypeBasic)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = f.ledger.Credit(ctx, member, -5, "")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = f.ledger.Refund(ctx, member, 0, f.ids.Generate(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	assert.Equal(t, int64(100), f.balance(t, member))
	assert.Empty(t, f.ledgerOf(t, member))
}

func TestLedgerInsufficientCredit(t *testing.T) {
	f := newFixture(t)
	member := f.member(t, 10)

	_, err := f.ledger.Debit(context.Background(), member, 11, f.ids.Generate(), domain.ProcessingTypeBasic)
	assert.ErrorIs(t, err, domain.ErrInsufficientCredit)
	assert.Equal(t, int64(10), f.balance(t, member))
	assert.Empty(t, f.ledgerOf(t, member))
}

func TestLedgerUnknownMember(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Credit(context.Background(), f.ids.Generate(), 5, "gift")
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
	_, err = f.ledger.Balance(context.Background(), f.ids.Generate())
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func TestLedgerDuplicateUsageForVideo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.member(t, 100)
	video := f.ids.Generate()

	_, err := f.ledger.Debit(ctx, member, 10, video, domain.ProcessingTypeBasic)
	require.NoError(t, err)
	_, err = f.ledger.Debit(ctx, member, 10, video, domain.ProcessingTypeBasic)
	assert.ErrorIs(t, err, domain.ErrDuplicateLedgerEntry)

	// the balance change rolls back with the rejected entry
	assert.Equal(t, int64(90), f.balance(t, member))
}

func TestLedgerConservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const initial = 500
	member := f.member(t, initial)

	for i := 0; i < 5; i++ {
		_, err := f.ledger.Debit(ctx, member, int64(10*(i+1)), f.ids.Generate(), domain.ProcessingTypeAISubtitle)
		require.NoError(t, err)
	}
	_, err := f.ledger.Credit(ctx, member, 70, "top-up")
	require.NoError(t, err)
	_, err = f.ledger.Refund(ctx, member, 20, f.ids.Generate(), "worker crashed")
	require.NoError(t, err)

	var net int64
	for _, e := range f.ledgerOf(t, member) {
		net += e.Kind.Sign() * e.Amount
	}
	assert.Equal(t, f.balance(t, member), initial+net)
	assert.Equal(t, int64(500-150+70+20), f.balance(t, member))
}

func TestLedgerConcurrentDebitsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.member(t, 100)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Debit(ctx, member, 10, f.ids.Generate(), domain.ProcessingTypeBasic)
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientCredit)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Zero(t, f.balance(t, member))
	assert.Len(t, f.ledgerOf(t, member), 10)
}

func TestLedgerAnnotateOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.member(t, 100)
	other := f.member(t, 100)

	entry, err := f.ledger.Credit(ctx, member, 5, "promo")
	require.NoError(t, err)

	assert.ErrorIs(t, f.ledger.Annotate(ctx, member, entry.ID, "  "), domain.ErrInvalidNote)
	assert.ErrorIs(t, f.ledger.Annotate(ctx, other, entry.ID, "mine now"), domain.ErrTransactionNotFound)
	require.NoError(t, f.ledger.Annotate(ctx, member, entry.ID, "approved by support"))
	assert.ErrorIs(t, f.ledger.Annotate(ctx, member, entry.ID, "again"), domain.ErrAlreadyAnnotated)
	assert.ErrorIs(t, f.ledger.Annotate(ctx, member, f.ids.Generate(), "missing"), domain.ErrTransactionNotFound)

	entries := f.ledgerOf(t, member)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Annotated)
	assert.Equal(t, "promo | note: approved by support", entries[0].Description)
	assert.Equal(t, int64(5), entries[0].Amount)
	assert.Equal(t, int64(105), entries[0].BalanceAfter)
}

func TestLedgerHistoryPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.member(t, 0)

	for i := 0; i < 4; i++ {
		_, err := f.ledger.Credit(ctx, member, int64(i+1), "")
		require.NoError(t, err)
	}

	page, err := f.ledger.History(ctx, member, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)
	require.Len(t, page.Items, 3)
	assert.Equal(t, int64(4), page.Items[0].Amount, "newest first")

	page, err = f.ledger.History(ctx, member, 3, 3)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(1), page.Items[0].Amount)
}

func TestLedgerQuoteCost(t *testing.T) {
	f := newFixture(t)

	quote, err := f.ledger.QuoteCost(domain.ProcessingTypeAIUpscaling, 120.5)
	require.NoError(t, err)
	assert.Equal(t, int64(362), quote.RequiredCredits)
	assert.Equal(t, int64(3), quote.CostPerSecond)

	_, err = f.ledger.QuoteCost("SEPIA", 10)
	assert.ErrorIs(t, err, domain.ErrInvalidProcessingType)
	_, err = f.ledger.QuoteCost(domain.ProcessingTypeBasic, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidDuration)
}
