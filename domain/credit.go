package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Member is the owning user record. Only the credit balance is managed here;
// identity and authentication live elsewhere.
type Member struct {
	ID            snowflake.ID
	Email         string
	Name          string
	CreditBalance int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type TransactionKind string

const (
	TransactionKindUsage  TransactionKind = "USAGE"
	TransactionKindCharge TransactionKind = "CHARGE"
	TransactionKindRefund TransactionKind = "REFUND"
)

// Sign is +1 for kinds that add to the balance and -1 for kinds that spend it.
func (k TransactionKind) Sign() int64 {
	if k == TransactionKindUsage {
		return -1
	}
	return 1
}

// CreditTransaction is an append-only ledger row. Amount is always positive;
// the kind carries the direction.
type CreditTransaction struct {
	ID             snowflake.ID
	MemberID       snowflake.ID
	Kind           TransactionKind
	Amount         int64
	VideoID        *snowflake.ID
	ProcessingType *ProcessingType
	Description    string
	Annotated      bool
	BalanceAfter   int64
	CreatedAt      time.Time
}

func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
