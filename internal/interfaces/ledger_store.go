package interfaces

import (
	"context"

	"github.com/sheikh-saqib/banking-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// LedgerStore is the single source of truth for balances and the transaction log.
type LedgerStore interface {
	// CreateAccount stores the account with its opening balance. A positive
	// opening balance is booked as a Deposit entry in the same unit.
	CreateAccount(ctx context.Context, account models.Account) (models.Account, error)
	GetAccount(ctx context.Context, accountID int64) (models.Account, error)
	GetBalance(ctx context.Context, accountID int64) (decimal.Decimal, error)

	// ApplyBalanceDelta atomically adds delta to the balance and returns the new value.
	// A delta that would leave the balance negative fails with models.ErrInsufficientFunds.
	ApplyBalanceDelta(ctx context.Context, accountID int64, delta decimal.Decimal) (decimal.Decimal, error)

	AppendLogEntry(ctx context.Context, entry models.TransactionLogEntry) (int64, error)
	// AppendLogEntries writes every entry or none of them.
	AppendLogEntries(ctx context.Context, entries ...models.TransactionLogEntry) ([]int64, error)

	// GetTransactionHistory returns the account's entries, most recent first.
	GetTransactionHistory(ctx context.Context, accountID int64) ([]models.TransactionLogEntry, error)
}

// Transactor is implemented by stores that can commit several writes as one unit.
// WithinTx locks lockIDs in ascending order, runs fn against a store bound to the
// transaction, and commits only if fn returns nil.
type Transactor interface {
	WithinTx(ctx context.Context, lockIDs []int64, fn func(LedgerStore) error) error
}
