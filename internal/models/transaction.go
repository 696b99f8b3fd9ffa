package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a transaction log entry.
type TransactionType string

const (
	TransactionDeposit    TransactionType = "Deposit"
	TransactionWithdrawal TransactionType = "Withdrawal"
	TransactionTransfer   TransactionType = "Transfer"
)

// Direction tells the two sides of a transfer apart.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// TransactionLogEntry is one immutable record of a completed balance mutation.
// Amount is always positive; the sign is implied by Type and Direction.
type TransactionLogEntry struct {
	ID               int64           `json:"log_id"`
	AccountID        int64           `json:"account_id"`
	RelatedAccountID *int64          `json:"related_account_id,omitempty"` // set only for transfers
	Type             TransactionType `json:"type"`
	Direction        Direction       `json:"direction"`
	Amount           decimal.Decimal `json:"amount"`
	CreatedAt        time.Time       `json:"timestamp"`
}

// Delta returns the signed balance change this entry represents.
func (e TransactionLogEntry) Delta() decimal.Decimal {
	if e.Direction == DirectionDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// NewDepositEntry builds the log entry for a deposit into accountID.
func NewDepositEntry(accountID int64, amount decimal.Decimal) TransactionLogEntry {
	return TransactionLogEntry{
		AccountID: accountID,
		Type:      TransactionDeposit,
		Direction: DirectionCredit,
		Amount:    amount,
	}
}

// NewWithdrawalEntry builds the log entry for a withdrawal from accountID.
func NewWithdrawalEntry(accountID int64, amount decimal.Decimal) TransactionLogEntry {
	return TransactionLogEntry{
		AccountID: accountID,
		Type:      TransactionWithdrawal,
		Direction: DirectionDebit,
		Amount:    amount,
	}
}

// NewTransferEntries builds the paired entries of a transfer. Each side references the other.
func NewTransferEntries(fromID, toID int64, amount decimal.Decimal) (debit, credit TransactionLogEntry) {
	from, to := fromID, toID
	debit = TransactionLogEntry{
		AccountID:        fromID,
		RelatedAccountID: &to,
		Type:             TransactionTransfer,
		Direction:        DirectionDebit,
		Amount:           amount,
	}
	credit = TransactionLogEntry{
		AccountID:        toID,
		RelatedAccountID: &from,
		Type:             TransactionTransfer,
		Direction:        DirectionCredit,
		Amount:           amount,
	}
	return debit, credit
}
