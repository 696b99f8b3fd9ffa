package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType is the closed set of account kinds a customer can open.
type AccountType string

const (
	AccountChecking AccountType = "Checking"
	AccountSavings  AccountType = "Savings"
)

// ParseAccountType accepts "checking" or "savings" in any case.
func ParseAccountType(s string) (AccountType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "checking":
		return AccountChecking, nil
	case "savings":
		return AccountSavings, nil
	default:
		return "", &LedgerError{Op: "open_account", Err: ErrInvalidAccountType}
	}
}

// Account is a bank account as persisted by the ledger store.
// Balance is a snapshot of the store value at read time.
type Account struct {
	ID         int64           `json:"account_id"`
	CustomerID int64           `json:"customer_id"`
	Type       AccountType     `json:"account_type"`
	Balance    decimal.Decimal `json:"balance"`
	CreatedAt  time.Time       `json:"created_at"`
}
