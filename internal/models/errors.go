package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount is returned for zero, negative or over-precise amounts.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInsufficientFunds is returned when a debit would take a balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAccountNotFound is returned when an account id is unknown to the store.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidAccountType is returned for account types other than Checking and Savings.
	ErrInvalidAccountType = errors.New("invalid account type")
	// ErrInvalidTransfer is returned for self transfers.
	ErrInvalidTransfer = errors.New("invalid transfer")
	// ErrPersistence is returned when the store is unreachable or rejects a write.
	ErrPersistence = errors.New("persistence failure")
)

// LedgerError carries the operation and account an error happened on.
type LedgerError struct {
	Op        string
	AccountID int64
	Err       error
}

func (e *LedgerError) Error() string {
	if e.AccountID == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s account %d: %v", e.Op, e.AccountID, e.Err)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// NewLedgerError wraps err with the operation and account it relates to.
func NewLedgerError(op string, accountID int64, err error) *LedgerError {
	return &LedgerError{Op: op, AccountID: accountID, Err: err}
}
