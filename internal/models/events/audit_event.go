package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Level mirrors the severity column of the audit table.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// AuditEvent records one attempted ledger mutation, successful or not.
type AuditEvent struct {
	ID               uuid.UUID       `json:"id"`
	Operation        string          `json:"operation"`
	AccountID        int64           `json:"account_id"`
	RelatedAccountID *int64          `json:"related_account_id,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Outcome          Outcome         `json:"outcome"`
	Level            Level           `json:"level"`
	Message          string          `json:"message"`
	Error            string          `json:"error,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

// NewAuditEvent stamps a fresh id and time on an event for operation.
func NewAuditEvent(operation string, accountID int64, amount decimal.Decimal) AuditEvent {
	return AuditEvent{
		ID:         uuid.New(),
		Operation:  operation,
		AccountID:  accountID,
		Amount:     amount,
		OccurredAt: time.Now().UTC(),
	}
}
