package postgres

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	interfaces "github.com/sheikh-saqib/banking-ledger/internal/interfaces"
	"github.com/sheikh-saqib/banking-ledger/internal/models/events"
)

// AuditStore writes audit events to the audit_log table. It uses its own
// statements on the pool, never a ledger transaction, so a rolled back
// operation still leaves its audit row.
type AuditStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (a *AuditStore) Name() string { return "postgres" }

func (a *AuditStore) Write(ctx context.Context, event events.AuditEvent) error {
	var errText sql.NullString
	if event.Error != "" {
		errText = sql.NullString{String: event.Error, Valid: true}
	}
	var accountID sql.NullInt64
	if event.AccountID != 0 {
		accountID = sql.NullInt64{Int64: event.AccountID, Valid: true}
	}

	query, args, err := a.sb.
		Insert("audit_log").
		Columns("event_id", "operation", "account_id", "related_account_id", "amount",
			"outcome", "level", "message", "error", "occurred_at").
		Values(event.ID.String(), event.Operation, accountID, event.RelatedAccountID, event.Amount,
			string(event.Outcome), string(event.Level), event.Message, errText, event.OccurredAt).
		Suffix("ON CONFLICT (event_id) DO NOTHING").
		ToSql()
	if err != nil {
		return err
	}

	_, err = a.db.ExecContext(ctx, query, args...)
	return persistence(err, "insert audit event")
}

var _ interfaces.AuditSink = (*AuditStore)(nil)
