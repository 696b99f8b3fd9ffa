package interfaces

import (
	"context"

	"github.com/sheikh-saqib/banking-ledger/internal/models/events"
)

// AuditSink is a destination for audit events. Implementations must be safe for
// sequential use from a single worker goroutine.
type AuditSink interface {
	Name() string
	Write(ctx context.Context, event events.AuditEvent) error
}
