package ledger

import (
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/sheikh-saqib/banking-ledger/internal/models/events"
)

// Recorder receives an audit event for every attempted mutation. Record must not block.
type Recorder interface {
	Record(event events.AuditEvent)
}

// Observer receives operation timings and compensation counts.
type Observer interface {
	ObserveOperation(operation string, outcome events.Outcome, elapsed time.Duration)
	ObserveCompensation(operation string)
}

type Option func(*Ledger)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func WithAuditor(recorder Recorder) Option {
	return func(l *Ledger) {
		l.audit = recorder
	}
}

func WithMetrics(observer Observer) Option {
	return func(l *Ledger) {
		l.metrics = observer
	}
}

// WithAccountCache keeps the static fields of accounts for ttl. Balances are
// never cached. A zero ttl disables the cache.
func WithAccountCache(ttl time.Duration) Option {
	return func(l *Ledger) {
		if ttl <= 0 {
			l.cache = nil
			return
		}
		l.cache = cache.New(ttl, 2*ttl)
	}
}

type nopRecorder struct{}

func (nopRecorder) Record(events.AuditEvent) {}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, events.Outcome, time.Duration) {}
func (nopObserver) ObserveCompensation(string)                             {}
