package audit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	interfaces "github.com/sheikh-saqib/banking-ledger/internal/interfaces"
	"github.com/sheikh-saqib/banking-ledger/internal/models/events"
)

const (
	DefaultQueueSize = 1024
	writeTimeout     = 5 * time.Second
)

// Auditor fans audit events out to its sinks from a single background worker.
// Record never blocks the caller: when the queue is full the event is dropped.
type Auditor struct {
	sinks  []interfaces.AuditSink
	queue  chan events.AuditEvent
	logger logrus.FieldLogger

	dropped atomic.Int64
	closed  atomic.Bool
	onDrop  func()

	mu       sync.RWMutex // guards sends against Close
	shutdown chan struct{}
	done     chan struct{}
}

type AuditorOption func(*Auditor)

// WithDropHook calls fn once for every dropped event.
func WithDropHook(fn func()) AuditorOption {
	return func(a *Auditor) {
		a.onDrop = fn
	}
}

func WithQueueSize(size int) AuditorOption {
	return func(a *Auditor) {
		if size > 0 {
			a.queue = make(chan events.AuditEvent, size)
		}
	}
}

// NewAuditor starts the worker. Call Close to flush and stop it.
func NewAuditor(logger logrus.FieldLogger, sinks []interfaces.AuditSink, opts ...AuditorOption) *Auditor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	a := &Auditor{
		sinks:    sinks,
		queue:    make(chan events.AuditEvent, DefaultQueueSize),
		logger:   logger,
		onDrop:   func() {},
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.worker()
	return a
}

func (a *Auditor) Record(event events.AuditEvent) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed.Load() {
		a.drop(event, "auditor closed")
		return
	}
	select {
	case a.queue <- event:
	default:
		a.drop(event, "audit queue full")
	}
}

// Dropped returns how many events never reached the sinks.
func (a *Auditor) Dropped() int64 {
	return a.dropped.Load()
}

func (a *Auditor) drop(event events.AuditEvent, reason string) {
	a.dropped.Inc()
	a.onDrop()
	a.logger.WithFields(logrus.Fields{
		"event_id":   event.ID.String(),
		"operation":  event.Operation,
		"account_id": event.AccountID,
	}).Warn(reason)
}

func (a *Auditor) worker() {
	defer close(a.done)
	for {
		select {
		case event := <-a.queue:
			a.dispatch(event)
		case <-a.shutdown:
			// drain whatever was queued before Close
			for {
				select {
				case event := <-a.queue:
					a.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (a *Auditor) dispatch(event events.AuditEvent) {
	for _, sink := range a.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := sink.Write(ctx, event)
		cancel()
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"sink":      sink.Name(),
				"event_id":  event.ID.String(),
				"operation": event.Operation,
			}).WithError(err).Error("failed to write audit event")
		}
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
func (a *Auditor) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed.Swap(true) {
		a.mu.Unlock()
		return nil
	}
	close(a.shutdown)
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
