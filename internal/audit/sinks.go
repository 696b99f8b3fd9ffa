package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	interfaces "github.com/sheikh-saqib/banking-ledger/internal/interfaces"
	"github.com/sheikh-saqib/banking-ledger/internal/models"
	"github.com/sheikh-saqib/banking-ledger/internal/models/events"
)

// LogSink writes one JSON line per event, at the event's level.
type LogSink struct {
	mu     sync.Mutex // one event at a time, so out.err belongs to it
	logger *logrus.Logger
	out    *failureWriter
	closer io.Closer
}

// failureWriter remembers the last write error; logrus itself only reports it on stderr.
type failureWriter struct {
	w   io.Writer
	err error
}

func (f *failureWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		f.err = err
	}
	return n, err
}

// NewLogSink appends to path, creating parent directories as needed.
func NewLogSink(path string) (*LogSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	sink := NewWriterSink(f)
	sink.closer = f
	return sink, nil
}

// NewWriterSink writes events to w.
func NewWriterSink(w io.Writer) *LogSink {
	out := &failureWriter{w: w}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.JSONFormatter{})
	return &LogSink{logger: logger, out: out}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, event events.AuditEvent) error {
	fields := logrus.Fields{
		"event_id":   event.ID.String(),
		"operation":  event.Operation,
		"account_id": event.AccountID,
		"amount":     models.FormatMoney(event.Amount),
		"outcome":    string(event.Outcome),
	}
	if event.RelatedAccountID != nil {
		fields["related_account_id"] = *event.RelatedAccountID
	}
	entry := s.logger.WithFields(fields).WithTime(event.OccurredAt)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.out.err = nil

	switch event.Level {
	case events.LevelError:
		entry.Error(event.Message)
	case events.LevelWarning:
		entry.Warn(event.Message)
	default:
		entry.Info(event.Message)
	}
	if s.out.err != nil {
		return fmt.Errorf("write audit log: %w", s.out.err)
	}
	return nil
}

func (s *LogSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// MemorySink keeps every event it receives.
type MemorySink struct {
	mu     sync.Mutex
	events []events.AuditEvent
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Name() string { return "memory" }

func (s *MemorySink) Write(_ context.Context, event events.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of what has been written so far.
func (s *MemorySink) Events() []events.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}

var (
	_ interfaces.AuditSink = (*LogSink)(nil)
	_ interfaces.AuditSink = (*MemorySink)(nil)
)
