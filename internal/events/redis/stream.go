package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	interfaces "github.com/sheikh-saqib/banking-ledger/internal/interfaces"
	"github.com/sheikh-saqib/banking-ledger/internal/models"
	"github.com/sheikh-saqib/banking-ledger/internal/models/events"
)

const (
	DefaultStream = "ledger:audit"
	// approximate cap on stream length
	defaultMaxLen = 100_000
)

type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// StreamSink appends audit events to a Redis stream.
type StreamSink struct {
	client streamClient
	stream string
	maxLen int64
}

// NewStreamSink connects to addr and checks the connection before returning.
func NewStreamSink(ctx context.Context, addr, password, stream string) (*StreamSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if stream == "" {
		stream = DefaultStream
	}
	return &StreamSink{client: client, stream: stream, maxLen: defaultMaxLen}, nil
}

func (s *StreamSink) Name() string { return "redis" }

func (s *StreamSink) Write(ctx context.Context, event events.AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event_id":   event.ID.String(),
			"operation":  event.Operation,
			"account_id": event.AccountID,
			"amount":     models.FormatMoney(event.Amount),
			"outcome":    string(event.Outcome),
			"payload":    payload,
		},
	}).Err()
}

func (s *StreamSink) Close() error {
	return s.client.Close()
}

var _ interfaces.AuditSink = (*StreamSink)(nil)
