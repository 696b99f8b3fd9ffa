package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	interfaces "github.com/sheikh-saqib/banking-ledger/internal/interfaces"
	"github.com/sheikh-saqib/banking-ledger/internal/models/events"
)

const DefaultTopic = "ledger.audit"

// batchTimeout bounds how long a synchronous write waits for a partial batch.
// kafka-go defaults to one second, which would stall the audit worker.
const batchTimeout = 10 * time.Millisecond

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends audit events to Kafka, keyed by account id so the events of
// one account stay ordered within a partition.
type Publisher struct {
	writer messageWriter
}

func NewPublisher(brokers []string, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: batchTimeout,
		},
	}
}

func (p *Publisher) Name() string { return "kafka" }

func (p *Publisher) Write(ctx context.Context, event events.AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(event.AccountID, 10)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "operation", Value: []byte(event.Operation)},
			{Key: "outcome", Value: []byte(event.Outcome)},
		},
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ interfaces.AuditSink = (*Publisher)(nil)
