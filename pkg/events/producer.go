package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcclellann/fredledger/pkg/models"
	skafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const eventTypeHeader = "event_type"

// Writer is the subset of kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// Publisher delivers outbox messages to downstream consumers. Publish
// reports how many leading messages were delivered before the first failure.
type Publisher interface {
	Publish(ctx context.Context, msgs ...*models.OutboxMessage) (int, error)
	Close() error
}

// KafkaProducer publishes outbox messages to a single topic, keyed by loan id
// so events for a loan stay ordered within a partition.
type KafkaProducer struct {
	writer Writer
}

// NewKafkaProducer builds a synchronous writer that flushes after batchSize
// messages or 10ms, whichever comes first.
func NewKafkaProducer(brokers []string, topic string, batchSize int) *KafkaProducer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	w := &skafka.Writer{
		Addr:         skafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &skafka.Hash{},
		RequiredAcks: skafka.RequireAll,
		BatchSize:    batchSize,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaProducer{writer: w}
}

// NewKafkaProducerWithWriter allows injecting a test writer.
func NewKafkaProducerWithWriter(w Writer) *KafkaProducer {
	return &KafkaProducer{writer: w}
}

// Publish writes msgs in a single WriteMessages call.
func (p *KafkaProducer) Publish(ctx context.Context, msgs ...*models.OutboxMessage) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	kms := make([]skafka.Message, len(msgs))
	for i, msg := range msgs {
		kms[i] = skafka.Message{
			Key:   []byte(msg.Key),
			Value: msg.Payload,
			Time:  msg.CreatedAt,
			Headers: []skafka.Header{
				{Key: eventTypeHeader, Value: []byte(msg.EventType)},
			},
		}
	}

	err := p.writer.WriteMessages(ctx, kms...)
	if err == nil {
		return len(msgs), nil
	}
	var werrs skafka.WriteErrors
	if !errors.As(err, &werrs) {
		return 0, fmt.Errorf("kafka write of %d messages: %w", len(msgs), err)
	}
	delivered := 0
	for _, e := range werrs {
		if e != nil {
			return delivered, fmt.Errorf("kafka write %s: %w", msgs[delivered].ID, e)
		}
		delivered++
	}
	return delivered, nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	Log *logrus.Logger
}

// Publish logs every message and reports them all delivered.
func (p LogPublisher) Publish(ctx context.Context, msgs ...*models.OutboxMessage) (int, error) {
	for _, msg := range msgs {
		p.Log.WithFields(logrus.Fields{
			"event_type": msg.EventType,
			"key":        msg.Key,
			"payload":    string(msg.Payload),
		}).Info("Domain event")
	}
	return len(msgs), nil
}

// Close is a no-op.
func (LogPublisher) Close() error { return nil }
