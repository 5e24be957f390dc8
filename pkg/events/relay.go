package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredledger/pkg/models"
	"github.com/sirupsen/logrus"
)

const defaultBatchSize = 100

// OutboxStore is the part of the store the relay reads and marks.
type OutboxStore interface {
	PendingOutbox(ctx context.Context, limit int) ([]*models.OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Relay moves committed outbox messages to the publisher. Flushes are
// serialized so a row is never sent by two overlapping runs.
type Relay struct {
	mu        sync.Mutex
	store     OutboxStore
	publisher Publisher
	batchSize int
	log       *logrus.Logger
	now       func() time.Time
}

// NewRelay creates a relay reading up to batchSize rows per flush.
func NewRelay(s OutboxStore, p Publisher, batchSize int, log *logrus.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Relay{store: s, publisher: p, batchSize: batchSize, log: log, now: time.Now}
}

// Flush publishes one batch in creation order. It stops at the first publish
// failure; whatever was not marked is picked up by the next call.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs, err := r.store.PendingOutbox(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read outbox: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	delivered, pubErr := r.publisher.Publish(ctx, msgs...)
	if pubErr != nil {
		fields := logrus.Fields{"delivered": delivered, "batch": len(msgs)}
		if delivered < len(msgs) {
			fields["message_id"] = msgs[delivered].ID
			fields["event_type"] = msgs[delivered].EventType
		}
		r.log.WithError(pubErr).WithFields(fields).Error("Failed to publish outbox message")
	}

	published := make([]uuid.UUID, 0, delivered)
	for _, msg := range msgs[:delivered] {
		published = append(published, msg.ID)
	}

	if len(published) > 0 {
		if err := r.store.MarkOutboxPublished(ctx, published, r.now().UTC()); err != nil {
			return 0, fmt.Errorf("failed to mark outbox published: %w", err)
		}
		r.log.WithField("count", len(published)).Info("Outbox messages published")
	}
	return len(published), pubErr
}
