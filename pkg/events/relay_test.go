package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredledger/pkg/models"
	"github.com/mcclellann/fredledger/pkg/store"
	skafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWriter records messages and fails every message past the first
// failAfter written. A negative failAfter never fails.
type fakeWriter struct {
	msgs      []skafka.Message
	calls     int
	failAfter int
	closed    bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...skafka.Message) error {
	f.calls++
	if f.failAfter < 0 {
		f.msgs = append(f.msgs, msgs...)
		return nil
	}
	if len(f.msgs) >= f.failAfter {
		return errors.New("broker unavailable")
	}
	werrs := make(skafka.WriteErrors, len(msgs))
	failed := false
	for i, m := range msgs {
		if len(f.msgs) >= f.failAfter {
			werrs[i] = errors.New("broker unavailable")
			failed = true
			continue
		}
		f.msgs = append(f.msgs, m)
	}
	if failed {
		return werrs
	}
	return nil
}

// slowPublisher counts deliveries per message and takes delay per batch.
type slowPublisher struct {
	mu    sync.Mutex
	delay time.Duration
	sent  map[uuid.UUID]int
}

func (p *slowPublisher) Publish(ctx context.Context, msgs ...*models.OutboxMessage) (int, error) {
	time.Sleep(p.delay)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		p.sent[m.ID]++
	}
	return len(msgs), nil
}

func (p *slowPublisher) Close() error { return nil }

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func enqueue(t *testing.T, s *store.MemoryStore, n int) []uuid.UUID {
	t.Helper()
	loanID := uuid.New()
	var ids []uuid.UUID
	require.NoError(t, s.WithTx(context.Background(), func(tx store.Tx) error {
		for i := 0; i < n; i++ {
			payload, _ := json.Marshal(models.DomainEvent{Type: models.EventInstallmentSettled, LoanID: loanID})
			msg := &models.OutboxMessage{
				ID:        uuid.New(),
				Key:       loanID.String(),
				EventType: models.EventInstallmentSettled,
				Payload:   payload,
				CreatedAt: time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
			}
			if err := tx.EnqueueEvent(context.Background(), msg); err != nil {
				return err
			}
			ids = append(ids, msg.ID)
		}
		return nil
	}))
	return ids
}

func TestKafkaProducer_Publish(t *testing.T) {
	fw := &fakeWriter{failAfter: -1}
	p := NewKafkaProducerWithWriter(fw)
	msg := &models.OutboxMessage{ID: uuid.New(), Key: "loan-1", EventType: models.EventLoanPaidOff, Payload: []byte(`{}`)}

	n, err := p.Publish(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, fw.msgs, 1)
	assert.Equal(t, []byte("loan-1"), fw.msgs[0].Key)
	assert.Equal(t, []byte(`{}`), fw.msgs[0].Value)
	require.Len(t, fw.msgs[0].Headers, 1)
	assert.Equal(t, "loan.paid_off", string(fw.msgs[0].Headers[0].Value))

	require.NoError(t, p.Close())
	assert.True(t, fw.closed)
}

func TestRelay_FlushPublishesInOrder(t *testing.T) {
	s := store.NewMemoryStore()
	enqueue(t, s, 3)
	fw := &fakeWriter{failAfter: -1}
	r := NewRelay(s, NewKafkaProducerWithWriter(fw), 10, quietLogger())

	n, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, fw.msgs, 3)
	assert.Equal(t, 1, fw.calls, "one write per batch")

	pending, err := s.PendingOutbox(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err = r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, fw.msgs, 3, "published messages are not sent twice")
}

func TestRelay_StopsAtFailureAndResumes(t *testing.T) {
	s := store.NewMemoryStore()
	ids := enqueue(t, s, 3)
	fw := &fakeWriter{failAfter: 1}
	r := NewRelay(s, NewKafkaProducerWithWriter(fw), 10, quietLogger())

	n, err := r.Flush(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, n)

	pending, err := s.PendingOutbox(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, ids[1], pending[0].ID)

	fw.failAfter = -1
	n, err = r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, fw.msgs, 3)
}

func TestRelay_BatchSize(t *testing.T) {
	s := store.NewMemoryStore()
	enqueue(t, s, 5)
	r := NewRelay(s, LogPublisher{Log: quietLogger()}, 2, quietLogger())

	n, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := s.PendingOutbox(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestKafkaProducer_PartialBatchFailure(t *testing.T) {
	fw := &fakeWriter{failAfter: 2}
	p := NewKafkaProducerWithWriter(fw)
	msgs := []*models.OutboxMessage{
		{ID: uuid.New(), Key: "a"},
		{ID: uuid.New(), Key: "b"},
		{ID: uuid.New(), Key: "c"},
	}

	n, err := p.Publish(context.Background(), msgs...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), msgs[2].ID.String())
	assert.Equal(t, 2, n)
}

func TestRelay_OverlappingFlushesPublishOnce(t *testing.T) {
	s := store.NewMemoryStore()
	ids := enqueue(t, s, 5)
	pub := &slowPublisher{delay: 50 * time.Millisecond, sent: make(map[uuid.UUID]int)}
	r := NewRelay(s, pub, 10, quietLogger())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Flush(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, pub.sent, len(ids))
	for _, id := range ids {
		assert.Equal(t, 1, pub.sent[id], "message %s", id)
	}
}
