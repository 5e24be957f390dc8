package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredledger/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	msgs []*models.OutboxMessage
	err  error
}

func (s *recordingSink) EnqueueEvent(ctx context.Context, msg *models.OutboxMessage) error {
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func newTestUpdater() *Updater {
	log := logrus.New()
	log.SetOutput(io.Discard)
	u := NewUpdater(log)
	u.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	return u
}

func settledInstallment(loanID uuid.UUID, seq int) *models.Installment {
	due := models.Buckets{Principal: decimal.NewFromInt(100), Interest: decimal.NewFromInt(10)}
	return &models.Installment{ID: uuid.New(), LoanID: loanID, SequenceNumber: seq, Due: due, Paid: due}
}

func TestCanTransitionInstallment(t *testing.T) {
	assert.True(t, CanTransitionInstallment(models.InstallmentStatusOpen, models.InstallmentStatusPartiallyPaid))
	assert.True(t, CanTransitionInstallment(models.InstallmentStatusOpen, models.InstallmentStatusSettled))
	assert.True(t, CanTransitionInstallment(models.InstallmentStatusPartiallyPaid, models.InstallmentStatusPartiallyPaid))
	assert.False(t, CanTransitionInstallment(models.InstallmentStatusSettled, models.InstallmentStatusPartiallyPaid))
	assert.False(t, CanTransitionInstallment(models.InstallmentStatusPartiallyPaid, models.InstallmentStatusOpen))
	assert.False(t, CanTransitionInstallment("UNKNOWN", models.InstallmentStatusOpen))
}

func TestOnInstallmentSettled_EmitsEvent(t *testing.T) {
	u := newTestUpdater()
	sink := &recordingSink{}
	loan := &models.Loan{ID: uuid.New(), CustomerKey: "cust-1", Status: models.LoanStatusActive}
	inst := settledInstallment(loan.ID, 1)

	require.NoError(t, u.OnInstallmentSettled(context.Background(), sink, loan, inst))

	require.Len(t, sink.msgs, 1)
	msg := sink.msgs[0]
	assert.Equal(t, models.EventInstallmentSettled, msg.EventType)
	assert.Equal(t, loan.ID.String(), msg.Key)

	var ev models.DomainEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &ev))
	assert.Equal(t, loan.ID, ev.LoanID)
	require.NotNil(t, ev.InstallmentID)
	assert.Equal(t, inst.ID, *ev.InstallmentID)
	assert.Equal(t, "cust-1", ev.CustomerKey)
}

func TestOnInstallmentSettled_RejectsUnsettled(t *testing.T) {
	u := newTestUpdater()
	sink := &recordingSink{}
	loan := &models.Loan{ID: uuid.New()}
	inst := settledInstallment(loan.ID, 1)
	inst.Paid.Interest = decimal.NewFromInt(5)

	err := u.OnInstallmentSettled(context.Background(), sink, loan, inst)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, sink.msgs)
}

func TestOnLoanFullySettled(t *testing.T) {
	u := newTestUpdater()
	sink := &recordingSink{}
	loan := &models.Loan{ID: uuid.New(), Status: models.LoanStatusActive}
	insts := []*models.Installment{settledInstallment(loan.ID, 1), settledInstallment(loan.ID, 2)}

	require.NoError(t, u.OnLoanFullySettled(context.Background(), sink, loan, insts))

	assert.Equal(t, models.LoanStatusPaidOff, loan.Status)
	assert.Equal(t, u.now(), loan.UpdatedAt)
	require.Len(t, sink.msgs, 1)
	assert.Equal(t, models.EventLoanPaidOff, sink.msgs[0].EventType)
}

func TestOnLoanFullySettled_Guards(t *testing.T) {
	u := newTestUpdater()

	t.Run("unsettled installment", func(t *testing.T) {
		sink := &recordingSink{}
		loan := &models.Loan{ID: uuid.New(), Status: models.LoanStatusActive}
		open := settledInstallment(loan.ID, 2)
		open.Paid = models.Buckets{}

		err := u.OnLoanFullySettled(context.Background(), sink, loan, []*models.Installment{settledInstallment(loan.ID, 1), open})
		assert.ErrorIs(t, err, ErrLoanNotSettled)
		assert.Equal(t, models.LoanStatusActive, loan.Status)
		assert.Empty(t, sink.msgs)
	})

	t.Run("already paid off", func(t *testing.T) {
		sink := &recordingSink{}
		loan := &models.Loan{ID: uuid.New(), Status: models.LoanStatusPaidOff}

		err := u.OnLoanFullySettled(context.Background(), sink, loan, nil)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Empty(t, sink.msgs)
	})

	t.Run("sink failure", func(t *testing.T) {
		sink := &recordingSink{err: errors.New("outbox down")}
		loan := &models.Loan{ID: uuid.New(), Status: models.LoanStatusActive}

		err := u.OnLoanFullySettled(context.Background(), sink, loan, []*models.Installment{settledInstallment(loan.ID, 1)})
		assert.Error(t, err)
	})
}
