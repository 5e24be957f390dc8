package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredledger/pkg/models"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrLoanNotSettled    = errors.New("loan has unsettled installments")
)

// Sink receives domain events. A store transaction satisfies it, which puts
// the event in the outbox in the same commit as the ledger change.
type Sink interface {
	EnqueueEvent(ctx context.Context, msg *models.OutboxMessage) error
}

var installmentRank = map[models.InstallmentStatus]int{
	models.InstallmentStatusOpen:          0,
	models.InstallmentStatusPartiallyPaid: 1,
	models.InstallmentStatusSettled:       2,
}

// CanTransitionInstallment reports whether an installment may move from one
// status to another. Staying put is allowed; going back is not.
func CanTransitionInstallment(from, to models.InstallmentStatus) bool {
	f, okFrom := installmentRank[from]
	t, okTo := installmentRank[to]
	return okFrom && okTo && t >= f
}

// Updater flips installment and loan statuses and emits the matching events.
// It does not perform the downstream actions itself.
type Updater struct {
	log *logrus.Logger
	now func() time.Time
}

// NewUpdater creates a status updater.
func NewUpdater(log *logrus.Logger) *Updater {
	return &Updater{log: log, now: time.Now}
}

// OnInstallmentSettled emits installment.settled. inst must already be settled.
func (u *Updater) OnInstallmentSettled(ctx context.Context, sink Sink, loan *models.Loan, inst *models.Installment) error {
	if !inst.IsSettled() {
		return fmt.Errorf("%w: installment %s is %s", ErrInvalidTransition, inst.ID, inst.DeriveStatus())
	}
	id := inst.ID
	ev := models.DomainEvent{
		Type:          models.EventInstallmentSettled,
		LoanID:        loan.ID,
		InstallmentID: &id,
		CustomerKey:   loan.CustomerKey,
		Status:        string(models.InstallmentStatusSettled),
		OccurredAt:    u.now().UTC(),
	}
	if err := u.emit(ctx, sink, ev); err != nil {
		return err
	}
	u.log.WithFields(logrus.Fields{
		"loan_id":        loan.ID,
		"installment_id": inst.ID,
		"sequence":       inst.SequenceNumber,
	}).Info("Installment settled")
	return nil
}

// OnLoanFullySettled moves the loan from ACTIVE to PAID_OFF and emits
// loan.paid_off. The caller persists the loan.
func (u *Updater) OnLoanFullySettled(ctx context.Context, sink Sink, loan *models.Loan, installments []*models.Installment) error {
	if loan.Status != models.LoanStatusActive {
		return fmt.Errorf("%w: loan %s is %s", ErrInvalidTransition, loan.ID, loan.Status)
	}
	for _, inst := range installments {
		if !inst.IsSettled() {
			return fmt.Errorf("%w: installment %d of loan %s", ErrLoanNotSettled, inst.SequenceNumber, loan.ID)
		}
	}

	now := u.now().UTC()
	loan.Status = models.LoanStatusPaidOff
	loan.UpdatedAt = now

	ev := models.DomainEvent{
		Type:        models.EventLoanPaidOff,
		LoanID:      loan.ID,
		CustomerKey: loan.CustomerKey,
		Status:      string(models.LoanStatusPaidOff),
		OccurredAt:  now,
	}
	if err := u.emit(ctx, sink, ev); err != nil {
		return err
	}
	u.log.WithFields(logrus.Fields{
		"loan_id":      loan.ID,
		"customer_key": loan.CustomerKey,
	}).Info("Loan paid off")
	return nil
}

func (u *Updater) emit(ctx context.Context, sink Sink, ev models.DomainEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.Type, err)
	}
	msg := &models.OutboxMessage{
		ID:        uuid.New(),
		Key:       ev.LoanID.String(),
		EventType: ev.Type,
		Payload:   payload,
		CreatedAt: ev.OccurredAt,
	}
	if err := sink.EnqueueEvent(ctx, msg); err != nil {
		return fmt.Errorf("failed to emit %s event: %w", ev.Type, err)
	}
	return nil
}
