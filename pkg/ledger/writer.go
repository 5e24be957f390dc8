package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredledger/pkg/allocation"
	"github.com/mcclellann/fredledger/pkg/models"
	"github.com/mcclellann/fredledger/pkg/status"
	"github.com/mcclellann/fredledger/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// PaymentRef identifies the inbound payment an allocation came from.
// Method is stored as given.
type PaymentRef struct {
	Ref    string
	Method string
}

// LateFeeConfig controls late fee assessment.
type LateFeeConfig struct {
	Percent   decimal.Decimal // Of principal plus interest due
	Cap       decimal.Decimal // Zero means no cap
	GraceDays int
}

// Applied is what a plan did to the ledger.
type Applied struct {
	Events      []*models.PaymentEvent
	Settled     []*models.Installment
	LoanPaidOff bool
}

// Writer is the only component that mutates installments.
type Writer struct {
	store   store.Storage
	status  *status.Updater
	lateFee LateFeeConfig
	scale   int32
	log     *logrus.Logger
	now     func() time.Time
}

// NewWriter creates a Writer rounding computed amounts to scale places.
func NewWriter(s store.Storage, updater *status.Updater, lateFee LateFeeConfig, scale int32, log *logrus.Logger) *Writer {
	return &Writer{store: s, status: updater, lateFee: lateFee, scale: scale, log: log, now: time.Now}
}

// Apply commits plan in its own transaction.
func (w *Writer) Apply(ctx context.Context, plan allocation.Plan, ref PaymentRef, eventDate time.Time) ([]*models.PaymentEvent, error) {
	if len(plan.Entries) == 0 {
		return nil, nil
	}
	var events []*models.PaymentEvent
	err := w.store.WithTx(ctx, func(tx store.Tx) error {
		loan, err := tx.LockLoan(ctx, plan.Entries[0].LoanID)
		if err != nil {
			return err
		}
		applied, err := w.ApplyTx(ctx, tx, loan, plan, ref, eventDate)
		if err != nil {
			return err
		}
		events = applied.Events
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ApplyTx writes plan inside tx: installment updates, one payment event per
// entry, the account balance and any status transitions. The caller commits.
func (w *Writer) ApplyTx(ctx context.Context, tx store.Tx, loan *models.Loan, plan allocation.Plan, ref PaymentRef, eventDate time.Time) (*Applied, error) {
	now := w.now().UTC()
	applied := &Applied{}

	for _, e := range plan.Entries {
		if e.LoanID != loan.ID {
			return nil, fmt.Errorf("%w: installment %s is on loan %s, not %s", ErrPlanMismatch, e.InstallmentID, e.LoanID, loan.ID)
		}
		if isNegative(e.Delta) {
			return nil, fmt.Errorf("%w: negative delta for installment %s", ErrInvalidAmount, e.InstallmentID)
		}

		inst, err := tx.GetInstallment(ctx, e.InstallmentID)
		if err != nil {
			return nil, err
		}
		if inst.Version != e.ExpectedVersion {
			return nil, fmt.Errorf("%w: installment %s at version %d, plan expected %d",
				store.ErrConcurrentModification, inst.ID, inst.Version, e.ExpectedVersion)
		}

		wasSettled := inst.IsSettled()
		paid := inst.Paid.Add(e.Delta)
		if exceeds(paid, inst.Due) {
			return nil, fmt.Errorf("%w: installment %d of loan %s", ErrOverAllocation, inst.SequenceNumber, loan.ID)
		}
		inst.Paid = paid

		next := inst.DeriveStatus()
		if !status.CanTransitionInstallment(inst.Status, next) {
			return nil, fmt.Errorf("%w: installment %s from %s to %s", status.ErrInvalidTransition, inst.ID, inst.Status, next)
		}
		inst.Status = next
		inst.UpdatedAt = now
		settledNow := next == models.InstallmentStatusSettled && !wasSettled
		if settledNow {
			t := now
			inst.PaidOffAt = &t
		}

		if err := tx.UpdateInstallment(ctx, inst, e.ExpectedVersion); err != nil {
			return nil, err
		}

		ev := &models.PaymentEvent{
			ID:            uuid.New(),
			LoanID:        loan.ID,
			InstallmentID: inst.ID,
			CustomerKey:   loan.CustomerKey,
			PaymentRef:    ref.Ref,
			PaymentMethod: ref.Method,
			Amount:        e.Delta.Total(),
			Allocated:     e.Delta,
			EventDate:     eventDate,
			CreatedAt:     now,
		}
		if err := tx.CreatePaymentEvent(ctx, ev); err != nil {
			return nil, err
		}
		if err := tx.AddToAccountBalance(ctx, loan.CustomerKey, e.Delta, now); err != nil {
			return nil, err
		}
		applied.Events = append(applied.Events, ev)

		if settledNow {
			if err := w.status.OnInstallmentSettled(ctx, tx, loan, inst); err != nil {
				return nil, err
			}
			applied.Settled = append(applied.Settled, inst)
		}
	}

	if len(applied.Settled) > 0 && loan.Status == models.LoanStatusActive {
		all, err := tx.GetInstallments(ctx, loan.ID)
		if err != nil {
			return nil, err
		}
		if allSettled(all) {
			if err := w.status.OnLoanFullySettled(ctx, tx, loan, all); err != nil {
				return nil, err
			}
			if err := tx.UpdateLoan(ctx, loan); err != nil {
				return nil, err
			}
			applied.LoanPaidOff = true
		}
	}

	return applied, nil
}

// AssessLateFees charges a late fee on every unsettled installment of an
// active loan that is more than GraceDays past due and has no fee yet.
// It returns the number of installments charged.
func (w *Writer) AssessLateFees(ctx context.Context, asOf time.Time) (int, error) {
	if !w.lateFee.Percent.IsPositive() {
		return 0, nil
	}

	loans, err := w.store.GetAllActiveLoans(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get active loans: %w", err)
	}

	count := 0
	for _, loan := range loans {
		insts, err := w.store.GetOutstandingInstallments(ctx, loan.ID)
		if err != nil {
			return count, fmt.Errorf("failed to get installments for loan %s: %w", loan.ID, err)
		}
		for _, inst := range insts {
			if !inst.DueDate.AddDate(0, 0, w.lateFee.GraceDays).Before(asOf) || !inst.Due.LateFee.IsZero() {
				continue
			}
			fee := w.lateFeeFor(inst.Due)
			if !fee.IsPositive() {
				continue
			}

			charged, err := w.chargeLateFee(ctx, inst, fee)
			if errors.Is(err, store.ErrConcurrentModification) {
				w.log.WithFields(logrus.Fields{
					"loan_id":        loan.ID,
					"installment_id": inst.ID,
				}).Warn("Installment changed during late fee assessment, will retry next run")
				continue
			}
			if err != nil {
				return count, err
			}
			if charged {
				count++
				w.log.WithFields(logrus.Fields{
					"loan_id":  loan.ID,
					"sequence": inst.SequenceNumber,
					"late_fee": fee.String(),
				}).Info("Late fee assessed")
			}
		}
	}
	return count, nil
}

func (w *Writer) chargeLateFee(ctx context.Context, seen *models.Installment, fee decimal.Decimal) (bool, error) {
	charged := false
	err := w.store.WithTx(ctx, func(tx store.Tx) error {
		inst, err := tx.GetInstallment(ctx, seen.ID)
		if err != nil {
			return err
		}
		if inst.Version != seen.Version {
			return store.ErrConcurrentModification
		}
		if inst.IsSettled() || !inst.Due.LateFee.IsZero() {
			return nil
		}
		inst.Due.LateFee = fee
		inst.Status = inst.DeriveStatus()
		inst.UpdatedAt = w.now().UTC()
		if err := tx.UpdateInstallment(ctx, inst, seen.Version); err != nil {
			return err
		}
		charged = true
		return nil
	})
	return charged, err
}

func (w *Writer) lateFeeFor(due models.Buckets) decimal.Decimal {
	fee := due.Principal.Add(due.Interest).Mul(w.lateFee.Percent).Round(w.scale)
	if w.lateFee.Cap.IsPositive() && fee.GreaterThan(w.lateFee.Cap) {
		return w.lateFee.Cap
	}
	return fee
}

func exceeds(paid, due models.Buckets) bool {
	return paid.Principal.GreaterThan(due.Principal) ||
		paid.Interest.GreaterThan(due.Interest) ||
		paid.LateFee.GreaterThan(due.LateFee)
}

func isNegative(b models.Buckets) bool {
	return b.Principal.IsNegative() || b.Interest.IsNegative() || b.LateFee.IsNegative()
}

func allSettled(insts []*models.Installment) bool {
	for _, inst := range insts {
		if !inst.IsSettled() {
			return false
		}
	}
	return len(insts) > 0
}
