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
	"github.com/mcclellann/fredledger/pkg/wallet"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Config holds the ledger's tunables.
type Config struct {
	MaxRetries int   // Extra attempts after a concurrent modification
	Scale      int32 // Decimal places kept on computed amounts
	LateFee    LateFeeConfig
}

// InFlightGuard marks a payment ref as being processed across processes.
type InFlightGuard interface {
	Acquire(ctx context.Context, ref string) (bool, error)
	Release(ctx context.Context, ref string) error
}

// Result describes a processed payment.
type Result struct {
	Receipt             *models.PaymentReceipt `json:"receipt,omitempty"`
	Events              []*models.PaymentEvent `json:"events"`
	WalletCredit        *models.WalletCredit   `json:"wallet_credit,omitempty"`
	SettledInstallments []uuid.UUID            `json:"settled_installments"`
	LoanPaidOff         bool                   `json:"loan_paid_off"`
	NoOutstanding       bool                   `json:"no_outstanding"`
}

// Ledger handles the business logic for loans and their repayments.
type Ledger struct {
	storage   store.Storage
	allocator *allocation.Allocator
	writer    *Writer
	wallet    *wallet.Handler
	guard     InFlightGuard
	inflight  singleflight.Group
	cfg       Config
	log       *logrus.Logger
	now       func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithGuard adds a cross-process in-flight check on payment refs.
func WithGuard(g InFlightGuard) Option {
	return func(l *Ledger) { l.guard = g }
}

// WithAllocator replaces the default waterfall, e.g. with waivers applied.
func WithAllocator(a *allocation.Allocator) Option {
	return func(l *Ledger) { l.allocator = a }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, cfg Config, log *logrus.Logger, opts ...Option) *Ledger {
	if cfg.Scale == 0 {
		cfg.Scale = 2
	}
	l := &Ledger{
		storage:   s,
		allocator: allocation.New(),
		writer:    NewWriter(s, status.NewUpdater(log), cfg.LateFee, cfg.Scale, log),
		wallet:    wallet.NewHandler(s, log),
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateLoan stores a new loan together with its installment schedule.
func (l *Ledger) CreateLoan(ctx context.Context, in CreateLoanInput) (*models.Loan, []*models.Installment, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}

	now := l.now().UTC()
	loan := &models.Loan{
		ID:                  uuid.New(),
		CustomerKey:         in.CustomerKey,
		ProductLine:         in.ProductLine,
		Principal:           in.Principal,
		MonthlyInterestRate: in.MonthlyInterestRate,
		TenureMonths:        in.TenureMonths,
		Status:              models.LoanStatusActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	firstDue := in.FirstDueDate
	if firstDue.IsZero() {
		firstDue = firstDueDate(now)
	}
	schedule := buildSchedule(loan, firstDue, l.cfg.Scale)

	if err := l.storage.CreateLoan(ctx, loan, schedule); err != nil {
		return nil, nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.log.WithFields(logrus.Fields{
		"loan_id":      loan.ID,
		"customer_key": loan.CustomerKey,
		"principal":    loan.Principal.String(),
		"tenure":       loan.TenureMonths,
	}).Info("Loan created")
	return loan, schedule, nil
}

// ProcessPayment allocates an inbound payment to the loan's installments and
// credits any remainder to the customer's wallet, all in one transaction.
func (l *Ledger) ProcessPayment(ctx context.Context, n models.PaymentNotification) (*Result, error) {
	if n.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, n.Amount)
	}
	if n.PaymentRef == "" {
		return nil, ErrMissingPaymentRef
	}
	if n.Amount.IsZero() {
		l.log.WithField("payment_ref", n.PaymentRef).Info("Zero amount payment ignored")
		return &Result{}, nil
	}

	// Only the caller whose fn ran owns the result. Callers that joined an
	// in-flight call for the same ref did not have their payment applied.
	leader := false
	v, err, _ := l.inflight.Do(n.PaymentRef, func() (any, error) {
		leader = true
		return l.process(ctx, n)
	})
	if !leader {
		return nil, ErrPaymentInProgress
	}
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (l *Ledger) process(ctx context.Context, n models.PaymentNotification) (*Result, error) {
	logger := l.log.WithFields(logrus.Fields{
		"loan_id":     n.LoanID,
		"payment_ref": n.PaymentRef,
	})

	if l.guard != nil {
		ok, err := l.guard.Acquire(ctx, n.PaymentRef)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire payment guard: %w", err)
		}
		if !ok {
			return nil, ErrPaymentInProgress
		}
		defer func() {
			if err := l.guard.Release(context.WithoutCancel(ctx), n.PaymentRef); err != nil {
				logger.WithError(err).Warn("Failed to release payment guard")
			}
		}()
	}

	if _, err := l.storage.GetReceipt(ctx, n.PaymentRef); err == nil {
		return nil, ErrDuplicatePayment
	} else if !errors.Is(err, store.ErrReceiptNotFound) {
		return nil, fmt.Errorf("failed to check payment ref: %w", err)
	}

	eventDate := n.EventDate
	if eventDate.IsZero() {
		eventDate = l.now().UTC()
	}

	attempts := l.cfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := l.attempt(ctx, n, eventDate, logger)
		if errors.Is(err, store.ErrConcurrentModification) {
			logger.WithError(err).WithField("attempt", attempt).Warn("Concurrent modification, retrying from a fresh read")
			continue
		}
		if err != nil {
			return nil, err
		}
		logger.WithFields(logrus.Fields{
			"amount":    n.Amount.String(),
			"allocated": res.Receipt.Allocated.String(),
			"remainder": res.Receipt.Remainder.String(),
		}).Info("Payment processed")
		return res, nil
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts", store.ErrConcurrentModification, attempts)
}

func (l *Ledger) attempt(ctx context.Context, n models.PaymentNotification, eventDate time.Time, logger *logrus.Entry) (*Result, error) {
	loan, err := l.storage.GetLoan(ctx, n.LoanID)
	if err != nil {
		return nil, err
	}

	var insts []*models.Installment
	if loan.Status == models.LoanStatusActive {
		insts, err = l.storage.GetOutstandingInstallments(ctx, loan.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get outstanding installments: %w", err)
		}
	}

	plan, err := l.allocator.Allocate(n.Amount, insts)
	if err != nil {
		return nil, err
	}

	res := &Result{NoOutstanding: len(insts) == 0}
	if res.NoOutstanding {
		logger.WithError(ErrNoOutstandingInstallments).WithField("loan_status", loan.Status).
			Warn("Nothing to allocate, crediting payment to wallet")
	}

	ref := PaymentRef{Ref: n.PaymentRef, Method: n.PaymentMethod}
	err = l.storage.WithTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockLoan(ctx, loan.ID)
		if err != nil {
			return err
		}
		if locked.Version != loan.Version {
			return fmt.Errorf("%w: loan %s changed since read", store.ErrConcurrentModification, loan.ID)
		}

		applied, err := l.writer.ApplyTx(ctx, tx, locked, plan, ref, eventDate)
		if err != nil {
			return err
		}

		prov := wallet.Provenance{PaymentRef: n.PaymentRef}
		if len(applied.Events) > 0 {
			last := applied.Events[len(applied.Events)-1].ID
			prov.PaymentEventID = &last
		}
		credit, err := l.wallet.CreditOverpayment(ctx, tx, plan.Remainder, locked.CustomerKey, prov, eventDate)
		if err != nil {
			return err
		}

		receipt := &models.PaymentReceipt{
			PaymentRef:    n.PaymentRef,
			LoanID:        loan.ID,
			CustomerKey:   locked.CustomerKey,
			Amount:        n.Amount,
			Allocated:     plan.Allocated(),
			Remainder:     plan.Remainder,
			PaymentMethod: n.PaymentMethod,
			EventDate:     eventDate,
			CreatedAt:     l.now().UTC(),
		}
		if err := tx.CreateReceipt(ctx, receipt); err != nil {
			return err
		}

		res.Receipt = receipt
		res.Events = applied.Events
		res.WalletCredit = credit
		res.LoanPaidOff = applied.LoanPaidOff
		for _, inst := range applied.Settled {
			res.SettledInstallments = append(res.SettledInstallments, inst.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// AssessLateFees charges late fees on overdue installments as of asOf.
func (l *Ledger) AssessLateFees(ctx context.Context, asOf time.Time) (int, error) {
	return l.writer.AssessLateFees(ctx, asOf)
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(ctx, id)
}

// GetAllLoans retrieves all loans.
func (l *Ledger) GetAllLoans(ctx context.Context) ([]*models.Loan, error) {
	return l.storage.GetAllLoans(ctx)
}

// GetInstallments retrieves a loan's schedule in sequence order.
func (l *Ledger) GetInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	if _, err := l.storage.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return l.storage.GetInstallments(ctx, loanID)
}

// GetPaymentEvents retrieves every payment event recorded for a loan.
func (l *Ledger) GetPaymentEvents(ctx context.Context, loanID uuid.UUID) ([]*models.PaymentEvent, error) {
	if _, err := l.storage.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return l.storage.GetPaymentEvents(ctx, loanID)
}

// GetAccountBalance retrieves what a customer has paid per bucket.
func (l *Ledger) GetAccountBalance(ctx context.Context, customerKey string) (*models.AccountBalance, error) {
	return l.storage.GetAccountBalance(ctx, customerKey)
}

// GetWallet retrieves a customer's wallet balances.
func (l *Ledger) GetWallet(ctx context.Context, customerKey string) (*models.Wallet, error) {
	return l.wallet.Balance(ctx, customerKey)
}

// GetWalletCredits lists the overpayments credited to a customer, oldest first.
func (l *Ledger) GetWalletCredits(ctx context.Context, customerKey string) ([]*models.WalletCredit, error) {
	return l.wallet.Credits(ctx, customerKey)
}

// OutstandingTotal is what is still owed on a loan across all buckets.
func (l *Ledger) OutstandingTotal(ctx context.Context, loanID uuid.UUID) (decimal.Decimal, error) {
	insts, err := l.storage.GetOutstandingInstallments(ctx, loanID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, inst := range insts {
		total = total.Add(inst.Outstanding().Total())
	}
	return total, nil
}
