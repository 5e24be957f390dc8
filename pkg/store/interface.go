package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredledger/pkg/models"
)

var (
	ErrLoanNotFound        = errors.New("loan not found")
	ErrInstallmentNotFound = errors.New("installment not found")
	// ErrConcurrentModification is returned when a row's version changed since it was read.
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrDuplicatePayment       = errors.New("payment reference already processed")
)

// Storage defines the interface for database operations related to loans and their ledger.
// Writes to installments, events, balances and the wallet only happen inside WithTx.
type Storage interface {
	// CreateLoan stores a loan and its schedule atomically.
	CreateLoan(ctx context.Context, loan *models.Loan, schedule []*models.Installment) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	GetAllLoans(ctx context.Context) ([]*models.Loan, error)
	GetAllActiveLoans(ctx context.Context) ([]*models.Loan, error)

	GetInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error)
	// GetOutstandingInstallments returns unsettled installments ordered by sequence number.
	GetOutstandingInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error)
	GetCustomerInstallments(ctx context.Context, customerKey string) ([]*models.Installment, error)

	GetPaymentEvents(ctx context.Context, loanID uuid.UUID) ([]*models.PaymentEvent, error)
	GetReceipt(ctx context.Context, paymentRef string) (*models.PaymentReceipt, error)
	GetAccountBalance(ctx context.Context, customerKey string) (*models.AccountBalance, error)
	GetWallet(ctx context.Context, customerKey string) (*models.Wallet, error)
	GetWalletCredits(ctx context.Context, customerKey string) ([]*models.WalletCredit, error)

	// PendingOutbox returns unpublished messages, oldest first.
	PendingOutbox(ctx context.Context, limit int) ([]*models.OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error

	// WithTx runs fn in a single transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	// LockLoan reads the loan and holds a row lock on it until the transaction ends.
	LockLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	// UpdateLoan persists loan status if loan.Version still matches the stored row, then bumps it.
	UpdateLoan(ctx context.Context, loan *models.Loan) error

	GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error)
	GetInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error)
	// UpdateInstallment persists inst if the stored version equals expectedVersion.
	// On success inst.Version is set to expectedVersion+1.
	UpdateInstallment(ctx context.Context, inst *models.Installment, expectedVersion int64) error

	CreatePaymentEvent(ctx context.Context, event *models.PaymentEvent) error
	CreateReceipt(ctx context.Context, receipt *models.PaymentReceipt) error
	AddToAccountBalance(ctx context.Context, customerKey string, delta models.Buckets, at time.Time) error
	CreditWallet(ctx context.Context, credit *models.WalletCredit) error

	// EnqueueEvent appends a message to the outbox.
	EnqueueEvent(ctx context.Context, msg *models.OutboxMessage) error
}
