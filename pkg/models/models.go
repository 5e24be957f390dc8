package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Buckets holds one amount per repayment bucket. It is used both for what is
// due and for what has been paid or allocated.
type Buckets struct {
	Principal decimal.Decimal `json:"principal"`
	Interest  decimal.Decimal `json:"interest"`
	LateFee   decimal.Decimal `json:"late_fee"`
}

// Total is the sum of all buckets.
func (b Buckets) Total() decimal.Decimal {
	return b.Principal.Add(b.Interest).Add(b.LateFee)
}

// Add returns the bucket-wise sum.
func (b Buckets) Add(o Buckets) Buckets {
	return Buckets{
		Principal: b.Principal.Add(o.Principal),
		Interest:  b.Interest.Add(o.Interest),
		LateFee:   b.LateFee.Add(o.LateFee),
	}
}

// Sub returns the bucket-wise difference.
func (b Buckets) Sub(o Buckets) Buckets {
	return Buckets{
		Principal: b.Principal.Sub(o.Principal),
		Interest:  b.Interest.Sub(o.Interest),
		LateFee:   b.LateFee.Sub(o.LateFee),
	}
}

// IsZero reports whether every bucket is zero.
func (b Buckets) IsZero() bool {
	return b.Principal.IsZero() && b.Interest.IsZero() && b.LateFee.IsZero()
}

// Equal compares bucket by bucket, ignoring decimal exponent differences.
func (b Buckets) Equal(o Buckets) bool {
	return b.Principal.Equal(o.Principal) && b.Interest.Equal(o.Interest) && b.LateFee.Equal(o.LateFee)
}

// LoanStatus is the lifecycle state of a loan.
type LoanStatus string

const (
	LoanStatusActive  LoanStatus = "ACTIVE"
	LoanStatusPaidOff LoanStatus = "PAID_OFF"
)

// Loan represents a single loan and its repayment terms.
type Loan struct {
	ID                  uuid.UUID       `json:"id"`
	CustomerKey         string          `json:"customer_key"` // Link to external customer system
	ProductLine         string          `json:"product_line"`
	Principal           decimal.Decimal `json:"principal"`
	MonthlyInterestRate decimal.Decimal `json:"monthly_interest_rate"` // Flat rate applied to the original principal
	TenureMonths        int             `json:"tenure_months"`
	Status              LoanStatus      `json:"status"`
	Version             int64           `json:"version"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// InstallmentStatus is the repayment state of an installment.
type InstallmentStatus string

const (
	InstallmentStatusOpen          InstallmentStatus = "OPEN"
	InstallmentStatusPartiallyPaid InstallmentStatus = "PARTIALLY_PAID"
	InstallmentStatusSettled       InstallmentStatus = "SETTLED"
)

// Installment is one scheduled repayment of a loan.
type Installment struct {
	ID             uuid.UUID         `json:"id"`
	LoanID         uuid.UUID         `json:"loan_id"`
	SequenceNumber int               `json:"sequence_number"`
	DueDate        time.Time         `json:"due_date"`
	Due            Buckets           `json:"due"`
	Paid           Buckets           `json:"paid"`
	Status         InstallmentStatus `json:"status"`
	Version        int64             `json:"version"` // Bumped on every write, checked on update
	PaidOffAt      *time.Time        `json:"paid_off_at,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Outstanding is what is still owed in each bucket.
func (i *Installment) Outstanding() Buckets {
	return i.Due.Sub(i.Paid)
}

// IsSettled reports whether every bucket is paid in full.
func (i *Installment) IsSettled() bool {
	return i.Paid.Equal(i.Due)
}

// DeriveStatus computes the status from the paid and due amounts.
func (i *Installment) DeriveStatus() InstallmentStatus {
	switch {
	case i.IsSettled():
		return InstallmentStatusSettled
	case i.Paid.IsZero():
		return InstallmentStatusOpen
	default:
		return InstallmentStatusPartiallyPaid
	}
}

// PaymentEvent records what one payment allocated to one installment.
// Rows are append-only.
type PaymentEvent struct {
	ID            uuid.UUID       `json:"id"`
	LoanID        uuid.UUID       `json:"loan_id"`
	InstallmentID uuid.UUID       `json:"installment_id"`
	CustomerKey   string          `json:"customer_key"`
	PaymentRef    string          `json:"payment_ref"`
	PaymentMethod string          `json:"payment_method"`
	Amount        decimal.Decimal `json:"amount"`
	Allocated     Buckets         `json:"allocated"`
	EventDate     time.Time       `json:"event_date"`
	CreatedAt     time.Time       `json:"created_at"`
}

// PaymentReceipt is written once per processed inbound payment. PaymentRef is unique.
type PaymentReceipt struct {
	PaymentRef    string          `json:"payment_ref"`
	LoanID        uuid.UUID       `json:"loan_id"`
	CustomerKey   string          `json:"customer_key"`
	Amount        decimal.Decimal `json:"amount"`
	Allocated     decimal.Decimal `json:"allocated"`
	Remainder     decimal.Decimal `json:"remainder"`
	PaymentMethod string          `json:"payment_method"`
	EventDate     time.Time       `json:"event_date"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AccountBalance aggregates everything paid by a customer across loans.
type AccountBalance struct {
	CustomerKey string    `json:"customer_key"`
	Paid        Buckets   `json:"paid"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Wallet holds a customer's overpaid funds.
type Wallet struct {
	CustomerKey      string          `json:"customer_key"`
	AccruingBalance  decimal.Decimal `json:"accruing_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// WalletCredit records one overpayment credited to a wallet.
type WalletCredit struct {
	ID             uuid.UUID       `json:"id"`
	CustomerKey    string          `json:"customer_key"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentRef     string          `json:"payment_ref"`
	PaymentEventID *uuid.UUID      `json:"payment_event_id,omitempty"` // Last event of the payment, nil when nothing was allocated
	EventDate      time.Time       `json:"event_date"`
	CreatedAt      time.Time       `json:"created_at"`
}

// PaymentNotification is the inbound payment from a webhook or batch job.
// PaymentMethod is opaque and stored as given.
type PaymentNotification struct {
	LoanID        uuid.UUID       `json:"loan_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentRef    string          `json:"payment_ref"`
	PaymentMethod string          `json:"payment_method"`
	EventDate     time.Time       `json:"event_date"`
}
