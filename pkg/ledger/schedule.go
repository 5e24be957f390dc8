package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredledger/pkg/models"
	"github.com/shopspring/decimal"
)

// Due days are kept within 1-28 so every month has one.
const (
	minDueDay = 1
	maxDueDay = 28
)

// CreateLoanInput describes a new loan. FirstDueDate defaults to the same
// day next month, clamped to the 28th.
type CreateLoanInput struct {
	CustomerKey         string          `json:"customer_key"`
	ProductLine         string          `json:"product_line"`
	Principal           decimal.Decimal `json:"principal"`
	MonthlyInterestRate decimal.Decimal `json:"monthly_interest_rate"`
	TenureMonths        int             `json:"tenure_months"`
	FirstDueDate        time.Time       `json:"first_due_date"`
}

func (in CreateLoanInput) validate() error {
	switch {
	case in.CustomerKey == "":
		return fmt.Errorf("%w: customer_key is required", ErrInvalidLoan)
	case !in.Principal.IsPositive():
		return fmt.Errorf("%w: principal must be positive", ErrInvalidLoan)
	case in.MonthlyInterestRate.IsNegative():
		return fmt.Errorf("%w: interest rate must not be negative", ErrInvalidLoan)
	case in.TenureMonths <= 0:
		return fmt.Errorf("%w: tenure must be at least one month", ErrInvalidLoan)
	case !in.FirstDueDate.IsZero() && (in.FirstDueDate.Day() < minDueDay || in.FirstDueDate.Day() > maxDueDay):
		return fmt.Errorf("%w: first due date must fall on day %d-%d", ErrInvalidLoan, minDueDay, maxDueDay)
	}
	return nil
}

// firstDueDate is one month after created, on a day between 1 and 28.
func firstDueDate(created time.Time) time.Time {
	day := created.Day()
	if day > maxDueDay {
		day = maxDueDay
	}
	return time.Date(created.Year(), created.Month()+1, day, 0, 0, 0, 0, time.UTC)
}

// buildSchedule splits principal evenly across the tenure with the rounding
// residue on the last installment. Interest is flat: rate times the original
// principal each month.
func buildSchedule(loan *models.Loan, firstDue time.Time, scale int32) []*models.Installment {
	n := decimal.NewFromInt(int64(loan.TenureMonths))
	each := loan.Principal.Div(n).RoundDown(scale)
	interest := loan.Principal.Mul(loan.MonthlyInterestRate).Round(scale)

	schedule := make([]*models.Installment, 0, loan.TenureMonths)
	allocated := decimal.Zero
	for i := 0; i < loan.TenureMonths; i++ {
		principal := each
		if i == loan.TenureMonths-1 {
			principal = loan.Principal.Sub(allocated)
		}
		allocated = allocated.Add(principal)

		schedule = append(schedule, &models.Installment{
			ID:             uuid.New(),
			LoanID:         loan.ID,
			SequenceNumber: i + 1,
			DueDate:        firstDue.AddDate(0, i, 0),
			Due: models.Buckets{
				Principal: principal,
				Interest:  interest,
				LateFee:   decimal.Zero,
			},
			Paid:      models.Buckets{Principal: decimal.Zero, Interest: decimal.Zero, LateFee: decimal.Zero},
			Status:    models.InstallmentStatusOpen,
			UpdatedAt: loan.CreatedAt,
		})
	}
	return schedule
}
