// Package dbr computes a customer's debt burden ratio: monthly installment
// obligations across every loan and product line, divided by monthly income.
package dbr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcclellann/fredledger/pkg/models"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidIncome      = errors.New("monthly income must be positive")
	ErrInvalidInstallment = errors.New("new installment must not be negative")
)

const ratioPlaces = 4

// InstallmentSource lists every installment a customer owes across loans.
type InstallmentSource interface {
	GetCustomerInstallments(ctx context.Context, customerKey string) ([]*models.Installment, error)
}

// Result is the outcome of an eligibility check.
type Result struct {
	CustomerKey        string          `json:"customer_key"`
	Month              string          `json:"month"`
	Income             decimal.Decimal `json:"income"`
	ExistingObligation decimal.Decimal `json:"existing_obligation"`
	NewInstallment     decimal.Decimal `json:"new_installment"`
	Ratio              decimal.Decimal `json:"ratio"`
	MaxRatio           decimal.Decimal `json:"max_ratio"`
	Eligible           bool            `json:"eligible"`
}

// MonthlyObligation sums principal and interest due on unsettled installments
// falling in the calendar month of month. Late fees are not an obligation.
func MonthlyObligation(installments []*models.Installment, month time.Time) decimal.Decimal {
	y, m, _ := month.Date()
	total := decimal.Zero
	for _, inst := range installments {
		if inst.IsSettled() {
			continue
		}
		iy, im, _ := inst.DueDate.Date()
		if iy != y || im != m {
			continue
		}
		total = total.Add(inst.Due.Principal).Add(inst.Due.Interest)
	}
	return total
}

// Checker evaluates debt burden ratios against a ceiling.
type Checker struct {
	source   InstallmentSource
	maxRatio decimal.Decimal
}

// NewChecker creates a Checker allowing ratios up to maxRatio.
func NewChecker(source InstallmentSource, maxRatio decimal.Decimal) *Checker {
	return &Checker{source: source, maxRatio: maxRatio}
}

// Check reports whether the customer can take on newInstallment a month.
func (c *Checker) Check(ctx context.Context, customerKey string, income, newInstallment decimal.Decimal, month time.Time) (*Result, error) {
	if !income.IsPositive() {
		return nil, ErrInvalidIncome
	}
	if newInstallment.IsNegative() {
		return nil, ErrInvalidInstallment
	}

	insts, err := c.source.GetCustomerInstallments(ctx, customerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get installments for %s: %w", customerKey, err)
	}

	existing := MonthlyObligation(insts, month)
	ratio := existing.Add(newInstallment).DivRound(income, ratioPlaces)
	return &Result{
		CustomerKey:        customerKey,
		Month:              month.Format("2006-01"),
		Income:             income,
		ExistingObligation: existing,
		NewInstallment:     newInstallment,
		Ratio:              ratio,
		MaxRatio:           c.maxRatio,
		Eligible:           ratio.LessThanOrEqual(c.maxRatio),
	}, nil
}
