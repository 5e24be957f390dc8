package dbr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredledger/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	insts []*models.Installment
	err   error
}

func (s staticSource) GetCustomerInstallments(ctx context.Context, customerKey string) ([]*models.Installment, error) {
	return s.insts, s.err
}

func inst(due time.Time, principal, interest, lateFee, paidPrincipal int64) *models.Installment {
	return &models.Installment{
		ID:      uuid.New(),
		DueDate: due,
		Due: models.Buckets{
			Principal: decimal.NewFromInt(principal),
			Interest:  decimal.NewFromInt(interest),
			LateFee:   decimal.NewFromInt(lateFee),
		},
		Paid: models.Buckets{Principal: decimal.NewFromInt(paidPrincipal)},
	}
}

func march(day int) time.Time { return time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC) }

func TestMonthlyObligation(t *testing.T) {
	insts := []*models.Installment{
		inst(march(5), 1000, 100, 50, 0),
		// Partially paid still counts in full.
		inst(march(20), 500, 20, 0, 200),
		inst(march(28), 300, 0, 0, 300),
		inst(march(1).AddDate(0, 1, 0), 999, 0, 0, 0),
	}

	got := MonthlyObligation(insts, march(15))
	assert.True(t, got.Equal(decimal.NewFromInt(1620)), "got %s", got)
}

func TestChecker_Check(t *testing.T) {
	src := staticSource{insts: []*models.Installment{inst(march(5), 2000, 500, 0, 0)}}
	c := NewChecker(src, decimal.RequireFromString("0.5"))

	res, err := c.Check(context.Background(), "cust", decimal.NewFromInt(10000), decimal.NewFromInt(2500), march(1))
	require.NoError(t, err)
	assert.True(t, res.ExistingObligation.Equal(decimal.NewFromInt(2500)))
	assert.True(t, res.Ratio.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, res.Eligible)
	assert.Equal(t, "2026-03", res.Month)

	res, err = c.Check(context.Background(), "cust", decimal.NewFromInt(10000), decimal.NewFromInt(2501), march(1))
	require.NoError(t, err)
	assert.False(t, res.Eligible)
}

func TestChecker_Errors(t *testing.T) {
	c := NewChecker(staticSource{}, decimal.RequireFromString("0.5"))

	_, err := c.Check(context.Background(), "cust", decimal.Zero, decimal.NewFromInt(1), march(1))
	assert.ErrorIs(t, err, ErrInvalidIncome)

	_, err = c.Check(context.Background(), "cust", decimal.NewFromInt(100), decimal.NewFromInt(-1), march(1))
	assert.ErrorIs(t, err, ErrInvalidInstallment)

	boom := errors.New("db down")
	c = NewChecker(staticSource{err: boom}, decimal.RequireFromString("0.5"))
	_, err = c.Check(context.Background(), "cust", decimal.NewFromInt(100), decimal.Zero, march(1))
	assert.ErrorIs(t, err, boom)
}
