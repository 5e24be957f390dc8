// Package allocation computes how a payment is spread over a loan's
// installments. It performs no I/O.
//
// The waterfall runs oldest installment first and, within an installment,
// principal, then interest, then late fee. An installment is left only once it
// is fully covered or the payment is exhausted.
package allocation

import (
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/mcclellann/fredledger/pkg/models"
	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("payment amount must not be negative")

// Entry is the allocation to a single installment.
type Entry struct {
	InstallmentID   uuid.UUID      `json:"installment_id"`
	LoanID          uuid.UUID      `json:"loan_id"`
	SequenceNumber  int            `json:"sequence_number"`
	ExpectedVersion int64          `json:"expected_version"` // Installment version the entry was computed against
	Delta           models.Buckets `json:"delta"`
}

// Plan is the result of an allocation. Entries are in installment order and
// only include installments that receive a non-zero amount.
type Plan struct {
	Entries   []Entry         `json:"entries"`
	Remainder decimal.Decimal `json:"remainder"`
}

// Allocated is the sum of all entry deltas.
func (p Plan) Allocated() decimal.Decimal {
	total := decimal.Zero
	for _, e := range p.Entries {
		total = total.Add(e.Delta.Total())
	}
	return total
}

// OutstandingFunc reports what may be collected from an installment.
type OutstandingFunc func(inst *models.Installment) models.Buckets

// DefaultOutstanding is everything due minus everything paid.
func DefaultOutstanding(inst *models.Installment) models.Buckets {
	return inst.Outstanding()
}

// WithWaivers collects the outstanding amount less any waived amount, per
// installment. Buckets never go below zero.
func WithWaivers(waivers map[uuid.UUID]models.Buckets) OutstandingFunc {
	return func(inst *models.Installment) models.Buckets {
		out := inst.Outstanding()
		w, ok := waivers[inst.ID]
		if !ok {
			return out
		}
		return models.Buckets{
			Principal: nonNegative(out.Principal.Sub(w.Principal)),
			Interest:  nonNegative(out.Interest.Sub(w.Interest)),
			LateFee:   nonNegative(out.LateFee.Sub(w.LateFee)),
		}
	}
}

// Allocator runs the waterfall. The zero value uses DefaultOutstanding.
type Allocator struct {
	Outstanding OutstandingFunc
}

// New returns an Allocator that collects everything outstanding.
func New() *Allocator {
	return &Allocator{Outstanding: DefaultOutstanding}
}

// Allocate spreads amount over installments. The input slice is not modified.
func (a *Allocator) Allocate(amount decimal.Decimal, installments []*models.Installment) (Plan, error) {
	if amount.IsNegative() {
		return Plan{}, ErrInvalidAmount
	}
	if amount.IsZero() {
		return Plan{Remainder: decimal.Zero}, nil
	}

	outstanding := a.Outstanding
	if outstanding == nil {
		outstanding = DefaultOutstanding
	}

	ordered := make([]*models.Installment, len(installments))
	copy(ordered, installments)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SequenceNumber < ordered[j].SequenceNumber
	})

	remaining := amount
	var entries []Entry
	for _, inst := range ordered {
		if !remaining.IsPositive() {
			break
		}
		due := outstanding(inst)

		var delta models.Buckets
		delta.Principal, remaining = take(remaining, due.Principal)
		delta.Interest, remaining = take(remaining, due.Interest)
		delta.LateFee, remaining = take(remaining, due.LateFee)

		if delta.Total().IsZero() {
			continue
		}
		entries = append(entries, Entry{
			InstallmentID:   inst.ID,
			LoanID:          inst.LoanID,
			SequenceNumber:  inst.SequenceNumber,
			ExpectedVersion: inst.Version,
			Delta:           delta,
		})
	}

	return Plan{Entries: entries, Remainder: remaining}, nil
}

// take returns min(remaining, due) and what is left of remaining.
func take(remaining, due decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if !due.IsPositive() || !remaining.IsPositive() {
		return decimal.Zero, remaining
	}
	taken := decimal.Min(remaining, due)
	return taken, remaining.Sub(taken)
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
