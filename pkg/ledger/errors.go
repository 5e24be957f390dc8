package ledger

import (
	"errors"

	"github.com/mcclellann/fredledger/pkg/allocation"
	"github.com/mcclellann/fredledger/pkg/store"
)

var (
	ErrInvalidAmount    = allocation.ErrInvalidAmount
	ErrDuplicatePayment = store.ErrDuplicatePayment
	// ErrNoOutstandingInstallments is logged, not returned, when a payment
	// finds nothing to allocate to and goes to the wallet in full.
	ErrNoOutstandingInstallments = errors.New("no outstanding installments")
	ErrOverAllocation            = errors.New("allocation exceeds amount due")
	ErrPlanMismatch              = errors.New("allocation plan does not belong to loan")
	ErrPaymentInProgress         = errors.New("payment is already being processed")
	ErrMissingPaymentRef         = errors.New("payment reference is required")
	ErrInvalidLoan               = errors.New("invalid loan parameters")
)
