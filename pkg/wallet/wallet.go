package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredledger/pkg/models"
	"github.com/mcclellann/fredledger/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var ErrInvalidAmount = errors.New("overpayment amount must not be negative")

// Provenance ties a wallet credit back to the payment that produced it.
type Provenance struct {
	PaymentRef     string
	PaymentEventID *uuid.UUID
}

// Handler credits payment remainders to the customer's wallet.
type Handler struct {
	store store.Storage
	log   *logrus.Logger
	now   func() time.Time
}

// NewHandler creates a wallet handler over the given store.
func NewHandler(s store.Storage, log *logrus.Logger) *Handler {
	return &Handler{store: s, log: log, now: time.Now}
}

// CreditOverpayment adds remainder to the wallet inside tx. A zero remainder
// records nothing and returns a nil credit. Duplicate payment refs are not
// detected here.
func (h *Handler) CreditOverpayment(ctx context.Context, tx store.Tx, remainder decimal.Decimal, customerKey string, prov Provenance, eventDate time.Time) (*models.WalletCredit, error) {
	if remainder.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, remainder)
	}
	if remainder.IsZero() {
		return nil, nil
	}

	credit := &models.WalletCredit{
		ID:             uuid.New(),
		CustomerKey:    customerKey,
		Amount:         remainder,
		PaymentRef:     prov.PaymentRef,
		PaymentEventID: prov.PaymentEventID,
		EventDate:      eventDate,
		CreatedAt:      h.now().UTC(),
	}
	if err := tx.CreditWallet(ctx, credit); err != nil {
		return nil, fmt.Errorf("failed to credit wallet: %w", err)
	}

	h.log.WithFields(logrus.Fields{
		"customer_key": customerKey,
		"payment_ref":  prov.PaymentRef,
		"amount":       remainder.String(),
	}).Info("Overpayment credited to wallet")
	return credit, nil
}

// Balance returns the customer's wallet. Customers without credits get a zero wallet.
func (h *Handler) Balance(ctx context.Context, customerKey string) (*models.Wallet, error) {
	w, err := h.store.GetWallet(ctx, customerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// Credits lists the credits that make up the wallet balance.
func (h *Handler) Credits(ctx context.Context, customerKey string) ([]*models.WalletCredit, error) {
	return h.store.GetWalletCredits(ctx, customerKey)
}
