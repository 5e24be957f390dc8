package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredledger/pkg/models"
)

// MemoryStore is an in-process Storage. Transactions hold the store lock and
// work on a copy of the state that replaces the live state on commit, so a
// failed transaction leaves nothing behind. Values are copied, pointer fields
// included, both when stored and when handed to callers.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	loans        map[uuid.UUID]models.Loan
	installments map[uuid.UUID]models.Installment
	events       []models.PaymentEvent
	receipts     map[string]models.PaymentReceipt
	balances     map[string]models.AccountBalance
	wallets      map[string]models.Wallet
	credits      []models.WalletCredit
	outbox       []models.OutboxMessage
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		loans:        make(map[uuid.UUID]models.Loan),
		installments: make(map[uuid.UUID]models.Installment),
		receipts:     make(map[string]models.PaymentReceipt),
		balances:     make(map[string]models.AccountBalance),
		wallets:      make(map[string]models.Wallet),
	}}
}

func (st *memState) clone() *memState {
	c := &memState{
		loans:        make(map[uuid.UUID]models.Loan, len(st.loans)),
		installments: make(map[uuid.UUID]models.Installment, len(st.installments)),
		events:       append([]models.PaymentEvent(nil), st.events...),
		receipts:     make(map[string]models.PaymentReceipt, len(st.receipts)),
		balances:     make(map[string]models.AccountBalance, len(st.balances)),
		wallets:      make(map[string]models.Wallet, len(st.wallets)),
		credits:      append([]models.WalletCredit(nil), st.credits...),
		outbox:       append([]models.OutboxMessage(nil), st.outbox...),
	}
	for k, v := range st.loans {
		c.loans[k] = v
	}
	for k, v := range st.installments {
		c.installments[k] = v
	}
	for k, v := range st.receipts {
		c.receipts[k] = v
	}
	for k, v := range st.balances {
		c.balances[k] = v
	}
	for k, v := range st.wallets {
		c.wallets[k] = v
	}
	return c
}

func copyInstallment(inst models.Installment) models.Installment {
	if inst.PaidOffAt != nil {
		at := *inst.PaidOffAt
		inst.PaidOffAt = &at
	}
	return inst
}

func copyCredit(c models.WalletCredit) models.WalletCredit {
	if c.PaymentEventID != nil {
		id := *c.PaymentEventID
		c.PaymentEventID = &id
	}
	return c
}

func copyOutbox(m models.OutboxMessage) models.OutboxMessage {
	if m.PublishedAt != nil {
		at := *m.PublishedAt
		m.PublishedAt = &at
	}
	m.Payload = append([]byte(nil), m.Payload...)
	return m
}

func (st *memState) loanInstallments(loanID uuid.UUID, keep func(models.Installment) bool) []*models.Installment {
	var out []*models.Installment
	for _, inst := range st.installments {
		if inst.LoanID == loanID && (keep == nil || keep(inst)) {
			inst := copyInstallment(inst)
			out = append(out, &inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out
}

// CreateLoan inserts a loan and its schedule.
func (s *MemoryStore) CreateLoan(ctx context.Context, loan *models.Loan, schedule []*models.Installment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.loans[loan.ID] = *loan
	for _, inst := range schedule {
		s.state.installments[inst.ID] = copyInstallment(*inst)
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (s *MemoryStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loan, ok := s.state.loans[id]
	if !ok {
		return nil, ErrLoanNotFound
	}
	return &loan, nil
}

// GetAllLoans retrieves all loans.
func (s *MemoryStore) GetAllLoans(ctx context.Context) ([]*models.Loan, error) {
	return s.filterLoans(func(models.Loan) bool { return true }), nil
}

// GetAllActiveLoans retrieves all active loans.
func (s *MemoryStore) GetAllActiveLoans(ctx context.Context) ([]*models.Loan, error) {
	return s.filterLoans(func(l models.Loan) bool { return l.Status == models.LoanStatusActive }), nil
}

func (s *MemoryStore) filterLoans(keep func(models.Loan) bool) []*models.Loan {
	s.mu.Lock()
	defer s.mu.Unlock()
	loans := []*models.Loan{}
	for _, l := range s.state.loans {
		if keep(l) {
			l := l
			loans = append(loans, &l)
		}
	}
	sort.Slice(loans, func(i, j int) bool { return loans[i].CreatedAt.Before(loans[j].CreatedAt) })
	return loans
}

// GetInstallments retrieves a loan's installments in sequence order.
func (s *MemoryStore) GetInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.loanInstallments(loanID, nil), nil
}

// GetOutstandingInstallments retrieves a loan's unsettled installments.
func (s *MemoryStore) GetOutstandingInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.loanInstallments(loanID, func(i models.Installment) bool {
		return i.Status != models.InstallmentStatusSettled
	}), nil
}

// GetCustomerInstallments retrieves installments across all of a customer's loans.
func (s *MemoryStore) GetCustomerInstallments(ctx context.Context, customerKey string) ([]*models.Installment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Installment
	for _, inst := range s.state.installments {
		if loan, ok := s.state.loans[inst.LoanID]; ok && loan.CustomerKey == customerKey {
			inst := copyInstallment(inst)
			out = append(out, &inst)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].SequenceNumber < out[j].SequenceNumber
	})
	return out, nil
}

// GetPaymentEvents retrieves the payment events for a loan.
func (s *MemoryStore) GetPaymentEvents(ctx context.Context, loanID uuid.UUID) ([]*models.PaymentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PaymentEvent
	for _, ev := range s.state.events {
		if ev.LoanID == loanID {
			ev := ev
			out = append(out, &ev)
		}
	}
	return out, nil
}

// GetReceipt retrieves the receipt for a payment ref.
func (s *MemoryStore) GetReceipt(ctx context.Context, paymentRef string) (*models.PaymentReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.receipts[paymentRef]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	return &r, nil
}

// GetAccountBalance retrieves a customer's paid totals.
func (s *MemoryStore) GetAccountBalance(ctx context.Context, customerKey string) (*models.AccountBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.state.balances[customerKey]
	if !ok {
		bal = models.AccountBalance{CustomerKey: customerKey}
	}
	return &bal, nil
}

// GetWallet retrieves a customer's wallet, zero when none exists.
func (s *MemoryStore) GetWallet(ctx context.Context, customerKey string) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.state.wallets[customerKey]
	if !ok {
		w = models.Wallet{CustomerKey: customerKey}
	}
	return &w, nil
}

// GetWalletCredits retrieves a customer's wallet credits in insertion order.
func (s *MemoryStore) GetWalletCredits(ctx context.Context, customerKey string) ([]*models.WalletCredit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.WalletCredit
	for _, c := range s.state.credits {
		if c.CustomerKey == customerKey {
			c := copyCredit(c)
			out = append(out, &c)
		}
	}
	return out, nil
}

// PendingOutbox retrieves up to limit unpublished messages, oldest first.
func (s *MemoryStore) PendingOutbox(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.OutboxMessage
	for _, m := range s.state.outbox {
		if len(out) == limit {
			break
		}
		if m.PublishedAt == nil {
			m := copyOutbox(m)
			out = append(out, &m)
		}
	}
	return out, nil
}

// MarkOutboxPublished stamps the given messages as published.
func (s *MemoryStore) MarkOutboxPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	for i := range s.state.outbox {
		if set[s.state.outbox[i].ID] && s.state.outbox[i].PublishedAt == nil {
			t := at
			s.state.outbox[i].PublishedAt = &t
		}
	}
	return nil
}

// WithTx holds the store lock for the duration of fn; fn must only use tx.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Close releases the store.
func (s *MemoryStore) Close() error {
	return nil
}

type memTx struct {
	st *memState
}

// LockLoan reads a loan for update.
func (t *memTx) LockLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, ok := t.st.loans[id]
	if !ok {
		return nil, ErrLoanNotFound
	}
	return &loan, nil
}

// UpdateLoan writes a loan if its version is unchanged.
func (t *memTx) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	cur, ok := t.st.loans[loan.ID]
	if !ok {
		return ErrLoanNotFound
	}
	if cur.Version != loan.Version {
		return ErrConcurrentModification
	}
	loan.Version++
	t.st.loans[loan.ID] = *loan
	return nil
}

// GetInstallment reads one installment.
func (t *memTx) GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error) {
	inst, ok := t.st.installments[id]
	if !ok {
		return nil, ErrInstallmentNotFound
	}
	inst = copyInstallment(inst)
	return &inst, nil
}

// GetInstallments retrieves a loan's installments in sequence order.
func (t *memTx) GetInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	return t.st.loanInstallments(loanID, nil), nil
}

// UpdateInstallment writes an installment if it is still at expectedVersion.
func (t *memTx) UpdateInstallment(ctx context.Context, inst *models.Installment, expectedVersion int64) error {
	cur, ok := t.st.installments[inst.ID]
	if !ok {
		return ErrInstallmentNotFound
	}
	if cur.Version != expectedVersion {
		return ErrConcurrentModification
	}
	inst.Version = expectedVersion + 1
	t.st.installments[inst.ID] = copyInstallment(*inst)
	return nil
}

// CreatePaymentEvent inserts a payment event.
func (t *memTx) CreatePaymentEvent(ctx context.Context, ev *models.PaymentEvent) error {
	for _, e := range t.st.events {
		if e.PaymentRef == ev.PaymentRef && e.InstallmentID == ev.InstallmentID {
			return ErrDuplicatePayment
		}
	}
	t.st.events = append(t.st.events, *ev)
	return nil
}

// CreateReceipt inserts the receipt for a payment ref.
func (t *memTx) CreateReceipt(ctx context.Context, r *models.PaymentReceipt) error {
	if _, ok := t.st.receipts[r.PaymentRef]; ok {
		return ErrDuplicatePayment
	}
	t.st.receipts[r.PaymentRef] = *r
	return nil
}

// AddToAccountBalance adds delta to a customer's paid totals.
func (t *memTx) AddToAccountBalance(ctx context.Context, customerKey string, delta models.Buckets, at time.Time) error {
	bal := t.st.balances[customerKey]
	bal.CustomerKey = customerKey
	bal.Paid = bal.Paid.Add(delta)
	bal.UpdatedAt = at
	t.st.balances[customerKey] = bal
	return nil
}

// CreditWallet adds a credit to the customer's wallet.
func (t *memTx) CreditWallet(ctx context.Context, c *models.WalletCredit) error {
	w := t.st.wallets[c.CustomerKey]
	w.CustomerKey = c.CustomerKey
	w.AccruingBalance = w.AccruingBalance.Add(c.Amount)
	w.AvailableBalance = w.AvailableBalance.Add(c.Amount)
	w.UpdatedAt = c.CreatedAt
	t.st.wallets[c.CustomerKey] = w
	t.st.credits = append(t.st.credits, copyCredit(*c))
	return nil
}

// EnqueueEvent adds a message to the outbox.
func (t *memTx) EnqueueEvent(ctx context.Context, m *models.OutboxMessage) error {
	t.st.outbox = append(t.st.outbox, copyOutbox(*m))
	return nil
}
