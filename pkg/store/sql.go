package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredledger/pkg/models"
	"github.com/shopspring/decimal"
)

var ErrReceiptNotFound = errors.New("receipt not found")

// dialect captures the differences between the SQL backends.
type dialect struct {
	name              string
	numbered          bool   // $1, $2 placeholders instead of ?
	forUpdate         string // row lock suffix, empty when the engine locks at BEGIN
	isUniqueViolation func(err error) bool
}

func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// sqlStore implements Storage on database/sql. SQLiteStore and PostgresStore embed it.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

const (
	loanColumns        = `id, customer_key, product_line, principal, monthly_interest_rate, tenure_months, status, version, created_at, updated_at`
	installmentColumns = `id, loan_id, sequence_number, due_date, principal_due, interest_due, late_fee_due, principal_paid, interest_paid, late_fee_paid, status, version, paid_off_at, updated_at`
	eventColumns       = `id, loan_id, installment_id, customer_key, payment_ref, payment_method, amount, principal, interest, late_fee, event_date, created_at`
	receiptColumns     = `payment_ref, loan_id, customer_key, amount, allocated, remainder, payment_method, event_date, created_at`
	creditColumns      = `id, customer_key, amount, payment_ref, payment_event_id, event_date, created_at`
	outboxColumns      = `id, msg_key, event_type, payload, created_at, published_at`
)

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var status string
	err := row.Scan(&loan.ID, &loan.CustomerKey, &loan.ProductLine, &loan.Principal, &loan.MonthlyInterestRate,
		&loan.TenureMonths, &status, &loan.Version, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	loan.Status = models.LoanStatus(status)
	return &loan, nil
}

func scanInstallment(row rowScanner) (*models.Installment, error) {
	var inst models.Installment
	var status string
	var paidOffAt sql.NullTime
	err := row.Scan(&inst.ID, &inst.LoanID, &inst.SequenceNumber, &inst.DueDate,
		&inst.Due.Principal, &inst.Due.Interest, &inst.Due.LateFee,
		&inst.Paid.Principal, &inst.Paid.Interest, &inst.Paid.LateFee,
		&status, &inst.Version, &paidOffAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inst.Status = models.InstallmentStatus(status)
	if paidOffAt.Valid {
		inst.PaidOffAt = &paidOffAt.Time
	}
	return &inst, nil
}

func (d dialect) getLoan(ctx context.Context, q querier, id uuid.UUID, lock bool) (*models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = ?`
	if lock {
		query += d.forUpdate
	}
	loan, err := scanLoan(q.QueryRowContext(ctx, d.rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

func (d dialect) queryLoans(ctx context.Context, q querier, where string, args ...any) ([]*models.Loan, error) {
	rows, err := q.QueryContext(ctx, d.rebind(`SELECT `+loanColumns+` FROM loans `+where+` ORDER BY created_at ASC`), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

func (d dialect) queryInstallments(ctx context.Context, q querier, query string, args ...any) ([]*models.Installment, error) {
	rows, err := q.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	var installments []*models.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		installments = append(installments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for installments: %w", err)
	}
	return installments, nil
}

func (d dialect) getInstallments(ctx context.Context, q querier, loanID uuid.UUID) ([]*models.Installment, error) {
	return d.queryInstallments(ctx, q,
		`SELECT `+installmentColumns+` FROM installments WHERE loan_id = ? ORDER BY sequence_number ASC`, loanID)
}

func (d dialect) insertInstallment(ctx context.Context, q querier, inst *models.Installment) error {
	_, err := q.ExecContext(ctx, d.rebind(`INSERT INTO installments (`+installmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		inst.ID, inst.LoanID, inst.SequenceNumber, inst.DueDate,
		inst.Due.Principal, inst.Due.Interest, inst.Due.LateFee,
		inst.Paid.Principal, inst.Paid.Interest, inst.Paid.LateFee,
		string(inst.Status), inst.Version, inst.PaidOffAt, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create installment %d: %w", inst.SequenceNumber, err)
	}
	return nil
}

// CreateLoan inserts a loan and its schedule in one transaction.
func (s *sqlStore) CreateLoan(ctx context.Context, loan *models.Loan, schedule []*models.Installment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.d.rebind(`INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		loan.ID, loan.CustomerKey, loan.ProductLine, loan.Principal, loan.MonthlyInterestRate,
		loan.TenureMonths, string(loan.Status), loan.Version, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	for _, inst := range schedule {
		if err := s.d.insertInstallment(ctx, tx, inst); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetLoan retrieves a loan by its ID.
func (s *sqlStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return s.d.getLoan(ctx, s.db, id, false)
}

// GetAllLoans retrieves all loans.
func (s *sqlStore) GetAllLoans(ctx context.Context) ([]*models.Loan, error) {
	return s.d.queryLoans(ctx, s.db, "")
}

// GetAllActiveLoans retrieves all active loans.
func (s *sqlStore) GetAllActiveLoans(ctx context.Context) ([]*models.Loan, error) {
	return s.d.queryLoans(ctx, s.db, "WHERE status = ?", string(models.LoanStatusActive))
}

// GetInstallments retrieves a loan's installments in sequence order.
func (s *sqlStore) GetInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	return s.d.getInstallments(ctx, s.db, loanID)
}

// GetOutstandingInstallments retrieves a loan's unsettled installments.
func (s *sqlStore) GetOutstandingInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	return s.d.queryInstallments(ctx, s.db,
		`SELECT `+installmentColumns+` FROM installments WHERE loan_id = ? AND status <> ? ORDER BY sequence_number ASC`,
		loanID, string(models.InstallmentStatusSettled))
}

// GetCustomerInstallments retrieves installments across all of a customer's loans.
func (s *sqlStore) GetCustomerInstallments(ctx context.Context, customerKey string) ([]*models.Installment, error) {
	cols := "i." + strings.ReplaceAll(installmentColumns, ", ", ", i.")
	return s.d.queryInstallments(ctx, s.db,
		`SELECT `+cols+` FROM installments i JOIN loans l ON l.id = i.loan_id
		WHERE l.customer_key = ? ORDER BY i.due_date ASC, i.sequence_number ASC`, customerKey)
}

// GetPaymentEvents retrieves the events of a loan in the order they were written.
func (s *sqlStore) GetPaymentEvents(ctx context.Context, loanID uuid.UUID) ([]*models.PaymentEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`SELECT `+eventColumns+` FROM payment_events WHERE loan_id = ? ORDER BY seq ASC`), loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment events for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var events []*models.PaymentEvent
	for rows.Next() {
		var ev models.PaymentEvent
		if err := rows.Scan(&ev.ID, &ev.LoanID, &ev.InstallmentID, &ev.CustomerKey, &ev.PaymentRef, &ev.PaymentMethod,
			&ev.Amount, &ev.Allocated.Principal, &ev.Allocated.Interest, &ev.Allocated.LateFee, &ev.EventDate, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment event row: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for payment events: %w", err)
	}
	return events, nil
}

// GetReceipt retrieves the receipt for a payment ref.
func (s *sqlStore) GetReceipt(ctx context.Context, paymentRef string) (*models.PaymentReceipt, error) {
	var r models.PaymentReceipt
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT `+receiptColumns+` FROM payment_receipts WHERE payment_ref = ?`), paymentRef).
		Scan(&r.PaymentRef, &r.LoanID, &r.CustomerKey, &r.Amount, &r.Allocated, &r.Remainder, &r.PaymentMethod, &r.EventDate, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReceiptNotFound
		}
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return &r, nil
}

// GetAccountBalance returns a zero balance for customers with no payments yet.
func (s *sqlStore) GetAccountBalance(ctx context.Context, customerKey string) (*models.AccountBalance, error) {
	return s.d.getAccountBalance(ctx, s.db, customerKey, false)
}

func (d dialect) getAccountBalance(ctx context.Context, q querier, customerKey string, lock bool) (*models.AccountBalance, error) {
	bal := models.AccountBalance{CustomerKey: customerKey}
	query := `SELECT principal_paid, interest_paid, late_fee_paid, updated_at FROM account_balances WHERE customer_key = ?`
	if lock {
		query += d.forUpdate
	}
	err := q.QueryRowContext(ctx, d.rebind(query), customerKey).
		Scan(&bal.Paid.Principal, &bal.Paid.Interest, &bal.Paid.LateFee, &bal.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get account balance: %w", err)
	}
	return &bal, nil
}

// GetWallet returns an empty wallet for customers that were never credited.
func (s *sqlStore) GetWallet(ctx context.Context, customerKey string) (*models.Wallet, error) {
	return s.d.getWallet(ctx, s.db, customerKey, false)
}

func (d dialect) getWallet(ctx context.Context, q querier, customerKey string, lock bool) (*models.Wallet, error) {
	w := models.Wallet{CustomerKey: customerKey}
	query := `SELECT accruing_balance, available_balance, updated_at FROM wallets WHERE customer_key = ?`
	if lock {
		query += d.forUpdate
	}
	err := q.QueryRowContext(ctx, d.rebind(query), customerKey).Scan(&w.AccruingBalance, &w.AvailableBalance, &w.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &w, nil
}

// GetWalletCredits retrieves a customer's wallet credits in insertion order.
func (s *sqlStore) GetWalletCredits(ctx context.Context, customerKey string) ([]*models.WalletCredit, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`SELECT `+creditColumns+` FROM wallet_credits WHERE customer_key = ? ORDER BY seq ASC`), customerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet credits: %w", err)
	}
	defer rows.Close()

	var credits []*models.WalletCredit
	for rows.Next() {
		var c models.WalletCredit
		var eventID uuid.NullUUID
		if err := rows.Scan(&c.ID, &c.CustomerKey, &c.Amount, &c.PaymentRef, &eventID, &c.EventDate, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan wallet credit row: %w", err)
		}
		if eventID.Valid {
			c.PaymentEventID = &eventID.UUID
		}
		credits = append(credits, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for wallet credits: %w", err)
	}
	return credits, nil
}

// PendingOutbox retrieves up to limit unpublished messages, oldest first.
func (s *sqlStore) PendingOutbox(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`SELECT `+outboxColumns+` FROM outbox WHERE published_at IS NULL ORDER BY seq ASC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read outbox: %w", err)
	}
	defer rows.Close()

	var msgs []*models.OutboxMessage
	for rows.Next() {
		var m models.OutboxMessage
		var eventType string
		var publishedAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.Key, &eventType, &m.Payload, &m.CreatedAt, &publishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		m.EventType = models.EventType(eventType)
		if publishedAt.Valid {
			m.PublishedAt = &publishedAt.Time
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for outbox: %w", err)
	}
	return msgs, nil
}

// MarkOutboxPublished stamps the given messages as published.
func (s *sqlStore) MarkOutboxPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx Tx) error {
		q := tx.(*sqlTx)
		for _, id := range ids {
			if _, err := q.tx.ExecContext(ctx, s.d.rebind(`UPDATE outbox SET published_at = ? WHERE id = ? AND published_at IS NULL`), at, id); err != nil {
				return fmt.Errorf("failed to mark outbox message %s published: %w", id, err)
			}
		}
		return nil
	})
}

// WithTx runs fn in a database transaction.
func (s *sqlStore) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&sqlTx{tx: tx, d: s.d}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

type sqlTx struct {
	tx *sql.Tx
	d  dialect
}

// LockLoan reads a loan for update.
func (t *sqlTx) LockLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return t.d.getLoan(ctx, t.tx, id, true)
}

// UpdateLoan writes a loan if its version is unchanged.
func (t *sqlTx) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	result, err := t.tx.ExecContext(ctx, t.d.rebind(`UPDATE loans SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`),
		string(loan.Status), loan.UpdatedAt, loan.ID, loan.Version)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	if err := checkVersioned(result); err != nil {
		return fmt.Errorf("loan %s: %w", loan.ID, err)
	}
	loan.Version++
	return nil
}

// GetInstallment reads one installment.
func (t *sqlTx) GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error) {
	inst, err := scanInstallment(t.tx.QueryRowContext(ctx, t.d.rebind(`SELECT `+installmentColumns+` FROM installments WHERE id = ?`), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstallmentNotFound
		}
		return nil, fmt.Errorf("failed to get installment: %w", err)
	}
	return inst, nil
}

// GetInstallments retrieves a loan's installments in sequence order.
func (t *sqlTx) GetInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	return t.d.getInstallments(ctx, t.tx, loanID)
}

// UpdateInstallment writes an installment if it is still at expectedVersion.
func (t *sqlTx) UpdateInstallment(ctx context.Context, inst *models.Installment, expectedVersion int64) error {
	result, err := t.tx.ExecContext(ctx, t.d.rebind(`UPDATE installments SET
		principal_due = ?, interest_due = ?, late_fee_due = ?,
		principal_paid = ?, interest_paid = ?, late_fee_paid = ?,
		status = ?, version = ?, paid_off_at = ?, updated_at = ?
		WHERE id = ? AND version = ?`),
		inst.Due.Principal, inst.Due.Interest, inst.Due.LateFee,
		inst.Paid.Principal, inst.Paid.Interest, inst.Paid.LateFee,
		string(inst.Status), expectedVersion+1, inst.PaidOffAt, inst.UpdatedAt,
		inst.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	if err := checkVersioned(result); err != nil {
		return fmt.Errorf("installment %s: %w", inst.ID, err)
	}
	inst.Version = expectedVersion + 1
	return nil
}

// CreatePaymentEvent inserts a payment event.
func (t *sqlTx) CreatePaymentEvent(ctx context.Context, ev *models.PaymentEvent) error {
	_, err := t.tx.ExecContext(ctx, t.d.rebind(`INSERT INTO payment_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		ev.ID, ev.LoanID, ev.InstallmentID, ev.CustomerKey, ev.PaymentRef, ev.PaymentMethod,
		ev.Amount, ev.Allocated.Principal, ev.Allocated.Interest, ev.Allocated.LateFee, ev.EventDate, ev.CreatedAt,
	)
	if err != nil {
		if t.d.isUniqueViolation(err) {
			return ErrDuplicatePayment
		}
		return fmt.Errorf("failed to create payment event: %w", err)
	}
	return nil
}

// CreateReceipt inserts the receipt for a payment ref.
func (t *sqlTx) CreateReceipt(ctx context.Context, r *models.PaymentReceipt) error {
	_, err := t.tx.ExecContext(ctx, t.d.rebind(`INSERT INTO payment_receipts (`+receiptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.PaymentRef, r.LoanID, r.CustomerKey, r.Amount, r.Allocated, r.Remainder, r.PaymentMethod, r.EventDate, r.CreatedAt,
	)
	if err != nil {
		if t.d.isUniqueViolation(err) {
			return ErrDuplicatePayment
		}
		return fmt.Errorf("failed to create receipt: %w", err)
	}
	return nil
}

// AddToAccountBalance adds delta to the customer's aggregate. Amounts are kept
// as exact decimals, so the arithmetic happens here rather than in SQL.
func (t *sqlTx) AddToAccountBalance(ctx context.Context, customerKey string, delta models.Buckets, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, t.d.rebind(`INSERT INTO account_balances (customer_key, principal_paid, interest_paid, late_fee_paid, updated_at)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT (customer_key) DO NOTHING`),
		customerKey, decimal.Zero, decimal.Zero, decimal.Zero, at)
	if err != nil {
		return fmt.Errorf("failed to init account balance: %w", err)
	}
	bal, err := t.d.getAccountBalance(ctx, t.tx, customerKey, true)
	if err != nil {
		return err
	}
	paid := bal.Paid.Add(delta)
	_, err = t.tx.ExecContext(ctx, t.d.rebind(`UPDATE account_balances SET principal_paid = ?, interest_paid = ?, late_fee_paid = ?, updated_at = ? WHERE customer_key = ?`),
		paid.Principal, paid.Interest, paid.LateFee, at, customerKey)
	if err != nil {
		return fmt.Errorf("failed to update account balance: %w", err)
	}
	return nil
}

// CreditWallet adds a credit to the customer's wallet.
func (t *sqlTx) CreditWallet(ctx context.Context, c *models.WalletCredit) error {
	_, err := t.tx.ExecContext(ctx, t.d.rebind(`INSERT INTO wallets (customer_key, accruing_balance, available_balance, updated_at)
		VALUES (?, ?, ?, ?) ON CONFLICT (customer_key) DO NOTHING`),
		c.CustomerKey, decimal.Zero, decimal.Zero, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to init wallet: %w", err)
	}
	w, err := t.d.getWallet(ctx, t.tx, c.CustomerKey, true)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, t.d.rebind(`UPDATE wallets SET accruing_balance = ?, available_balance = ?, updated_at = ? WHERE customer_key = ?`),
		w.AccruingBalance.Add(c.Amount), w.AvailableBalance.Add(c.Amount), c.CreatedAt, c.CustomerKey)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}

	var eventID uuid.NullUUID
	if c.PaymentEventID != nil {
		eventID = uuid.NullUUID{UUID: *c.PaymentEventID, Valid: true}
	}
	_, err = t.tx.ExecContext(ctx, t.d.rebind(`INSERT INTO wallet_credits (`+creditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.CustomerKey, c.Amount, c.PaymentRef, eventID, c.EventDate, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create wallet credit: %w", err)
	}
	return nil
}

// EnqueueEvent adds a message to the outbox.
func (t *sqlTx) EnqueueEvent(ctx context.Context, m *models.OutboxMessage) error {
	_, err := t.tx.ExecContext(ctx, t.d.rebind(`INSERT INTO outbox (`+outboxColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
		m.ID, m.Key, string(m.EventType), m.Payload, m.CreatedAt, m.PublishedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue event: %w", err)
	}
	return nil
}

func checkVersioned(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrConcurrentModification
	}
	return nil
}
