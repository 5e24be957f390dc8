package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// PostgresStore runs the ledger on Postgres. Loan and balance rows are read
// with SELECT ... FOR UPDATE inside transactions.
type PostgresStore struct {
	sqlStore
}

var postgresDialect = dialect{
	name:              "postgres",
	numbered:          true,
	forUpdate:         " FOR UPDATE",
	isUniqueViolation: isPostgresUniqueViolation,
}

// NewPostgresStore connects to Postgres and initializes the schema.
func NewPostgresStore(dsn string, log *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	log.Info("Postgres connection established and schema initialized")
	return &PostgresStore{sqlStore{db: db, d: postgresDialect}}, nil
}

func isPostgresUniqueViolation(err error) bool {
	var pe *pq.Error
	return errors.As(err, &pe) && pe.Code == "23505"
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS loans (
	id UUID PRIMARY KEY,
	customer_key TEXT NOT NULL,
	product_line TEXT NOT NULL DEFAULT '',
	principal NUMERIC NOT NULL,
	monthly_interest_rate NUMERIC NOT NULL DEFAULT 0,
	tenure_months INTEGER NOT NULL,
	status TEXT NOT NULL,
	version BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_loans_customer ON loans(customer_key);
CREATE TABLE IF NOT EXISTS installments (
	id UUID PRIMARY KEY,
	loan_id UUID NOT NULL REFERENCES loans(id),
	sequence_number INTEGER NOT NULL,
	due_date TIMESTAMPTZ NOT NULL,
	principal_due NUMERIC NOT NULL,
	interest_due NUMERIC NOT NULL,
	late_fee_due NUMERIC NOT NULL DEFAULT 0,
	principal_paid NUMERIC NOT NULL DEFAULT 0,
	interest_paid NUMERIC NOT NULL DEFAULT 0,
	late_fee_paid NUMERIC NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	version BIGINT NOT NULL DEFAULT 0,
	paid_off_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE(loan_id, sequence_number),
	CHECK (principal_paid <= principal_due AND interest_paid <= interest_due AND late_fee_paid <= late_fee_due)
);
CREATE TABLE IF NOT EXISTS payment_events (
	seq BIGSERIAL PRIMARY KEY,
	id UUID NOT NULL UNIQUE,
	loan_id UUID NOT NULL REFERENCES loans(id),
	installment_id UUID NOT NULL REFERENCES installments(id),
	customer_key TEXT NOT NULL,
	payment_ref TEXT NOT NULL,
	payment_method TEXT NOT NULL DEFAULT '',
	amount NUMERIC NOT NULL,
	principal NUMERIC NOT NULL,
	interest NUMERIC NOT NULL,
	late_fee NUMERIC NOT NULL,
	event_date TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE(payment_ref, installment_id)
);
CREATE TABLE IF NOT EXISTS payment_receipts (
	payment_ref TEXT PRIMARY KEY,
	loan_id UUID NOT NULL REFERENCES loans(id),
	customer_key TEXT NOT NULL,
	amount NUMERIC NOT NULL,
	allocated NUMERIC NOT NULL,
	remainder NUMERIC NOT NULL,
	payment_method TEXT NOT NULL DEFAULT '',
	event_date TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS account_balances (
	customer_key TEXT PRIMARY KEY,
	principal_paid NUMERIC NOT NULL,
	interest_paid NUMERIC NOT NULL,
	late_fee_paid NUMERIC NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS wallets (
	customer_key TEXT PRIMARY KEY,
	accruing_balance NUMERIC NOT NULL,
	available_balance NUMERIC NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS wallet_credits (
	seq BIGSERIAL PRIMARY KEY,
	id UUID NOT NULL UNIQUE,
	customer_key TEXT NOT NULL,
	amount NUMERIC NOT NULL,
	payment_ref TEXT NOT NULL,
	payment_event_id UUID,
	event_date TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS outbox (
	seq BIGSERIAL PRIMARY KEY,
	id UUID NOT NULL UNIQUE,
	msg_key TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	published_at TIMESTAMPTZ
);
`
