package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	sqlStore
}

var sqliteDialect = dialect{
	name:              "sqlite3",
	isUniqueViolation: isSQLiteUniqueViolation,
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
// Transactions start with BEGIN IMMEDIATE, which takes the write lock up front
// and serializes writers the way SELECT ... FOR UPDATE does on Postgres.
func NewSQLiteStore(dataSourceName string, log *logrus.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", withSQLiteParams(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{sqlStore{db: db, d: sqliteDialect}}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	log.WithField("dsn", dataSourceName).Info("SQLite connection established and schema initialized")
	return s, nil
}

func withSQLiteParams(dsn string) string {
	params := []string{"_foreign_keys=on", "_txlock=immediate", "_busy_timeout=5000"}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	var missing []string
	for _, p := range params {
		key := p[:strings.Index(p, "=")+1]
		if !strings.Contains(dsn, key) {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return dsn
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	return dsn + sep + strings.Join(missing, "&")
}

func isSQLiteUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// Decimal columns are TEXT so no precision is lost.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS loans (
	id TEXT PRIMARY KEY,
	customer_key TEXT NOT NULL,
	product_line TEXT NOT NULL DEFAULT '',
	principal TEXT NOT NULL,
	monthly_interest_rate TEXT NOT NULL DEFAULT '0',
	tenure_months INTEGER NOT NULL,
	status TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_loans_customer ON loans(customer_key);
CREATE TABLE IF NOT EXISTS installments (
	id TEXT PRIMARY KEY,
	loan_id TEXT NOT NULL,
	sequence_number INTEGER NOT NULL,
	due_date DATETIME NOT NULL,
	principal_due TEXT NOT NULL,
	interest_due TEXT NOT NULL,
	late_fee_due TEXT NOT NULL DEFAULT '0',
	principal_paid TEXT NOT NULL DEFAULT '0',
	interest_paid TEXT NOT NULL DEFAULT '0',
	late_fee_paid TEXT NOT NULL DEFAULT '0',
	status TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 0,
	paid_off_at DATETIME,
	updated_at DATETIME NOT NULL,
	UNIQUE(loan_id, sequence_number),
	FOREIGN KEY(loan_id) REFERENCES loans(id)
);
CREATE TABLE IF NOT EXISTS payment_events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	loan_id TEXT NOT NULL,
	installment_id TEXT NOT NULL,
	customer_key TEXT NOT NULL,
	payment_ref TEXT NOT NULL,
	payment_method TEXT NOT NULL DEFAULT '',
	amount TEXT NOT NULL,
	principal TEXT NOT NULL,
	interest TEXT NOT NULL,
	late_fee TEXT NOT NULL,
	event_date DATETIME NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE(payment_ref, installment_id),
	FOREIGN KEY(loan_id) REFERENCES loans(id),
	FOREIGN KEY(installment_id) REFERENCES installments(id)
);
CREATE TABLE IF NOT EXISTS payment_receipts (
	payment_ref TEXT PRIMARY KEY,
	loan_id TEXT NOT NULL,
	customer_key TEXT NOT NULL,
	amount TEXT NOT NULL,
	allocated TEXT NOT NULL,
	remainder TEXT NOT NULL,
	payment_method TEXT NOT NULL DEFAULT '',
	event_date DATETIME NOT NULL,
	created_at DATETIME NOT NULL,
	FOREIGN KEY(loan_id) REFERENCES loans(id)
);
CREATE TABLE IF NOT EXISTS account_balances (
	customer_key TEXT PRIMARY KEY,
	principal_paid TEXT NOT NULL,
	interest_paid TEXT NOT NULL,
	late_fee_paid TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS wallets (
	customer_key TEXT PRIMARY KEY,
	accruing_balance TEXT NOT NULL,
	available_balance TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS wallet_credits (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	customer_key TEXT NOT NULL,
	amount TEXT NOT NULL,
	payment_ref TEXT NOT NULL,
	payment_event_id TEXT,
	event_date DATETIME NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS outbox (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	msg_key TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload BLOB NOT NULL,
	created_at DATETIME NOT NULL,
	published_at DATETIME
);
`
