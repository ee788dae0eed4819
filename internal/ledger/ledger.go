// Package ledger implements the Ledger Writer (C8): two idempotent
// Postgres inserts per settlement, for analytics only. The chain is the
// ledger of record; a write failure here never affects the HTTP response,
// mirroring the teacher's treatment of payment_transactions as a
// replay-protection/analytics table rather than a source of truth. Both
// inserts use ON CONFLICT DO NOTHING, so a repeated write is a no-op.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	_ "github.com/lib/pq"

	"github.com/x402fac/facilitator/internal/config"
	"github.com/x402fac/facilitator/internal/metrics"
)

// Transaction is one settled x402 payment, recorded for analytics.
type Transaction struct {
	TxHash        string
	Payer         string
	Recipient     string
	Sponsor       string
	AmountAtomic  *big.Int
	Asset         string
	Network       string
	ChainID       int64
	Scheme        string
	Status        string // "success" or "failure"
	VendorDomain  string
	VendorEndpoint string
	SettledAt     time.Time
}

// SponsorSpend is one gas charge billed to a sponsor wallet for a
// settlement.
type SponsorSpend struct {
	SponsorWalletID string
	TxHash          string
	GasCostWei      *big.Int
	Agent           string
	ChainID         int64
	SpentAt         time.Time
}

// Writer persists settlements and sponsor spend idempotently.
type Writer interface {
	RecordTransaction(ctx context.Context, tx Transaction) error
	RecordSponsorSpend(ctx context.Context, spend SponsorSpend) error
	Close() error
}

// PostgresWriter implements Writer against two tables: x402_transactions
// (unique on transaction_hash) and sponsor_spending (unique on
// (sponsor_wallet_id, tx_hash)).
type PostgresWriter struct {
	db                   *sql.DB
	ownsDB               bool
	transactionsTable    string
	sponsorSpendingTable string
	metrics              *metrics.Metrics
}

// NewPostgresWriter opens a connection pool and creates the ledger tables.
func NewPostgresWriter(connectionString string, pool config.PostgresPoolConfig, m *metrics.Metrics) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("ledger: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: ping postgres: %w", err)
	}
	config.ApplyPostgresPoolSettings(db, pool)

	w := &PostgresWriter{db: db, ownsDB: true, transactionsTable: "x402_transactions", sponsorSpendingTable: "sponsor_spending", metrics: m}
	if err := w.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

// NewPostgresWriterWithDB builds a PostgresWriter over a shared connection
// pool.
func NewPostgresWriterWithDB(db *sql.DB, m *metrics.Metrics) (*PostgresWriter, error) {
	w := &PostgresWriter{db: db, ownsDB: false, transactionsTable: "x402_transactions", sponsorSpendingTable: "sponsor_spending", metrics: m}
	if err := w.createTables(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *PostgresWriter) createTables() error {
	_, err := w.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			transaction_hash TEXT PRIMARY KEY,
			payer TEXT NOT NULL,
			recipient TEXT NOT NULL,
			sponsor TEXT NOT NULL,
			amount_atomic NUMERIC NOT NULL,
			asset TEXT NOT NULL,
			network TEXT NOT NULL,
			chain_id BIGINT NOT NULL,
			scheme TEXT NOT NULL,
			status TEXT NOT NULL,
			vendor_domain TEXT,
			vendor_endpoint TEXT,
			settled_at TIMESTAMPTZ NOT NULL
		)
	`, w.transactionsTable))
	if err != nil {
		return fmt.Errorf("ledger: create transactions table: %w", err)
	}

	_, err = w.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			sponsor_wallet_id TEXT NOT NULL,
			tx_hash TEXT NOT NULL,
			gas_cost_wei NUMERIC NOT NULL,
			agent TEXT,
			chain_id BIGINT NOT NULL,
			spent_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (sponsor_wallet_id, tx_hash)
		)
	`, w.sponsorSpendingTable))
	if err != nil {
		return fmt.Errorf("ledger: create sponsor_spending table: %w", err)
	}
	return nil
}

// RecordTransaction inserts tx, treating a duplicate transaction_hash as
// success (invariant 4: a tx hash is logged at most once).
func (w *PostgresWriter) RecordTransaction(ctx context.Context, tx Transaction) error {
	if tx.TxHash == "" {
		// A Success outcome with no recoverable tx hash has nothing to key
		// the ledger row on; skip rather than writing a garbage row.
		return nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (transaction_hash, payer, recipient, sponsor, amount_atomic, asset, network, chain_id, scheme, status, vendor_domain, vendor_endpoint, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (transaction_hash) DO NOTHING
	`, w.transactionsTable)

	_, err := w.db.ExecContext(ctx, query,
		tx.TxHash, tx.Payer, tx.Recipient, tx.Sponsor, tx.AmountAtomic.String(), tx.Asset,
		tx.Network, tx.ChainID, tx.Scheme, tx.Status, tx.VendorDomain, tx.VendorEndpoint, tx.SettledAt.UTC())
	if err != nil {
		w.metrics.LedgerErrorsTotal.WithLabelValues("x402_transactions").Inc()
		return fmt.Errorf("ledger: record transaction: %w", err)
	}
	w.metrics.LedgerWritesTotal.WithLabelValues("x402_transactions").Inc()
	return nil
}

// RecordSponsorSpend inserts spend, idempotent on (sponsor_wallet_id, tx_hash).
func (w *PostgresWriter) RecordSponsorSpend(ctx context.Context, spend SponsorSpend) error {
	if spend.TxHash == "" || spend.SponsorWalletID == "" {
		return nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (sponsor_wallet_id, tx_hash, gas_cost_wei, agent, chain_id, spent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sponsor_wallet_id, tx_hash) DO NOTHING
	`, w.sponsorSpendingTable)

	gasCost := spend.GasCostWei
	if gasCost == nil {
		gasCost = big.NewInt(0)
	}

	_, err := w.db.ExecContext(ctx, query, spend.SponsorWalletID, spend.TxHash, gasCost.String(), spend.Agent, spend.ChainID, spend.SpentAt.UTC())
	if err != nil {
		w.metrics.LedgerErrorsTotal.WithLabelValues("sponsor_spending").Inc()
		return fmt.Errorf("ledger: record sponsor spend: %w", err)
	}
	w.metrics.LedgerWritesTotal.WithLabelValues("sponsor_spending").Inc()
	return nil
}

func (w *PostgresWriter) Close() error {
	if !w.ownsDB {
		return nil
	}
	return w.db.Close()
}
