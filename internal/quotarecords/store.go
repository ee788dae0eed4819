// Package quotarecords persists each payer's current quota tier assignment
// and the billing-style period their usage counters are scoped to. The
// dual in-memory/Postgres backend switch follows the teacher's
// internal/subscriptions package; everything else in that package was
// Stripe billing logic with no role here and was left behind rather than
// carried along unused.
package quotarecords

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a wallet has no quota record yet.
var ErrNotFound = errors.New("quota record not found")

// Record is a payer's current quota tier assignment.
type Record struct {
	Wallet      string
	Tier        string
	PeriodStart time.Time
	PeriodEnd   time.Time
	UpdatedAt   time.Time
}

// Store persists per-wallet quota tier assignments.
type Store interface {
	// GetByWallet looks up the current assignment for wallet. Returns
	// ErrNotFound if the wallet has never been assigned a tier.
	GetByWallet(ctx context.Context, wallet string) (Record, error)

	// Upsert creates or replaces the assignment for rec.Wallet.
	Upsert(ctx context.Context, rec Record) error

	// Close releases any resources held by the store.
	Close() error
}

// Config selects and configures a Store backend.
type Config struct {
	Backend     string  // "memory" or "postgres"
	PostgresURL string  // connection string for postgres
	PostgresDB  *sql.DB // optional shared database connection
	TableName   string  // custom table name (default: "quota_records")
}

// NewStore creates a store based on configuration.
func NewStore(cfg Config) (Store, error) {
	return NewStoreWithDB(cfg, nil)
}

// NewStoreWithDB creates a store with an optional shared database connection.
func NewStoreWithDB(cfg Config, sharedDB *sql.DB) (Store, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryStore(), nil
	case "postgres":
		if sharedDB != nil {
			return NewPostgresStoreWithDB(sharedDB, cfg.TableName), nil
		}
		if cfg.PostgresURL == "" {
			return nil, errors.New("postgres_url required for postgres backend")
		}
		return NewPostgresStore(cfg.PostgresURL, cfg.TableName)
	default:
		return nil, errors.New("unknown quota record store backend: " + cfg.Backend)
	}
}
