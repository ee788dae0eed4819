package quotarecords

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db        *sql.DB
	tableName string
	ownsDB    bool // whether we created the DB connection (vs. shared)
}

// NewPostgresStore creates a new PostgreSQL store, opening its own connection.
func NewPostgresStore(connStr, tableName string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := newPostgresStore(db, tableName, true)
	if err := s.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	return s, nil
}

// NewPostgresStoreWithDB creates a store using a shared database connection.
func NewPostgresStoreWithDB(db *sql.DB, tableName string) *PostgresStore {
	s := newPostgresStore(db, tableName, false)
	_ = s.createTable() // don't fail if it already exists
	return s
}

func newPostgresStore(db *sql.DB, tableName string, ownsDB bool) *PostgresStore {
	if tableName == "" {
		tableName = "quota_records"
	}
	return &PostgresStore{db: db, tableName: tableName, ownsDB: ownsDB}
}

func (s *PostgresStore) createTable() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			wallet       TEXT PRIMARY KEY,
			tier         TEXT NOT NULL,
			period_start TIMESTAMPTZ NOT NULL,
			period_end   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`, s.tableName)

	_, err := s.db.Exec(query)
	return err
}

// GetByWallet looks up the current assignment for wallet.
func (s *PostgresStore) GetByWallet(ctx context.Context, wallet string) (Record, error) {
	query := fmt.Sprintf(`
		SELECT wallet, tier, period_start, period_end, updated_at
		FROM %s WHERE wallet = $1
	`, s.tableName)

	var rec Record
	err := s.db.QueryRowContext(ctx, query, wallet).Scan(
		&rec.Wallet, &rec.Tier, &rec.PeriodStart, &rec.PeriodEnd, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("scan: %w", err)
	}
	return rec, nil
}

// Upsert creates or replaces the assignment for rec.Wallet.
func (s *PostgresStore) Upsert(ctx context.Context, rec Record) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (wallet, tier, period_start, period_end, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (wallet) DO UPDATE SET
			tier = EXCLUDED.tier,
			period_start = EXCLUDED.period_start,
			period_end = EXCLUDED.period_end,
			updated_at = NOW()
	`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query, rec.Wallet, rec.Tier, rec.PeriodStart, rec.PeriodEnd); err != nil {
		return fmt.Errorf("upsert quota record: %w", err)
	}
	return nil
}

// Close closes the database connection if owned.
func (s *PostgresStore) Close() error {
	if s.ownsDB && s.db != nil {
		return s.db.Close()
	}
	return nil
}
