package sponsor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/x402fac/facilitator/internal/config"
)

// PostgresStore implements Store using PostgreSQL tables created once at
// startup, following the teacher's table-creation-on-connect pattern.
type PostgresStore struct {
	db                  *sql.DB
	ownsDB              bool
	sponsorWalletsTable string
	sponsorRulesTable   string
}

// NewPostgresStore opens a new connection pool and creates the sponsor
// tables if they do not already exist.
func NewPostgresStore(connectionString string, pool config.PostgresPoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("sponsor: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sponsor: ping postgres: %w", err)
	}
	config.ApplyPostgresPoolSettings(db, pool)

	s := &PostgresStore{db: db, ownsDB: true, sponsorWalletsTable: "sponsor_wallets", sponsorRulesTable: "sponsor_rules"}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreWithDB builds a PostgresStore over a shared connection
// pool, so the ledger and sponsor stores can reuse one *sql.DB.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db, ownsDB: false, sponsorWalletsTable: "sponsor_wallets", sponsorRulesTable: "sponsor_rules"}
	if err := s.createTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) createTables() error {
	_, err := s.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			user_wallet_address TEXT NOT NULL,
			network TEXT NOT NULL,
			sponsor_address TEXT NOT NULL,
			signer_handle TEXT NOT NULL,
			signer_user_share TEXT,
			UNIQUE (network, user_wallet_address)
		)
	`, s.sponsorWalletsTable))
	if err != nil {
		return fmt.Errorf("sponsor: create wallets table: %w", err)
	}

	_, err = s.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			sponsor_wallet_id TEXT NOT NULL REFERENCES %s(id),
			rule_type TEXT NOT NULL,
			agent_address TEXT NOT NULL,
			network TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT true,
			priority INTEGER NOT NULL DEFAULT 0
		)
	`, s.sponsorRulesTable, s.sponsorWalletsTable))
	if err != nil {
		return fmt.Errorf("sponsor: create rules table: %w", err)
	}
	return nil
}

func (s *PostgresStore) WalletByAddress(ctx context.Context, network, address string) (Wallet, error) {
	query := fmt.Sprintf(`
		SELECT id, user_wallet_address, network, sponsor_address, signer_handle, signer_user_share
		FROM %s WHERE network = $1 AND user_wallet_address = $2
	`, s.sponsorWalletsTable)

	var w Wallet
	var share sql.NullString
	err := s.db.QueryRowContext(ctx, query, network, address).Scan(
		&w.ID, &w.UserWalletAddress, &w.Network, &w.SponsorAddress, &w.SignerHandle, &share)
	if errors.Is(err, sql.ErrNoRows) {
		return Wallet{}, ErrNotFound
	}
	if err != nil {
		return Wallet{}, fmt.Errorf("sponsor: query wallet by address: %w", err)
	}
	w.SignerUserShare = share.String
	return w, nil
}

func (s *PostgresStore) Wallet(ctx context.Context, id string) (Wallet, error) {
	query := fmt.Sprintf(`
		SELECT id, user_wallet_address, network, sponsor_address, signer_handle, signer_user_share
		FROM %s WHERE id = $1
	`, s.sponsorWalletsTable)

	var w Wallet
	var share sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&w.ID, &w.UserWalletAddress, &w.Network, &w.SponsorAddress, &w.SignerHandle, &share)
	if errors.Is(err, sql.ErrNoRows) {
		return Wallet{}, ErrNotFound
	}
	if err != nil {
		return Wallet{}, fmt.Errorf("sponsor: query wallet: %w", err)
	}
	w.SignerUserShare = share.String
	return w, nil
}

func (s *PostgresStore) EnabledRulesForAgent(ctx context.Context, network, agentAddress string) ([]Rule, error) {
	query := fmt.Sprintf(`
		SELECT id, sponsor_wallet_id, rule_type, agent_address, enabled, priority
		FROM %s
		WHERE network = $1 AND agent_address = $2 AND enabled = true AND rule_type = 'agent_whitelist'
		ORDER BY priority DESC
	`, s.sponsorRulesTable)

	rows, err := s.db.QueryContext(ctx, query, network, agentAddress)
	if err != nil {
		return nil, fmt.Errorf("sponsor: query rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.ID, &r.SponsorWalletID, &r.RuleType, &r.AgentAddress, &r.Enabled, &r.Priority); err != nil {
			return nil, fmt.Errorf("sponsor: scan rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
