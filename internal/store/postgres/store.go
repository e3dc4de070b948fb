// Package postgres implements registry.Store against Postgres, using
// database/sql with the jackc/pgx/v5/stdlib driver the same way
// internal/tools/sql.go registers it — pgx is wired as a database/sql
// driver rather than through pgxpool, matching that precedent.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/marcus-qen/legator/internal/registry"
)

// Store is the durable registry.Store implementation.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open connects to dsn, bootstraps the schema if needed, and returns a
// ready Store.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping registry db: %w", err)
	}
	s := &Store{db: db, logger: logger}
	// Bootstrap failure is logged, not fatal (spec §4.A): operations that
	// need a relation or index this pass didn't create will fail (or a
	// later bootstrap attempt could succeed) rather than taking the
	// whole service down over a transient DDL hiccup.
	if err := s.bootstrap(ctx); err != nil {
		logger.Error("postgres: schema bootstrap failed, continuing degraded", zap.Error(err))
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) bootstrap(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS servers (
			id                 TEXT PRIMARY KEY,
			canonical_id       TEXT NOT NULL UNIQUE,
			name               TEXT NOT NULL,
			description        TEXT NOT NULL DEFAULT '',
			owner_team         TEXT NOT NULL,
			source_type        TEXT NOT NULL,
			source_url         TEXT NOT NULL DEFAULT '',
			version            TEXT NOT NULL DEFAULT '',
			status             INTEGER NOT NULL,
			declared_tools     JSONB NOT NULL DEFAULT '[]',
			mcp_config         JSONB NOT NULL DEFAULT '{}',
			test_endpoint      TEXT NOT NULL DEFAULT '',
			tags               JSONB NOT NULL DEFAULT '[]',
			created_by         TEXT NOT NULL,
			created_at         TIMESTAMPTZ NOT NULL,
			updated_at         TIMESTAMPTZ NOT NULL,
			latest_scan_id     TEXT,
			latest_risk_score  DOUBLE PRECISION
		)`,
		`CREATE INDEX IF NOT EXISTS idx_servers_status ON servers (status)`,
		`CREATE INDEX IF NOT EXISTS idx_servers_owner_team ON servers (owner_team)`,
		`CREATE TABLE IF NOT EXISTS scans (
			id               TEXT PRIMARY KEY,
			server_id        TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
			scanner_version  TEXT NOT NULL DEFAULT '',
			status           INTEGER NOT NULL,
			risk_score       DOUBLE PRECISION,
			summary          TEXT NOT NULL DEFAULT '',
			report_json      TEXT NOT NULL DEFAULT '',
			issues           JSONB NOT NULL DEFAULT '[]',
			discovered_tools JSONB NOT NULL DEFAULT '[]',
			job_name         TEXT NOT NULL DEFAULT '',
			error_message    TEXT NOT NULL DEFAULT '',
			started_at       TIMESTAMPTZ NOT NULL,
			finished_at      TIMESTAMPTZ,
			triggered_by     TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_server_id ON scans (server_id, started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_status ON scans (status)`,
		`CREATE TABLE IF NOT EXISTS approvals (
			id                  TEXT PRIMARY KEY,
			server_id           TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
			server_canonical_id TEXT NOT NULL,
			actor               TEXT NOT NULL,
			action              INTEGER NOT NULL,
			reason              TEXT NOT NULL DEFAULT '',
			notes               TEXT NOT NULL DEFAULT '',
			timestamp           TIMESTAMPTZ NOT NULL,
			expires_at          TIMESTAMPTZ,
			scan_id             TEXT,
			override_reason     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_server_id ON approvals (server_id, timestamp DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap registry schema: %w", err)
		}
	}
	return nil
}

var _ registry.Store = (*Store)(nil)
