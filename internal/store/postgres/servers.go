package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/marcus-qen/legator/internal/registry"
)

const serverColumns = `id, canonical_id, name, description, owner_team, source_type, source_url,
	version, status, declared_tools, mcp_config, test_endpoint, tags, created_by,
	created_at, updated_at, latest_scan_id, latest_risk_score`

func (s *Store) CreateServer(ctx context.Context, srv *registry.Server) error {
	declaredTools, err := json.Marshal(srv.DeclaredTools)
	if err != nil {
		return fmt.Errorf("marshal declaredTools: %w", err)
	}
	mcpConfig, err := json.Marshal(srv.MCPConfig)
	if err != nil {
		return fmt.Errorf("marshal mcpConfig: %w", err)
	}
	tags, err := json.Marshal(srv.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO servers (
		id, canonical_id, name, description, owner_team, source_type, source_url,
		version, status, declared_tools, mcp_config, test_endpoint, tags, created_by,
		created_at, updated_at, latest_scan_id, latest_risk_score
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		srv.ID, srv.CanonicalID, srv.Name, srv.Description, srv.OwnerTeam, string(srv.SourceType),
		srv.SourceURL, srv.Version, int(srv.Status), declaredTools, mcpConfig, srv.TestEndpoint,
		tags, srv.CreatedBy, srv.CreatedAt, srv.UpdatedAt, srv.LatestScanID, srv.LatestRiskScore)
	if err != nil {
		if isUniqueViolation(err) {
			return registry.ErrConflictCanonicalID
		}
		return fmt.Errorf("insert server: %w", err)
	}
	return nil
}

func (s *Store) GetServer(ctx context.Context, id string) (*registry.Server, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = $1`, id)
	return scanServer(row)
}

func (s *Store) GetServerByCanonicalID(ctx context.Context, canonicalID string) (*registry.Server, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE canonical_id = $1`, canonicalID)
	return scanServer(row)
}

func (s *Store) ListServers(ctx context.Context) ([]*registry.Server, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var out []*registry.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}

func (s *Store) UpdateServer(ctx context.Context, srv *registry.Server) error {
	declaredTools, err := json.Marshal(srv.DeclaredTools)
	if err != nil {
		return fmt.Errorf("marshal declaredTools: %w", err)
	}
	mcpConfig, err := json.Marshal(srv.MCPConfig)
	if err != nil {
		return fmt.Errorf("marshal mcpConfig: %w", err)
	}
	tags, err := json.Marshal(srv.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE servers SET
		name = $1, description = $2, owner_team = $3, source_url = $4, version = $5,
		status = $6, declared_tools = $7, mcp_config = $8, test_endpoint = $9, tags = $10,
		updated_at = $11, latest_scan_id = $12, latest_risk_score = $13
		WHERE id = $14`,
		srv.Name, srv.Description, srv.OwnerTeam, srv.SourceURL, srv.Version, int(srv.Status),
		declaredTools, mcpConfig, srv.TestEndpoint, tags, srv.UpdatedAt, srv.LatestScanID,
		srv.LatestRiskScore, srv.ID)
	if err != nil {
		return fmt.Errorf("update server: %w", err)
	}
	return requireRowAffected(res)
}

func (s *Store) UpdateServerStatus(ctx context.Context, id string, status registry.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE servers SET status = $1, updated_at = $2 WHERE id = $3`,
		int(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update server status: %w", err)
	}
	return requireRowAffected(res)
}

func (s *Store) DeleteServer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	return requireRowAffected(res)
}

type rowScannerServer interface {
	Scan(dest ...any) error
}

func scanServer(row rowScannerServer) (*registry.Server, error) {
	var srv registry.Server
	var sourceType string
	var status int
	var declaredTools, mcpConfig, tags []byte
	var latestScanID sql.NullString
	var latestRiskScore sql.NullFloat64

	err := row.Scan(&srv.ID, &srv.CanonicalID, &srv.Name, &srv.Description, &srv.OwnerTeam,
		&sourceType, &srv.SourceURL, &srv.Version, &status, &declaredTools, &mcpConfig,
		&srv.TestEndpoint, &tags, &srv.CreatedBy, &srv.CreatedAt, &srv.UpdatedAt,
		&latestScanID, &latestRiskScore)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan server: %w", err)
	}

	srv.SourceType = registry.SourceType(sourceType)
	srv.Status = registry.Status(status)
	if len(declaredTools) > 0 {
		if err := json.Unmarshal(declaredTools, &srv.DeclaredTools); err != nil {
			return nil, fmt.Errorf("unmarshal declaredTools: %w", err)
		}
	}
	if len(mcpConfig) > 0 {
		if err := json.Unmarshal(mcpConfig, &srv.MCPConfig); err != nil {
			return nil, fmt.Errorf("unmarshal mcpConfig: %w", err)
		}
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &srv.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if latestScanID.Valid {
		v := latestScanID.String
		srv.LatestScanID = &v
	}
	if latestRiskScore.Valid {
		v := latestRiskScore.Float64
		srv.LatestRiskScore = &v
	}
	return &srv, nil
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
