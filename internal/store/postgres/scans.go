package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marcus-qen/legator/internal/registry"
)

const scanColumns = `id, server_id, scanner_version, status, risk_score, summary, report_json,
	issues, discovered_tools, job_name, error_message, started_at, finished_at, triggered_by`

func (s *Store) CreateScan(ctx context.Context, sc *registry.Scan) error {
	issues, discoveredTools, err := marshalScanJSON(sc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO scans (
		id, server_id, scanner_version, status, risk_score, summary, report_json,
		issues, discovered_tools, job_name, error_message, started_at, finished_at, triggered_by
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		sc.ID, sc.ServerID, sc.ScannerVersion, int(sc.Status), sc.RiskScore, sc.Summary,
		sc.ReportJSON, issues, discoveredTools, sc.JobName, sc.ErrorMessage, sc.StartedAt,
		sc.FinishedAt, sc.TriggeredBy)
	if err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}
	return nil
}

func (s *Store) GetScan(ctx context.Context, id string) (*registry.Scan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = $1`, id)
	return scanScanRow(row)
}

func (s *Store) ListScansByServer(ctx context.Context, serverID string) ([]*registry.Scan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scanColumns+` FROM scans WHERE server_id = $1 ORDER BY started_at DESC`, serverID)
	if err != nil {
		return nil, fmt.Errorf("list scans by server: %w", err)
	}
	defer rows.Close()

	var out []*registry.Scan
	for rows.Next() {
		sc, err := scanScanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) GetLatestScan(ctx context.Context, serverID string) (*registry.Scan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scanColumns+` FROM scans WHERE server_id = $1 ORDER BY started_at DESC LIMIT 1`, serverID)
	return scanScanRow(row)
}

func (s *Store) ListRunningScans(ctx context.Context) ([]*registry.Scan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scanColumns+` FROM scans WHERE status = $1`, int(registry.ScanRunning))
	if err != nil {
		return nil, fmt.Errorf("list running scans: %w", err)
	}
	defer rows.Close()

	out := []*registry.Scan{}
	for rows.Next() {
		sc, err := scanScanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) UpdateScan(ctx context.Context, sc *registry.Scan) error {
	issues, discoveredTools, err := marshalScanJSON(sc)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE scans SET
		scanner_version = $1, status = $2, risk_score = $3, summary = $4, report_json = $5,
		issues = $6, discovered_tools = $7, job_name = $8, error_message = $9, finished_at = $10
		WHERE id = $11`,
		sc.ScannerVersion, int(sc.Status), sc.RiskScore, sc.Summary, sc.ReportJSON, issues,
		discoveredTools, sc.JobName, sc.ErrorMessage, sc.FinishedAt, sc.ID)
	if err != nil {
		return fmt.Errorf("update scan: %w", err)
	}
	return requireRowAffected(res)
}

// RecordScanCompletion writes sc and the parent server's derived fields in
// one transaction, mirroring the row-level-serialization discipline spec'd
// for compound writes (grounded on jobs/store.go's tx.Exec/tx.Commit pairing
// for RecordRun).
func (s *Store) RecordScanCompletion(ctx context.Context, serverID string, sc *registry.Scan, newServerStatus registry.Status, newRiskScore *float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin scan completion tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	issues, discoveredTools, err := marshalScanJSON(sc)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO scans (
			id, server_id, scanner_version, status, risk_score, summary, report_json,
			issues, discovered_tools, job_name, error_message, started_at, finished_at, triggered_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status, risk_score = excluded.risk_score, summary = excluded.summary,
			report_json = excluded.report_json, issues = excluded.issues,
			discovered_tools = excluded.discovered_tools, error_message = excluded.error_message,
			finished_at = excluded.finished_at`,
		sc.ID, sc.ServerID, sc.ScannerVersion, int(sc.Status), sc.RiskScore, sc.Summary,
		sc.ReportJSON, issues, discoveredTools, sc.JobName, sc.ErrorMessage, sc.StartedAt,
		sc.FinishedAt, sc.TriggeredBy)
	if err != nil {
		return fmt.Errorf("upsert scan: %w", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("scan rows affected: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE servers SET status = $1, latest_scan_id = $2, latest_risk_score = $3, updated_at = $4 WHERE id = $5`,
		int(newServerStatus), sc.ID, newRiskScore, time.Now().UTC(), serverID)
	if err != nil {
		return fmt.Errorf("update server on scan completion: %w", err)
	}
	if err := requireRowAffected(result); err != nil {
		return err
	}

	return tx.Commit()
}

func marshalScanJSON(sc *registry.Scan) ([]byte, []byte, error) {
	issues, err := json.Marshal(sc.Issues)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal issues: %w", err)
	}
	discoveredTools, err := json.Marshal(sc.DiscoveredTools)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal discoveredTools: %w", err)
	}
	return issues, discoveredTools, nil
}

func scanScanRow(row rowScannerServer) (*registry.Scan, error) {
	var sc registry.Scan
	var status int
	var riskScore sql.NullFloat64
	var issues, discoveredTools []byte
	var finishedAt sql.NullTime

	err := row.Scan(&sc.ID, &sc.ServerID, &sc.ScannerVersion, &status, &riskScore, &sc.Summary,
		&sc.ReportJSON, &issues, &discoveredTools, &sc.JobName, &sc.ErrorMessage, &sc.StartedAt,
		&finishedAt, &sc.TriggeredBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}

	sc.Status = registry.ScanStatus(status)
	if riskScore.Valid {
		v := riskScore.Float64
		sc.RiskScore = &v
	}
	if len(issues) > 0 {
		if err := json.Unmarshal(issues, &sc.Issues); err != nil {
			return nil, fmt.Errorf("unmarshal issues: %w", err)
		}
	}
	if len(discoveredTools) > 0 {
		if err := json.Unmarshal(discoveredTools, &sc.DiscoveredTools); err != nil {
			return nil, fmt.Errorf("unmarshal discoveredTools: %w", err)
		}
	}
	if finishedAt.Valid {
		v := finishedAt.Time
		sc.FinishedAt = &v
	}
	return &sc, nil
}
