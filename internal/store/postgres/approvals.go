package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marcus-qen/legator/internal/registry"
)

const approvalColumns = `id, server_id, server_canonical_id, actor, action, reason, notes,
	timestamp, expires_at, scan_id, override_reason`

func (s *Store) CreateApproval(ctx context.Context, a *registry.Approval) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO approvals (
		id, server_id, server_canonical_id, actor, action, reason, notes, timestamp,
		expires_at, scan_id, override_reason
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		a.ID, a.ServerID, a.ServerCanonicalID, a.Actor, int(a.Action), a.Reason, a.Notes,
		a.Timestamp, a.ExpiresAt, a.ScanID, a.OverrideReason)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (s *Store) ListApprovals(ctx context.Context, serverID string) ([]*registry.Approval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE server_id = $1 ORDER BY timestamp DESC`, serverID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var out []*registry.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecordApproval writes a and updates the parent server's status in one
// transaction (spec §4.A compound op ii), same tx-scoped pairing as
// RecordScanCompletion.
func (s *Store) RecordApproval(ctx context.Context, a *registry.Approval, newServerStatus registry.Status) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approval tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO approvals (
			id, server_id, server_canonical_id, actor, action, reason, notes, timestamp,
			expires_at, scan_id, override_reason
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		a.ID, a.ServerID, a.ServerCanonicalID, a.Actor, int(a.Action), a.Reason, a.Notes,
		a.Timestamp, a.ExpiresAt, a.ScanID, a.OverrideReason)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE servers SET status = $1, updated_at = $2 WHERE id = $3`,
		int(newServerStatus), time.Now().UTC(), a.ServerID)
	if err != nil {
		return fmt.Errorf("update server on approval: %w", err)
	}
	if err := requireRowAffected(res); err != nil {
		return err
	}

	return tx.Commit()
}

func scanApproval(row rowScannerServer) (*registry.Approval, error) {
	var a registry.Approval
	var action int
	var scanID, overrideReason sql.NullString
	var expiresAtT sql.NullTime

	err := row.Scan(&a.ID, &a.ServerID, &a.ServerCanonicalID, &a.Actor, &action, &a.Reason,
		&a.Notes, &a.Timestamp, &expiresAtT, &scanID, &overrideReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan approval: %w", err)
	}

	a.Action = registry.ApprovalAction(action)
	if expiresAtT.Valid {
		v := expiresAtT.Time
		a.ExpiresAt = &v
	}
	if scanID.Valid {
		v := scanID.String
		a.ScanID = &v
	}
	if overrideReason.Valid {
		v := overrideReason.String
		a.OverrideReason = &v
	}
	return &a, nil
}
