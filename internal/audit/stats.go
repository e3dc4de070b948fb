package audit

import (
	"context"
	"fmt"
)

const topN = 10

// Stats aggregates matching events over f's window: totals, per-decision
// counts, top-N servers/teams, and mean latency (spec §4.F stats endpoint).
func (s *Store) Stats(ctx context.Context, f Filter) (Stats, error) {
	where, args := whereClause(f)

	out := Stats{ByDecision: map[string]int{}}

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT COUNT(*), COALESCE(AVG(latency_ms),0) FROM audit_events WHERE 1=1%s", where), args...)
	if err := row.Scan(&out.Total, &out.MeanLatencyMs); err != nil {
		return Stats{}, fmt.Errorf("aggregate audit stats: %w", err)
	}

	decRows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT decision, COUNT(*) FROM audit_events WHERE 1=1%s GROUP BY decision", where), args...)
	if err != nil {
		return Stats{}, fmt.Errorf("aggregate by decision: %w", err)
	}
	defer decRows.Close()
	for decRows.Next() {
		var decision string
		var count int
		if err := decRows.Scan(&decision, &count); err != nil {
			continue
		}
		out.ByDecision[decision] = count
	}

	out.TopServers, err = s.topCounts(ctx, "server_canonical_id", where, args)
	if err != nil {
		return Stats{}, err
	}
	out.TopTeams, err = s.topCounts(ctx, "team", where, args)
	if err != nil {
		return Stats{}, err
	}
	return out, nil
}

func (s *Store) topCounts(ctx context.Context, column, where string, args []any) ([]Count, error) {
	query := fmt.Sprintf(
		"SELECT %s, COUNT(*) c FROM audit_events WHERE 1=1%s AND %s IS NOT NULL GROUP BY %s ORDER BY c DESC LIMIT %d",
		column, where, column, column, topN)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("top %s: %w", column, err)
	}
	defer rows.Close()

	var out []Count
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// whereClause builds the shared filter predicate used by Stats, separate
// from buildQuery since it must be appended after "WHERE 1=1" without a
// leading SELECT clause.
func whereClause(f Filter) (string, []any) {
	var clause string
	var args []any
	n := 0
	next := func() int { n++; return n }

	if f.Team != "" {
		clause += fmt.Sprintf(" AND team = $%d", next())
		args = append(args, f.Team)
	}
	if f.ServerCanonicalID != "" {
		clause += fmt.Sprintf(" AND server_canonical_id = $%d", next())
		args = append(args, f.ServerCanonicalID)
	}
	if f.ToolName != "" {
		clause += fmt.Sprintf(" AND tool_name = $%d", next())
		args = append(args, f.ToolName)
	}
	if f.Decision != "" {
		clause += fmt.Sprintf(" AND decision = $%d", next())
		args = append(args, f.Decision)
	}
	if f.Actor != "" {
		clause += fmt.Sprintf(" AND actor = $%d", next())
		args = append(args, f.Actor)
	}
	if !f.StartDate.IsZero() {
		clause += fmt.Sprintf(" AND timestamp >= $%d", next())
		args = append(args, f.StartDate)
	}
	if !f.EndDate.IsZero() {
		clause += fmt.Sprintf(" AND timestamp <= $%d", next())
		args = append(args, f.EndDate)
	}
	return clause, args
}
