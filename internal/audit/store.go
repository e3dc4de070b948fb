package audit

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// Store is the durable audit log: a Postgres table fronted by an
// in-memory cache of recent events for sub-millisecond reads, mirroring
// the teacher's SQLite-backed audit.Store but on the pgx driver (spec
// §4.F; persistence layer grounding in DESIGN.md).
type Store struct {
	db          *sql.DB
	cache       *memLog
	cacheLimit  int
	logger      *zap.Logger
}

// NewStore opens a Postgres-backed audit store and primes its cache.
func NewStore(ctx context.Context, dsn string, cacheLimit int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping audit store: %w", err)
	}
	if err := bootstrap(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, cache: newMemLog(cacheLimit), cacheLimit: cacheLimit, logger: logger}
	if err := s.reloadCache(ctx); err != nil {
		logger.Warn("audit: failed to prime cache", zap.Error(err))
	}
	return s, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS audit_events (
		id                   TEXT PRIMARY KEY,
		timestamp            TIMESTAMPTZ NOT NULL,
		actor                TEXT NOT NULL,
		actor_email          TEXT,
		team                 TEXT,
		server_canonical_id  TEXT NOT NULL,
		tool_name            TEXT NOT NULL,
		decision             TEXT NOT NULL,
		reason               TEXT,
		latency_ms           DOUBLE PRECISION NOT NULL,
		request_size         BIGINT NOT NULL,
		response_size        BIGINT NOT NULL,
		trace_id             TEXT,
		source_ip            TEXT,
		user_agent           TEXT,
		server_risk_score    DOUBLE PRECISION
	)`)
	if err != nil {
		return fmt.Errorf("create audit_events: %w", err)
	}
	for _, idx := range []string{
		`CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_events(timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_server ON audit_events(server_canonical_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_team ON audit_events(team)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_decision ON audit_events(decision)`,
	} {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("create audit index: %w", err)
		}
	}
	return nil
}

// Record writes evt to the cache synchronously and to Postgres in the
// background; callers never block on the database round-trip (spec
// §4.F "writes must not stall or fail the decision path").
func (s *Store) Record(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.cache.record(evt)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.persist(ctx, evt); err != nil {
			s.logger.Warn("audit: persist failed", zap.String("eventId", evt.ID), zap.Error(err))
		}
	}()
}

func (s *Store) persist(ctx context.Context, evt Event) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_events
		(id, timestamp, actor, actor_email, team, server_canonical_id, tool_name, decision, reason,
		 latency_ms, request_size, response_size, trace_id, source_ip, user_agent, server_risk_score)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO NOTHING`,
		evt.ID, evt.Timestamp, evt.Actor, nullable(evt.ActorEmail), nullable(evt.Team),
		evt.ServerCanonicalID, evt.ToolName, evt.Decision, nullable(evt.Reason),
		evt.LatencyMs, evt.RequestSize, evt.ResponseSize, nullable(evt.TraceID),
		nullable(evt.SourceIP), nullable(evt.UserAgent), evt.ServerRiskScore)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Query answers from the in-memory cache; for windows older than the
// cache's retained horizon, QueryPersisted hits Postgres directly.
func (s *Store) Query(f Filter) QueryResult {
	return s.cache.query(f)
}

// QueryPersisted searches Postgres directly, for pages the cache doesn't
// cover.
func (s *Store) QueryPersisted(ctx context.Context, f Filter) (QueryResult, error) {
	countQuery, countArgs := buildQuery(f, true, false)
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return QueryResult{}, fmt.Errorf("count audit events: %w", err)
	}

	limit := f.clampLimit()
	pageQuery, pageArgs := buildQuery(f, false, true)
	pageArgs = append(pageArgs, limit, f.Offset)
	rows, err := s.db.QueryContext(ctx, pageQuery, pageArgs...)
	if err != nil {
		return QueryResult{}, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			continue
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return QueryResult{}, err
	}
	return QueryResult{Events: events, Total: total, Limit: limit, Offset: f.Offset}, nil
}

// StreamJSONL streams matching events as newline-delimited JSON
// (supplemented export feature, spec §4.F query API).
func (s *Store) StreamJSONL(ctx context.Context, w io.Writer, f Filter) error {
	query, args := buildQuery(f, false, false)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	enc := json.NewEncoder(w)
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			continue
		}
		if err := enc.Encode(evt); err != nil {
			return err
		}
	}
	return rows.Err()
}

// StreamCSV streams matching events as CSV.
func (s *Store) StreamCSV(ctx context.Context, w io.Writer, f Filter) error {
	query, args := buildQuery(f, false, false)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "timestamp", "actor", "serverCanonicalId", "toolName", "decision", "latencyMs"}); err != nil {
		return err
	}
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			continue
		}
		if err := cw.Write([]string{
			evt.ID, evt.Timestamp.Format(time.RFC3339Nano), evt.Actor,
			evt.ServerCanonicalID, evt.ToolName, evt.Decision, fmt.Sprintf("%f", evt.LatencyMs),
		}); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// Purge deletes persisted events older than now-retention.
func (s *Store) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < 0 {
		return 0, errors.New("retention must be >= 0")
	}
	cutoff := time.Now().UTC().Add(-retention)
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		_ = s.reloadCache(ctx)
	}
	return deleted, nil
}

// PurgeLoop periodically applies retention (supplemented feature,
// grounded on the teacher's audit.Store.PurgeLoop).
func (s *Store) PurgeLoop(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}
	if _, err := s.Purge(ctx, retention); err != nil {
		s.logger.Warn("audit: initial purge failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Purge(ctx, retention); err != nil {
				s.logger.Warn("audit: purge failed", zap.Error(err))
			}
		}
	}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) reloadCache(ctx context.Context) error {
	result, err := s.QueryPersisted(ctx, Filter{Limit: s.cacheLimit})
	if err != nil {
		return err
	}
	ordered := make([]Event, len(result.Events))
	for i, e := range result.Events {
		ordered[len(result.Events)-1-i] = e
	}
	s.cache.replace(ordered)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc rowScanner) (Event, error) {
	var evt Event
	var actorEmail, team, reason, traceID, sourceIP, userAgent sql.NullString
	var riskScore sql.NullFloat64
	if err := sc.Scan(&evt.ID, &evt.Timestamp, &evt.Actor, &actorEmail, &team,
		&evt.ServerCanonicalID, &evt.ToolName, &evt.Decision, &reason,
		&evt.LatencyMs, &evt.RequestSize, &evt.ResponseSize, &traceID, &sourceIP, &userAgent, &riskScore); err != nil {
		return Event{}, err
	}
	evt.ActorEmail, evt.Team, evt.Reason = actorEmail.String, team.String, reason.String
	evt.TraceID, evt.SourceIP, evt.UserAgent = traceID.String, sourceIP.String, userAgent.String
	if riskScore.Valid {
		evt.ServerRiskScore = &riskScore.Float64
	}
	return evt, nil
}

const selectColumns = `id, timestamp, actor, actor_email, team, server_canonical_id, tool_name, decision, reason,
	latency_ms, request_size, response_size, trace_id, source_ip, user_agent, server_risk_score`

// buildQuery builds a SELECT or COUNT query plus bind args for f.
// When paginated is true, the caller appends LIMIT/OFFSET args itself.
func buildQuery(f Filter, countOnly, paginated bool) (string, []any) {
	query := "SELECT " + selectColumns + " FROM audit_events WHERE 1=1"
	if countOnly {
		query = "SELECT COUNT(*) FROM audit_events WHERE 1=1"
	}
	var args []any
	n := 0
	next := func() int { n++; return n }

	if f.Team != "" {
		query += fmt.Sprintf(" AND team = $%d", next())
		args = append(args, f.Team)
	}
	if f.ServerCanonicalID != "" {
		query += fmt.Sprintf(" AND server_canonical_id = $%d", next())
		args = append(args, f.ServerCanonicalID)
	}
	if f.ToolName != "" {
		query += fmt.Sprintf(" AND tool_name = $%d", next())
		args = append(args, f.ToolName)
	}
	if f.Decision != "" {
		query += fmt.Sprintf(" AND decision = $%d", next())
		args = append(args, f.Decision)
	}
	if f.Actor != "" {
		query += fmt.Sprintf(" AND actor = $%d", next())
		args = append(args, f.Actor)
	}
	if !f.StartDate.IsZero() {
		query += fmt.Sprintf(" AND timestamp >= $%d", next())
		args = append(args, f.StartDate)
	}
	if !f.EndDate.IsZero() {
		query += fmt.Sprintf(" AND timestamp <= $%d", next())
		args = append(args, f.EndDate)
	}

	if !countOnly {
		query += " ORDER BY timestamp DESC"
		if paginated {
			limitIdx, offsetIdx := next(), next()
			query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", limitIdx, offsetIdx)
		}
	}
	return query, args
}
