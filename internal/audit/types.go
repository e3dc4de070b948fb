// Package audit implements the append-only decision log of §4.F: a
// fire-and-forget write path, a filtered/paginated query API, aggregate
// stats, retention purging, and streaming export.
package audit

import "time"

// Event is one recorded enforcement decision (spec §3 AuditEvent).
type Event struct {
	ID                string    `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	Actor             string    `json:"actor"`
	ActorEmail        string    `json:"actorEmail,omitempty"`
	Team              string    `json:"team,omitempty"`
	ServerCanonicalID string    `json:"serverCanonicalId"`
	ToolName          string    `json:"toolName"`
	Decision          string    `json:"decision"`
	Reason            string    `json:"reason,omitempty"`
	LatencyMs         float64   `json:"latencyMs"`
	RequestSize       int64     `json:"requestSize"`
	ResponseSize      int64     `json:"responseSize"`
	TraceID           string    `json:"traceId,omitempty"`
	SourceIP          string    `json:"sourceIp,omitempty"`
	UserAgent         string    `json:"userAgent,omitempty"`
	ServerRiskScore   *float64  `json:"serverRiskScore,omitempty"`
}

// Filter is the query predicate for Query/Stats (spec §4.F).
type Filter struct {
	StartDate         time.Time
	EndDate           time.Time
	Team              string
	ServerCanonicalID string
	ToolName          string
	Decision          string
	Actor             string
	Limit             int
	Offset            int
}

const maxQueryLimit = 1000

// clampLimit applies spec §4.F's "limit capped at 1000" rule, defaulting
// to 100 when unset.
func (f Filter) clampLimit() int {
	switch {
	case f.Limit <= 0:
		return 100
	case f.Limit > maxQueryLimit:
		return maxQueryLimit
	default:
		return f.Limit
	}
}

// QueryResult is the page returned by Query.
type QueryResult struct {
	Events []Event
	Total  int
	Limit  int
	Offset int
}

// Stats is the aggregate view returned by the stats endpoint.
type Stats struct {
	Total            int            `json:"total"`
	ByDecision       map[string]int `json:"byDecision"`
	TopServers       []Count        `json:"topServers"`
	TopTeams         []Count        `json:"topTeams"`
	MeanLatencyMs    float64        `json:"meanLatencyMs"`
}

// Count is a (key, count) pair for top-N aggregates.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}
