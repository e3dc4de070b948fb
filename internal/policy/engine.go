package policy

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// ServerRecord is the slice of registry state decide() is allowed to read
// — one lookup, no writes (spec §4.D).
type ServerRecord struct {
	CanonicalID        string
	Approved           bool
	Status             string
	LatestRiskScore    *float64
	ApprovalExpiresAt  *time.Time
}

// ServerLookup resolves a canonicalId to the server state decide() needs.
// ok is false when no server with that canonicalId exists.
type ServerLookup interface {
	LookupForPolicy(ctx context.Context, canonicalID string) (ServerRecord, bool, error)
}

// Engine holds the current policy Snapshot behind an atomic pointer so
// Reload can swap it without blocking concurrent Decide calls (spec §4.D
// "configuration reload").
type Engine struct {
	snapshot atomic.Pointer[Snapshot]
	servers  ServerLookup
}

// NewEngine builds an Engine with an initial snapshot and server lookup.
func NewEngine(initial Snapshot, servers ServerLookup) *Engine {
	e := &Engine{servers: servers}
	e.snapshot.Store(&initial)
	return e
}

// Reload atomically swaps the in-memory snapshot.
func (e *Engine) Reload(next Snapshot) {
	e.snapshot.Store(&next)
}

// Decide implements spec §4.D's eight-step, short-circuiting evaluation
// order. It performs at most one registry lookup and no writes.
func (e *Engine) Decide(ctx context.Context, p Principal, serverCanonicalID, toolName string) Decision {
	snap := e.snapshot.Load()

	// 1. break-glass bypass.
	if containsFold(snap.BypassAllowedPrincipals, p.ID) {
		return Decision{Code: Allowed}
	}

	var record ServerRecord
	var found bool
	if snap.EnforceRegistryOnly {
		rec, ok, err := e.servers.LookupForPolicy(ctx, serverCanonicalID)
		if err != nil {
			return Decision{Code: ErrorDecision, Reason: fmt.Sprintf("registry lookup failed: %v", err)}
		}
		if !ok {
			return Decision{Code: DeniedServerNotApproved, Reason: "server is not registered"}
		}
		if !rec.Approved {
			return Decision{Code: DeniedServerNotApproved, Reason: fmt.Sprintf("server status is %s", rec.Status)}
		}
		if rec.ApprovalExpiresAt != nil && rec.ApprovalExpiresAt.Before(time.Now().UTC()) {
			return Decision{Code: DeniedServerNotApproved, Reason: "server's approval has expired"}
		}
		record = rec
		found = true
	}

	// 3. high risk.
	if found && record.LatestRiskScore != nil && *record.LatestRiskScore > snap.RiskThreshold &&
		snap.RequireAdminForHighRisk && !p.Admin {
		return Decision{Code: DeniedHighRisk, Reason: "server risk score exceeds threshold", ServerRiskScore: record.LatestRiskScore}
	}

	// 4. global tool denylist.
	if containsFold(snap.GlobalToolDenylist, toolName) {
		return Decision{Code: DeniedToolDenylisted, Reason: "tool is globally denylisted"}
	}

	// 5. denied tool categories, substring match.
	if containsSubstringFold(snap.DeniedToolCategories, toolName) {
		return Decision{Code: DeniedToolDenylisted, Reason: "tool name matches a denied category"}
	}

	// 6. team allowlist.
	if matched, restrictive := p.inTeamSet(snap.TeamAllowlists, serverCanonicalID); restrictive && !matched {
		return Decision{Code: DeniedTeamNotAuthorized, Reason: "server is not in the caller's team allowlist"}
	}

	// 7. team denylist.
	if matched, restrictive := p.inTeamSet(snap.TeamDenylists, serverCanonicalID); restrictive && matched {
		return Decision{Code: DeniedTeamNotAuthorized, Reason: "server is in the caller's team denylist"}
	}

	// 8. allow.
	d := Decision{Code: Allowed}
	if found {
		d.ServerRiskScore = record.LatestRiskScore
	}
	return d
}
