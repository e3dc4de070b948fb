package policy

import (
	"context"
	"time"

	"github.com/marcus-qen/legator/internal/registry"
)

// RegistryLookup adapts registry.Store to the ServerLookup interface
// decide() depends on, without the registry package needing to know
// about policy (spec §4.D's "at most one registry lookup").
type RegistryLookup struct {
	store registry.Store
}

// NewRegistryLookup builds a ServerLookup backed by store.
func NewRegistryLookup(store registry.Store) *RegistryLookup {
	return &RegistryLookup{store: store}
}

func (l *RegistryLookup) LookupForPolicy(ctx context.Context, canonicalID string) (ServerRecord, bool, error) {
	server, err := l.store.GetServerByCanonicalID(ctx, canonicalID)
	if err != nil {
		if err == registry.ErrNotFound {
			return ServerRecord{}, false, nil
		}
		return ServerRecord{}, false, err
	}

	rec := ServerRecord{
		CanonicalID:     server.CanonicalID,
		Approved:        server.Status == registry.StatusApproved,
		Status:          server.Status.String(),
		LatestRiskScore: server.LatestRiskScore,
	}
	if rec.Approved {
		rec.ApprovalExpiresAt = latestApprovalExpiry(ctx, l.store, server.ID)
	}
	return rec, true, nil
}

// latestApprovalExpiry returns the expiresAt of the most recent Approved
// decision for serverID, if any. ListApprovals returns newest-first.
func latestApprovalExpiry(ctx context.Context, store registry.Store, serverID string) *time.Time {
	approvals, err := store.ListApprovals(ctx, serverID)
	if err != nil {
		return nil
	}
	for _, a := range approvals {
		if a.Action == registry.ActionApproved {
			return a.ExpiresAt
		}
	}
	return nil
}
