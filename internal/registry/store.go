package registry

import "context"

// Store is the persistence contract the registry service and the scan
// orchestrator depend on (spec §4.A). It is a minimal interface, per
// spec §9 "Repositories as interface abstractions", so an in-memory
// implementation (see memstore.go) can back deterministic tests without
// a database; internal/store/postgres provides the durable implementation.
type Store interface {
	CreateServer(ctx context.Context, s *Server) error
	GetServer(ctx context.Context, id string) (*Server, error)
	GetServerByCanonicalID(ctx context.Context, canonicalID string) (*Server, error)
	ListServers(ctx context.Context) ([]*Server, error)
	UpdateServer(ctx context.Context, s *Server) error
	UpdateServerStatus(ctx context.Context, id string, status Status) error
	DeleteServer(ctx context.Context, id string) error

	CreateScan(ctx context.Context, sc *Scan) error
	GetScan(ctx context.Context, id string) (*Scan, error)
	ListScansByServer(ctx context.Context, serverID string) ([]*Scan, error)
	GetLatestScan(ctx context.Context, serverID string) (*Scan, error)
	ListRunningScans(ctx context.Context) ([]*Scan, error)
	UpdateScan(ctx context.Context, sc *Scan) error

	// RecordScanCompletion writes sc and updates the parent server's
	// status/latestScanId/latestRiskScore/updatedAt in one transaction
	// (spec §4.A compound op i).
	RecordScanCompletion(ctx context.Context, serverID string, sc *Scan, newServerStatus Status, newRiskScore *float64) error

	CreateApproval(ctx context.Context, a *Approval) error
	ListApprovals(ctx context.Context, serverID string) ([]*Approval, error)

	// RecordApproval writes a and updates the parent server's status in
	// one transaction (spec §4.A compound op ii).
	RecordApproval(ctx context.Context, a *Approval, newServerStatus Status) error
}

// ErrNotFound is returned by Store lookups that find no matching row.
// Repositories wrap it with governanceerr.NotFoundf at the service layer
// rather than leaking it directly, matching the teacher's sentinel-error
// + typed-wrapper split (jobs/store.go's ErrInvalidRunTransition / IsNotFound).
var ErrNotFound = storeNotFound{}

type storeNotFound struct{}

func (storeNotFound) Error() string { return "registry: not found" }

// ErrConflictCanonicalID is returned by Store.CreateServer when canonicalId
// is already taken. Store implementations map their native uniqueness
// violation (a postgres unique_violation, or a map hit in MemStore) to
// this sentinel so the service layer can wrap it uniformly.
var ErrConflictCanonicalID = storeConflict{}

type storeConflict struct{}

func (storeConflict) Error() string { return "registry: canonicalId already exists" }
