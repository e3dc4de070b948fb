package registry

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marcus-qen/legator/internal/governanceerr"
	"github.com/marcus-qen/legator/internal/principal"
)

// ScanLauncher is the seam the registry uses to delegate submitForScan to
// the scan orchestrator (spec §4.B: "Transitions server to PendingScan,
// then delegates to §4.C"). Defined here, implemented in internal/scan,
// so registry never imports the orchestrator package.
type ScanLauncher interface {
	LaunchScan(ctx context.Context, server *Server) (*Scan, error)
}

// Service implements the registry operations of spec §4.B.
type Service struct {
	store             Store
	scans             ScanLauncher
	logger            *zap.Logger
	scanPassThreshold float64
}

// NewService constructs a registry Service. scans may be nil until the
// scan orchestrator is wired up (submitForScan returns Upstream if so).
// scanPassThreshold is the config's policy.scanPassThreshold (spec §6),
// consulted by UploadLocalScan; 0.5 matches internal/config.Default().
func NewService(store Store, scans ScanLauncher, logger *zap.Logger, scanPassThreshold float64) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, scans: scans, logger: logger, scanPassThreshold: scanPassThreshold}
}

func validSourceType(t SourceType) bool {
	switch t {
	case SourceExternalRepo, SourceInternalRepo, SourceLocalDeclared, SourceContainerImage, SourcePackageArtifact:
		return true
	default:
		return false
	}
}

// Register implements register() (spec §4.B).
func (s *Service) Register(ctx context.Context, p principal.Principal, in RegisterInput) (*Server, error) {
	if p.ID == "" {
		return nil, governanceerr.Forbiddenf("register requires an authenticated principal")
	}
	canonicalID := strings.ToLower(strings.TrimSpace(in.CanonicalID))
	if !ValidCanonicalID(canonicalID) {
		return nil, governanceerr.InvalidArgumentf("canonicalId %q does not match the required pattern", in.CanonicalID)
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, governanceerr.InvalidArgumentf("name is required")
	}
	if !validSourceType(in.SourceType) {
		return nil, governanceerr.InvalidArgumentf("unknown sourceType %q", in.SourceType)
	}
	if in.SourceType != SourceLocalDeclared && strings.TrimSpace(in.SourceURL) == "" {
		return nil, governanceerr.InvalidArgumentf("sourceUrl is required for sourceType %q", in.SourceType)
	}

	now := time.Now().UTC()
	server := &Server{
		ID:            uuid.NewString(),
		CanonicalID:   canonicalID,
		Name:          in.Name,
		Description:   in.Description,
		OwnerTeam:     in.OwnerTeam,
		SourceType:    in.SourceType,
		SourceURL:     in.SourceURL,
		Version:       in.Version,
		Status:        StatusDraft,
		DeclaredTools: in.DeclaredTools,
		MCPConfig:     in.MCPConfig,
		TestEndpoint:  in.TestEndpoint,
		Tags:          in.Tags,
		CreatedBy:     p.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.CreateServer(ctx, server); err != nil {
		if err == ErrConflictCanonicalID {
			return nil, governanceerr.Conflictf("canonicalId", "canonicalId %q already registered", canonicalID)
		}
		return nil, governanceerr.Internalf(err, "create server")
	}
	s.logger.Info("server registered", zap.String("server_id", server.ID), zap.String("canonical_id", canonicalID), zap.String("principal", p.ID))
	return server, nil
}

func (s *Service) lookup(ctx context.Context, id string) (*Server, error) {
	server, err := s.store.GetServer(ctx, id)
	if err == ErrNotFound {
		return nil, governanceerr.NotFoundf("server %q not found", id)
	}
	if err != nil {
		return nil, governanceerr.Internalf(err, "get server")
	}
	return server, nil
}

func asAccessible(server *Server) principal.Accessible {
	return principal.Accessible{CreatedBy: server.CreatedBy, OwnerTeam: server.OwnerTeam}
}

// Get implements get() (spec §4.B).
func (s *Service) Get(ctx context.Context, p principal.Principal, id string) (*Server, error) {
	server, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !principal.CanAccess(p, asAccessible(server)) {
		return nil, governanceerr.Forbiddenf("principal %q cannot access server %q", p.ID, id)
	}
	return server, nil
}

// GetByCanonicalID implements getByCanonicalId() (spec §4.B).
func (s *Service) GetByCanonicalID(ctx context.Context, p principal.Principal, canonicalID string) (*Server, error) {
	server, err := s.store.GetServerByCanonicalID(ctx, strings.ToLower(canonicalID))
	if err == ErrNotFound {
		return nil, governanceerr.NotFoundf("server %q not found", canonicalID)
	}
	if err != nil {
		return nil, governanceerr.Internalf(err, "get server by canonicalId")
	}
	if !principal.CanAccess(p, asAccessible(server)) {
		return nil, governanceerr.Forbiddenf("principal %q cannot access server %q", p.ID, canonicalID)
	}
	return server, nil
}

// List implements list() (spec §4.B): "returns only servers the principal
// can access" — this is the access-closure law of spec §8.
func (s *Service) List(ctx context.Context, p principal.Principal) ([]*Server, error) {
	all, err := s.store.ListServers(ctx)
	if err != nil {
		return nil, governanceerr.Internalf(err, "list servers")
	}
	out := make([]*Server, 0, len(all))
	for _, server := range all {
		if principal.CanAccess(p, asAccessible(server)) {
			out = append(out, server)
		}
	}
	return out, nil
}

func requireOwnerOrAdmin(p principal.Principal, server *Server) error {
	if !principal.CanAccess(p, asAccessible(server)) {
		return governanceerr.Forbiddenf("principal %q is not owner or admin for server %q", p.ID, server.ID)
	}
	return nil
}

func requireAdmin(p principal.Principal) error {
	if !p.IsAdmin() {
		return governanceerr.Forbiddenf("operation requires admin role")
	}
	return nil
}

func toolsEqual(a, b []DeclaredTool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Update implements update() (spec §4.B).
func (s *Service) Update(ctx context.Context, p principal.Principal, id string, in UpdateInput) (*Server, error) {
	server, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerOrAdmin(p, server); err != nil {
		return nil, err
	}

	materialChanged := false
	if in.Version != nil && *in.Version != server.Version {
		server.Version = *in.Version
		materialChanged = true
	}
	if in.SourceURL != nil && *in.SourceURL != server.SourceURL {
		server.SourceURL = *in.SourceURL
		materialChanged = true
	}
	if in.DeclaredToolsSet && !toolsEqual(in.DeclaredTools, server.DeclaredTools) {
		server.DeclaredTools = in.DeclaredTools
		materialChanged = true
	}
	if in.MCPConfigSet {
		server.MCPConfig = in.MCPConfig
		materialChanged = true
	}
	if in.Name != nil {
		server.Name = *in.Name
	}
	if in.Description != nil {
		server.Description = *in.Description
	}
	if in.OwnerTeam != nil {
		server.OwnerTeam = *in.OwnerTeam
	}
	if in.TestEndpoint != nil {
		server.TestEndpoint = *in.TestEndpoint
	}
	if in.Tags != nil {
		server.Tags = in.Tags
	}

	if materialChanged && server.Status == StatusApproved {
		server.Status = StatusDraft
	}
	server.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateServer(ctx, server); err != nil {
		return nil, governanceerr.Internalf(err, "update server")
	}
	return server, nil
}

// Delete implements delete() (spec §4.B).
func (s *Service) Delete(ctx context.Context, p principal.Principal, id string) error {
	server, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	if err := requireOwnerOrAdmin(p, server); err != nil {
		return err
	}
	if err := s.store.DeleteServer(ctx, id); err != nil {
		return governanceerr.Internalf(err, "delete server")
	}
	return nil
}

var submitScanEligible = map[Status]bool{
	StatusDraft:       true,
	StatusScannedPass: true,
	StatusScannedFail: true,
	StatusDenied:      true,
}

// SubmitForScan implements submitForScan() (spec §4.B, §4.C trigger path).
func (s *Service) SubmitForScan(ctx context.Context, p principal.Principal, id string) (*Scan, error) {
	server, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerOrAdmin(p, server); err != nil {
		return nil, err
	}
	if !submitScanEligible[server.Status] {
		return nil, governanceerr.InvalidStatef("server %q is in state %s and cannot be submitted for scan", id, server.Status)
	}
	if err := validateTransition(server.Status, StatusPendingScan); err != nil {
		return nil, err
	}
	if err := s.store.UpdateServerStatus(ctx, id, StatusPendingScan); err != nil {
		return nil, governanceerr.Internalf(err, "transition to PendingScan")
	}
	server.Status = StatusPendingScan

	if s.scans == nil {
		return nil, governanceerr.Upstreamf(nil, "scan orchestrator not configured")
	}
	scan, err := s.scans.LaunchScan(ctx, server)
	if err != nil {
		return nil, err
	}
	return scan, nil
}

// IsApproved implements isApproved() (spec §4.B): the fast path §4.D's
// enforceRegistryOnly check would otherwise re-derive from a full Get.
func (s *Service) IsApproved(ctx context.Context, canonicalID string) (bool, error) {
	server, err := s.store.GetServerByCanonicalID(ctx, strings.ToLower(canonicalID))
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, governanceerr.Internalf(err, "lookup server")
	}
	return server.Status == StatusApproved, nil
}

func (s *Service) decide(ctx context.Context, p principal.Principal, id string, action ApprovalAction, in DecisionInput) (*Approval, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	server, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, governanceerr.InvalidArgumentf("reason is required")
	}

	var newStatus Status
	switch action {
	case ActionApproved:
		if server.Status == StatusScannedFail {
			if strings.TrimSpace(in.OverrideReason) == "" {
				return nil, governanceerr.InvalidStatef("approving a ScannedFail server requires an explicit overrideReason")
			}
		}
		if err := validateTransition(server.Status, StatusApproved); err != nil {
			return nil, err
		}
		newStatus = StatusApproved
	case ActionDenied:
		if !nonTerminal[server.Status] {
			return nil, governanceerr.InvalidStatef("server %q is already in a terminal state (%s)", id, server.Status)
		}
		newStatus = StatusDenied
	case ActionSuspended:
		if err := validateTransition(server.Status, StatusSuspended); err != nil {
			return nil, err
		}
		newStatus = StatusSuspended
	case ActionReinstated:
		if err := validateTransition(server.Status, StatusApproved); err != nil {
			return nil, err
		}
		newStatus = StatusApproved
	default:
		return nil, governanceerr.InvalidArgumentf("unsupported approval action %s", action)
	}

	approval := &Approval{
		ID:                uuid.NewString(),
		ServerID:          server.ID,
		ServerCanonicalID: server.CanonicalID,
		Actor:             p.ID,
		Action:            action,
		Reason:            in.Reason,
		Notes:             in.Notes,
		Timestamp:         time.Now().UTC(),
		ExpiresAt:         in.ExpiresAt,
		ScanID:            server.LatestScanID,
	}
	if in.OverrideReason != "" {
		or := in.OverrideReason
		approval.OverrideReason = &or
	}

	if err := s.store.RecordApproval(ctx, approval, newStatus); err != nil {
		return nil, governanceerr.Internalf(err, "record approval")
	}
	s.logger.Info("approval recorded", zap.String("server_id", server.ID), zap.String("action", action.String()), zap.String("actor", p.ID))
	return approval, nil
}

// Approve implements approve() (spec §4.B, §3).
func (s *Service) Approve(ctx context.Context, p principal.Principal, id string, in DecisionInput) (*Approval, error) {
	return s.decide(ctx, p, id, ActionApproved, in)
}

// Deny implements deny() (spec §4.B, §3).
func (s *Service) Deny(ctx context.Context, p principal.Principal, id string, in DecisionInput) (*Approval, error) {
	return s.decide(ctx, p, id, ActionDenied, in)
}

// Suspend implements suspend() (spec §4.B, §3).
func (s *Service) Suspend(ctx context.Context, p principal.Principal, id string, in DecisionInput) (*Approval, error) {
	return s.decide(ctx, p, id, ActionSuspended, in)
}

// Reinstate implements reinstate() (spec §3; exposed alongside suspend
// though not itemized in §4.B's operation bullet list).
func (s *Service) Reinstate(ctx context.Context, p principal.Principal, id string, in DecisionInput) (*Approval, error) {
	return s.decide(ctx, p, id, ActionReinstated, in)
}

// ListScans returns a server's scan history (backs GET .../scans).
func (s *Service) ListScans(ctx context.Context, p principal.Principal, id string) ([]*Scan, error) {
	server, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !principal.CanAccess(p, asAccessible(server)) {
		return nil, governanceerr.Forbiddenf("principal %q cannot access server %q", p.ID, id)
	}
	scans, err := s.store.ListScansByServer(ctx, id)
	if err != nil {
		return nil, governanceerr.Internalf(err, "list scans")
	}
	return scans, nil
}

// GetScan returns a single scan detail (backs GET .../scans/{sid}).
func (s *Service) GetScan(ctx context.Context, p principal.Principal, id, scanID string) (*Scan, error) {
	server, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !principal.CanAccess(p, asAccessible(server)) {
		return nil, governanceerr.Forbiddenf("principal %q cannot access server %q", p.ID, id)
	}
	scan, err := s.store.GetScan(ctx, scanID)
	if err == ErrNotFound || (err == nil && scan.ServerID != id) {
		return nil, governanceerr.NotFoundf("scan %q not found on server %q", scanID, id)
	}
	if err != nil {
		return nil, governanceerr.Internalf(err, "get scan")
	}
	return scan, nil
}

// LatestScan returns the most recent scan (backs GET .../scan/latest).
func (s *Service) LatestScan(ctx context.Context, p principal.Principal, id string) (*Scan, error) {
	server, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !principal.CanAccess(p, asAccessible(server)) {
		return nil, governanceerr.Forbiddenf("principal %q cannot access server %q", p.ID, id)
	}
	scan, err := s.store.GetLatestScan(ctx, id)
	if err == ErrNotFound {
		return nil, governanceerr.NotFoundf("server %q has no scans", id)
	}
	if err != nil {
		return nil, governanceerr.Internalf(err, "get latest scan")
	}
	return scan, nil
}

// UploadLocalScan implements uploadLocalScan() (spec §4.B, §4.C). It is
// the only scan-completion path for SourceLocalDeclared servers, since
// the orchestrator has no reachable artifact to scan for them.
func (s *Service) UploadLocalScan(ctx context.Context, p principal.Principal, id string, payload []byte) (*Scan, error) {
	server, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerOrAdmin(p, server); err != nil {
		return nil, err
	}
	if server.SourceType != SourceLocalDeclared {
		return nil, governanceerr.InvalidArgumentf("uploadLocalScan requires sourceType LocalDeclared, server is %q", server.SourceType)
	}

	parsed, err := ParseScanOutput(payload)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	riskScore := parsed.RiskScore
	scan := &Scan{
		ID:              uuid.NewString(),
		ServerID:        server.ID,
		Status:          ScanCompleted,
		RiskScore:       &riskScore,
		Summary:         parsed.Summary,
		ReportJSON:      string(payload),
		Issues:          parsed.Issues,
		DiscoveredTools: parsed.DiscoveredTools,
		StartedAt:       now,
		FinishedAt:      &now,
		TriggeredBy:     p.ID,
	}

	newStatus := StatusScannedFail
	if riskScore <= s.scanPassThreshold {
		newStatus = StatusScannedPass
	}

	if err := s.store.RecordScanCompletion(ctx, server.ID, scan, newStatus, &riskScore); err != nil {
		return nil, governanceerr.Internalf(err, "record scan completion")
	}
	s.logger.Info("local scan uploaded", zap.String("server_id", server.ID), zap.Float64("risk_score", riskScore), zap.String("new_status", newStatus.String()))
	return scan, nil
}

// Store exposes the underlying Store. The scan orchestrator and reconciler
// are handed the same Store directly by cmd/governor, and UploadLocalScan
// records its completion inside this package, so neither goes through it.
func (s *Service) Store() Store { return s.store }
