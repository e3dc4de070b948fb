package registry

import (
	"context"
	"testing"

	"github.com/marcus-qen/legator/internal/governanceerr"
	"github.com/marcus-qen/legator/internal/principal"
)

type stubLauncher struct {
	scan *Scan
	err  error
}

func (l *stubLauncher) LaunchScan(_ context.Context, server *Server) (*Scan, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.scan, nil
}

func newTestService(t *testing.T) (*Service, *MemStore) {
	t.Helper()
	store := NewMemStore()
	svc := NewService(store, &stubLauncher{scan: &Scan{ID: "scan-1", Status: ScanRunning}}, nil, 0.5)
	return svc, store
}

var admin = principal.Principal{ID: "admin-1", Roles: []principal.Role{principal.RoleAdmin}}

func TestRegisterValidatesCanonicalID(t *testing.T) {
	svc, _ := newTestService(t)
	owner := principal.Principal{ID: "u1"}

	_, err := svc.Register(context.Background(), owner, RegisterInput{
		CanonicalID: "Team-A/Weather!", Name: "weather", SourceType: SourceContainerImage, SourceURL: "img:1",
	})
	if governanceerr.CodeOf(err) != governanceerr.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestRegisterRejectsDuplicateCanonicalID(t *testing.T) {
	svc, _ := newTestService(t)
	owner := principal.Principal{ID: "u1"}
	in := RegisterInput{CanonicalID: "team-a/weather", Name: "weather", SourceType: SourceContainerImage, SourceURL: "img:1"}

	if _, err := svc.Register(context.Background(), owner, in); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := svc.Register(context.Background(), owner, in)
	if governanceerr.CodeOf(err) != governanceerr.Conflict {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestAccessClosure(t *testing.T) {
	svc, _ := newTestService(t)
	owner := principal.Principal{ID: "u1", Team: "team-a"}
	stranger := principal.Principal{ID: "u2", Team: "team-b"}

	server, err := svc.Register(context.Background(), owner, RegisterInput{
		CanonicalID: "team-a/weather", Name: "weather", OwnerTeam: "team-a",
		SourceType: SourceContainerImage, SourceURL: "img:1",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	list, err := svc.List(context.Background(), stranger)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, s := range list {
		if s.ID == server.ID {
			t.Fatalf("list() returned a server that access closure should exclude")
		}
	}

	if _, err := svc.Get(context.Background(), stranger, server.ID); governanceerr.CodeOf(err) != governanceerr.Forbidden {
		t.Fatalf("expected Forbidden for stranger Get, got %v", err)
	}
}

func TestSubmitForScanStateMachine(t *testing.T) {
	svc, _ := newTestService(t)
	owner := principal.Principal{ID: "u1"}
	server, err := svc.Register(context.Background(), owner, RegisterInput{
		CanonicalID: "team-a/weather", Name: "weather", SourceType: SourceContainerImage, SourceURL: "img:1",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.SubmitForScan(context.Background(), owner, server.ID); err != nil {
		t.Fatalf("submit for scan: %v", err)
	}
	got, err := svc.Get(context.Background(), owner, server.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPendingScan {
		t.Fatalf("expected PendingScan, got %s", got.Status)
	}

	if _, err := svc.SubmitForScan(context.Background(), owner, server.ID); governanceerr.CodeOf(err) != governanceerr.InvalidState {
		t.Fatalf("expected InvalidState for double submit, got %v", err)
	}
}

func TestApproveRequiresOverrideReasonOnScannedFail(t *testing.T) {
	svc, store := newTestService(t)
	owner := principal.Principal{ID: "u1"}
	server, _ := svc.Register(context.Background(), owner, RegisterInput{
		CanonicalID: "team-a/weather", Name: "weather", SourceType: SourceContainerImage, SourceURL: "img:1",
	})
	risk := 0.9
	if err := store.RecordScanCompletion(context.Background(), server.ID, &Scan{ID: "s1", ServerID: server.ID, Status: ScanCompleted, RiskScore: &risk}, StatusScannedFail, &risk); err != nil {
		t.Fatalf("seed scan: %v", err)
	}

	if _, err := svc.Approve(context.Background(), admin, server.ID, DecisionInput{Reason: "ship it"}); governanceerr.CodeOf(err) != governanceerr.InvalidState {
		t.Fatalf("expected InvalidState without override reason, got %v", err)
	}

	approval, err := svc.Approve(context.Background(), admin, server.ID, DecisionInput{Reason: "ship it", OverrideReason: "known false positive"})
	if err != nil {
		t.Fatalf("approve with override: %v", err)
	}
	if approval.Action != ActionApproved {
		t.Fatalf("expected ActionApproved, got %v", approval.Action)
	}
}

func TestApproveRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t)
	owner := principal.Principal{ID: "u1"}
	server, _ := svc.Register(context.Background(), owner, RegisterInput{
		CanonicalID: "team-a/weather", Name: "weather", SourceType: SourceContainerImage, SourceURL: "img:1",
	})
	if _, err := svc.Approve(context.Background(), owner, server.ID, DecisionInput{Reason: "x"}); governanceerr.CodeOf(err) != governanceerr.Forbidden {
		t.Fatalf("expected Forbidden for non-admin approve, got %v", err)
	}
}

func TestUploadLocalScanRequiresLocalDeclared(t *testing.T) {
	svc, _ := newTestService(t)
	owner := principal.Principal{ID: "u1"}
	server, _ := svc.Register(context.Background(), owner, RegisterInput{
		CanonicalID: "team-a/weather", Name: "weather", SourceType: SourceContainerImage, SourceURL: "img:1",
	})
	_, err := svc.UploadLocalScan(context.Background(), owner, server.ID, []byte(`{"risk_score":0.1}`))
	if governanceerr.CodeOf(err) != governanceerr.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestUploadLocalScanHappyPath(t *testing.T) {
	svc, _ := newTestService(t)
	owner := principal.Principal{ID: "u1"}
	server, _ := svc.Register(context.Background(), owner, RegisterInput{
		CanonicalID: "team-a/local", Name: "local", SourceType: SourceLocalDeclared,
	})
	scan, err := svc.UploadLocalScan(context.Background(), owner, server.ID, []byte(`{"risk_score":20,"issues":[{"severity":"warning","message":"ok"}]}`))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if scan.RiskScore == nil || *scan.RiskScore != 0.2 {
		t.Fatalf("expected normalized risk score 0.2, got %v", scan.RiskScore)
	}
	got, _ := svc.Get(context.Background(), owner, server.ID)
	if got.Status != StatusScannedPass {
		t.Fatalf("expected ScannedPass, got %s", got.Status)
	}
}

func TestMaterialUpdateWhileApprovedRevertsToDraft(t *testing.T) {
	svc, store := newTestService(t)
	owner := principal.Principal{ID: "u1"}
	server, _ := svc.Register(context.Background(), owner, RegisterInput{
		CanonicalID: "team-a/weather", Name: "weather", SourceType: SourceContainerImage, SourceURL: "img:1", Version: "1",
	})
	risk := 0.1
	store.RecordScanCompletion(context.Background(), server.ID, &Scan{ID: "s1", ServerID: server.ID, Status: ScanCompleted, RiskScore: &risk}, StatusScannedPass, &risk)
	if _, err := svc.Approve(context.Background(), admin, server.ID, DecisionInput{Reason: "ok"}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	newVersion := "2"
	updated, err := svc.Update(context.Background(), owner, server.ID, UpdateInput{Version: &newVersion})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != StatusDraft {
		t.Fatalf("expected reversion to Draft on material change, got %s", updated.Status)
	}
}
