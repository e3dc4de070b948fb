package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marcus-qen/legator/internal/config"
	"github.com/marcus-qen/legator/internal/registry"
)

type fakeRunner struct {
	submitErrs []error
	submitCall int
	status     JobStatus
	logs       string
	logsErr    error
	deleted    []string
}

func (f *fakeRunner) Submit(_ context.Context, scanID string, _ *registry.Server) (string, error) {
	var err error
	if f.submitCall < len(f.submitErrs) {
		err = f.submitErrs[f.submitCall]
	}
	f.submitCall++
	if err != nil {
		return "", err
	}
	return jobName(scanID), nil
}

func (f *fakeRunner) Status(context.Context, string) (JobStatus, error) { return f.status, nil }
func (f *fakeRunner) Logs(context.Context, string) (string, error)      { return f.logs, f.logsErr }
func (f *fakeRunner) Delete(_ context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

func testServer() *registry.Server {
	return &registry.Server{ID: "srv-1", CanonicalID: "team-a/weather", SourceType: registry.SourceContainerImage, CreatedBy: "u1"}
}

func TestLaunchScanSuccess(t *testing.T) {
	store := registry.NewMemStore()
	store.CreateServer(context.Background(), testServer())
	runner := &fakeRunner{}
	orch := NewOrchestrator(store, runner, config.ScannerConfig{Retries: 1}, nil)

	sc, err := orch.LaunchScan(context.Background(), testServer())
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if sc.Status != registry.ScanRunning {
		t.Fatalf("expected Running, got %s", sc.Status)
	}
	got, _ := store.GetServer(context.Background(), "srv-1")
	if got.Status != registry.StatusScanning {
		t.Fatalf("expected server Scanning, got %s", got.Status)
	}
}

func TestLaunchScanRetriesThenFails(t *testing.T) {
	store := registry.NewMemStore()
	store.CreateServer(context.Background(), testServer())
	runner := &fakeRunner{submitErrs: []error{errors.New("boom"), errors.New("boom again")}}
	orch := NewOrchestrator(store, runner, config.ScannerConfig{Retries: 1}, nil)
	orch.retry.InitialBackoff = time.Millisecond
	orch.retry.MaxBackoff = 2 * time.Millisecond

	_, err := orch.LaunchScan(context.Background(), testServer())
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	got, _ := store.GetServer(context.Background(), "srv-1")
	if got.Status != registry.StatusScannedFail {
		t.Fatalf("expected ScannedFail, got %s", got.Status)
	}
}

func TestReconcilerCompletesPassingScan(t *testing.T) {
	store := registry.NewMemStore()
	store.CreateServer(context.Background(), testServer())
	sc := &registry.Scan{ID: "scan-1", ServerID: "srv-1", Status: registry.ScanRunning, JobName: "scan-scan-1", StartedAt: time.Now().UTC()}
	store.CreateScan(context.Background(), sc)

	runner := &fakeRunner{status: JobStatus{Phase: JobSucceeded}, logs: `{"risk_score":0.1,"summary":"ok"}`}
	rec := NewReconciler(store, runner, config.ScannerConfig{ReconcileInterval: "10ms"}, 0.5, nil)
	rec.reconcileOne(context.Background(), sc)

	updated, _ := store.GetServer(context.Background(), "srv-1")
	if updated.Status != registry.StatusScannedPass {
		t.Fatalf("expected ScannedPass, got %s", updated.Status)
	}
	if updated.LatestRiskScore == nil || *updated.LatestRiskScore != 0.1 {
		t.Fatalf("expected risk score 0.1, got %v", updated.LatestRiskScore)
	}
}

func TestReconcilerTimesOutStuckScan(t *testing.T) {
	store := registry.NewMemStore()
	store.CreateServer(context.Background(), testServer())
	sc := &registry.Scan{ID: "scan-2", ServerID: "srv-1", Status: registry.ScanRunning, JobName: "scan-scan-2", StartedAt: time.Now().UTC().Add(-time.Hour)}
	store.CreateScan(context.Background(), sc)

	runner := &fakeRunner{status: JobStatus{Phase: JobRunning}}
	rec := NewReconciler(store, runner, config.ScannerConfig{TimeoutSeconds: 60}, 0.5, nil)
	rec.reconcileOne(context.Background(), sc)

	updated, _ := store.GetServer(context.Background(), "srv-1")
	if updated.Status != registry.StatusScannedFail {
		t.Fatalf("expected ScannedFail after timeout, got %s", updated.Status)
	}
	if len(runner.deleted) != 1 {
		t.Fatalf("expected timed-out job to be deleted, got %v", runner.deleted)
	}
}

func TestReconcilerHandlesVanishedJob(t *testing.T) {
	store := registry.NewMemStore()
	store.CreateServer(context.Background(), testServer())
	sc := &registry.Scan{ID: "scan-3", ServerID: "srv-1", Status: registry.ScanRunning, JobName: "scan-scan-3", StartedAt: time.Now().UTC()}
	store.CreateScan(context.Background(), sc)

	runner := &fakeRunner{status: JobStatus{Phase: JobNotFound}}
	rec := NewReconciler(store, runner, config.ScannerConfig{}, 0.5, nil)
	rec.reconcileOne(context.Background(), sc)

	updated, _ := store.GetServer(context.Background(), "srv-1")
	if updated.Status != registry.StatusScannedFail {
		t.Fatalf("expected ScannedFail, got %s", updated.Status)
	}
}

func TestDescriptorCarriesDynamicTestingOnlyWhenBothSet(t *testing.T) {
	server := testServer()
	server.TestEndpoint = "https://probe.internal/mcp"

	enabledBoth := NewDescriptor(server, config.ScannerConfig{EnableDynamicTesting: true, AnalysisAPIURL: "https://analysis.internal"})
	if !enabledBoth.DynamicTestingEnabled {
		t.Fatal("expected dynamic testing enabled when both config flag and server endpoint are set")
	}
	if cmd := scanCommand(server.SourceType, enabledBoth); len(cmd) < 2 || cmd[len(cmd)-1] != server.TestEndpoint {
		t.Fatalf("expected scan command to include the test endpoint, got %v", cmd)
	}

	disabledByConfig := NewDescriptor(server, config.ScannerConfig{EnableDynamicTesting: false})
	if disabledByConfig.DynamicTestingEnabled {
		t.Fatal("expected dynamic testing disabled when config flag is off")
	}

	noEndpoint := testServer()
	disabledByEndpoint := NewDescriptor(noEndpoint, config.ScannerConfig{EnableDynamicTesting: true})
	if disabledByEndpoint.DynamicTestingEnabled {
		t.Fatal("expected dynamic testing disabled when server has no test endpoint")
	}
	if cmd := scanCommand(noEndpoint.SourceType, disabledByEndpoint); len(cmd) != 2 {
		t.Fatalf("expected no dynamic-test args appended, got %v", cmd)
	}
}

func TestReconcilerDeletesJobOnScanFailure(t *testing.T) {
	store := registry.NewMemStore()
	store.CreateServer(context.Background(), testServer())
	sc := &registry.Scan{ID: "scan-5", ServerID: "srv-1", Status: registry.ScanRunning, JobName: "scan-scan-5", StartedAt: time.Now().UTC()}
	store.CreateScan(context.Background(), sc)

	runner := &fakeRunner{status: JobStatus{Phase: JobFailed}}
	rec := NewReconciler(store, runner, config.ScannerConfig{}, 0.5, nil)
	rec.reconcileOne(context.Background(), sc)

	updated, _ := store.GetServer(context.Background(), "srv-1")
	if updated.Status != registry.StatusScannedFail {
		t.Fatalf("expected ScannedFail, got %s", updated.Status)
	}
	if len(runner.deleted) != 1 || runner.deleted[0] != "scan-scan-5" {
		t.Fatalf("expected failed job to be deleted, got %v", runner.deleted)
	}
}

func TestReconcilerDeletesJobOnUnparseableOutput(t *testing.T) {
	store := registry.NewMemStore()
	store.CreateServer(context.Background(), testServer())
	sc := &registry.Scan{ID: "scan-6", ServerID: "srv-1", Status: registry.ScanRunning, JobName: "scan-scan-6", StartedAt: time.Now().UTC()}
	store.CreateScan(context.Background(), sc)

	runner := &fakeRunner{status: JobStatus{Phase: JobSucceeded}, logs: "not json"}
	rec := NewReconciler(store, runner, config.ScannerConfig{}, 0.5, nil)
	rec.reconcileOne(context.Background(), sc)

	updated, _ := store.GetServer(context.Background(), "srv-1")
	if updated.Status != registry.StatusScannedFail {
		t.Fatalf("expected ScannedFail, got %s", updated.Status)
	}
	if len(runner.deleted) != 1 || runner.deleted[0] != "scan-scan-6" {
		t.Fatalf("expected job with unparseable output to be deleted, got %v", runner.deleted)
	}
}

func TestOrchestratorCancel(t *testing.T) {
	store := registry.NewMemStore()
	store.CreateServer(context.Background(), testServer())
	sc := &registry.Scan{ID: "scan-4", ServerID: "srv-1", Status: registry.ScanRunning, JobName: "scan-scan-4", StartedAt: time.Now().UTC()}
	store.CreateScan(context.Background(), sc)

	runner := &fakeRunner{}
	orch := NewOrchestrator(store, runner, config.ScannerConfig{}, nil)
	if err := orch.Cancel(context.Background(), "scan-4"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := store.GetScan(context.Background(), "scan-4")
	if got.Status != registry.ScanCancelled {
		t.Fatalf("expected Cancelled, got %s", got.Status)
	}
	updated, _ := store.GetServer(context.Background(), "srv-1")
	if updated.Status == registry.StatusScannedFail || updated.Status == registry.StatusScannedPass {
		t.Fatalf("cancel must not touch server status, got %s", updated.Status)
	}
}
