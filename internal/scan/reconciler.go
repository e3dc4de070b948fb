package scan

import (
	"context"
	"sync"
	"time"

	"github.com/marcus-qen/legator/internal/config"
	"github.com/marcus-qen/legator/internal/registry"
	"go.uber.org/zap"
)

// Reconciler sweeps running scans and drives them to a terminal state:
// parsing completed output, timing out stuck workloads, and failing scans
// whose workload has vanished (spec §4.C reconciliation, §5 "reconciler
// singleton"). Modeled on the teacher's job scheduler ticker loop, with a
// claim map standing in for its per-target exclusivity.
type Reconciler struct {
	store  registry.Store
	runner JobRunner
	cfg    config.ScannerConfig
	logger *zap.Logger
	passAt float64

	interval time.Duration

	mu      sync.Mutex
	ticker  *time.Ticker
	cancel  context.CancelFunc
	claimed map[string]struct{}
	wg      sync.WaitGroup
}

// NewReconciler builds a Reconciler. passAt is the scanPassThreshold used
// to decide ScannedPass vs ScannedFail on completion (spec §4.D).
func NewReconciler(store registry.Store, runner JobRunner, cfg config.ScannerConfig, passAt float64, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval, err := time.ParseDuration(cfg.ReconcileInterval)
	if err != nil || interval <= 0 {
		interval = 15 * time.Second
	}
	return &Reconciler{
		store:    store,
		runner:   runner,
		cfg:      cfg,
		logger:   logger,
		passAt:   passAt,
		interval: interval,
		claimed:  make(map[string]struct{}),
	}
}

// Start begins the reconciliation loop. Idempotent: calling it while
// already running is a no-op.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.ticker != nil {
		r.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.ticker = time.NewTicker(r.interval)
	ticker := r.ticker
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runOnce(loopCtx)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				r.runOnce(loopCtx)
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight sweep, if any, to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if r.ticker == nil {
		r.mu.Unlock()
		return
	}
	r.ticker.Stop()
	r.ticker = nil
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.claimed = make(map[string]struct{})
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Reconciler) claim(scanID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.claimed[scanID]; ok {
		return false
	}
	r.claimed[scanID] = struct{}{}
	return true
}

func (r *Reconciler) release(scanID string) {
	r.mu.Lock()
	delete(r.claimed, scanID)
	r.mu.Unlock()
}

func (r *Reconciler) runOnce(ctx context.Context) {
	scans, err := r.store.ListRunningScans(ctx)
	if err != nil {
		r.logger.Error("reconciler: list running scans", zap.Error(err))
		return
	}
	for _, sc := range scans {
		if !r.claim(sc.ID) {
			continue
		}
		go func(sc *registry.Scan) {
			defer r.release(sc.ID)
			r.reconcileOne(ctx, sc)
		}(sc)
	}
}

// reconcileOne implements the three cases from spec §4.C: the workload
// succeeded or failed (parse output and complete), it exceeded its
// timeout (cancel and mark TimedOut), or it vanished (mark Failed).
func (r *Reconciler) reconcileOne(ctx context.Context, sc *registry.Scan) {
	status, err := r.runner.Status(ctx, sc.JobName)
	if err != nil {
		r.logger.Error("reconciler: job status", zap.String("scanId", sc.ID), zap.Error(err))
		return
	}

	switch status.Phase {
	case JobSucceeded, JobFailed:
		r.complete(ctx, sc, status.Phase)
	case JobNotFound:
		r.fail(ctx, sc, "scan workload no longer exists")
	case JobRunning:
		if r.timedOut(sc) {
			r.timeout(ctx, sc)
		}
	}
}

// existingRiskScore preserves the server's prior latestRiskScore across a
// failed/timed-out rescan rather than wiping it, since a failure carries
// no new risk information.
func (r *Reconciler) existingRiskScore(ctx context.Context, serverID string) *float64 {
	server, err := r.store.GetServer(ctx, serverID)
	if err != nil {
		return nil
	}
	return server.LatestRiskScore
}

func (r *Reconciler) timedOut(sc *registry.Scan) bool {
	if r.cfg.TimeoutSeconds <= 0 {
		return false
	}
	deadline := sc.StartedAt.Add(time.Duration(r.cfg.TimeoutSeconds) * time.Second)
	return time.Now().UTC().After(deadline)
}

func (r *Reconciler) complete(ctx context.Context, sc *registry.Scan, phase JobPhase) {
	logs, err := r.runner.Logs(ctx, sc.JobName)
	now := time.Now().UTC()
	sc.FinishedAt = &now

	// Terminal either way: reclaim the workload regardless of which
	// branch below runs, mirroring timeout()'s unconditional delete.
	if derr := r.runner.Delete(ctx, sc.JobName); derr != nil {
		r.logger.Warn("reconciler: delete finished job", zap.String("job", sc.JobName), zap.Error(derr))
	}

	if err != nil || phase == JobFailed {
		sc.Status = registry.ScanFailed
		if err != nil {
			sc.ErrorMessage = err.Error()
		} else {
			sc.ErrorMessage = "scan workload exited with failure status"
		}
		r.writeCompletion(ctx, sc, registry.StatusScannedFail, r.existingRiskScore(ctx, sc.ServerID))
		return
	}

	parsed, perr := registry.ParseScanOutput([]byte(logs))
	if perr != nil {
		sc.Status = registry.ScanFailed
		sc.ErrorMessage = perr.Error()
		r.writeCompletion(ctx, sc, registry.StatusScannedFail, r.existingRiskScore(ctx, sc.ServerID))
		return
	}

	sc.Status = registry.ScanCompleted
	sc.RiskScore = &parsed.RiskScore
	sc.Summary = parsed.Summary
	sc.Issues = parsed.Issues
	sc.DiscoveredTools = parsed.DiscoveredTools
	sc.ReportJSON = logs

	newStatus := registry.StatusScannedFail
	if parsed.RiskScore <= r.passAt {
		newStatus = registry.StatusScannedPass
	}
	r.writeCompletion(ctx, sc, newStatus, &parsed.RiskScore)
}

func (r *Reconciler) timeout(ctx context.Context, sc *registry.Scan) {
	if err := r.runner.Delete(ctx, sc.JobName); err != nil {
		r.logger.Warn("reconciler: delete timed out job", zap.String("job", sc.JobName), zap.Error(err))
	}
	now := time.Now().UTC()
	sc.Status = registry.ScanTimedOut
	sc.FinishedAt = &now
	sc.ErrorMessage = "scan exceeded configured timeout"
	r.writeCompletion(ctx, sc, registry.StatusScannedFail, r.existingRiskScore(ctx, sc.ServerID))
}

func (r *Reconciler) fail(ctx context.Context, sc *registry.Scan, reason string) {
	now := time.Now().UTC()
	sc.Status = registry.ScanFailed
	sc.FinishedAt = &now
	sc.ErrorMessage = reason
	r.writeCompletion(ctx, sc, registry.StatusScannedFail, r.existingRiskScore(ctx, sc.ServerID))
}

func (r *Reconciler) writeCompletion(ctx context.Context, sc *registry.Scan, newStatus registry.Status, riskScore *float64) {
	if err := r.store.RecordScanCompletion(ctx, sc.ServerID, sc, newStatus, riskScore); err != nil {
		r.logger.Error("reconciler: record scan completion", zap.String("scanId", sc.ID), zap.Error(err))
	}
}
