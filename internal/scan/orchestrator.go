package scan

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/marcus-qen/legator/internal/config"
	"github.com/marcus-qen/legator/internal/governanceerr"
	"github.com/marcus-qen/legator/internal/registry"
	"go.uber.org/zap"
)

// Orchestrator submits and reconciles scan workloads. It implements
// registry.ScanLauncher so the registry service can trigger a scan without
// importing this package (spec §4.C, §5 "scan orchestrator" reconciler
// singleton).
type Orchestrator struct {
	store  registry.Store
	runner JobRunner
	cfg    config.ScannerConfig
	logger *zap.Logger

	retry resolvedRetryPolicy
}

// NewOrchestrator builds an Orchestrator against runner, cfg and store.
func NewOrchestrator(store registry.Store, runner JobRunner, cfg config.ScannerConfig, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &Orchestrator{
		store:  store,
		runner: runner,
		cfg:    cfg,
		logger: logger,
		retry: resolvedRetryPolicy{
			MaxAttempts:    retries + 1,
			InitialBackoff: 5 * time.Second,
			Multiplier:     2.0,
			MaxBackoff:     2 * time.Minute,
		},
	}
}

// LaunchScan creates a Pending Scan row and submits its workload,
// retrying submission failures per the resolved retry policy (a
// supplemented feature; the spec itself only requires submission to
// happen, not that it retries). On exhausted retries the scan and server
// are marked Failed/ScannedFail via the compound completion write.
func (o *Orchestrator) LaunchScan(ctx context.Context, server *registry.Server) (*registry.Scan, error) {
	sc := &registry.Scan{
		ID:          uuid.NewString(),
		ServerID:    server.ID,
		Status:      registry.ScanPending,
		StartedAt:   time.Now().UTC(),
		TriggeredBy: server.CreatedBy,
	}
	if err := o.store.CreateScan(ctx, sc); err != nil {
		return nil, governanceerr.Internalf(err, "create scan row")
	}

	var lastErr error
	for attempt := 1; attempt <= o.retry.MaxAttempts; attempt++ {
		name, err := o.runner.Submit(ctx, sc.ID, server)
		if err == nil {
			sc.JobName = name
			sc.Status = registry.ScanRunning
			if updErr := o.store.UpdateScan(ctx, sc); updErr != nil {
				return nil, governanceerr.Internalf(updErr, "record scan running")
			}
			if updErr := o.store.UpdateServerStatus(ctx, server.ID, registry.StatusScanning); updErr != nil {
				return nil, governanceerr.Internalf(updErr, "mark server scanning")
			}
			return sc, nil
		}
		lastErr = err
		o.logger.Warn("scan job submission failed",
			zap.String("scanId", sc.ID), zap.Int("attempt", attempt), zap.Error(err))
		if attempt < o.retry.MaxAttempts {
			timer := time.NewTimer(o.retry.nextRetryDelay(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				lastErr = ctx.Err()
				attempt = o.retry.MaxAttempts
			case <-timer.C:
			}
		}
	}

	now := time.Now().UTC()
	sc.Status = registry.ScanFailed
	sc.FinishedAt = &now
	sc.ErrorMessage = lastErr.Error()
	if err := o.store.RecordScanCompletion(ctx, server.ID, sc, registry.StatusScannedFail, server.LatestRiskScore); err != nil {
		return nil, governanceerr.Internalf(err, "record scan submission failure")
	}
	return sc, governanceerr.Upstreamf(lastErr, "scan workload submission exhausted retries")
}

// Cancel stops a running scan's workload and marks it Cancelled without
// touching the parent server's status (spec §4.C explicit cancellation is
// distinct from the reconciler's timeout path).
func (o *Orchestrator) Cancel(ctx context.Context, scanID string) error {
	sc, err := o.store.GetScan(ctx, scanID)
	if err != nil {
		return governanceerr.NotFoundf("scan %q not found", scanID)
	}
	if sc.Status.Terminal() {
		return governanceerr.InvalidStatef("scan %q is already terminal (%s)", scanID, sc.Status)
	}
	if sc.JobName != "" {
		if err := o.runner.Delete(ctx, sc.JobName); err != nil {
			o.logger.Warn("failed to delete scan job on cancel", zap.String("job", sc.JobName), zap.Error(err))
		}
	}
	now := time.Now().UTC()
	sc.Status = registry.ScanCancelled
	sc.FinishedAt = &now
	return o.store.UpdateScan(ctx, sc)
}
