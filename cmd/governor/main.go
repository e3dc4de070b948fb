// Governor is the MCP tool-server governance core: it owns the server
// registry, drives scan workloads, evaluates the policy engine, and
// enforces decisions at the MCP proxy boundary (spec §1). The web admin
// dashboard, developer CLI, external scanner binary, identity provider,
// and MCP transport proxy itself are all out of scope and reached only
// through the interfaces this binary exposes or consumes.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/marcus-qen/legator/internal/audit"
	"github.com/marcus-qen/legator/internal/config"
	"github.com/marcus-qen/legator/internal/enforcement"
	"github.com/marcus-qen/legator/internal/policy"
	"github.com/marcus-qen/legator/internal/registry"
	"github.com/marcus-qen/legator/internal/scan"
	"github.com/marcus-qen/legator/internal/server"
	"github.com/marcus-qen/legator/internal/store/postgres"
	"github.com/marcus-qen/legator/internal/telemetry"
	"github.com/marcus-qen/legator/internal/telemetry/metrics"
)

func main() {
	configPath := flag.String("config", os.Getenv("GOVERNOR_CONFIG"), "path to a JSON config file")
	policyFilePath := flag.String("policy-file", os.Getenv("GOVERNOR_POLICY_FILE"), "path to a policy.yaml overriding the config's policy block")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "governor: failed to load config:", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "governor: failed to build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *policyFilePath, logger); err != nil {
		logger.Fatal("governor exited with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, policyFilePath string, logger *zap.Logger) error {
	shutdownTracing, err := telemetry.InitTraceProvider(ctx, cfg.OTLPEndpoint, "dev")
	if err != nil {
		return fmt.Errorf("init trace provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("trace provider shutdown error", zap.Error(err))
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open registry store: %w", err)
	}
	defer closeStore()

	auditStore, err := audit.NewStore(ctx, cfg.PostgresConnection, 10_000, logger)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer auditStore.Close()

	purgeCtx, purgeCancel := context.WithCancel(ctx)
	defer purgeCancel()
	retention, err := time.ParseDuration(cfg.AuditRetention)
	if err != nil {
		retention = 90 * 24 * time.Hour
	}
	go auditStore.PurgeOnSchedule(purgeCtx, retention, cfg.AuditPurgeSchedule)

	jobRunner, err := newJobRunner(cfg.Scanner, logger)
	if err != nil {
		return fmt.Errorf("build scan job runner: %w", err)
	}

	orchestrator := scan.NewOrchestrator(store, jobRunner, cfg.Scanner, logger)
	reconciler := scan.NewReconciler(store, jobRunner, cfg.Scanner, cfg.Policy.ScanPassThreshold, logger)
	reconciler.Start(ctx)
	defer reconciler.Stop()

	registrySvc := registry.NewService(store, orchestrator, logger, cfg.Policy.ScanPassThreshold)

	policySnapshot := snapshotFromConfig(cfg.Policy)
	if policyFilePath != "" {
		fileSnapshot, err := policy.LoadSnapshotFromFile(policyFilePath)
		if err != nil {
			return fmt.Errorf("load policy file: %w", err)
		}
		policySnapshot = fileSnapshot
	}
	policyLookup := policy.NewRegistryLookup(store)
	policyEngine := policy.NewEngine(policySnapshot, policyLookup)

	metricsReg := metrics.New()

	apiServer := server.New(registrySvc, orchestrator, auditStore, policyEngine, metricsReg, logger)

	enforcementMW := enforcement.New(policyEngine, auditStore, server.PrincipalFromHeaders, cfg.EnforcementMode, logger, cfg.Policy)
	proxyHandler, err := newUpstreamProxy(cfg.MCPUpstreamURL)
	if err != nil {
		return fmt.Errorf("build MCP upstream proxy: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", apiServer.Handler())
	mux.Handle("/adapters/", enforcementMW.Wrap(proxyHandler))
	mux.Handle("/tools/", enforcementMW.Wrap(proxyHandler))

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("starting governor",
		zap.String("addr", cfg.ListenAddr),
		zap.String("enforcementMode", cfg.EnforcementMode),
		zap.Bool("postgres", cfg.HasPostgres()),
	)

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	return nil
}

// openStore picks the persistence backend: Postgres when configured,
// otherwise an in-memory store for local development (spec §6 treats
// PostgresConnection as optional — tests and demos run without it).
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (registry.Store, func(), error) {
	if !cfg.HasPostgres() {
		logger.Warn("no postgres_connection configured, using in-memory registry store")
		return registry.NewMemStore(), func() {}, nil
	}
	pgStore, err := postgres.Open(ctx, cfg.PostgresConnection, logger)
	if err != nil {
		return nil, nil, err
	}
	return pgStore, func() { pgStore.Close() }, nil
}

// newJobRunner builds a Kubernetes-backed scan.JobRunner from whatever
// client-go config is available in the environment: in-cluster config
// when running as a pod, otherwise the caller's kubeconfig, mirroring
// the teacher's ctrl.GetConfigOrDie/kubernetes.NewForConfig pairing but
// returning an error instead of exiting itself. run treats that error as
// fatal, so the governor does not start without a usable cluster config.
func newJobRunner(cfg config.ScannerConfig, logger *zap.Logger) (scan.JobRunner, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		restCfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("no usable kubernetes config (in-cluster or kubeconfig): %w", err)
		}
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("build kubernetes clientset: %w", err)
	}
	return scan.NewK8sJobRunner(clientset, cfg, logger), nil
}

// newUpstreamProxy reverse-proxies enforced MCP paths to the external
// transport proxy (spec §1: byte-forwarding is someone else's job; this
// core only decides and emits 403 on deny before ever reaching it).
func newUpstreamProxy(rawURL string) (http.Handler, error) {
	if rawURL == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "mcp upstream not configured", http.StatusBadGateway)
		}), nil
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse mcp_upstream_url: %w", err)
	}
	return httputil.NewSingleHostReverseProxy(target), nil
}

func snapshotFromConfig(p config.PolicyConfig) policy.Snapshot {
	return policy.Snapshot{
		GlobalToolDenylist:      p.GlobalToolDenylist,
		DeniedToolCategories:    p.DeniedToolCategories,
		TeamAllowlists:          p.TeamAllowlists,
		TeamDenylists:           p.TeamDenylists,
		RiskThreshold:           p.RiskThreshold,
		RequireAdminForHighRisk: p.RequireAdminForHighRisk,
		EnforceRegistryOnly:     p.EnforceRegistryOnly,
		BypassAllowedPrincipals: p.BypassAllowedPrincipals,
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(level)); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(zl)
	}
	return cfg.Build()
}
