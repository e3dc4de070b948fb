// Package server exposes the governance core's HTTP API (spec §6): the
// registry/scan/approval surface plus audit query and metrics endpoints.
// Routing follows the teacher's server/routes.go idiom — a Go 1.22+
// http.ServeMux with "METHOD /path/{id}" patterns, no router library.
package server

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/marcus-qen/legator/internal/audit"
	"github.com/marcus-qen/legator/internal/policy"
	"github.com/marcus-qen/legator/internal/registry"
	"github.com/marcus-qen/legator/internal/telemetry/metrics"
)

// ScanCanceller is the seam the HTTP layer uses to cancel a running scan
// without importing internal/scan directly.
type ScanCanceller interface {
	Cancel(ctx context.Context, scanID string) error
}

// AuditQuerier is the read surface GET /registry/audit[/stats] depend on,
// kept as an interface so handler tests can fake it instead of opening a
// real Postgres-backed audit.Store.
type AuditQuerier interface {
	Query(f audit.Filter) audit.QueryResult
	QueryPersisted(ctx context.Context, f audit.Filter) (audit.QueryResult, error)
	Stats(ctx context.Context, f audit.Filter) (audit.Stats, error)
}

// Server wires the registry service, audit store, policy engine, and
// metrics registry to an http.Handler.
type Server struct {
	registry      *registry.Service
	scanCanceller ScanCanceller
	auditLog      AuditQuerier
	policyEngine  *policy.Engine
	metrics       *metrics.Registry
	logger        *zap.Logger
	mux           *http.ServeMux
}

// New builds a Server and registers its routes. scanCanceller may be nil
// if scan cancellation is not wired; the cancellation route is still
// registered and then answers with an Upstream error (502).
func New(reg *registry.Service, scanCanceller ScanCanceller, auditLog AuditQuerier, policyEngine *policy.Engine, metricsReg *metrics.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{registry: reg, scanCanceller: scanCanceller, auditLog: auditLog, policyEngine: policyEngine, metrics: metricsReg, logger: logger}
	s.mux = http.NewServeMux()
	s.registerRoutes(s.mux)
	return s
}

// Handler returns the composed HTTP handler (auth middleware + routes).
func (s *Server) Handler() http.Handler {
	return authMiddleware(s.mux)
}
