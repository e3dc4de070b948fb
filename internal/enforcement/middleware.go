package enforcement

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/marcus-qen/legator/internal/audit"
	"github.com/marcus-qen/legator/internal/config"
	"github.com/marcus-qen/legator/internal/policy"
	"github.com/marcus-qen/legator/internal/principal"
	"github.com/marcus-qen/legator/internal/telemetry"
	"go.uber.org/zap"
)

// defaultMaxRequestBytes bounds the request body read when the config
// doesn't set MaxRequestPayloadBytes.
const defaultMaxRequestBytes = 1 << 20 // 1 MiB

// Decider is the policy dependency the adapter calls (spec §4.D).
type Decider interface {
	Decide(ctx context.Context, p policy.Principal, serverCanonicalID, toolName string) policy.Decision
}

// AuditSink is the fire-and-forget audit dependency (spec §4.F).
type AuditSink interface {
	Record(evt audit.Event)
}

// PrincipalExtractor pulls the authenticated principal out of a request's
// context. Defaults to principal.Anonymous when absent (spec §4.E step 2).
type PrincipalExtractor func(r *http.Request) principal.Principal

// Middleware is the enforcement adapter HTTP middleware (spec §4.E). It
// is the only component in the system that consults the HTTP boundary;
// the policy engine and registry stay transport-agnostic, mirroring the
// teacher's AuthMiddleware.Wrap dual-path shape.
type Middleware struct {
	decider   Decider
	auditSink AuditSink
	extractor PrincipalExtractor
	mode      string
	logger    *zap.Logger

	maxRequestBytes  int64
	maxResponseBytes int64
	perUserLimiter   *rateLimiter
	perTeamLimiter   *rateLimiter
}

// New builds enforcement Middleware. limits supplies the payload-size and
// rate-limit thresholds (spec §4.D/§6's MaxRequestPayloadBytes,
// MaxResponsePayloadBytes, RateLimitPerUser, RateLimitPerTeam); a zero
// RateLimit* disables that limiter, and a zero/negative
// MaxRequestPayloadBytes falls back to defaultMaxRequestBytes.
func New(decider Decider, auditSink AuditSink, extractor PrincipalExtractor, mode string, logger *zap.Logger, limits config.PolicyConfig) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	if extractor == nil {
		extractor = func(*http.Request) principal.Principal { return principal.Anonymous }
	}
	maxReqBytes := limits.MaxRequestPayloadBytes
	if maxReqBytes <= 0 {
		maxReqBytes = defaultMaxRequestBytes
	}
	return &Middleware{
		decider:          decider,
		auditSink:        auditSink,
		extractor:        extractor,
		mode:             mode,
		logger:           logger,
		maxRequestBytes:  maxReqBytes,
		maxResponseBytes: limits.MaxResponsePayloadBytes,
		perUserLimiter:   newRateLimiter(limits.RateLimitPerUser, time.Minute),
		perTeamLimiter:   newRateLimiter(limits.RateLimitPerTeam, time.Minute),
	}
}

// Wrap returns next wrapped with enforcement (spec §4.E's 8 steps).
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsEnforcedPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		canonicalID, haveServer := serverCanonicalIDFromPath(r.URL.Path)
		if !haveServer {
			m.logger.Debug("enforcement: unrecoverable extraction, bypassing", zap.String("path", r.URL.Path))
			next.ServeHTTP(w, r)
			return
		}
		toolName, haveTool, bodyTooLarge := toolNameFromBody(r, m.maxRequestBytes)
		if !haveTool && !bodyTooLarge {
			m.logger.Debug("enforcement: unrecoverable extraction, bypassing", zap.String("path", r.URL.Path))
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := telemetry.StartEnforcementSpan(r.Context(), canonicalID, toolName)
		traceID := span.SpanContext().TraceID().String()

		p := m.extractor(r)
		pp := toPolicyPrincipal(p)

		start := time.Now()
		var decision policy.Decision
		switch {
		case bodyTooLarge:
			decision = policy.Decision{Code: policy.DeniedPayloadTooLarge, Reason: fmt.Sprintf("request body exceeds %d bytes", m.maxRequestBytes)}
		case !m.perUserLimiter.allow(pp.ID) || !m.perTeamLimiter.allow(pp.Team):
			decision = policy.Decision{Code: policy.DeniedRateLimited, Reason: "rate limit exceeded"}
		default:
			decision = m.safeDecide(ctx, pp, canonicalID, toolName)
		}
		latency := time.Since(start)
		telemetry.EndEnforcementSpan(span, p.ID, string(decision.Code), decision.Allow(), float64(latency.Microseconds())/1000.0)

		rw := &sizeTrackingWriter{ResponseWriter: w}

		switch {
		case decision.Code == policy.ErrorDecision:
			if m.mode == config.EnforcementModeEnforce {
				writeJSONError(w, http.StatusInternalServerError, "internal", decision.Reason, decision.Code, canonicalID, toolName, traceID)
				m.emit(p, canonicalID, toolName, decision, latency, r, 0, traceID)
				return
			}
			next.ServeHTTP(rw, r)
		case decision.Allow():
			next.ServeHTTP(rw, r)
		default:
			if m.mode == config.EnforcementModeEnforce {
				writeJSONError(w, denyStatus(decision.Code), "denied", decision.Reason, decision.Code, canonicalID, toolName, traceID)
				m.emit(p, canonicalID, toolName, decision, latency, r, 0, traceID)
				return
			}
			next.ServeHTTP(rw, r)
		}

		if m.maxResponseBytes > 0 && rw.size > m.maxResponseBytes {
			m.logger.Warn("enforcement: response exceeded configured size limit",
				zap.Int64("responseSize", rw.size), zap.Int64("limit", m.maxResponseBytes),
				zap.String("serverCanonicalId", canonicalID), zap.String("toolName", toolName))
		}

		m.emit(p, canonicalID, toolName, decision, latency, r, rw.size, traceID)
	})
}

// denyStatus picks the HTTP status a denied decision responds with in
// Enforce mode: most deny codes are a generic 403, but payload-size and
// rate-limit denials get their more specific, standard statuses.
func denyStatus(code policy.DecisionCode) int {
	switch code {
	case policy.DeniedPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case policy.DeniedRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusForbidden
	}
}

func (m *Middleware) safeDecide(ctx context.Context, p policy.Principal, canonicalID, toolName string) policy.Decision {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("enforcement: policy decide panicked", zap.Any("recover", rec))
		}
	}()
	return m.decider.Decide(ctx, p, canonicalID, toolName)
}

func (m *Middleware) emit(p principal.Principal, canonicalID, toolName string, d policy.Decision, latency time.Duration, r *http.Request, responseSize int64, traceID string) {
	go func() {
		m.auditSink.Record(audit.Event{
			Timestamp:         time.Now().UTC(),
			Actor:             p.ID,
			Team:              p.Team,
			ServerCanonicalID: canonicalID,
			ToolName:          toolName,
			Decision:          string(d.Code),
			Reason:            d.Reason,
			LatencyMs:         float64(latency.Microseconds()) / 1000.0,
			RequestSize:       r.ContentLength,
			ResponseSize:      responseSize,
			TraceID:           traceID,
			SourceIP:          r.RemoteAddr,
			UserAgent:         r.UserAgent(),
			ServerRiskScore:   d.ServerRiskScore,
		})
	}()
}

func toPolicyPrincipal(p principal.Principal) policy.Principal {
	return policy.Principal{ID: p.ID, Team: p.Team, Teams: p.Teams, Admin: p.IsAdmin()}
}

type sizeTrackingWriter struct {
	http.ResponseWriter
	size int64
}

func (w *sizeTrackingWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += int64(n)
	return n, err
}

type denyBody struct {
	Error             string `json:"error"`
	Reason            string `json:"reason"`
	Decision          string `json:"decision"`
	ServerCanonicalID string `json:"serverCanonicalId"`
	ToolName          string `json:"toolName"`
	TraceID           string `json:"traceId"`
}

func writeJSONError(w http.ResponseWriter, status int, label, reason string, code policy.DecisionCode, canonicalID, toolName, traceID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(denyBody{
		Error: label, Reason: reason, Decision: string(code),
		ServerCanonicalID: canonicalID, ToolName: toolName, TraceID: traceID,
	})
}

