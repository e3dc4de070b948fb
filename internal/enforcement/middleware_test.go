package enforcement

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/marcus-qen/legator/internal/audit"
	"github.com/marcus-qen/legator/internal/config"
	"github.com/marcus-qen/legator/internal/policy"
	"github.com/marcus-qen/legator/internal/principal"
)

type stubDecider struct{ decision policy.Decision }

func (d stubDecider) Decide(context.Context, policy.Principal, string, string) policy.Decision {
	return d.decision
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Record(evt audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordingSink) wait(t *testing.T) []audit.Event {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := len(s.events)
		s.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

func newRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/adapters/team-a/weather/mcp", bytes.NewBufferString(body))
	req.RemoteAddr = "10.0.0.1:1234"
	return req
}

func TestMiddlewareAllowsAndForwards(t *testing.T) {
	decider := stubDecider{decision: policy.Decision{Code: policy.Allowed}}
	sink := &recordingSink{}
	forwarded := false
	mw := New(decider, sink, nil, config.EnforcementModeEnforce, nil, config.PolicyConfig{})

	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest(`{"method":"tools/call","params":{"name":"get-forecast"}}`))

	if !forwarded {
		t.Fatal("expected request to be forwarded on allow")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	events := sink.wait(t)
	if len(events) != 1 || events[0].Decision != string(policy.Allowed) {
		t.Fatalf("expected one Allowed audit event, got %v", events)
	}
}

func TestMiddlewareEnforceModeBlocksDeny(t *testing.T) {
	decider := stubDecider{decision: policy.Decision{Code: policy.DeniedHighRisk, Reason: "too risky"}}
	sink := &recordingSink{}
	forwarded := false
	mw := New(decider, sink, nil, config.EnforcementModeEnforce, nil, config.PolicyConfig{})

	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest(`{"method":"tools/call","params":{"name":"get-forecast"}}`))

	if forwarded {
		t.Fatal("enforce mode must not forward a denied request")
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	events := sink.wait(t)
	if len(events) != 1 || events[0].Decision != string(policy.DeniedHighRisk) {
		t.Fatalf("expected DeniedHighRisk audit event, got %v", events)
	}
}

func TestMiddlewareAuditModeForwardsDeny(t *testing.T) {
	decider := stubDecider{decision: policy.Decision{Code: policy.DeniedToolDenylisted}}
	sink := &recordingSink{}
	forwarded := false
	mw := New(decider, sink, nil, config.EnforcementModeAudit, nil, config.PolicyConfig{})

	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest(`{"method":"tools/call","params":{"name":"delete-everything"}}`))

	if !forwarded {
		t.Fatal("audit mode must forward despite deny")
	}
	events := sink.wait(t)
	if len(events) != 1 || events[0].Decision != string(policy.DeniedToolDenylisted) {
		t.Fatalf("expected denied audit event recorded, got %v", events)
	}
}

func TestMiddlewareBypassesUnrecoverableExtraction(t *testing.T) {
	decider := stubDecider{decision: policy.Decision{Code: policy.Allowed}}
	sink := &recordingSink{}
	forwarded := false
	mw := New(decider, sink, nil, config.EnforcementModeEnforce, nil, config.PolicyConfig{})

	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/adapters//mcp", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !forwarded {
		t.Fatal("expected bypass-and-forward on unrecoverable extraction")
	}
}

func TestMiddlewareSkipsNonEnforcedPaths(t *testing.T) {
	decider := stubDecider{decision: policy.Decision{Code: policy.DeniedHighRisk}}
	sink := &recordingSink{}
	forwarded := false
	mw := New(decider, sink, nil, config.EnforcementModeEnforce, nil, config.PolicyConfig{})

	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/registry/servers", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !forwarded {
		t.Fatal("expected non-enforced path to pass straight through")
	}
}

func TestExtractorDefaultsToAnonymous(t *testing.T) {
	mw := New(stubDecider{decision: policy.Decision{Code: policy.Allowed}}, &recordingSink{}, nil, config.EnforcementModeEnforce, nil, config.PolicyConfig{})
	got := mw.extractor(httptest.NewRequest(http.MethodGet, "/", nil))
	if got.ID != principal.Anonymous.ID {
		t.Fatalf("expected default anonymous principal, got %v", got)
	}
}

func TestMiddlewareDeniesOversizedBodyInsteadOfTruncating(t *testing.T) {
	decider := stubDecider{decision: policy.Decision{Code: policy.Allowed}}
	sink := &recordingSink{}
	forwarded := false
	mw := New(decider, sink, nil, config.EnforcementModeEnforce, nil, config.PolicyConfig{MaxRequestPayloadBytes: 16})

	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest(`{"method":"tools/call","params":{"name":"get-forecast"}}`))

	if forwarded {
		t.Fatal("oversized body must not be forwarded, truncated or otherwise")
	}
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	events := sink.wait(t)
	if len(events) != 1 || events[0].Decision != string(policy.DeniedPayloadTooLarge) {
		t.Fatalf("expected DeniedPayloadTooLarge audit event, got %v", events)
	}
}

func TestMiddlewareAllowsBodyAtExactLimit(t *testing.T) {
	body := `{"method":"x"}`
	decider := stubDecider{decision: policy.Decision{Code: policy.Allowed}}
	sink := &recordingSink{}
	forwarded := false
	mw := New(decider, sink, nil, config.EnforcementModeEnforce, nil, config.PolicyConfig{MaxRequestPayloadBytes: int64(len(body))})

	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest(body))

	if !forwarded {
		t.Fatal("a body exactly at the configured limit must be forwarded")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMiddlewareEnforcesPerUserRateLimit(t *testing.T) {
	decider := stubDecider{decision: policy.Decision{Code: policy.Allowed}}
	sink := &recordingSink{}
	extractor := func(*http.Request) principal.Principal { return principal.Principal{ID: "user-1", Team: "team-a"} }
	mw := New(decider, sink, extractor, config.EnforcementModeEnforce, nil, config.PolicyConfig{RateLimitPerUser: 1})

	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newRequest(`{"method":"tools/call","params":{"name":"get-forecast"}}`))
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request to be allowed, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newRequest(`{"method":"tools/call","params":{"name":"get-forecast"}}`))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited with 429, got %d", second.Code)
	}

	events := sink.wait(t)
	if len(events) < 2 || events[1].Decision != string(policy.DeniedRateLimited) {
		t.Fatalf("expected a DeniedRateLimited audit event, got %v", events)
	}
}

func TestMiddlewareEnforcesUnderToolsPrefix(t *testing.T) {
	decider := stubDecider{decision: policy.Decision{Code: policy.DeniedHighRisk, Reason: "too risky"}}
	sink := &recordingSink{}
	forwarded := false
	mw := New(decider, sink, nil, config.EnforcementModeEnforce, nil, config.PolicyConfig{})

	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/tools/team-a/weather/mcp", bytes.NewBufferString(`{"method":"tools/call","params":{"name":"get-forecast"}}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if forwarded {
		t.Fatal("enforce mode must not forward a denied request under /tools/")
	}
	events := sink.wait(t)
	if len(events) != 1 || events[0].ServerCanonicalID != "team-a" {
		t.Fatalf("expected canonical id extracted from /tools/ path, got %v", events)
	}
}

func TestMiddlewareRateLimitDisabledByDefault(t *testing.T) {
	decider := stubDecider{decision: policy.Decision{Code: policy.Allowed}}
	sink := &recordingSink{}
	mw := New(decider, sink, nil, config.EnforcementModeEnforce, nil, config.PolicyConfig{})

	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newRequest(`{"method":"tools/call","params":{"name":"get-forecast"}}`))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 with rate limiting disabled, got %d", i, rec.Code)
		}
	}
}
