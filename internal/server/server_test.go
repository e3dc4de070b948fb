package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marcus-qen/legator/internal/audit"
	"github.com/marcus-qen/legator/internal/registry"
)

type fakeAuditQuerier struct{}

func (fakeAuditQuerier) Query(f audit.Filter) audit.QueryResult { return audit.QueryResult{} }
func (fakeAuditQuerier) QueryPersisted(ctx context.Context, f audit.Filter) (audit.QueryResult, error) {
	return audit.QueryResult{Limit: f.Limit}, nil
}
func (fakeAuditQuerier) Stats(ctx context.Context, f audit.Filter) (audit.Stats, error) {
	return audit.Stats{ByDecision: map[string]int{}}, nil
}

func newTestServer() *Server {
	store := registry.NewMemStore()
	svc := registry.NewService(store, nil, nil, 0.5)
	return New(svc, nil, fakeAuditQuerier{}, nil, nil, nil)
}

func doRequest(t *testing.T, srv *Server, method, path string, body any, principalID string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if principalID != "" {
		req.Header.Set("X-Principal-Id", principalID)
		req.Header.Set("X-Principal-Roles", "admin")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRegisterAndGetServer(t *testing.T) {
	srv := newTestServer()

	rec := doRequest(t, srv, http.MethodPost, "/registry/servers", registerRequest{
		CanonicalID: "team-a/weather",
		Name:        "Weather",
		OwnerTeam:   "team-a",
		SourceType:  "ExternalRepo",
		SourceURL:   "https://example.com/weather",
		Version:     "1.0.0",
	}, "alice")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created registry.Server
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created server: %v", err)
	}

	rec = doRequest(t, srv, http.MethodGet, "/registry/servers/"+created.ID, nil, "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRegisterRejectsInvalidCanonicalID(t *testing.T) {
	srv := newTestServer()
	rec := doRequest(t, srv, http.MethodPost, "/registry/servers", registerRequest{
		CanonicalID: "Not Valid!",
		Name:        "Weather",
		SourceType:  "ExternalRepo",
		SourceURL:   "https://example.com",
	}, "alice")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetServerNotFound(t *testing.T) {
	srv := newTestServer()
	rec := doRequest(t, srv, http.MethodGet, "/registry/servers/does-not-exist", nil, "alice")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAuditQueryEndpoint(t *testing.T) {
	srv := newTestServer()
	rec := doRequest(t, srv, http.MethodGet, "/registry/audit?limit=50", nil, "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp auditQueryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Limit != 50 {
		t.Fatalf("expected limit 50 to propagate, got %d", resp.Limit)
	}
}

func TestHealthzUnauthenticatedOK(t *testing.T) {
	srv := newTestServer()
	rec := doRequest(t, srv, http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
