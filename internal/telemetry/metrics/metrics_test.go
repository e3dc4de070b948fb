package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRegistryExposesRecordedMetrics(t *testing.T) {
	r := New()
	r.RecordToolCall("weather.team-a", "get-forecast", "team-a", "Allowed", 12*time.Millisecond)
	r.RecordScanRun("ScannedPass")
	r.RecordScanRiskScore(0.3)
	r.RecordServerRegistered("ExternalRepo", "PendingScan")
	r.SetServersApproved(4)
	r.SetScansPending(2)
	r.RecordPolicyCheck(200 * time.Microsecond)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"governor_tool_calls_total",
		"governor_scan_runs_total",
		"governor_servers_registered_total",
		"governor_servers_approved 4",
		"governor_scans_pending 2",
		"governor_scan_risk_score",
		"governor_policy_check_latency_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q, got:\n%s", want, body)
		}
	}
}
