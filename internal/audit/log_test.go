package audit

import (
	"testing"
	"time"
)

func TestMemLogRingBuffer(t *testing.T) {
	l := newMemLog(3)
	for i := 0; i < 5; i++ {
		l.record(Event{ID: string(rune('a' + i)), Timestamp: time.Now().UTC()})
	}
	if got := len(l.events); got != 3 {
		t.Fatalf("ring buffer should cap at 3, got %d", got)
	}
}

func TestMemLogFilterAndPaginate(t *testing.T) {
	l := newMemLog(0)
	base := time.Now().UTC()
	l.record(Event{ID: "1", Team: "team-a", Decision: "Allowed", Timestamp: base})
	l.record(Event{ID: "2", Team: "team-b", Decision: "DeniedHighRisk", Timestamp: base.Add(time.Second)})
	l.record(Event{ID: "3", Team: "team-a", Decision: "Allowed", Timestamp: base.Add(2 * time.Second)})

	result := l.query(Filter{Team: "team-a"})
	if result.Total != 2 {
		t.Fatalf("expected 2 matches, got %d", result.Total)
	}
	if result.Events[0].ID != "3" {
		t.Fatalf("expected newest-first ordering, got %s", result.Events[0].ID)
	}
}

func TestFilterClampLimit(t *testing.T) {
	if (Filter{}).clampLimit() != 100 {
		t.Fatal("expected default limit 100")
	}
	if (Filter{Limit: 5000}).clampLimit() != maxQueryLimit {
		t.Fatalf("expected clamp to %d", maxQueryLimit)
	}
	if (Filter{Limit: 10}).clampLimit() != 10 {
		t.Fatal("expected pass-through under cap")
	}
}

func TestBuildQueryAddsFilters(t *testing.T) {
	query, args := buildQuery(Filter{Team: "team-a", Decision: "Allowed"}, false, true)
	if len(args) != 2 {
		t.Fatalf("expected 2 bind args, got %d: %v", len(args), args)
	}
	if query == "" {
		t.Fatal("expected non-empty query")
	}
}
