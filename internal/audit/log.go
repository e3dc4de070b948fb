package audit

import "sync"

// memLog is an in-memory ring buffer used as Store's fast-path cache, so
// recent queries never wait on a database round trip (spec §4.F "writes
// are non-blocking relative to request processing").
type memLog struct {
	mu     sync.RWMutex
	events []Event
	maxLen int
}

func newMemLog(maxLen int) *memLog {
	return &memLog{events: make([]Event, 0, 1024), maxLen: maxLen}
}

func (l *memLog) record(evt Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
	if l.maxLen > 0 && len(l.events) > l.maxLen {
		l.events = l.events[len(l.events)-l.maxLen:]
	}
}

func (l *memLog) replace(events []Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = events
}

func matches(evt Event, f Filter) bool {
	if f.Team != "" && evt.Team != f.Team {
		return false
	}
	if f.ServerCanonicalID != "" && evt.ServerCanonicalID != f.ServerCanonicalID {
		return false
	}
	if f.ToolName != "" && evt.ToolName != f.ToolName {
		return false
	}
	if f.Decision != "" && evt.Decision != f.Decision {
		return false
	}
	if f.Actor != "" && evt.Actor != f.Actor {
		return false
	}
	if !f.StartDate.IsZero() && evt.Timestamp.Before(f.StartDate) {
		return false
	}
	if !f.EndDate.IsZero() && evt.Timestamp.After(f.EndDate) {
		return false
	}
	return true
}

// query filters the cached events newest-first and applies offset/limit.
func (l *memLog) query(f Filter) QueryResult {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []Event
	for i := len(l.events) - 1; i >= 0; i-- {
		if matches(l.events[i], f) {
			matched = append(matched, l.events[i])
		}
	}

	limit := f.clampLimit()
	result := QueryResult{Total: len(matched), Limit: limit, Offset: f.Offset}
	if f.Offset >= len(matched) {
		return result
	}
	end := f.Offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	result.Events = matched[f.Offset:end]
	return result
}

func (l *memLog) all(f Filter) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var matched []Event
	for i := len(l.events) - 1; i >= 0; i-- {
		if matches(l.events[i], f) {
			matched = append(matched, l.events[i])
		}
	}
	return matched
}
