package audit

import (
	"testing"
	"time"
)

func TestIsScheduleDueDuration(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-2 * time.Hour)

	due, err := isScheduleDue("1h", last, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !due {
		t.Fatal("expected due, 2h since last run exceeds 1h interval")
	}

	due, err = isScheduleDue("3h", last, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if due {
		t.Fatal("expected not due, 2h since last run is under 3h interval")
	}
}

func TestIsScheduleDueCron(t *testing.T) {
	last := time.Date(2026, 1, 1, 2, 59, 0, 0, time.UTC)
	now := time.Date(2026, 1, 1, 3, 1, 0, 0, time.UTC)

	due, err := isScheduleDue("0 3 * * *", last, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !due {
		t.Fatal("expected due, now is past the 03:00 cron tick")
	}
}

func TestIsScheduleDueRejectsEmptyAndInvalid(t *testing.T) {
	now := time.Now()
	if _, err := isScheduleDue("", now, now); err == nil {
		t.Fatal("expected error for empty schedule")
	}
	if _, err := isScheduleDue("not-a-schedule", now, now); err == nil {
		t.Fatal("expected error for unparseable schedule")
	}
	if _, err := isScheduleDue("-1h", now, now); err == nil {
		t.Fatal("expected error for non-positive interval")
	}
}
