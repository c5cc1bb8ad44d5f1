package testutil

import (
	"testing"

	"munireports/internal/operations"
	"munireports/internal/progress"
)

// AssertOutcome verifies the terminal state and status of a workflow
func AssertOutcome(t *testing.T, out operations.Outcome, state operations.State, status operations.Status) {
	t.Helper()
	if out.State != state {
		t.Errorf("%s/%d state = %v, want %v (error: %s)", out.City, out.Year, out.State, state, out.Error)
	}
	if out.Status != status {
		t.Errorf("%s/%d status = %v, want %v", out.City, out.Year, out.Status, status)
	}
}

// AssertReportClosed verifies that exactly one terminal event was logged
// and that it is the last one, with non-decreasing timestamps throughout
func AssertReportClosed(t *testing.T, r *operations.Report) {
	t.Helper()
	events := r.Events()
	if len(events) == 0 {
		t.Fatal("processing report has no events")
	}
	terminal := 0
	for i, e := range events {
		if e.Terminal {
			terminal++
			if i != len(events)-1 {
				t.Errorf("terminal event %q at position %d of %d", e.Message, i, len(events))
			}
		}
		if i > 0 && e.Time.Before(events[i-1].Time) {
			t.Errorf("event %d (%s) is earlier than event %d", i, e.Time, i-1)
		}
	}
	if terminal != 1 {
		t.Errorf("terminal events = %d, want 1", terminal)
	}
}

// AssertPairFinished verifies one workflow_finished event was published
// for the pair
func AssertPairFinished(t *testing.T, rec *EventRecorder, city string, year int) {
	t.Helper()
	n := 0
	for _, e := range rec.OfKind(progress.KindWorkflowFinished) {
		if e.City == city && e.Year == year {
			n++
		}
	}
	if n != 1 {
		t.Errorf("workflow_finished events for %s/%d = %d, want 1", city, year, n)
	}
}
