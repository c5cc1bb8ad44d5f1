package operations_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"munireports/internal/operations"
	"munireports/internal/operations/testutil"
)

// stepClock returns the given times in order, then repeats the last one
func stepClock(times ...time.Time) func() time.Time {
	var mu sync.Mutex
	i := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := times[i]
		if i < len(times)-1 {
			i++
		}
		return t
	}
}

func TestReportTimestampsNeverGoBackwards(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := stepClock(
		base,                     // start
		base.Add(5*time.Second),  // first event
		base.Add(2*time.Second),  // clock stepped back
		base.Add(-time.Hour),     // and further back
		base.Add(10*time.Second), // forward again
		base.Add(9*time.Second),  // terminal, slightly back
	)
	r := operations.NewReport("congonhas", "Congonhas", 2025, clock)

	r.Info("one")
	r.Warn("two")
	r.Error("three")
	r.Success("four")
	require.True(t, r.Finish(operations.StateDone, operations.StatusPartial))

	testutil.AssertReportClosed(t, r)
	events := r.Events()
	require.Len(t, events, 5)
	assert.Equal(t, base.Add(5*time.Second), events[1].Time)
	assert.Equal(t, base.Add(5*time.Second), events[2].Time)
	assert.Equal(t, base.Add(10*time.Second), events[4].Time)
}

func TestReportFinishOnce(t *testing.T) {
	r := operations.NewReport("congonhas", "Congonhas", 2025, nil)
	r.Info("started")

	require.True(t, r.Finish(operations.StateCancelled, operations.StatusCancelled))
	assert.False(t, r.Finish(operations.StateDone, operations.StatusSuccess))
	r.Error("late error")

	testutil.AssertReportClosed(t, r)
	events := r.Events()
	last := events[len(events)-1]
	assert.Equal(t, "Workflow Cancelled (status: cancelled)", last.Message)
	assert.Equal(t, operations.SeverityWarn, last.Severity)
	assert.Equal(t, operations.StatusCancelled, r.Status())
	assert.Zero(t, r.Counters().Errors, "events after finish are ignored")
}

func TestReportCounters(t *testing.T) {
	r := operations.NewReport("congonhas", "Congonhas", 2025, nil)
	r.SetExpected(10)
	for i := 0; i < 3; i++ {
		r.SubmissionAttempted()
	}
	r.SubmissionSucceeded()
	r.SubmissionSucceeded()
	r.AddDownloaded(4)
	r.AddConverted(3)
	r.Warn("w")
	r.Error("e1")
	r.Error("e2")
	r.Finish(operations.StateDone, operations.StatusPartial)

	assert.Equal(t, operations.Counters{
		SubmissionsAttempted: 3,
		SubmissionsSucceeded: 2,
		FilesDownloaded:      4,
		FilesConverted:       3,
		Errors:               2,
		Warnings:             1,
	}, r.Counters(), "the terminal event is not counted")
	assert.Equal(t, 10, r.Expected())
}

func TestReportWriteTo(t *testing.T) {
	dir := t.TempDir()
	fixed := time.Date(2025, 3, 1, 14, 30, 5, 0, time.UTC)
	now := func() time.Time { return fixed }

	write := func() string {
		r := operations.NewReport("congonhas", "Congonhas", 2025, now)
		r.SetExpected(2)
		r.SubmissionAttempted()
		r.SubmissionSucceeded()
		r.AddDownloaded(1)
		r.AddConverted(1)
		r.Info("Submitted Balancete da Receita")
		r.Finish(operations.StateDone, operations.StatusPartial)
		path, err := r.WriteTo(dir)
		require.NoError(t, err)
		assert.Equal(t, path, r.Path())
		return path
	}

	first := write()
	assert.Equal(t, "processing_report_20250301_143005.txt", filepath.Base(first))

	content := testutil.ReadFile(t, first)
	assert.Contains(t, content, "City:      Congonhas (congonhas)")
	assert.Contains(t, content, "Submissions:  1/1")
	assert.Contains(t, content, "Downloaded:   1 unique file(s)")
	assert.Contains(t, content, "Conversions:  1/2")
	assert.Contains(t, content, "Status:       partial")
	assert.Contains(t, content, "Workflow Done (status: partial)")

	second := write()
	assert.NotEqual(t, first, second, "an existing report is never overwritten")
	_, err := os.Stat(first)
	assert.NoError(t, err)
}

func TestClassifyWorkflow(t *testing.T) {
	full := operations.Counters{SubmissionsAttempted: 10, SubmissionsSucceeded: 10, FilesConverted: 10}

	tests := []struct {
		name     string
		state    operations.State
		counters operations.Counters
		expected int
		want     operations.Status
	}{
		{"all good", operations.StateDone, full, 10, operations.StatusSuccess},
		{"more files than expected", operations.StateDone, operations.Counters{SubmissionsAttempted: 2, SubmissionsSucceeded: 2, FilesConverted: 3}, 2, operations.StatusSuccess},
		{"one recipe failed", operations.StateDone, operations.Counters{SubmissionsAttempted: 10, SubmissionsSucceeded: 9, FilesConverted: 9}, 10, operations.StatusPartial},
		{"missing conversions", operations.StateDone, operations.Counters{SubmissionsAttempted: 10, SubmissionsSucceeded: 10, FilesConverted: 7}, 10, operations.StatusPartial},
		{"nothing submitted", operations.StateDone, operations.Counters{}, 0, operations.StatusPartial},
		{"failed", operations.StateFailed, full, 10, operations.StatusError},
		{"cancelled", operations.StateCancelled, full, 10, operations.StatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, operations.ClassifyWorkflow(tt.state, tt.counters, tt.expected))
		})
	}
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []operations.Status
		want     operations.Status
	}{
		{"empty", nil, operations.StatusSuccess},
		{"all success", []operations.Status{operations.StatusSuccess, operations.StatusSuccess}, operations.StatusSuccess},
		{"partial wins over success", []operations.Status{operations.StatusSuccess, operations.StatusPartial}, operations.StatusPartial},
		{"error wins over partial", []operations.Status{operations.StatusPartial, operations.StatusError, operations.StatusSuccess}, operations.StatusError},
		{"cancelled wins over error", []operations.Status{operations.StatusError, operations.StatusCancelled}, operations.StatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, operations.AggregateStatus(tt.statuses...))
		})
	}
}
