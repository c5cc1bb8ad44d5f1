package operations_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"munireports/internal/browser"
	apperrors "munireports/internal/errors"
	"munireports/internal/operations"
	"munireports/internal/operations/testutil"
	"munireports/internal/progress"
)

func reportContent(t *testing.T, out operations.Outcome) string {
	t.Helper()
	require.NotEmpty(t, out.ReportPath, "processing report not written")
	assert.Equal(t, out.Workspace, filepath.Dir(out.ReportPath))
	return testutil.ReadFile(t, out.ReportPath)
}

// Scenario: happy path, single pair
func TestWorkflowHappyPath(t *testing.T) {
	h := testutil.NewHarness(t)
	h.AddCity("congonhas", "Congonhas")
	rec := &testutil.EventRecorder{}

	w := h.Workflow("congonhas", 2025, operations.NewToken(), rec)
	out := w.Run(context.Background())

	testutil.AssertOutcome(t, out, operations.StateDone, operations.StatusSuccess)
	assert.Equal(t, operations.Counters{
		SubmissionsAttempted: 10,
		SubmissionsSucceeded: 10,
		FilesDownloaded:      10,
		FilesConverted:       10,
	}, out.Counters)
	assert.Equal(t, 10, out.Expected)

	ws := h.Workspace("congonhas", 2025)
	assert.Len(t, testutil.ListNames(t, ws.Raw), 10)
	converted := testutil.ListNames(t, ws.Converted)
	require.Len(t, converted, 10)
	for _, name := range converted {
		assert.True(t, strings.HasSuffix(name, ".xlsx"), name)
	}
	assert.Empty(t, testutil.ListNames(t, ws.Download))

	content := reportContent(t, out)
	assert.Contains(t, content, "Submissions:  10/10")
	assert.Contains(t, content, "Conversions:  10/10")
	assert.Contains(t, content, "Status:       success")
	testutil.AssertReportClosed(t, w.Report())

	// one login per recipe session plus one per harvest
	stats := h.Portal.Stats()
	assert.Equal(t, 10, stats.Submitted)
	assert.Equal(t, 10, stats.Downloaded)
	assert.Equal(t, 12, stats.Started)
	assert.Zero(t, h.Portal.OpenDrivers(), "every browser must be closed")

	history := w.History()
	require.Len(t, history, 8)
	assert.Equal(t, operations.StateAuthenticating, history[0].To)
	assert.Equal(t, operations.StateDone, history[len(history)-1].To)

	testutil.AssertPairFinished(t, rec, "congonhas", 2025)
	prev := -1
	for _, e := range rec.Events() {
		assert.GreaterOrEqual(t, e.Percentage, prev, "progress went backwards at %s", e.State)
		prev = e.Percentage
	}
	assert.Equal(t, progress.KindWorkflowStarted, rec.Events()[0].Kind)
}

// The live executions panel keeps listing what batch 1 already downloaded
func TestWorkflowRelistedExecutions(t *testing.T) {
	h := testutil.NewHarness(t)
	h.AddCity("congonhas", "Congonhas")
	h.Portal.KeepDownloaded = true

	w := h.Workflow("congonhas", 2025, operations.NewToken(), &testutil.EventRecorder{})
	out := w.Run(context.Background())

	testutil.AssertOutcome(t, out, operations.StateDone, operations.StatusSuccess)
	assert.Equal(t, 10, out.Counters.FilesDownloaded)
	assert.Equal(t, 10, out.Counters.FilesConverted)

	ws := h.Workspace("congonhas", 2025)
	raw := testutil.ListNames(t, ws.Raw)
	assert.Len(t, raw, 10)
	for _, name := range raw {
		assert.NotRegexp(t, `_\d+_\d+\.xls$`, name, "re-listed execution promoted twice")
	}
	assert.Len(t, testutil.ListNames(t, ws.Converted), 10)
	assert.Greater(t, h.Portal.Stats().Downloaded, 10, "harvest 2 downloads batch 1 again")
}

// Scenario: one recipe times out on its fourth step
func TestWorkflowPartialRecipeFailure(t *testing.T) {
	h := testutil.NewHarness(t)
	h.AddCity("congonhas", "Congonhas")
	h.Portal.MakeUnavailable(browser.ID("4471"))

	w := h.Workflow("congonhas", 2025, nil, nil)
	out := w.Run(context.Background())

	testutil.AssertOutcome(t, out, operations.StateDone, operations.StatusPartial)
	assert.Equal(t, 10, out.Counters.SubmissionsAttempted)
	assert.Equal(t, 9, out.Counters.SubmissionsSucceeded)
	assert.Equal(t, 9, out.Counters.FilesConverted)
	assert.Equal(t, 1, out.Counters.Errors)
	assert.Empty(t, out.Error, "a recipe failure does not fail the workflow")

	content := reportContent(t, out)
	assert.Contains(t, content, "Anexo VII - Restos a Pagar: [recipe_step_timeout]")
	assert.Contains(t, content, "step 4 click")
	assert.Contains(t, content, "Submissions:  9/10")
	assert.Contains(t, content, "Status:       partial")
	testutil.AssertReportClosed(t, w.Report())
}

// Scenario: the portal hands out the same file name for every execution
func TestWorkflowDuplicateFileNames(t *testing.T) {
	h := testutil.NewHarness(t)
	h.AddCity("congonhas", "Congonhas")
	h.Registry = testutil.Catalog(t, "Extrato A", "Extrato B", "Extrato C")
	h.Portal.FileName = func(int) string { return "Extrato.xls" }

	w := h.Workflow("congonhas", 2025, nil, nil)
	out := w.Run(context.Background())

	testutil.AssertOutcome(t, out, operations.StateDone, operations.StatusPartial)
	ws := h.Workspace("congonhas", 2025)
	assert.Equal(t, []string{"Extrato.xls"}, testutil.ListNames(t, ws.Raw))
	assert.Equal(t, []string{"Extrato.xlsx"}, testutil.ListNames(t, ws.Converted))
	assert.Empty(t, testutil.ListNames(t, ws.Download), "duplicates must be deleted")
	assert.Equal(t, 3, h.Portal.Stats().Downloaded)
	assert.Equal(t, 1, out.Counters.FilesDownloaded)

	content := reportContent(t, out)
	assert.Contains(t, content, "Downloaded 3 file(s), 1 unique file(s) promoted")
	assert.Contains(t, content, "Downloaded:   1 unique file(s)")
}

// Scenario: the token trips during the first cooling-off
func TestWorkflowCancelledDuringCoolingOff(t *testing.T) {
	h := testutil.NewHarness(t)
	h.AddCity("congonhas", "Congonhas")
	h.HarvestConfig.CoolingOffBatch1 = 600 * time.Second
	h.HarvestConfig.CheckInterval = 60 * time.Second

	token := operations.NewToken()
	var (
		mu      sync.Mutex
		tripped time.Time
	)
	rec := &testutil.EventRecorder{OnEvent: func(e progress.Event) {
		if e.State == string(operations.StateHarvesting1) && e.Kind == progress.KindWorkflowProgress {
			time.AfterFunc(30*time.Millisecond, func() {
				mu.Lock()
				tripped = time.Now()
				mu.Unlock()
				token.Trip()
			})
		}
	}}

	w := h.Workflow("congonhas", 2025, token, rec)
	out := w.Run(context.Background())
	returned := time.Now()

	testutil.AssertOutcome(t, out, operations.StateCancelled, operations.StatusCancelled)
	assert.Equal(t, string(apperrors.KindInterrupted), out.ErrorKind)
	mu.Lock()
	assert.Less(t, returned.Sub(tripped), time.Second)
	mu.Unlock()

	assert.Zero(t, h.Portal.OpenDrivers(), "browser must be closed")
	assert.Equal(t, 5, h.Portal.Stats().Submitted, "batch 2 is never submitted")
	assert.Empty(t, h.Codec.Calls(), "no conversion after cancellation")
	assert.Empty(t, testutil.ListNames(t, h.Workspace("congonhas", 2025).Converted))

	content := reportContent(t, out)
	assert.Contains(t, content, "Cancelled during harvesting_1")
	assert.Contains(t, content, "Status:       cancelled")
	testutil.AssertReportClosed(t, w.Report())

	history := w.History()
	require.NotEmpty(t, history)
	assert.Equal(t, operations.StateHarvesting1, history[len(history)-1].From)
	assert.Equal(t, operations.StateCancelled, history[len(history)-1].To)
	testutil.AssertPairFinished(t, rec, "congonhas", 2025)
}

// Scenario: credentials rejected
func TestWorkflowAuthenticationFailure(t *testing.T) {
	h := testutil.NewHarness(t)
	h.AddCity("neves", "Ribeirão das Neves")
	h.Portal.RejectUser("neves.user")

	w := h.Workflow("neves", 2025, nil, nil)
	out := w.Run(context.Background())

	testutil.AssertOutcome(t, out, operations.StateFailed, operations.StatusError)
	assert.Equal(t, string(apperrors.KindAuthentication), out.ErrorKind)
	assert.True(t, errors.Is(out.Err, apperrors.ErrAuthentication))
	assert.Zero(t, h.Portal.Stats().Submitted)
	assert.Zero(t, h.Portal.OpenDrivers())

	content := reportContent(t, out)
	assert.Contains(t, content, "credentials rejected")
	assert.Contains(t, content, "Workflow Failed (status: error)")
}

func TestWorkflowConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		year   int
		mutate func(h *testutil.Harness)
		reason string
	}{
		{
			name:   "missing password",
			year:   2025,
			mutate: func(h *testutil.Harness) { c := h.Cities["congonhas"]; c.Password = ""; h.Cities["congonhas"] = c },
			reason: "missing password",
		},
		{
			name:   "year out of range",
			year:   1990,
			reason: "invalid year",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testutil.NewHarness(t)
			h.AddCity("congonhas", "Congonhas")
			if tt.mutate != nil {
				tt.mutate(h)
			}
			out := h.Workflow("congonhas", tt.year, nil, nil).Run(context.Background())
			testutil.AssertOutcome(t, out, operations.StateFailed, operations.StatusError)
			assert.Equal(t, string(apperrors.KindConfiguration), out.ErrorKind)
			assert.Contains(t, out.Error, tt.reason)
			assert.Zero(t, h.Portal.Stats().Started, "no browser for a bad configuration")
		})
	}
}

func TestWorkflowConversionFailureIsAWarning(t *testing.T) {
	h := testutil.NewHarness(t)
	h.AddCity("congonhas", "Congonhas")
	h.Codec.Fail = map[string]bool{"Relatorio_03.xls": true}

	w := h.Workflow("congonhas", 2024, nil, nil)
	out := w.Run(context.Background())

	testutil.AssertOutcome(t, out, operations.StateDone, operations.StatusPartial)
	assert.Equal(t, 9, out.Counters.FilesConverted)
	assert.Equal(t, 10, out.Counters.SubmissionsSucceeded)
	assert.NotContains(t, testutil.ListNames(t, h.Workspace("congonhas", 2024).Converted), "Relatorio_03.xlsx")
	assert.Contains(t, reportContent(t, out), "[conversion]")
}

func TestWorkflowBatchSplit(t *testing.T) {
	h := testutil.NewHarness(t)
	h.AddCity("congonhas", "Congonhas")
	h.PoolConfig.FirstCheckpoint = 3

	var (
		mu        sync.Mutex
		submitted = map[operations.State]int{}
		last      int
	)
	rec := &testutil.EventRecorder{OnEvent: func(e progress.Event) {
		if e.Kind != progress.KindWorkflowProgress {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if e.State == string(operations.StateHarvesting1) || e.State == string(operations.StateHarvesting2) {
			submitted[operations.State(e.State)] = h.Portal.Stats().Submitted - last
			last = h.Portal.Stats().Submitted
		}
	}}

	out := h.Workflow("congonhas", 2025, nil, rec).Run(context.Background())
	testutil.AssertOutcome(t, out, operations.StateDone, operations.StatusSuccess)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, submitted[operations.StateHarvesting1])
	assert.Equal(t, 7, submitted[operations.StateHarvesting2])
}
