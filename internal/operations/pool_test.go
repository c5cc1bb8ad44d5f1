package operations_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"munireports/internal/config"
	apperrors "munireports/internal/errors"
	"munireports/internal/operations"
	"munireports/internal/operations/testutil"
	"munireports/internal/progress"
)

func startPool(h *testutil.Harness, pairs []operations.Pair, k int, sink progress.Publisher) *operations.Handle {
	pool := operations.NewPool(h.Builder(), h.Logger)
	return pool.Start(context.Background(), "run-1", pairs, k, operations.NewToken(), sink)
}

// Scenario: three pairs in parallel
func TestPoolParallelPairs(t *testing.T) {
	h := testutil.NewHarness(t)
	h.HarvestConfig.CoolingOffBatch1 = 150 * time.Millisecond
	h.HarvestConfig.CoolingOffBatch2 = 150 * time.Millisecond
	h.AddCity("congonhas", "Congonhas")
	h.AddCity("neves", "Ribeirão das Neves")
	h.AddCity("itabirito", "Itabirito")
	pairs := []operations.Pair{{City: "congonhas", Year: 2025}, {City: "neves", Year: 2025}, {City: "itabirito", Year: 2024}}
	rec := &testutil.EventRecorder{}

	start := time.Now()
	handle := startPool(h, pairs, 3, rec)
	require.True(t, handle.Join(30*time.Second))
	total := time.Since(start)

	outcomes := handle.Outcomes()
	require.Len(t, outcomes, 3)
	var slowest time.Duration
	seen := map[string]bool{}
	for i, out := range outcomes {
		assert.Equal(t, pairs[i].City, out.City, "outcomes keep input order")
		testutil.AssertOutcome(t, out, operations.StateDone, operations.StatusSuccess)
		assert.False(t, seen[out.Workspace], "workspace %s shared", out.Workspace)
		seen[out.Workspace] = true

		ws := h.Workspace(out.City, out.Year)
		assert.Len(t, testutil.ListNames(t, ws.Converted), 10)
		if d := out.Duration(); d > slowest {
			slowest = d
		}
	}
	assert.LessOrEqual(t, total, slowest*13/10, "pairs did not run in parallel")
	assert.Equal(t, operations.StatusSuccess, handle.Status())
	assert.NoError(t, handle.Err())
	assert.Equal(t, 100, handle.Progress())

	runEvents := rec.OfKind(progress.KindRunProgress)
	require.NotEmpty(t, runEvents)
	last := runEvents[len(runEvents)-1]
	assert.Equal(t, 100, last.Percentage)
	assert.Equal(t, string(operations.StatusSuccess), last.Status)
	for _, p := range pairs {
		testutil.AssertPairFinished(t, rec, p.City, p.Year)
	}
}

// Scenario: one of two pairs is rejected at login
func TestPoolAuthenticationFailureIsIsolated(t *testing.T) {
	h := testutil.NewHarness(t)
	h.AddCity("congonhas", "Congonhas")
	h.AddCity("neves", "Ribeirão das Neves")
	h.Portal.RejectUser("neves.user")

	handle := startPool(h, []operations.Pair{{City: "neves", Year: 2025}, {City: "congonhas", Year: 2025}}, 2, nil)
	require.True(t, handle.Join(30*time.Second))

	outcomes := handle.Outcomes()
	testutil.AssertOutcome(t, outcomes[0], operations.StateFailed, operations.StatusError)
	assert.Equal(t, string(apperrors.KindAuthentication), outcomes[0].ErrorKind)
	testutil.AssertOutcome(t, outcomes[1], operations.StateDone, operations.StatusSuccess)
	assert.Equal(t, operations.StatusError, handle.Status())
	assert.EqualError(t, handle.Err(), "1 of 2 pair(s) failed")
}

func TestPoolCancellationReachesAllWorkers(t *testing.T) {
	h := testutil.NewHarness(t)
	h.HarvestConfig.CoolingOffBatch1 = 600 * time.Second
	h.HarvestConfig.CheckInterval = 60 * time.Second
	h.AddCity("congonhas", "Congonhas")
	pairs := []operations.Pair{
		{City: "congonhas", Year: 2021}, {City: "congonhas", Year: 2022}, {City: "congonhas", Year: 2023}, {City: "congonhas", Year: 2024}, {City: "congonhas", Year: 2025},
	}

	handle := startPool(h, pairs, 5, nil)
	testutil.WaitForCondition(t, 30*time.Second, 5*time.Millisecond, func() bool {
		for _, s := range handle.States() {
			if s != operations.StateHarvesting1 {
				return false
			}
		}
		return true
	}, "all workers cooling off")

	trippedAt := time.Now()
	handle.Cancel()
	require.True(t, handle.Join(5*time.Second), "workers still running after cancellation")
	assert.Less(t, time.Since(trippedAt), 5*time.Second)

	for _, out := range handle.Outcomes() {
		testutil.AssertOutcome(t, out, operations.StateCancelled, operations.StatusCancelled)
		assert.FileExists(t, out.ReportPath)
	}
	assert.Equal(t, operations.StatusCancelled, handle.Status())
	assert.Zero(t, h.Portal.OpenDrivers())
}

func TestPoolCancelledPairsNeverStart(t *testing.T) {
	h := testutil.NewHarness(t)
	h.HarvestConfig.CoolingOffBatch1 = 600 * time.Second
	h.AddCity("congonhas", "Congonhas")
	rec := &testutil.EventRecorder{}

	handle := startPool(h, []operations.Pair{{City: "congonhas", Year: 2024}, {City: "congonhas", Year: 2025}}, 1, rec)
	testutil.WaitForCondition(t, 30*time.Second, 5*time.Millisecond, func() bool {
		return handle.States()[0] == operations.StateHarvesting1
	}, "first worker cooling off")
	handle.Cancel()
	require.True(t, handle.Join(5*time.Second))

	outcomes := handle.Outcomes()
	testutil.AssertOutcome(t, outcomes[0], operations.StateCancelled, operations.StatusCancelled)
	testutil.AssertOutcome(t, outcomes[1], operations.StateCancelled, operations.StatusCancelled)
	assert.Equal(t, "run cancelled before this pair started", outcomes[1].Error)
	assert.Empty(t, outcomes[1].ReportPath)
	assert.False(t, testutil.FileExists(h.Paths.WorkspaceDir("congonhas", 2025)), "an unstarted pair touches no files")
	testutil.AssertPairFinished(t, rec, "congonhas", 2025)
}

func TestPoolWorkspaceIsolation(t *testing.T) {
	h := testutil.NewHarness(t)
	h.AddCity("congonhas", "Congonhas")
	injected := h.Workspace("congonhas", 2024)
	testutil.CreateTestFile(t, injected.Raw, "Injetado.xls", "fixture")

	handle := startPool(h, []operations.Pair{{City: "congonhas", Year: 2024}, {City: "congonhas", Year: 2025}}, 2, nil)
	require.True(t, handle.Join(30*time.Second))

	outcomes := handle.Outcomes()
	require.NotEqual(t, outcomes[0].Workspace, outcomes[1].Workspace)
	for _, out := range outcomes {
		testutil.AssertOutcome(t, out, operations.StateDone, operations.StatusSuccess)
	}

	ws2024 := h.Workspace("congonhas", 2024)
	ws2025 := h.Workspace("congonhas", 2025)
	assert.Contains(t, testutil.ListNames(t, ws2024.Raw), "Injetado.xls")
	assert.Contains(t, testutil.ListNames(t, ws2024.Converted), "Injetado.xlsx")
	assert.NotContains(t, testutil.ListNames(t, ws2025.Raw), "Injetado.xls")
	assert.NotContains(t, testutil.ListNames(t, ws2025.Converted), "Injetado.xlsx")
	assert.Len(t, testutil.ListNames(t, ws2025.Converted), 10)
	assert.Len(t, testutil.ListNames(t, ws2024.Converted), 11)
}

func TestPoolClampsConcurrency(t *testing.T) {
	tests := []struct {
		requested int
		want      int
		warned    bool
	}{
		{0, config.MinConcurrency, true},
		{-3, config.MinConcurrency, true},
		{3, 3, false},
		{9, config.MaxConcurrency, true},
	}

	for _, tt := range tests {
		h := testutil.NewHarness(t)
		logs := testutil.NewMockSlogHandler()
		pool := operations.NewPool(h.Builder(), slog.New(logs))

		handle := pool.Start(context.Background(), "run", nil, tt.requested, nil, nil)
		require.True(t, handle.Join(5*time.Second))
		assert.Equal(t, tt.want, handle.K, "requested %d", tt.requested)
		assert.Equal(t, tt.warned, len(logs.Messages(slog.LevelWarn)) > 0, "requested %d", tt.requested)
	}
}

func TestPoolBuilderErrorFailsPair(t *testing.T) {
	h := testutil.NewHarness(t)
	h.AddCity("congonhas", "Congonhas")
	pool := operations.NewPool(func(pair operations.Pair, token *operations.Token, sink progress.Publisher) (*operations.Workflow, error) {
		if pair.City == "unknown" {
			return nil, apperrors.NewConfigurationError("city not configured", config.ErrCityNotFound)
		}
		return h.Workflow(pair.City, pair.Year, token, sink), nil
	}, h.Logger)

	handle := pool.Start(context.Background(), "run", []operations.Pair{{City: "unknown", Year: 2025}, {City: "congonhas", Year: 2025}}, 2, nil, nil)
	require.True(t, handle.Join(30*time.Second))

	outcomes := handle.Outcomes()
	testutil.AssertOutcome(t, outcomes[0], operations.StateFailed, operations.StatusError)
	assert.Equal(t, string(apperrors.KindConfiguration), outcomes[0].ErrorKind)
	assert.True(t, errors.Is(outcomes[0].Err, config.ErrCityNotFound))
	testutil.AssertOutcome(t, outcomes[1], operations.StateDone, operations.StatusSuccess)
}

func TestHandleJoinTimeout(t *testing.T) {
	h := testutil.NewHarness(t)
	h.HarvestConfig.CoolingOffBatch1 = 600 * time.Second
	h.AddCity("congonhas", "Congonhas")

	handle := startPool(h, []operations.Pair{{City: "congonhas", Year: 2025}}, 1, nil)
	assert.False(t, handle.Join(20*time.Millisecond))
	select {
	case <-handle.Done():
		t.Fatal("run finished during cooling-off")
	default:
	}

	handle.Cancel()
	assert.True(t, handle.Join(0))
}
