package operations_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"munireports/internal/browser"
	apperrors "munireports/internal/errors"
	"munireports/internal/operations"
	"munireports/internal/operations/testutil"
	"munireports/internal/recipes"
)

func TestMatchOption(t *testing.T) {
	options := []string{"Janeiro", "Fevereiro", "Dezembro", "Dezembro - Encerramento", "Consolidado Geral"}

	tests := []struct {
		name string
		want string
		idx  int
	}{
		{"exact", "Fevereiro", 1},
		{"exact beats contains", "Dezembro", 2},
		{"case and space insensitive", "  dezembro ", 2},
		{"contains", "Encerramento", 3},
		{"contains prefix", "Consolidado", 4},
		{"no match", "Março", -1},
		{"empty", "", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.idx, operations.MatchOption(options, tt.want))
		})
	}
}

type executorFixture struct {
	h       *testutil.Harness
	session *browser.Session
	exec    *operations.Executor
	params  recipes.Params
}

func newExecutorFixture(t *testing.T, setup func(h *testutil.Harness)) *executorFixture {
	t.Helper()
	h := testutil.NewHarness(t)
	h.AddCity("congonhas", "Congonhas")
	if setup != nil {
		setup(h)
	}
	s, err := h.OpenSession(context.Background(), "congonhas", 2024)
	require.NoError(t, err)
	return &executorFixture{
		h:       h,
		session: s,
		exec:    operations.NewExecutor(h.PortalConfig, h.Logger),
		params:  recipes.NewParams("Congonhas", 2024, time.Now()),
	}
}

func (f *executorFixture) run(t *testing.T, ctx context.Context, name string) error {
	t.Helper()
	rec, err := f.h.Registry.Resolve("congonhas", name)
	require.NoError(t, err)
	return f.exec.Execute(ctx, f.session, rec, f.params)
}

func TestExecutorSubmitsRecipe(t *testing.T) {
	f := newExecutorFixture(t, nil)

	err := f.run(t, context.Background(), "Balancete da Receita")
	require.NoError(t, err)

	assert.Equal(t, 1, f.h.Portal.Stats().Submitted)
	subs := f.session.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, "Balancete da Receita", subs[0].Recipe)
	assert.Equal(t, "Balancete da Receita*.xls", subs[0].Pattern)
}

func TestExecutorRunsWholeCatalog(t *testing.T) {
	f := newExecutorFixture(t, nil)

	for _, name := range f.h.Registry.Names() {
		require.NoError(t, f.run(t, context.Background(), name), name)
	}
	assert.Equal(t, len(f.h.Registry.Names()), f.h.Portal.Stats().Submitted)
}

func TestExecutorStepTimeout(t *testing.T) {
	f := newExecutorFixture(t, func(h *testutil.Harness) {
		h.Portal.MakeUnavailable(browser.ID("4471"))
	})

	start := time.Now()
	err := f.run(t, context.Background(), "Anexo VII - Restos a Pagar")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.True(t, errors.Is(err, apperrors.ErrRecipeStepTimeout), err)
	var werr *apperrors.WorkflowError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, "Anexo VII - Restos a Pagar", werr.Recipe)
	assert.Equal(t, "step 4 click", werr.Step)
	assert.Zero(t, f.h.Portal.Stats().Submitted, "nothing may be submitted after a failed step")
	assert.False(t, apperrors.IsSessionFatal(err))
}

func TestExecutorRadioFallsBackToLabel(t *testing.T) {
	f := newExecutorFixture(t, func(h *testutil.Harness) {
		h.Portal.MakeUnavailable(browser.ID("1101"))
	})

	require.NoError(t, f.run(t, context.Background(), "Balancete da Receita"))
	assert.Equal(t, 1, f.h.Portal.Stats().Submitted)
}

func TestExecutorDropdownWithoutMatch(t *testing.T) {
	f := newExecutorFixture(t, func(h *testutil.Harness) {
		h.Portal.SetOptions(recipes.DefaultResults, []string{"Primeiro Semestre", "Segundo Semestre"})
	})

	err := f.run(t, context.Background(), "Balancete da Receita")
	require.Error(t, err)
	var werr *apperrors.WorkflowError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, apperrors.KindRecipeStepTimeout, werr.Kind)
	assert.Equal(t, "step 3 pick_dropdown", werr.Step)
}

func TestExecutorInterrupted(t *testing.T) {
	t.Run("cancelled context", func(t *testing.T) {
		f := newExecutorFixture(t, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := f.run(t, ctx, "Balancete da Receita")
		assert.True(t, errors.Is(err, apperrors.ErrInterrupted), err)
		assert.Zero(t, f.h.Portal.Stats().Submitted)
	})

	t.Run("cancelled session", func(t *testing.T) {
		f := newExecutorFixture(t, nil)
		f.session.Cancel()

		err := f.run(t, context.Background(), "Balancete da Receita")
		assert.True(t, errors.Is(err, apperrors.ErrInterrupted), err)
		assert.True(t, apperrors.IsSessionFatal(err))
	})

	t.Run("cancelled mid step", func(t *testing.T) {
		f := newExecutorFixture(t, func(h *testutil.Harness) {
			h.Portal.MakeUnavailable(browser.ID("4471"))
		})
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)

		err := f.run(t, ctx, "Anexo VII - Restos a Pagar")
		assert.True(t, errors.Is(err, apperrors.ErrInterrupted), err)
	})
}

func TestNewExecutorClampsTimings(t *testing.T) {
	cfg := testutil.FastPortalConfig()
	cfg.StepTimeout = time.Hour
	cfg.SubmitSettle = 10 * time.Second

	e := operations.NewExecutor(cfg, nil)
	assert.LessOrEqual(t, e.StepTimeout, 30*time.Second)
	assert.LessOrEqual(t, e.SubmitSettle, time.Second)
}
