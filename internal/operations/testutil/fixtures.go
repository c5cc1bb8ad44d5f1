package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"munireports/internal/browser"
	"munireports/internal/browser/browsertest"
	"munireports/internal/config"
	"munireports/internal/files"
	"munireports/internal/operations"
	"munireports/internal/progress"
	"munireports/internal/recipes"
)

// SubmitButton is the submit control used by every catalog recipe
var SubmitButton = browser.ID("btnGerar")

// FastPortalConfig returns portal timings scaled down for tests
func FastPortalConfig() config.PortalConfig {
	return config.PortalConfig{
		EntryURL:          "http://portal.test/contabil/",
		Headless:          true,
		NavigationTimeout: 500 * time.Millisecond,
		StepTimeout:       200 * time.Millisecond,
		SubmitSettle:      0,
	}
}

// FastHarvestConfig returns a harvest phase that takes milliseconds
func FastHarvestConfig() config.HarvestConfig {
	return config.HarvestConfig{
		CoolingOffBatch1:  20 * time.Millisecond,
		CoolingOffBatch2:  20 * time.Millisecond,
		CheckInterval:     5 * time.Millisecond,
		ClickSettle:       time.Millisecond,
		DownloadTimeout:   500 * time.Millisecond,
		SettlingWindow:    10 * time.Millisecond,
		EmptyRetries:      2,
		EmptyRetryWait:    5 * time.Millisecond,
		NavigationRetries: 2,
	}
}

// DefaultPoolConfig returns the production checkpoints with K=1
func DefaultPoolConfig() config.PoolConfig {
	return config.PoolConfig{
		Concurrency:      1,
		FirstCheckpoint:  config.DefaultFirstCheckpoint,
		SecondCheckpoint: config.DefaultSecondCheckpoint,
	}
}

// DiscardLogger returns a logger that drops everything
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Catalog builds a registry of simple recipes, one per name, each ending
// in a submit on SubmitButton
func Catalog(t *testing.T, names ...string) *recipes.Registry {
	t.Helper()

	var b strings.Builder
	b.WriteString("reports:\n")
	for _, n := range names {
		fmt.Fprintf(&b, "  - %q\n", n)
	}
	b.WriteString("recipes:\n")
	for i, n := range names {
		fmt.Fprintf(&b, "  - name: %q\n", n)
		b.WriteString("    steps:\n")
		fmt.Fprintf(&b, "      - action: click\n        target: \"id:link_%d\"\n", i)
		fmt.Fprintf(&b, "      - action: pick_dropdown\n        target: \"id:s2id_%d\"\n        option: \"{month_name}\"\n", i)
		fmt.Fprintf(&b, "      - action: submit\n        target: %q\n", SubmitButton.String())
	}

	reg, err := recipes.Parse([]byte(b.String()))
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}
	return reg
}

// Harness wires workflows against one in-memory portal
type Harness struct {
	T        *testing.T
	Portal   *browsertest.Portal
	Registry *recipes.Registry
	Paths    *config.Paths
	Codec    *FakeCodec
	Logger   *slog.Logger

	PortalConfig  config.PortalConfig
	HarvestConfig config.HarvestConfig
	PoolConfig    config.PoolConfig

	Cities map[string]config.CityConfig
	Now    func() time.Time
}

// NewHarness returns a harness using the embedded catalog and a temporary
// data root
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	reg, err := recipes.Default()
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}
	root := t.TempDir()
	return &Harness{
		T:             t,
		Portal:        browsertest.NewPortal(SubmitButton),
		Registry:      reg,
		Paths:         &config.Paths{DataRoot: root, LogsDir: root},
		Codec:         &FakeCodec{},
		Logger:        DiscardLogger(),
		PortalConfig:  FastPortalConfig(),
		HarvestConfig: FastHarvestConfig(),
		PoolConfig:    DefaultPoolConfig(),
		Cities:        make(map[string]config.CityConfig),
		Now:           time.Now,
	}
}

// AddCity registers a city whose username is "<key>.user"
func (h *Harness) AddCity(key, display string) config.CityConfig {
	c := config.CityConfig{
		Key:         key,
		DisplayName: display,
		Username:    key + ".user",
		Password:    "secret",
	}
	h.Cities[key] = c
	return c
}

// Workspace returns the workspace of a pair with test poll timings
func (h *Harness) Workspace(city string, year int) *files.Workspace {
	ws := files.NewWorkspace(h.Paths.WorkspaceDir(city, year), h.Logger)
	ws.SettlingWindow = h.HarvestConfig.SettlingWindow
	ws.PollInterval = 2 * time.Millisecond
	return ws
}

// Deps returns the dependencies of the workflow for (city, year)
func (h *Harness) Deps(city string, year int, token *operations.Token, sink progress.Publisher) operations.WorkflowDeps {
	c, ok := h.Cities[city]
	if !ok {
		h.T.Fatalf("city %q not added to harness", city)
	}
	opts := browser.DefaultOptions(h.PortalConfig)
	opts.PollInterval = 2 * time.Millisecond
	return operations.WorkflowDeps{
		RunID:     "test-run",
		City:      c,
		Year:      year,
		Workspace: h.Workspace(city, year),
		Registry:  h.Registry,
		Factory:   h.Portal.Factory(),
		Session:   opts,
		Portal:    h.PortalConfig,
		Harvest:   h.HarvestConfig,
		Pool:      h.PoolConfig,
		Codec:     h.Codec,
		Token:     token,
		Sink:      sink,
		Logger:    h.Logger,
		Now:       h.Now,
	}
}

// Workflow builds the workflow for (city, year)
func (h *Harness) Workflow(city string, year int, token *operations.Token, sink progress.Publisher) *operations.Workflow {
	return operations.NewWorkflow(h.Deps(city, year, token, sink))
}

// Builder returns a pool builder over this harness
func (h *Harness) Builder() operations.WorkflowBuilder {
	return func(pair operations.Pair, token *operations.Token, sink progress.Publisher) (*operations.Workflow, error) {
		if _, ok := h.Cities[pair.City]; !ok {
			return nil, fmt.Errorf("%w: %s", config.ErrCityNotFound, pair.City)
		}
		return h.Workflow(pair.City, pair.Year, token, sink), nil
	}
}

// OpenSession starts a browser for (city, year) on the pair's download
// directory, logs in and selects the context. The session is closed when
// the test ends.
func (h *Harness) OpenSession(ctx context.Context, city string, year int) (*browser.Session, error) {
	deps := h.Deps(city, year, nil, nil)
	if err := deps.Workspace.Ensure(); err != nil {
		return nil, err
	}
	s := browser.NewSession(deps.Factory, deps.Session, h.Logger)
	h.T.Cleanup(s.Close)
	if err := s.Start(ctx, deps.Workspace.Download); err != nil {
		return nil, err
	}
	if err := s.OpenEntryPoint(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.Authenticate(ctx, deps.City.Username, deps.City.Password); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.SelectContext(ctx, deps.City.DisplayName, year); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// QueueExecutions submits n reports for (city, year) straight through the
// portal, as if n recipes had run
func (h *Harness) QueueExecutions(ctx context.Context, city string, year int, n int) {
	h.T.Helper()
	s, err := h.OpenSession(ctx, city, year)
	if err != nil {
		h.T.Fatalf("failed to open session: %v", err)
	}
	defer s.Close()
	for i := 0; i < n; i++ {
		if err := s.Driver().Click(ctx, SubmitButton); err != nil {
			h.T.Fatalf("submit %d failed: %v", i, err)
		}
	}
}
