package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"munireports/internal/browser"
	"munireports/internal/config"
	apperrors "munireports/internal/errors"
	"munireports/internal/files"
	"munireports/internal/infrastructure"
	"munireports/internal/progress"
	"munireports/internal/recipes"
)

// WorkflowDeps is everything one city-year workflow needs. Nothing is
// shared between workflows except Token, Sink and the data root behind
// Workspace.
type WorkflowDeps struct {
	RunID     string
	City      config.CityConfig
	Year      int
	Workspace *files.Workspace
	Registry  *recipes.Registry
	Factory   browser.DriverFactory
	Session   browser.Options
	Portal    config.PortalConfig
	Harvest   config.HarvestConfig
	Pool      config.PoolConfig
	Codec     files.Codec
	Token     *Token
	Sink      progress.Publisher
	Tracer    *OperationTracer
	Logger    *slog.Logger
	// Now is the clock for reports and recipe parameters
	Now func() time.Time
}

// Outcome is the result of one workflow
type Outcome struct {
	RunID      string    `json:"run_id,omitempty"`
	City       string    `json:"city"`
	Display    string    `json:"display_name"`
	Year       int       `json:"year"`
	State      State     `json:"state"`
	Status     Status    `json:"status"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	Err        error     `json:"-"`
	Counters   Counters  `json:"counters"`
	Expected   int       `json:"expected"`
	ReportPath string    `json:"report_path,omitempty"`
	Workspace  string    `json:"workspace"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration is how long the workflow ran
func (o Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Workflow drives one (city, year) pair from login to converted files
type Workflow struct {
	deps      WorkflowDeps
	sm        *stateMachine
	report    *Report
	executor  *Executor
	harvester *Harvester
	params    recipes.Params
	logger    *slog.Logger

	mu      sync.Mutex
	current *browser.Session
}

// NewWorkflow prepares a workflow. Validation happens in Run so that a bad
// configuration still yields an Outcome and a report.
func NewWorkflow(deps WorkflowDeps) *Workflow {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Token == nil {
		deps.Token = NewToken()
	}
	if deps.Sink == nil {
		deps.Sink = progress.Discard
	}
	if deps.Codec == nil {
		deps.Codec = files.NewXLSCodec()
	}

	display := deps.City.DisplayName
	if display == "" {
		display = deps.City.Key
	}
	logger := infrastructure.WithPair(
		infrastructure.WithComponent(deps.Logger, "operations.workflow"),
		deps.City.Key, deps.Year)

	w := &Workflow{
		deps:     deps,
		sm:       newStateMachine(),
		report:   NewReport(deps.City.Key, display, deps.Year, deps.Now),
		executor: NewExecutor(deps.Portal, logger),
		params:   recipes.NewParams(display, deps.Year, deps.Now()),
		logger:   logger,
	}
	w.harvester = NewHarvester(deps.Harvest, deps.Workspace, w.openSession, deps.Token, w.report, deps.Tracer, logger)
	return w
}

// State returns the current state
func (w *Workflow) State() State {
	return w.sm.Current()
}

// History returns the transitions so far
func (w *Workflow) History() []StateChange {
	return w.sm.History()
}

// Report returns the processing report
func (w *Workflow) Report() *Report {
	return w.report
}

// Run executes the workflow to a terminal state. It always returns an
// Outcome; the processing report is written on every terminal state.
func (w *Workflow) Run(ctx context.Context) Outcome {
	startedAt := w.deps.Now()
	ctx = infrastructure.EnsureTraceID(ctx)
	ctx, cancel := w.deps.Token.Context(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, w.cancelSession)
	defer stop()

	ctx, span := w.deps.Tracer.TraceWorkflow(ctx, w.deps.City.Key, w.deps.Year)

	w.publish(progress.KindWorkflowStarted, StateInitializing, "")
	w.logger.InfoContext(ctx, "Workflow started", slog.String("state", string(StateInitializing)))

	err := w.run(ctx)
	w.closeCurrent()

	state, status := w.finish(ctx, err)
	counters := w.report.Counters()
	out := Outcome{
		RunID:      w.deps.RunID,
		City:       w.deps.City.Key,
		Display:    w.report.Display,
		Year:       w.deps.Year,
		State:      state,
		Status:     status,
		Err:        err,
		Counters:   counters,
		Expected:   w.report.Expected(),
		ReportPath: w.report.Path(),
		StartedAt:  startedAt,
		FinishedAt: w.deps.Now(),
	}
	if w.deps.Workspace != nil {
		out.Workspace = w.deps.Workspace.Root
	}
	if err != nil {
		out.Error = err.Error()
		out.ErrorKind = string(apperrors.KindOf(err))
	}

	w.deps.Tracer.RecordWorkflowCompletion(ctx, span, out.City, out.Year, state, status, counters, out.Duration())
	w.publishFinished(out)
	return out
}

func (w *Workflow) run(ctx context.Context) error {
	list, err := w.initialize(ctx)
	if err != nil {
		return err
	}

	n := w.deps.Pool.FirstCheckpoint
	if n <= 0 {
		n = config.DefaultFirstCheckpoint
	}
	if n > len(list) {
		n = len(list)
	}
	if m := w.deps.Pool.SecondCheckpoint; m > 0 && len(list) > m {
		w.logger.WarnContext(ctx, "Report list is longer than the second checkpoint; extra reports join batch 2",
			slog.Int("reports", len(list)),
			slog.Int("second_checkpoint", m))
	}
	batch1, batch2 := list[:n], list[n:]

	if err := w.transition(ctx, StateAuthenticating); err != nil {
		return err
	}
	first, err := w.startSession(ctx)
	if err != nil {
		return err
	}
	defer first.Close()

	if err := w.transition(ctx, StateSelectingContext); err != nil {
		return err
	}
	if err := first.SelectContext(ctx, w.report.Display, w.deps.Year); err != nil {
		return err
	}
	w.report.Info("Logged in as %s, context %s / %d selected", w.deps.City.Username, w.report.Display, w.deps.Year)

	if err := w.transition(ctx, StateSubmittingBatch1); err != nil {
		return err
	}
	ok1, err := w.submitBatch(ctx, 1, batch1, first)
	if err != nil {
		return err
	}

	if err := w.transition(ctx, StateHarvesting1); err != nil {
		return err
	}
	if err := w.harvestBatch(ctx, 1, ok1); err != nil {
		return err
	}

	if err := w.transition(ctx, StateSubmittingBatch2); err != nil {
		return err
	}
	ok2, err := w.submitBatch(ctx, 2, batch2, nil)
	if err != nil {
		return err
	}

	if err := w.transition(ctx, StateHarvesting2); err != nil {
		return err
	}
	if err := w.harvestBatch(ctx, 2, ok2); err != nil {
		return err
	}

	if err := w.transition(ctx, StateConverting); err != nil {
		return err
	}
	if err := w.convert(ctx); err != nil {
		return err
	}
	return w.transition(ctx, StateDone)
}

// initialize validates the inputs, resolves the recipes and prepares the
// workspace. No browser is started.
func (w *Workflow) initialize(ctx context.Context) ([]recipes.Recipe, error) {
	city := w.deps.City
	w.report.Info("Workflow started for %s (%s), year %d", w.report.Display, city.Key, w.deps.Year)

	if err := config.ValidateYear(w.deps.Year); err != nil {
		return nil, apperrors.NewConfigurationError("invalid year", err)
	}
	var missing []string
	if city.Key == "" {
		missing = append(missing, "key")
	}
	if city.Username == "" {
		missing = append(missing, "username")
	}
	if city.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return nil, apperrors.NewConfigurationError(
			fmt.Sprintf("city %q is missing %s", city.Key, strings.Join(missing, ", ")), nil)
	}
	if w.deps.Workspace == nil || w.deps.Registry == nil || w.deps.Factory == nil {
		return nil, apperrors.NewConfigurationError("workflow dependencies are incomplete", nil)
	}

	names := w.deps.Registry.ReportList(city.Key)
	if len(names) == 0 {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("no reports configured for %q", city.Key), nil)
	}
	list := make([]recipes.Recipe, 0, len(names))
	expected := 0
	for _, name := range names {
		rec, err := w.deps.Registry.Resolve(city.Key, name)
		if err != nil {
			return nil, apperrors.NewConfigurationError("recipe could not be resolved", err)
		}
		list = append(list, rec)
		expected += rec.ExpectedFiles
	}
	w.report.SetExpected(expected)

	if err := w.deps.Workspace.Ensure(); err != nil {
		return nil, apperrors.NewEnvironmentError("workspace could not be created", err)
	}
	if err := w.deps.Workspace.ClearDownload(); err != nil {
		return nil, apperrors.NewEnvironmentError("download directory could not be cleared", err)
	}
	w.logger.InfoContext(ctx, "Workflow initialised",
		slog.Int("reports", len(list)),
		slog.String("workspace", w.deps.Workspace.Root),
		slog.String("month", w.params.MonthName()))
	return list, nil
}

// submitBatch runs each recipe in its own one-shot session. The first
// recipe may reuse first. Recipe failures are recorded and skipped;
// session failures end the batch.
func (w *Workflow) submitBatch(ctx context.Context, batch int, list []recipes.Recipe, first *browser.Session) (int, error) {
	base, span := stateProgress[StateSubmittingBatch1], stateProgress[StateHarvesting1]-stateProgress[StateSubmittingBatch1]
	if batch == 2 {
		base, span = stateProgress[StateSubmittingBatch2], stateProgress[StateHarvesting2]-stateProgress[StateSubmittingBatch2]
	}
	w.report.Info("Batch %d: submitting %d report(s)", batch, len(list))

	succeeded := 0
	for i, rec := range list {
		if ctx.Err() != nil {
			return succeeded, apperrors.NewInterrupted(fmt.Sprintf("batch %d", batch))
		}

		session := first
		first = nil
		if session == nil {
			var err error
			if session, err = w.openSession(ctx); err != nil {
				return succeeded, err
			}
		}

		w.report.SubmissionAttempted()
		err := w.runRecipe(ctx, session, batch, rec)
		session.Close()
		if err != nil {
			if apperrors.IsSessionFatal(err) {
				return succeeded, err
			}
			w.report.Error("%s: %s", rec.Name, err.Error())
		} else {
			succeeded++
			w.report.SubmissionSucceeded()
			w.report.Info("Submitted %s", rec.Name)
		}
		w.publishPct(w.State(), base+span*(i+1)/len(list), rec.Name)
	}

	w.logger.InfoContext(ctx, "Batch submitted",
		slog.Int("batch", batch),
		slog.Int("succeeded", succeeded),
		slog.Int("total", len(list)))
	return succeeded, nil
}

func (w *Workflow) runRecipe(ctx context.Context, session *browser.Session, batch int, rec recipes.Recipe) error {
	rctx, span := w.deps.Tracer.TraceRecipe(ctx, rec.Name, batch)
	start := time.Now()
	err := w.executor.Execute(rctx, session, rec, w.params)
	w.deps.Tracer.RecordRecipeCompletion(rctx, span, rec.Name, time.Since(start), err)
	return err
}

func (w *Workflow) harvestBatch(ctx context.Context, batch, succeeded int) error {
	if succeeded == 0 {
		w.report.Warn("Batch %d: no successful submissions, harvest skipped", batch)
		return nil
	}
	_, err := w.harvester.Harvest(ctx, batch, succeeded)
	return err
}

func (w *Workflow) convert(ctx context.Context) error {
	res, err := w.deps.Workspace.ConvertAllRaw(ctx, w.deps.Codec)
	if err != nil {
		return err
	}
	w.report.AddConverted(len(res.Converted))
	for _, failed := range res.Failed {
		w.report.Warn("%s", failed.Error())
	}
	w.report.Info("Converted %d file(s), %d failed", len(res.Converted), len(res.Failed))
	return nil
}

// startSession opens a browser on the workspace and logs in
func (w *Workflow) startSession(ctx context.Context) (*browser.Session, error) {
	s := browser.NewSession(w.deps.Factory, w.deps.Session, w.logger)
	w.setCurrent(s)
	if ctx.Err() != nil {
		s.Cancel()
		return nil, apperrors.NewInterrupted("start")
	}
	if err := s.Start(ctx, w.deps.Workspace.Download); err != nil {
		return nil, err
	}
	if err := s.OpenEntryPoint(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.Authenticate(ctx, w.deps.City.Username, w.deps.City.Password); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// openSession is startSession followed by context selection
func (w *Workflow) openSession(ctx context.Context) (*browser.Session, error) {
	s, err := w.startSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.SelectContext(ctx, w.report.Display, w.deps.Year); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (w *Workflow) setCurrent(s *browser.Session) {
	w.mu.Lock()
	w.current = s
	w.mu.Unlock()
}

// cancelSession aborts whatever browser is open
func (w *Workflow) cancelSession() {
	w.mu.Lock()
	s := w.current
	w.mu.Unlock()
	if s != nil {
		s.Cancel()
	}
}

func (w *Workflow) closeCurrent() {
	w.mu.Lock()
	s := w.current
	w.current = nil
	w.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

// finish moves to the terminal state for err, closes the report and
// writes it into the workspace.
func (w *Workflow) finish(ctx context.Context, err error) (State, Status) {
	state := StateDone
	if err != nil {
		state = StateFailed
		if apperrors.KindOf(err) == apperrors.KindInterrupted || w.deps.Token.Tripped() || errors.Is(ctx.Err(), context.Canceled) {
			state = StateCancelled
		}
	}

	if err != nil {
		if state == StateCancelled {
			w.report.Warn("Cancelled during %s", w.State())
			w.report.Info("No further reports were submitted and no conversion was attempted")
		} else {
			w.report.Error("%s", err.Error())
		}
		if terr := w.sm.Transition(state); terr != nil {
			w.logger.ErrorContext(ctx, "Terminal transition rejected", slog.String("error", terr.Error()))
		}
	}

	counters := w.report.Counters()
	status := ClassifyWorkflow(state, counters, w.report.Expected())
	w.report.Finish(state, status)

	if w.deps.Workspace != nil {
		if _, werr := w.report.WriteTo(w.deps.Workspace.Root); werr != nil {
			w.logger.ErrorContext(ctx, "Processing report could not be written", slog.String("error", werr.Error()))
		}
	}

	attrs := []any{
		slog.String("state", string(state)),
		slog.String("status", string(status)),
		slog.Int("submitted", counters.SubmissionsSucceeded),
		slog.Int("converted", counters.FilesConverted),
	}
	switch state {
	case StateFailed:
		w.logger.ErrorContext(ctx, "Workflow failed", append(attrs, slog.String("error", err.Error()))...)
	case StateCancelled:
		w.logger.WarnContext(ctx, "Workflow cancelled", attrs...)
	default:
		w.logger.InfoContext(ctx, "Workflow finished", attrs...)
	}
	return state, status
}

// transition moves the state machine forward and reports it
func (w *Workflow) transition(ctx context.Context, next State) error {
	if ctx.Err() != nil {
		return apperrors.NewInterrupted(string(next))
	}
	if err := w.sm.Transition(next); err != nil {
		return err
	}
	w.logger.InfoContext(ctx, "Workflow state changed", slog.String("state", string(next)))
	w.publish(progress.KindWorkflowProgress, next, "")
	return nil
}

func (w *Workflow) publish(kind progress.Kind, state State, msg string) {
	w.deps.Sink.Publish(progress.Event{
		Kind:       kind,
		RunID:      w.deps.RunID,
		City:       w.deps.City.Key,
		Year:       w.deps.Year,
		State:      string(state),
		Percentage: stateProgress[state],
		Message:    msg,
		Timestamp:  w.deps.Now(),
	})
}

func (w *Workflow) publishPct(state State, pct int, msg string) {
	w.deps.Sink.Publish(progress.Event{
		Kind:       progress.KindWorkflowProgress,
		RunID:      w.deps.RunID,
		City:       w.deps.City.Key,
		Year:       w.deps.Year,
		State:      string(state),
		Percentage: pct,
		Message:    msg,
		Timestamp:  w.deps.Now(),
	})
}

func (w *Workflow) publishFinished(out Outcome) {
	w.deps.Sink.Publish(progress.Event{
		Kind:       progress.KindWorkflowFinished,
		RunID:      out.RunID,
		City:       out.City,
		Year:       out.Year,
		State:      string(out.State),
		Status:     string(out.Status),
		Percentage: 100,
		Message:    out.ReportPath,
		Error:      out.Error,
		Timestamp:  out.FinishedAt,
	})
}
