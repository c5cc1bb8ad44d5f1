package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"munireports/internal/browser"
	"munireports/internal/config"
	apperrors "munireports/internal/errors"
	"munireports/internal/recipes"
)

// Executor interprets recipe steps against a live browser session
type Executor struct {
	// StepTimeout applies to steps that do not carry their own
	StepTimeout time.Duration
	// SubmitSettle is the pause after a submit click, at most one second
	SubmitSettle time.Duration

	logger *slog.Logger
}

// NewExecutor returns an executor for the portal settings
func NewExecutor(cfg config.PortalConfig, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		StepTimeout:  cfg.StepTimeout,
		SubmitSettle: cfg.SubmitSettle,
		logger:       logger.With(slog.String("component", "operations.executor")),
	}
	if e.StepTimeout <= 0 || e.StepTimeout > config.DefaultStepTimeout {
		e.StepTimeout = config.DefaultStepTimeout
	}
	if e.SubmitSettle > config.DefaultSubmitSettle {
		e.SubmitSettle = config.DefaultSubmitSettle
	}
	return e
}

// Execute binds params into rec and runs its steps in order on session.
// ctx must be cancelled when the run's token trips; it is checked before
// every step. A step that does not complete fails the recipe with
// RecipeStepTimeout. Interrupted and a lost browser are returned as is.
func (e *Executor) Execute(ctx context.Context, session *browser.Session, rec recipes.Recipe, params recipes.Params) error {
	bound := rec.Bind(params)
	logger := e.logger.With(slog.String("recipe", bound.Name))

	for i, step := range bound.Steps {
		if ctx.Err() != nil || session.Cancelled() {
			return apperrors.NewInterrupted(fmt.Sprintf("%s step %d", bound.Name, i+1))
		}
		d := session.Driver()
		if d == nil {
			return apperrors.NewEnvironmentError("session not started", browser.ErrDriverClosed)
		}

		start := time.Now()
		err := e.runStep(ctx, session, d, bound, step)
		if err != nil {
			logger.WarnContext(ctx, "Recipe step failed",
				slog.Int("step", i+1),
				slog.String("action", string(step.Action)),
				slog.String("target", step.Target.String()),
				slog.String("error", err.Error()))
			return e.classify(ctx, session, bound.Name, i, step, err)
		}
		logger.DebugContext(ctx, "Recipe step done",
			slog.Int("step", i+1),
			slog.String("step_detail", step.String()),
			slog.Duration("took", time.Since(start)))
	}
	return nil
}

func (e *Executor) runStep(ctx context.Context, session *browser.Session, d browser.Driver, rec recipes.Recipe, step recipes.Step) error {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.StepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch step.Action {
	case recipes.ActionClick:
		return e.click(stepCtx, d, step.Target, timeout)
	case recipes.ActionSetText:
		return d.SetText(stepCtx, step.Target, step.Value)
	case recipes.ActionPickDropdown:
		return e.pickDropdown(stepCtx, d, step, timeout)
	case recipes.ActionToggleRadio:
		return e.toggleRadio(stepCtx, d, step, timeout)
	case recipes.ActionWait:
		switch step.Condition {
		case recipes.ConditionPresent:
			return d.WaitPresent(stepCtx, step.Target)
		case recipes.ConditionGone:
			return d.WaitGone(stepCtx, step.Target)
		default:
			return d.WaitVisible(stepCtx, step.Target)
		}
	case recipes.ActionSubmit:
		if err := e.click(stepCtx, d, step.Target, timeout); err != nil {
			return err
		}
		session.RecordSubmission(rec.Name, expectedPattern(rec.Name))
		sleepCtx(ctx, e.SubmitSettle)
		return nil
	}
	return fmt.Errorf("unsupported action %q", step.Action)
}

// click tries a native click for half the budget, then a synthetic one
func (e *Executor) click(ctx context.Context, d browser.Driver, loc browser.Locator, timeout time.Duration) error {
	err := attempt(ctx, timeout/2, func(ctx context.Context) error { return d.Click(ctx, loc) })
	if err == nil || fatal(ctx, err) {
		return err
	}
	if jsErr := d.JSClick(ctx, loc); jsErr != nil {
		return fmt.Errorf("click %s: %w (js fallback: %v)", loc, err, jsErr)
	}
	return nil
}

// pickDropdown opens a Select2 widget and picks the first option equal to
// step.Option, or failing that the first one containing it.
func (e *Executor) pickDropdown(ctx context.Context, d browser.Driver, step recipes.Step, timeout time.Duration) error {
	if err := e.click(ctx, d, step.Target, timeout); err != nil {
		return err
	}
	if err := d.WaitVisible(ctx, step.Results); err != nil {
		return fmt.Errorf("results for %s: %w", step.Target, err)
	}
	texts, err := d.Texts(ctx, step.Results)
	if err != nil {
		return err
	}
	idx := matchOption(texts, step.Option)
	if idx < 0 {
		return fmt.Errorf("%w: no option matching %q among %d", browser.ErrElementNotFound, step.Option, len(texts))
	}
	return d.ClickNth(ctx, step.Results, idx)
}

// matchOption returns the index of the first exact match, else of the
// first containment match, else -1. Comparison ignores case and
// surrounding space.
func matchOption(options []string, want string) int {
	want = strings.ToLower(strings.TrimSpace(want))
	if want == "" {
		return -1
	}
	for i, o := range options {
		if strings.ToLower(strings.TrimSpace(o)) == want {
			return i
		}
	}
	for i, o := range options {
		if strings.Contains(strings.ToLower(o), want) {
			return i
		}
	}
	return -1
}

// toggleRadio clicks the input directly, then its label, then dispatches
// a synthetic click. via_label skips the direct click.
func (e *Executor) toggleRadio(ctx context.Context, d browser.Driver, step recipes.Step, timeout time.Duration) error {
	var errs []error
	if step.Strategy != recipes.StrategyViaLabel {
		err := attempt(ctx, timeout/3, func(ctx context.Context) error { return d.Click(ctx, step.Target) })
		if err == nil || fatal(ctx, err) {
			return err
		}
		errs = append(errs, err)
	}
	if !step.Label.IsZero() {
		err := attempt(ctx, timeout/3, func(ctx context.Context) error { return d.Click(ctx, step.Label) })
		if err == nil || fatal(ctx, err) {
			return err
		}
		errs = append(errs, err)
	}
	if err := d.JSClick(ctx, step.Target); err != nil {
		errs = append(errs, err)
		return fmt.Errorf("toggle %s: %w", step.Target, errors.Join(errs...))
	}
	return nil
}

// classify turns a step failure into the workflow error taxonomy
func (e *Executor) classify(ctx context.Context, session *browser.Session, recipe string, index int, step recipes.Step, err error) error {
	var wErr *apperrors.WorkflowError
	if errors.As(err, &wErr) {
		return err
	}
	if session.Cancelled() || ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return apperrors.NewInterrupted(fmt.Sprintf("%s step %d", recipe, index+1))
	}
	if errors.Is(err, browser.ErrDriverClosed) {
		return apperrors.NewEnvironmentError("browser went away during "+recipe, err)
	}
	return apperrors.NewRecipeStepTimeout(recipe, index, string(step.Action), err)
}

// attempt runs fn with its own share of the step budget
func attempt(ctx context.Context, budget time.Duration, fn func(context.Context) error) error {
	if budget <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	return fn(actx)
}

// fatal reports errors that no fallback can fix
func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, browser.ErrDriverClosed) ||
		errors.Is(err, context.Canceled) ||
		ctx.Err() != nil
}

// expectedPattern is the file name pattern logged for a submission
func expectedPattern(recipe string) string {
	return recipe + "*.xls"
}
