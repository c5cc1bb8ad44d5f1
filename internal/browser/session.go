package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"munireports/internal/config"
	apperrors "munireports/internal/errors"
)

// Options configures a Session
type Options struct {
	EntryURL          string
	NavigationTimeout time.Duration
	StepTimeout       time.Duration
	PollInterval      time.Duration
	Layout            Layout
}

// DefaultOptions returns session options for the given portal config
func DefaultOptions(cfg config.PortalConfig) Options {
	return Options{
		EntryURL:          cfg.EntryURL,
		NavigationTimeout: cfg.NavigationTimeout,
		StepTimeout:       cfg.StepTimeout,
		PollInterval:      250 * time.Millisecond,
		Layout:            DefaultLayout(),
	}
}

// Submission records one report queued on the server
type Submission struct {
	Recipe      string    `json:"recipe"`
	SubmittedAt time.Time `json:"submitted_at"`
	Pattern     string    `json:"expected_file_pattern"`
}

// Context-selection step names reported in ContextSelectionError
const (
	StepMunicipality   = "municipality"
	StepPlanningPeriod = "planning_period"
	StepExerciseYear   = "exercise_year"
	StepReportsPanel   = "reports_panel"
	StepFavorites      = "favorite_reports"
)

// Session is a single-operator portal session over one browser instance.
// At most one operation may be in flight; Cancel may be called from any
// goroutine.
type Session struct {
	factory DriverFactory
	opts    Options
	logger  *slog.Logger

	mu          sync.Mutex
	driver      Driver
	downloadDir string
	cancelled   bool
	closed      bool
	submissions []Submission
}

// NewSession creates a session that will start its browser with factory
func NewSession(factory DriverFactory, opts Options, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	return &Session{
		factory: factory,
		opts:    opts,
		logger:  logger.With(slog.String("component", "browser.session")),
	}
}

// Start acquires an isolated browser that writes downloads to downloadDir
func (s *Session) Start(ctx context.Context, downloadDir string) error {
	if s.Cancelled() {
		return apperrors.NewInterrupted("start")
	}
	d, err := s.factory(ctx, downloadDir)
	if err != nil {
		if ctx.Err() != nil {
			return apperrors.NewInterrupted("start")
		}
		return apperrors.NewEnvironmentError("browser could not be started", err)
	}

	s.mu.Lock()
	s.driver = d
	s.downloadDir = downloadDir
	cancelled := s.cancelled
	s.mu.Unlock()

	// Cancel raced with the factory; the browser must not survive it.
	if cancelled {
		d.Close()
		return apperrors.NewInterrupted("start")
	}
	return nil
}

// Driver exposes the element-level primitives to the report executor
func (s *Session) Driver() Driver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driver
}

// DownloadDir returns the directory the browser writes to
func (s *Session) DownloadDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloadDir
}

// OpenEntryPoint navigates to the portal and waits for the login form
func (s *Session) OpenEntryPoint(ctx context.Context) error {
	d, err := s.live("open_entry_point")
	if err != nil {
		return err
	}
	navCtx, cancel := context.WithTimeout(ctx, s.opts.NavigationTimeout)
	defer cancel()

	if err := d.Navigate(navCtx, s.opts.EntryURL); err != nil {
		return s.classify(ctx, "open_entry_point", err, func(err error) error {
			return apperrors.NewNavigationTimeout("open_entry_point", err)
		})
	}
	if err := d.WaitVisible(navCtx, s.opts.Layout.LoginForm); err != nil {
		return s.classify(ctx, "login_form", err, func(err error) error {
			return apperrors.NewNavigationTimeout("login_form", err)
		})
	}
	return nil
}

// Authenticate fills the credentials, submits and waits for either the
// post-login landmark or the rejection banner.
func (s *Session) Authenticate(ctx context.Context, username, password string) error {
	d, err := s.live("authenticate")
	if err != nil {
		return err
	}
	l := s.opts.Layout

	stepCtx, cancel := context.WithTimeout(ctx, s.opts.StepTimeout)
	defer cancel()
	for _, act := range []func() error{
		func() error { return d.SetText(stepCtx, l.UsernameField, username) },
		func() error { return d.SetText(stepCtx, l.PasswordField, password) },
		func() error { return d.Click(stepCtx, l.LoginButton) },
	} {
		if err := act(); err != nil {
			return s.classify(ctx, "login_form", err, func(err error) error {
				return apperrors.NewNavigationTimeout("login_form", err)
			})
		}
	}

	navCtx, cancelNav := context.WithTimeout(ctx, s.opts.NavigationTimeout)
	defer cancelNav()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		if n, err := d.Count(navCtx, l.LoginError); err == nil && n > 0 {
			return apperrors.NewAuthenticationError("credentials rejected by portal")
		}
		if n, err := d.Count(navCtx, l.PostLoginLandmark); err == nil && n > 0 {
			s.logger.DebugContext(ctx, "Authenticated", slog.String("username", username))
			return nil
		} else if err != nil && !isContextErr(err) {
			return s.classify(ctx, "post_login", err, func(err error) error {
				return apperrors.NewNavigationTimeout("post_login", err)
			})
		}

		select {
		case <-ticker.C:
		case <-navCtx.Done():
			return s.classify(ctx, "post_login", navCtx.Err(), func(err error) error {
				return apperrors.NewNavigationTimeout("post_login", err)
			})
		}
	}
}

// SelectContext walks municipality → planning period → exercise year,
// opens the reports panel and then Favorite Reports.
func (s *Session) SelectContext(ctx context.Context, cityDisplayName string, year int) error {
	d, err := s.live("select_context")
	if err != nil {
		return err
	}
	l := s.opts.Layout
	start, end := config.PlanningPeriod(year)

	tiles := []struct {
		step string
		loc  Locator
	}{
		{StepMunicipality, l.MunicipalityTile.Expand(strings.NewReplacer("{municipality}", XPathLiteral(cityDisplayName)))},
		{StepPlanningPeriod, l.PeriodTile.Expand(strings.NewReplacer("{period}", XPathLiteral(fmt.Sprintf("%d-%d", start, end))))},
		{StepExerciseYear, l.ExerciseTile.Expand(strings.NewReplacer("{year}", XPathLiteral(strconv.Itoa(year))))},
	}
	for _, tile := range tiles {
		if err := s.clickWhenVisible(ctx, d, tile.loc); err != nil {
			return s.classify(ctx, tile.step, err, func(err error) error {
				return apperrors.NewContextSelectionError(tile.step, err)
			})
		}
	}

	panelCtx, cancel := context.WithTimeout(ctx, s.opts.StepTimeout)
	defer cancel()
	err = d.PressKey(panelCtx, l.ReportsPanelKey)
	if err == nil {
		err = d.WaitVisible(panelCtx, l.ReportsPanel)
	}
	if err != nil {
		return s.classify(ctx, StepReportsPanel, err, func(err error) error {
			return apperrors.NewContextSelectionError(StepReportsPanel, err)
		})
	}

	if err := s.clickWhenVisible(ctx, d, l.FavoritesLink); err != nil {
		return s.classify(ctx, StepFavorites, err, func(err error) error {
			return apperrors.NewContextSelectionError(StepFavorites, err)
		})
	}
	favCtx, cancelFav := context.WithTimeout(ctx, s.opts.StepTimeout)
	defer cancelFav()
	if err := d.WaitVisible(favCtx, l.FavoritesPage); err != nil {
		return s.classify(ctx, StepFavorites, err, func(err error) error {
			return apperrors.NewContextSelectionError(StepFavorites, err)
		})
	}

	s.logger.DebugContext(ctx, "Context selected",
		slog.String("municipality", cityDisplayName),
		slog.Int("year", year),
		slog.Int("period_start", start))
	return nil
}

// OpenExecutionsPanel opens the "my executions" dialog
func (s *Session) OpenExecutionsPanel(ctx context.Context) error {
	d, err := s.live("open_executions")
	if err != nil {
		return err
	}
	if err := s.clickWhenVisible(ctx, d, s.opts.Layout.ExecutionsButton); err != nil {
		return s.navigationErr(ctx, "open_executions", err)
	}
	return s.waitStep(ctx, d, "open_executions", s.opts.Layout.ExecutionsDialog)
}

// RefreshExecutions reloads the executions list
func (s *Session) RefreshExecutions(ctx context.Context) error {
	d, err := s.live("refresh_executions")
	if err != nil {
		return err
	}
	if err := s.clickWhenVisible(ctx, d, s.opts.Layout.ExecutionsRefresh); err != nil {
		return s.navigationErr(ctx, "refresh_executions", err)
	}
	return s.waitStep(ctx, d, "refresh_executions", s.opts.Layout.ExecutionsDialog)
}

// DownloadButtons returns how many "download result" controls are listed
func (s *Session) DownloadButtons(ctx context.Context) (int, error) {
	d, err := s.live("enumerate_downloads")
	if err != nil {
		return 0, err
	}
	stepCtx, cancel := context.WithTimeout(ctx, s.opts.StepTimeout)
	defer cancel()
	n, err := d.Count(stepCtx, s.opts.Layout.DownloadButtons)
	if err != nil {
		return 0, s.navigationErr(ctx, "enumerate_downloads", err)
	}
	return n, nil
}

// ClickDownload clicks the i-th download control
func (s *Session) ClickDownload(ctx context.Context, i int) error {
	d, err := s.live("download")
	if err != nil {
		return err
	}
	stepCtx, cancel := context.WithTimeout(ctx, s.opts.StepTimeout)
	defer cancel()
	if err := d.ClickNth(stepCtx, s.opts.Layout.DownloadButtons, i); err != nil {
		return s.classify(ctx, "download", err, func(err error) error {
			return fmt.Errorf("download button %d: %w", i, err)
		})
	}
	return nil
}

// CloseExecutionsPanel closes the dialog; failures are only logged
func (s *Session) CloseExecutionsPanel(ctx context.Context) {
	d, err := s.live("close_executions")
	if err != nil {
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, s.opts.StepTimeout)
	defer cancel()
	if err := d.Click(stepCtx, s.opts.Layout.ExecutionsClose); err != nil {
		s.logger.DebugContext(ctx, "Executions panel close failed", slog.String("error", err.Error()))
	}
}

// RecordSubmission appends to the submission log of the current context
func (s *Session) RecordSubmission(recipe, pattern string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions = append(s.submissions, Submission{
		Recipe:      recipe,
		SubmittedAt: time.Now(),
		Pattern:     pattern,
	})
}

// Submissions returns a copy of the submission log
func (s *Session) Submissions() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Submission, len(s.submissions))
	copy(out, s.submissions)
	return out
}

// Cancel asks the browser to abort. Pending calls surface Interrupted.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	d := s.driver
	s.mu.Unlock()
	if d != nil {
		if err := d.Close(); err != nil {
			s.logger.Debug("Driver close during cancel failed", slog.String("error", err.Error()))
		}
	}
}

// Cancelled reports whether Cancel was called
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Close tears the browser down. It never fails and may be called twice.
func (s *Session) Close() {
	s.mu.Lock()
	d := s.driver
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	if d == nil || already {
		return
	}
	if err := d.Close(); err != nil {
		s.logger.Debug("Driver close failed", slog.String("error", err.Error()))
	}
}

func (s *Session) live(step string) (Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return nil, apperrors.NewInterrupted(step)
	}
	if s.driver == nil || s.closed {
		return nil, apperrors.NewEnvironmentError("session not started", ErrDriverClosed)
	}
	return s.driver, nil
}

func (s *Session) clickWhenVisible(ctx context.Context, d Driver, loc Locator) error {
	stepCtx, cancel := context.WithTimeout(ctx, s.opts.StepTimeout)
	defer cancel()
	if err := d.WaitVisible(stepCtx, loc); err != nil {
		return err
	}
	return d.Click(stepCtx, loc)
}

func (s *Session) waitStep(ctx context.Context, d Driver, step string, loc Locator) error {
	stepCtx, cancel := context.WithTimeout(ctx, s.opts.StepTimeout)
	defer cancel()
	if err := d.WaitVisible(stepCtx, loc); err != nil {
		return s.navigationErr(ctx, step, err)
	}
	return nil
}

func (s *Session) navigationErr(ctx context.Context, step string, err error) error {
	return s.classify(ctx, step, err, func(err error) error {
		return apperrors.NewNavigationTimeout(step, err)
	})
}

// classify maps a driver error to Interrupted when the session or the
// caller was cancelled, and to wrap(err) otherwise.
func (s *Session) classify(ctx context.Context, step string, err error, wrap func(error) error) error {
	if s.Cancelled() || errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return apperrors.NewInterrupted(step)
	}
	return wrap(err)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
