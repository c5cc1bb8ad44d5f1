package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"munireports/internal/browser"
	"munireports/internal/config"
	apperrors "munireports/internal/errors"
	"munireports/internal/files"
)

// SessionOpener starts a fresh browser session that is logged in and has
// its context selected. The caller closes it.
type SessionOpener func(ctx context.Context) (*browser.Session, error)

// HarvestResult describes one harvest
type HarvestResult struct {
	Batch    int `json:"batch"`
	Expected int `json:"expected"`
	Attempts int `json:"attempts"`
	Clicked  int `json:"clicked"`
	Promoted int `json:"promoted"`
	// Warning is a DownloadHarvestTimeout when every attempt came back empty
	Warning error `json:"-"`
}

// Harvester waits out the server-side queue, downloads the finished
// executions and promotes them into raw/.
type Harvester struct {
	cfg       config.HarvestConfig
	workspace *files.Workspace
	open      SessionOpener
	token     *Token
	report    *Report
	tracer    *OperationTracer
	logger    *slog.Logger

	// promoted holds the PromotionKey of every file moved by earlier
	// harvests, since the executions panel keeps listing them
	promoted map[string]bool
}

// NewHarvester wires a harvester for one workflow
func NewHarvester(cfg config.HarvestConfig, ws *files.Workspace, open SessionOpener, token *Token, report *Report, tracer *OperationTracer, logger *slog.Logger) *Harvester {
	if logger == nil {
		logger = slog.Default()
	}
	if token == nil {
		token = NewToken()
	}
	if cfg.CheckInterval <= 0 || cfg.CheckInterval > config.DefaultCheckInterval {
		cfg.CheckInterval = config.DefaultCheckInterval
	}
	if cfg.NavigationRetries < 1 {
		cfg.NavigationRetries = 1
	}
	if cfg.EmptyRetries < 1 {
		cfg.EmptyRetries = 1
	}
	return &Harvester{
		cfg:       cfg,
		workspace: ws,
		open:      open,
		token:     token,
		report:    report,
		tracer:    tracer,
		logger:    logger.With(slog.String("component", "operations.harvester")),
		promoted:  make(map[string]bool),
	}
}

// CoolingOff returns the wait before harvesting batch
func (h *Harvester) CoolingOff(batch int) time.Duration {
	if batch == 1 {
		return h.cfg.CoolingOffBatch1
	}
	return h.cfg.CoolingOffBatch2
}

// Harvest runs the cooling-off for batch and then collects its files.
// expected is the number of successful submissions in the batch. An empty
// harvest is retried; if it stays empty the result carries a
// DownloadHarvestTimeout warning and err is nil. err is Interrupted on
// cancellation, or the session error when no session could be opened.
func (h *Harvester) Harvest(ctx context.Context, batch, expected int) (HarvestResult, error) {
	res := HarvestResult{Batch: batch, Expected: expected}
	ctx, span := h.tracer.TraceHarvest(ctx, batch, expected)

	err := h.harvest(ctx, &res)
	h.tracer.RecordHarvestCompletion(ctx, span, res, err)
	return res, err
}

func (h *Harvester) harvest(ctx context.Context, res *HarvestResult) error {
	if err := h.coolOff(ctx, res.Batch); err != nil {
		return err
	}

	for a := 1; a <= h.cfg.EmptyRetries; a++ {
		res.Attempts = a
		clicked, promoted, err := h.collect(ctx)
		res.Clicked += clicked
		res.Promoted += promoted
		if err != nil {
			return err
		}
		if promoted > 0 {
			h.logger.InfoContext(ctx, "Harvest complete",
				slog.Int("batch", res.Batch),
				slog.Int("attempt", a),
				slog.Int("promoted", promoted),
				slog.Int("expected", res.Expected))
			if res.Promoted < res.Expected {
				h.report.Warn("Batch %d: %d of %d expected file(s) downloaded", res.Batch, res.Promoted, res.Expected)
			}
			return nil
		}

		timeout := apperrors.NewDownloadHarvestTimeout(res.Batch, a)
		h.logger.WarnContext(ctx, "Harvest came back empty",
			slog.Int("batch", res.Batch),
			slog.Int("attempt", a),
			slog.Int("max_attempts", h.cfg.EmptyRetries))
		if a == h.cfg.EmptyRetries {
			res.Warning = timeout
			h.report.Warn("Batch %d: %s", res.Batch, timeout.Error())
			return nil
		}
		h.report.Warn("Batch %d: no files on attempt %d, retrying in %s", res.Batch, a, h.cfg.EmptyRetryWait)
		if !h.wait(ctx, h.cfg.EmptyRetryWait) {
			return apperrors.NewInterrupted(fmt.Sprintf("harvest %d retry wait", res.Batch))
		}
	}
	return nil
}

// coolOff waits the batch's cooling-off in steps no longer than
// CheckInterval, logging what is left after each.
func (h *Harvester) coolOff(ctx context.Context, batch int) error {
	total := h.CoolingOff(batch)
	h.report.Info("Batch %d: cooling-off for %s", batch, total)
	deadline := time.Now().Add(total)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		step := remaining
		if step > h.cfg.CheckInterval {
			step = h.cfg.CheckInterval
		}
		if !h.wait(ctx, step) {
			h.logger.InfoContext(ctx, "Cooling-off interrupted",
				slog.Int("batch", batch),
				slog.Duration("remaining", time.Until(deadline).Round(time.Second)))
			return apperrors.NewInterrupted(fmt.Sprintf("cooling_off_%d", batch))
		}
		if left := time.Until(deadline); left > 0 {
			h.logger.InfoContext(ctx, "Cooling-off in progress",
				slog.Int("batch", batch),
				slog.Duration("remaining", left.Round(time.Second)))
		}
	}
}

// collect opens a fresh session, clicks every listed download and promotes
// what arrived. It returns the clicks made and files promoted.
func (h *Harvester) collect(ctx context.Context) (clicked, promoted int, err error) {
	session, n, err := h.openPanel(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer session.Close()

	for i := 0; i < n; i++ {
		if err := session.ClickDownload(ctx, i); err != nil {
			if apperrors.KindOf(err) == apperrors.KindInterrupted {
				return clicked, 0, err
			}
			h.logger.WarnContext(ctx, "Download click failed",
				slog.Int("index", i),
				slog.String("error", err.Error()))
			continue
		}
		clicked++
	}
	if !h.wait(ctx, h.cfg.ClickSettle) {
		return clicked, 0, apperrors.NewInterrupted("download_settle")
	}
	session.CloseExecutionsPanel(ctx)
	session.Close()

	complete, err := h.workspace.WaitDownloadsComplete(ctx, h.cfg.DownloadTimeout)
	if err != nil {
		return clicked, 0, err
	}
	if !complete {
		h.report.Warn("Downloads still in progress after %s", h.cfg.DownloadTimeout)
	}

	unique, _ := h.workspace.CountUniqueReady()
	promoted, err = h.workspace.PromoteNew(h.promoted)
	if err != nil {
		return clicked, promoted, fmt.Errorf("promotion failed: %w", err)
	}
	h.report.AddDownloaded(promoted)
	h.report.Info("Downloaded %d file(s), %d unique file(s) promoted", clicked, promoted)
	if skipped := unique - promoted; skipped > 0 {
		h.logger.InfoContext(ctx, "Skipped files promoted by an earlier harvest",
			slog.Int("skipped", skipped))
	}
	return clicked, promoted, nil
}

// openPanel opens a logged-in session with the executions list showing,
// retrying navigation timeouts with a new session each time.
func (h *Harvester) openPanel(ctx context.Context) (*browser.Session, int, error) {
	var lastErr error
	for a := 1; a <= h.cfg.NavigationRetries; a++ {
		session, n, err := h.tryOpenPanel(ctx)
		if err == nil {
			return session, n, nil
		}
		lastErr = err
		if !errors.Is(err, apperrors.ErrNavigationTimeout) {
			return nil, 0, err
		}
		h.logger.WarnContext(ctx, "Harvest session navigation timed out",
			slog.Int("attempt", a),
			slog.Int("max_attempts", h.cfg.NavigationRetries),
			slog.String("error", err.Error()))
		h.report.Warn("Harvest session attempt %d failed: %s", a, err.Error())
	}
	return nil, 0, lastErr
}

func (h *Harvester) tryOpenPanel(ctx context.Context) (*browser.Session, int, error) {
	if h.token.Tripped() || ctx.Err() != nil {
		return nil, 0, apperrors.NewInterrupted("harvest_session")
	}
	session, err := h.open(ctx)
	if err != nil {
		return nil, 0, err
	}
	if err := session.OpenExecutionsPanel(ctx); err != nil {
		session.Close()
		return nil, 0, err
	}
	if err := session.RefreshExecutions(ctx); err != nil {
		session.Close()
		return nil, 0, err
	}
	n, err := session.DownloadButtons(ctx)
	if err != nil {
		session.Close()
		return nil, 0, err
	}
	h.logger.InfoContext(ctx, "Executions listed", slog.Int("downloads", n))
	return session, n, nil
}

// wait sleeps for d unless the token trips or ctx ends
func (h *Harvester) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil && !h.token.Tripped()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return ctx.Err() == nil && !h.token.Tripped()
	case <-h.token.Done():
		return false
	case <-ctx.Done():
		return false
	}
}
