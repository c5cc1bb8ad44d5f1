package operations

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"munireports/internal/config"
	apperrors "munireports/internal/errors"
	"munireports/internal/progress"
)

// Pair is one (city, year) unit of work
type Pair struct {
	City string `json:"city"`
	Year int    `json:"year"`
}

// String returns "city/year"
func (p Pair) String() string {
	return progress.PairKey(p.City, p.Year)
}

// WorkflowBuilder builds the workflow for pair. It is called on the
// worker's goroutine; an error fails the pair without a browser.
type WorkflowBuilder func(pair Pair, token *Token, sink progress.Publisher) (*Workflow, error)

// Pool runs workflows with bounded concurrency
type Pool struct {
	build  WorkflowBuilder
	logger *slog.Logger
}

// NewPool returns a pool that builds each workflow with build
func NewPool(build WorkflowBuilder, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		build:  build,
		logger: logger.With(slog.String("component", "operations.pool")),
	}
}

// Handle observes and controls a started run
type Handle struct {
	RunID string
	Pairs []Pair
	K     int

	token   *Token
	done    chan struct{}
	tracker *progress.Tracker

	mu        sync.Mutex
	outcomes  []Outcome
	workflows []*Workflow
}

// Start launches one worker per pair, at most k at a time. k outside
// [1, 5] is clamped with a warning. The token is shared by every worker;
// tripping it cancels the whole run.
func (p *Pool) Start(ctx context.Context, runID string, pairs []Pair, k int, token *Token, sink progress.Publisher) *Handle {
	if clamped := config.ClampConcurrency(k); clamped != k {
		p.logger.Warn("Concurrency out of range, clamped",
			slog.Int("requested", k),
			slog.Int("used", clamped))
		k = clamped
	}
	if token == nil {
		token = NewToken()
	}
	if sink == nil {
		sink = progress.Discard
	}

	keys := make([]string, len(pairs))
	for i, pair := range pairs {
		keys[i] = pair.String()
	}
	h := &Handle{
		RunID:     runID,
		Pairs:     append([]Pair(nil), pairs...),
		K:         k,
		token:     token,
		done:      make(chan struct{}),
		tracker:   progress.NewTracker(keys...),
		outcomes:  make([]Outcome, len(pairs)),
		workflows: make([]*Workflow, len(pairs)),
	}
	runSink := &runPublisher{next: sink, tracker: h.tracker, runID: runID}

	p.logger.Info("Run started",
		slog.String("run_id", runID),
		slog.Int("pairs", len(pairs)),
		slog.Int("concurrency", k))

	go func() {
		defer close(h.done)
		sem := semaphore.NewWeighted(int64(k))
		var g errgroup.Group
		runCtx, cancel := token.Context(ctx)
		defer cancel()

		for i, pair := range pairs {
			i, pair := i, pair
			if err := sem.Acquire(runCtx, 1); err != nil {
				h.setOutcome(i, p.skipped(runID, pair, runSink))
				continue
			}
			g.Go(func() error {
				defer sem.Release(1)
				h.setOutcome(i, p.runOne(runCtx, h, i, runID, pair, token, runSink))
				return nil
			})
		}
		g.Wait()

		status := h.Status()
		runSink.next.Publish(progress.Event{
			Kind:       progress.KindRunProgress,
			RunID:      runID,
			Status:     string(status),
			Percentage: 100,
			Message:    "run finished",
		})
		p.logger.Info("Run finished",
			slog.String("run_id", runID),
			slog.String("status", string(status)))
	}()
	return h
}

func (p *Pool) runOne(ctx context.Context, h *Handle, i int, runID string, pair Pair, token *Token, sink progress.Publisher) Outcome {
	if token.Tripped() || ctx.Err() != nil {
		return p.skipped(runID, pair, sink)
	}
	w, err := p.build(pair, token, sink)
	if err != nil {
		return p.rejected(runID, pair, err, sink)
	}
	h.mu.Lock()
	h.workflows[i] = w
	h.mu.Unlock()
	out := w.Run(ctx)
	if out.RunID == "" {
		out.RunID = runID
	}
	return out
}

// skipped is the outcome of a pair the run never got to
func (p *Pool) skipped(runID string, pair Pair, sink progress.Publisher) Outcome {
	now := time.Now()
	out := Outcome{
		RunID:      runID,
		City:       pair.City,
		Year:       pair.Year,
		State:      StateCancelled,
		Status:     StatusCancelled,
		ErrorKind:  string(apperrors.KindInterrupted),
		Error:      "run cancelled before this pair started",
		StartedAt:  now,
		FinishedAt: now,
	}
	publishOutcome(sink, out)
	return out
}

// rejected is the outcome of a pair whose workflow could not be built
func (p *Pool) rejected(runID string, pair Pair, err error, sink progress.Publisher) Outcome {
	now := time.Now()
	p.logger.Error("Pair rejected",
		slog.String("pair", pair.String()),
		slog.String("error", err.Error()))
	out := Outcome{
		RunID:      runID,
		City:       pair.City,
		Year:       pair.Year,
		State:      StateFailed,
		Status:     StatusError,
		ErrorKind:  string(apperrors.KindOf(err)),
		Error:      err.Error(),
		Err:        err,
		StartedAt:  now,
		FinishedAt: now,
	}
	publishOutcome(sink, out)
	return out
}

func publishOutcome(sink progress.Publisher, out Outcome) {
	sink.Publish(progress.Event{
		Kind:       progress.KindWorkflowFinished,
		RunID:      out.RunID,
		City:       out.City,
		Year:       out.Year,
		State:      string(out.State),
		Status:     string(out.Status),
		Percentage: 100,
		Error:      out.Error,
		Timestamp:  out.FinishedAt,
	})
}

func (h *Handle) setOutcome(i int, out Outcome) {
	h.mu.Lock()
	h.outcomes[i] = out
	h.mu.Unlock()
}

// Cancel trips the run's token
func (h *Handle) Cancel() {
	h.token.Trip()
}

// Done is closed once every worker has finished
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Join waits up to timeout for the run to finish and reports whether it did.
// A non-positive timeout waits forever.
func (h *Handle) Join(timeout time.Duration) bool {
	if timeout <= 0 {
		<-h.done
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-h.done:
		return true
	case <-t.C:
		return false
	}
}

// Outcomes returns the outcome of every pair in input order. Pairs still
// running have a zero State.
func (h *Handle) Outcomes() []Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Outcome, len(h.outcomes))
	copy(out, h.outcomes)
	return out
}

// States returns the live state of every pair in input order
func (h *Handle) States() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]State, len(h.workflows))
	for i, w := range h.workflows {
		switch {
		case h.outcomes[i].State != "":
			out[i] = h.outcomes[i].State
		case w != nil:
			out[i] = w.State()
		}
	}
	return out
}

// Progress returns the run percentage
func (h *Handle) Progress() int {
	return h.tracker.Run()
}

// ETA estimates the time left
func (h *Handle) ETA() string {
	return h.tracker.ETA()
}

// Status aggregates the finished outcomes
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	statuses := make([]Status, 0, len(h.outcomes))
	for _, o := range h.outcomes {
		if o.Status != "" {
			statuses = append(statuses, o.Status)
		}
	}
	return AggregateStatus(statuses...)
}

// Err summarises failed pairs, or nil
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	failed := 0
	for _, o := range h.outcomes {
		if o.State == StateFailed {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d pair(s) failed", failed, len(h.outcomes))
}

// runPublisher forwards workflow events and follows each with the
// aggregate run percentage.
type runPublisher struct {
	next    progress.Publisher
	tracker *progress.Tracker
	runID   string
}

func (r *runPublisher) Publish(e progress.Event) {
	if e.RunID == "" {
		e.RunID = r.runID
	}
	r.next.Publish(e)
	if e.Kind == progress.KindRunProgress {
		return
	}
	r.next.Publish(progress.Event{
		Kind:       progress.KindRunProgress,
		RunID:      r.runID,
		Percentage: r.tracker.Observe(e),
		Timestamp:  e.Timestamp,
	})
}
