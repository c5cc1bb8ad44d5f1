package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"munireports/internal/config"
	"munireports/internal/infrastructure"
	"munireports/internal/operations"
	"munireports/internal/progress"
)

// StatusRunning is reported for runs whose workers have not all finished
const StatusRunning = "running"

const (
	defaultStreamBuffer       = 64
	defaultStreamDrainTimeout = 5 * time.Second
	defaultRetainedRuns       = 50
	historyWriteTimeout       = 10 * time.Second
)

// HistoryRecorder stores the outcomes of a finished run
type HistoryRecorder interface {
	RecordAll(ctx context.Context, outcomes []operations.Outcome) error
}

// RunServiceOptions configures a RunService. Only Paths is required.
type RunServiceOptions struct {
	Paths *config.Paths
	// DefaultConcurrency is used when Launch is called with K <= 0
	DefaultConcurrency int
	History            HistoryRecorder
	Launcher           Launcher
	// StreamBuffer sizes the channel returned by Launch
	StreamBuffer int
	// StreamDrainTimeout bounds how long a finished run waits for its
	// Launch stream to be read before closing it and dropping the rest
	StreamDrainTimeout time.Duration
	// RetainedRuns bounds how many finished runs Status still knows
	RetainedRuns int
	Logger       *slog.Logger
	Now          func() time.Time
}

// PairStatus is the live view of one pair in a run
type PairStatus struct {
	City       string              `json:"city"`
	Year       int                 `json:"year"`
	State      operations.State    `json:"state,omitempty"`
	Status     operations.Status   `json:"status,omitempty"`
	ErrorKind  string              `json:"error_kind,omitempty"`
	Error      string              `json:"error,omitempty"`
	Counters   operations.Counters `json:"counters"`
	ReportPath string              `json:"report_path,omitempty"`
	Workspace  string              `json:"workspace,omitempty"`
}

// RunStatus is the view of a run returned by Status and Runs
type RunStatus struct {
	RunID       string       `json:"run_id"`
	Status      string       `json:"status"`
	Running     bool         `json:"running"`
	Progress    int          `json:"progress"`
	ETA         string       `json:"eta,omitempty"`
	Concurrency int          `json:"concurrency"`
	Pairs       []PairStatus `json:"pairs"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
}

type run struct {
	id         string
	handle     *operations.Handle
	startedAt  time.Time
	finishedAt time.Time
	release    context.CancelFunc
}

// RunService launches runs over the worker pool and tracks them by ID
type RunService struct {
	pool   *operations.Pool
	sink   progress.Publisher
	opts   RunServiceOptions
	logger *slog.Logger

	mu     sync.Mutex
	runs   map[string]*run
	order  []string
	closed bool
	wg     sync.WaitGroup
}

// NewRunService returns a service that publishes every run's events to
// sink. sink may be nil.
func NewRunService(pool *operations.Pool, sink progress.Publisher, opts RunServiceOptions) *RunService {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StreamBuffer <= 0 {
		opts.StreamBuffer = defaultStreamBuffer
	}
	if opts.StreamDrainTimeout <= 0 {
		opts.StreamDrainTimeout = defaultStreamDrainTimeout
	}
	if opts.RetainedRuns <= 0 {
		opts.RetainedRuns = defaultRetainedRuns
	}
	if opts.Launcher == nil {
		opts.Launcher = NewSystemLauncher(opts.Logger)
	}
	if sink == nil {
		sink = progress.Discard
	}
	return &RunService{
		pool:   pool,
		sink:   sink,
		opts:   opts,
		logger: opts.Logger.With(slog.String("component", "services.run")),
		runs:   make(map[string]*run),
	}
}

// Launch starts a run and returns its cancel function, an event stream and
// its ID. The stream carries only this run's events and is closed after the
// run has finished and its history is written. Events the caller has not
// read within StreamDrainTimeout of that point are dropped.
// The run is detached from ctx's cancellation and keeps ctx's values.
func (s *RunService) Launch(ctx context.Context, pairs []operations.Pair, concurrency int) (func(), <-chan progress.Event, string, error) {
	stream := progress.NewSink(s.logger)
	events, _ := stream.Subscribe(s.opts.StreamBuffer)

	r, err := s.start(ctx, pairs, concurrency, stream)
	if err != nil {
		stream.Close()
		return nil, nil, "", err
	}
	return r.handle.Cancel, events, r.id, nil
}

// Start is Launch without a per-run stream. Progress still reaches the
// service's sink.
func (s *RunService) Start(ctx context.Context, pairs []operations.Pair, concurrency int) (string, error) {
	r, err := s.start(ctx, pairs, concurrency, nil)
	if err != nil {
		return "", err
	}
	return r.id, nil
}

func (s *RunService) start(ctx context.Context, pairs []operations.Pair, concurrency int, stream *progress.Sink) (*run, error) {
	pairs, err := normalizePairs(pairs)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = s.opts.DefaultConcurrency
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrServiceClosed
	}

	id := uuid.NewString()
	runCtx, release := context.WithCancel(context.WithoutCancel(infrastructure.EnsureTraceID(ctx)))
	publisher := s.sink
	if stream != nil {
		publisher = progress.Tee(s.sink, stream)
	}
	r := &run{
		id:        id,
		startedAt: s.opts.Now(),
		release:   release,
	}
	r.handle = s.pool.Start(runCtx, id, pairs, concurrency, operations.NewToken(), publisher)
	s.runs[id] = r
	s.order = append(s.order, id)
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.InfoContext(runCtx, "Run launched",
		slog.String("run_id", id),
		slog.Int("pairs", len(pairs)),
		slog.Int("concurrency", r.handle.K))

	go s.await(runCtx, r, stream)
	return r, nil
}

func (s *RunService) await(ctx context.Context, r *run, stream *progress.Sink) {
	defer s.wg.Done()
	defer r.release()
	<-r.handle.Done()

	s.mu.Lock()
	r.finishedAt = s.opts.Now()
	s.mu.Unlock()

	outcomes := r.handle.Outcomes()
	if s.opts.History != nil {
		hctx, cancel := context.WithTimeout(ctx, historyWriteTimeout)
		if err := s.opts.History.RecordAll(hctx, outcomes); err != nil {
			s.logger.ErrorContext(ctx, "Failed to record run history",
				slog.String("run_id", r.id),
				slog.String("error", err.Error()))
		}
		cancel()
	}

	s.logger.InfoContext(ctx, "Run finished",
		slog.String("run_id", r.id),
		slog.String("status", string(r.handle.Status())),
		slog.Duration("duration", r.finishedAt.Sub(r.startedAt)))

	if stream != nil && !stream.CloseWithin(s.opts.StreamDrainTimeout) {
		s.logger.WarnContext(ctx, "Run stream abandoned by its reader",
			slog.String("run_id", r.id))
	}
	s.prune()
}

// prune forgets the oldest finished runs beyond RetainedRuns
func (s *RunService) prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	excess := len(s.order) - s.opts.RetainedRuns
	if excess <= 0 {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if excess > 0 && !s.runs[id].finishedAt.IsZero() {
			delete(s.runs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

// Status returns the live view of a run
func (s *RunService) Status(runID string) (RunStatus, error) {
	s.mu.Lock()
	r, ok := s.runs[runID]
	var finishedAt time.Time
	if ok {
		finishedAt = r.finishedAt
	}
	s.mu.Unlock()
	if !ok {
		return RunStatus{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return snapshot(r, finishedAt), nil
}

// Runs returns every retained run, oldest first
func (s *RunService) Runs() []RunStatus {
	s.mu.Lock()
	type entry struct {
		r          *run
		finishedAt time.Time
	}
	entries := make([]entry, 0, len(s.order))
	for _, id := range s.order {
		r := s.runs[id]
		entries = append(entries, entry{r, r.finishedAt})
	}
	s.mu.Unlock()

	out := make([]RunStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, snapshot(e.r, e.finishedAt))
	}
	return out
}

// Active counts runs still in progress
func (s *RunService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.runs {
		if r.finishedAt.IsZero() {
			n++
		}
	}
	return n
}

func snapshot(r *run, finishedAt time.Time) RunStatus {
	h := r.handle
	states := h.States()
	outcomes := h.Outcomes()

	st := RunStatus{
		RunID:       r.id,
		Running:     finishedAt.IsZero(),
		Progress:    h.Progress(),
		Concurrency: h.K,
		Pairs:       make([]PairStatus, len(h.Pairs)),
		StartedAt:   r.startedAt,
	}
	if st.Running {
		st.Status = StatusRunning
		st.ETA = h.ETA()
	} else {
		st.Status = string(h.Status())
		st.FinishedAt = &finishedAt
	}
	for i, pair := range h.Pairs {
		o := outcomes[i]
		st.Pairs[i] = PairStatus{
			City:       pair.City,
			Year:       pair.Year,
			State:      states[i],
			Status:     o.Status,
			ErrorKind:  o.ErrorKind,
			Error:      o.Error,
			Counters:   o.Counters,
			ReportPath: o.ReportPath,
			Workspace:  o.Workspace,
		}
	}
	return st
}

// Cancel trips a running run's token. Cancelling a finished run is an
// error.
func (s *RunService) Cancel(runID string) error {
	s.mu.Lock()
	r, ok := s.runs[runID]
	finished := ok && !r.finishedAt.IsZero()
	s.mu.Unlock()

	switch {
	case !ok:
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	case finished:
		return fmt.Errorf("%w: %s", ErrRunFinished, runID)
	}
	r.handle.Cancel()
	s.logger.Info("Run cancellation requested", slog.String("run_id", runID))
	return nil
}

// OpenWorkspace opens a pair's workspace in the file explorer and returns
// its path
func (s *RunService) OpenWorkspace(ctx context.Context, city string, year int) (string, error) {
	if s.opts.Paths == nil {
		return "", fmt.Errorf("%w: no data root", ErrWorkspaceNotFound)
	}
	key := config.NormalizeCityName(city)
	if !config.ValidCityKey(key) {
		return "", fmt.Errorf("%w: invalid city %q", ErrWorkspaceNotFound, city)
	}
	dir := s.opts.Paths.WorkspaceDir(key, year)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrWorkspaceNotFound, dir)
	}
	if err := s.opts.Launcher.Open(ctx, dir); err != nil {
		return dir, err
	}
	return dir, nil
}

// Shutdown refuses new runs, cancels the running ones and waits for them
// until ctx ends
func (s *RunService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	running := make([]*run, 0, len(s.runs))
	for _, r := range s.runs {
		if r.finishedAt.IsZero() {
			running = append(running, r)
		}
	}
	s.mu.Unlock()

	for _, r := range running {
		r.handle.Cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("runs still finishing: %w", ctx.Err())
	}
}

// normalizePairs canonicalizes city names, drops repeats and rejects years
// the portal cannot serve
func normalizePairs(pairs []operations.Pair) ([]operations.Pair, error) {
	if len(pairs) == 0 {
		return nil, ErrNoPairs
	}
	seen := make(map[operations.Pair]bool, len(pairs))
	out := make([]operations.Pair, 0, len(pairs))
	for _, p := range pairs {
		p.City = config.NormalizeCityName(p.City)
		if err := config.ValidateYear(p.Year); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidYear, err)
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

// Pairs expands cities × years into pairs, cities outermost
func Pairs(cities []string, years []int) []operations.Pair {
	out := make([]operations.Pair, 0, len(cities)*len(years))
	for _, c := range cities {
		for _, y := range years {
			out = append(out, operations.Pair{City: c, Year: y})
		}
	}
	return out
}
