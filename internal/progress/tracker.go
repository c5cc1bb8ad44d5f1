package progress

import (
	"fmt"
	"sync"
	"time"
)

// Tracker folds per-pair percentages into a run percentage. Every pair
// weighs the same; a finished pair counts as 100 whatever its outcome.
type Tracker struct {
	mu        sync.Mutex
	pairs     map[string]int
	finished  map[string]bool
	startTime time.Time
}

// NewTracker tracks the given pair keys, all at 0%
func NewTracker(pairs ...string) *Tracker {
	t := &Tracker{
		pairs:     make(map[string]int, len(pairs)),
		finished:  make(map[string]bool, len(pairs)),
		startTime: time.Now(),
	}
	for _, p := range pairs {
		t.pairs[p] = 0
	}
	return t
}

// Update records pair's percentage and returns the run percentage. A pair
// never goes backwards and unknown pairs are added.
func (t *Tracker) Update(pair string, pct int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	pct = clamp(pct)
	if pct > t.pairs[pair] {
		t.pairs[pair] = pct
	} else if _, ok := t.pairs[pair]; !ok {
		t.pairs[pair] = pct
	}
	return t.runLocked()
}

// Finish marks pair as finished and returns the run percentage
func (t *Tracker) Finish(pair string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pairs[pair] = 100
	t.finished[pair] = true
	return t.runLocked()
}

// Observe applies a workflow event and returns the run percentage. Run
// events are ignored.
func (t *Tracker) Observe(e Event) int {
	switch e.Kind {
	case KindWorkflowFinished:
		return t.Finish(e.Pair())
	case KindWorkflowStarted, KindWorkflowProgress:
		return t.Update(e.Pair(), e.Percentage)
	}
	return t.Run()
}

// Run returns the current run percentage
func (t *Tracker) Run() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runLocked()
}

// Done reports whether every tracked pair has finished
func (t *Tracker) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pairs) > 0 && len(t.finished) == len(t.pairs)
}

// ETA estimates the time left from the average rate so far
func (t *Tracker) ETA() string {
	run := t.Run()
	if run == 0 {
		return "calculating..."
	}
	if run >= 100 {
		return "done"
	}
	elapsed := time.Since(t.startTime)
	remaining := time.Duration(float64(elapsed) * float64(100-run) / float64(run))

	switch {
	case remaining < time.Minute:
		return fmt.Sprintf("%.0f seconds", remaining.Seconds())
	case remaining < time.Hour:
		return fmt.Sprintf("%.1f minutes", remaining.Minutes())
	default:
		return fmt.Sprintf("%.1f hours", remaining.Hours())
	}
}

func (t *Tracker) runLocked() int {
	if len(t.pairs) == 0 {
		return 0
	}
	total := 0
	for _, pct := range t.pairs {
		total += pct
	}
	return total / len(t.pairs)
}

func clamp(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
