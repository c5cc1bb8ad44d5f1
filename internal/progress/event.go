// Package progress carries workflow progress from the workers to whoever is
// watching: the WebSocket hub, the CLI, or a test.
package progress

import (
	"fmt"
	"time"
)

// Kind identifies an Event
type Kind string

const (
	KindWorkflowStarted  Kind = "workflow_started"
	KindWorkflowProgress Kind = "workflow_progress"
	KindWorkflowFinished Kind = "workflow_finished"
	KindRunProgress      Kind = "run_progress"
)

// Event is one progress notification. Workflow events carry City and Year;
// run events carry only the aggregate Percentage.
type Event struct {
	Kind       Kind      `json:"kind"`
	RunID      string    `json:"run_id,omitempty"`
	City       string    `json:"city,omitempty"`
	Year       int       `json:"year,omitempty"`
	State      string    `json:"state,omitempty"`
	Status     string    `json:"status,omitempty"`
	Percentage int       `json:"percentage"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// PairKey identifies a (city, year) pair in trackers and logs
func PairKey(city string, year int) string {
	return fmt.Sprintf("%s/%d", city, year)
}

// Pair returns the event's pair key, or "" for run events
func (e Event) Pair() string {
	if e.City == "" {
		return ""
	}
	return PairKey(e.City, e.Year)
}

// Terminal reports whether e closes a workflow
func (e Event) Terminal() bool {
	return e.Kind == KindWorkflowFinished
}

// Publisher accepts events without blocking
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(Event)

// Publish implements Publisher
func (f PublisherFunc) Publish(e Event) { f(e) }

// Discard drops every event
var Discard Publisher = PublisherFunc(func(Event) {})

// Tee publishes every event to each non-nil publisher in order
func Tee(publishers ...Publisher) Publisher {
	ps := make([]Publisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			ps = append(ps, p)
		}
	}
	return PublisherFunc(func(e Event) {
		for _, p := range ps {
			p.Publish(e)
		}
	})
}
