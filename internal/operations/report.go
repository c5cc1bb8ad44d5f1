package operations

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"munireports/internal/files"
)

// Severity grades a report event
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarn    Severity = "warn"
	SeverityError   Severity = "error"
	SeveritySuccess Severity = "success"
)

// Status is the end-to-end classification of a workflow or a run
type Status string

const (
	StatusSuccess   Status = "success"
	StatusPartial   Status = "partial"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// statusRank orders statuses for aggregation, worst last
var statusRank = map[Status]int{
	StatusSuccess:   0,
	StatusPartial:   1,
	StatusError:     2,
	StatusCancelled: 3,
}

// AggregateStatus combines per-workflow statuses: cancelled beats error,
// error beats partial, partial beats success. No statuses is success.
func AggregateStatus(statuses ...Status) Status {
	out := StatusSuccess
	for _, s := range statuses {
		if statusRank[s] > statusRank[out] {
			out = s
		}
	}
	return out
}

// ClassifyWorkflow maps a terminal state and its counters to a Status
func ClassifyWorkflow(state State, c Counters, expected int) Status {
	switch state {
	case StateFailed:
		return StatusError
	case StateCancelled:
		return StatusCancelled
	case StateDone:
		if c.SubmissionsAttempted > 0 &&
			c.SubmissionsSucceeded == c.SubmissionsAttempted &&
			c.FilesConverted >= expected {
			return StatusSuccess
		}
		return StatusPartial
	}
	return StatusError
}

// ReportEvent is one line of the processing report
type ReportEvent struct {
	Time     time.Time `json:"time"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	// Terminal marks the Done, Failed or Cancelled line
	Terminal bool `json:"terminal,omitempty"`
}

// Counters summarise a workflow
type Counters struct {
	SubmissionsAttempted int `json:"submissions_attempted"`
	SubmissionsSucceeded int `json:"submissions_succeeded"`
	FilesDownloaded      int `json:"files_downloaded"`
	FilesConverted       int `json:"files_converted"`
	Errors               int `json:"errors"`
	Warnings             int `json:"warnings"`
}

// Report is the append-only processing log of one city-year workflow.
// Event times never go backwards and the terminal event is always last.
type Report struct {
	City    string
	Display string
	Year    int

	mu         sync.Mutex
	now        func() time.Time
	startedAt  time.Time
	finishedAt time.Time
	events     []ReportEvent
	counters   Counters
	expected   int
	status     Status
	finished   bool
	path       string
}

// NewReport starts a report. now may be nil.
func NewReport(city, display string, year int, now func() time.Time) *Report {
	if now == nil {
		now = time.Now
	}
	return &Report{
		City:      city,
		Display:   display,
		Year:      year,
		now:       now,
		startedAt: now(),
	}
}

// Add appends an event. Events after Finish are ignored.
func (r *Report) Add(sev Severity, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	switch sev {
	case SeverityError:
		r.counters.Errors++
	case SeverityWarn:
		r.counters.Warnings++
	}
	r.appendLocked(sev, fmt.Sprintf(format, args...))
}

func (r *Report) appendLocked(sev Severity, msg string) {
	t := r.now()
	if n := len(r.events); n > 0 && t.Before(r.events[n-1].Time) {
		t = r.events[n-1].Time
	}
	r.events = append(r.events, ReportEvent{Time: t, Severity: sev, Message: msg})
}

// Info records an info event
func (r *Report) Info(format string, args ...any) { r.Add(SeverityInfo, format, args...) }

// Warn records a warning
func (r *Report) Warn(format string, args ...any) { r.Add(SeverityWarn, format, args...) }

// Error records an error
func (r *Report) Error(format string, args ...any) { r.Add(SeverityError, format, args...) }

// Success records a success event
func (r *Report) Success(format string, args ...any) { r.Add(SeveritySuccess, format, args...) }

// SubmissionAttempted counts a recipe that was started
func (r *Report) SubmissionAttempted() {
	r.mu.Lock()
	r.counters.SubmissionsAttempted++
	r.mu.Unlock()
}

// SubmissionSucceeded counts a recipe whose submit step completed
func (r *Report) SubmissionSucceeded() {
	r.mu.Lock()
	r.counters.SubmissionsSucceeded++
	r.mu.Unlock()
}

// AddDownloaded counts promoted files
func (r *Report) AddDownloaded(n int) {
	r.mu.Lock()
	r.counters.FilesDownloaded += n
	r.mu.Unlock()
}

// AddConverted counts converted files
func (r *Report) AddConverted(n int) {
	r.mu.Lock()
	r.counters.FilesConverted += n
	r.mu.Unlock()
}

// SetExpected sets how many converted files a full success needs
func (r *Report) SetExpected(n int) {
	r.mu.Lock()
	r.expected = n
	r.mu.Unlock()
}

// Expected returns the value given to SetExpected
func (r *Report) Expected() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expected
}

// Counters returns a snapshot of the counters
func (r *Report) Counters() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters
}

// Events returns a copy of the events in order
func (r *Report) Events() []ReportEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ReportEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Status returns the final status, or "" before Finish
func (r *Report) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Path returns where WriteTo last wrote the report
func (r *Report) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Finish appends the terminal event for state and fixes the status. Only
// the first call has any effect; it reports whether it was that call.
func (r *Report) Finish(state State, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return false
	}

	sev := SeveritySuccess
	switch status {
	case StatusPartial, StatusCancelled:
		sev = SeverityWarn
	case StatusError:
		sev = SeverityError
	}
	r.appendLocked(sev, fmt.Sprintf("Workflow %s (status: %s)", terminalLabel(state), status))
	r.events[len(r.events)-1].Terminal = true
	r.status = status
	r.finished = true
	r.finishedAt = r.events[len(r.events)-1].Time
	return true
}

func terminalLabel(s State) string {
	switch s {
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	case StateCancelled:
		return "Cancelled"
	}
	return string(s)
}

// FileName is processing_report_<YYYYMMDD_HHMMSS>.txt for the finish time
func (r *Report) FileName() string {
	r.mu.Lock()
	t := r.finishedAt
	r.mu.Unlock()
	if t.IsZero() {
		t = r.now()
	}
	return "processing_report_" + t.Format("20060102_150405") + ".txt"
}

// WriteTo writes the report into dir and returns the file path. A report
// already on disk with the same name is kept; the new one gets a _n suffix.
func (r *Report) WriteTo(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	name, err := files.FreeName(dir, r.FileName())
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, r.render(), 0644); err != nil {
		return "", fmt.Errorf("failed to write processing report: %w", err)
	}
	r.mu.Lock()
	r.path = path
	r.mu.Unlock()
	return path, nil
}

func (r *Report) render() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	const stamp = "2006-01-02 15:04:05"
	var b bytes.Buffer
	rule := strings.Repeat("=", 72)

	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "MuniReports processing report")
	fmt.Fprintln(&b, rule)
	display := r.Display
	if display == "" {
		display = r.City
	}
	fmt.Fprintf(&b, "City:      %s (%s)\n", display, r.City)
	fmt.Fprintf(&b, "Year:      %d\n", r.Year)
	fmt.Fprintf(&b, "Started:   %s\n", r.startedAt.Format(stamp))
	if !r.finishedAt.IsZero() {
		fmt.Fprintf(&b, "Finished:  %s\n", r.finishedAt.Format(stamp))
		fmt.Fprintf(&b, "Duration:  %s\n", r.finishedAt.Sub(r.startedAt).Round(time.Second))
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Events")
	fmt.Fprintln(&b, strings.Repeat("-", 72))
	for _, e := range r.events {
		fmt.Fprintf(&b, "%s [%-7s] %s\n", e.Time.Format(stamp), strings.ToUpper(string(e.Severity)), e.Message)
	}
	fmt.Fprintln(&b)

	c := r.counters
	fmt.Fprintln(&b, "Summary")
	fmt.Fprintln(&b, strings.Repeat("-", 72))
	fmt.Fprintf(&b, "Submissions:  %d/%d\n", c.SubmissionsSucceeded, c.SubmissionsAttempted)
	fmt.Fprintf(&b, "Downloaded:   %d unique file(s)\n", c.FilesDownloaded)
	fmt.Fprintf(&b, "Conversions:  %d/%d\n", c.FilesConverted, r.expected)
	fmt.Fprintf(&b, "Errors:       %d\n", c.Errors)
	fmt.Fprintf(&b, "Warnings:     %d\n", c.Warnings)
	status := r.status
	if status == "" {
		status = "running"
	}
	fmt.Fprintf(&b, "Status:       %s\n", status)
	return b.Bytes()
}
