package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"munireports/internal/progress"
)

// FakeCodec "converts" by copying the source bytes. Names listed in Fail
// return an error instead.
type FakeCodec struct {
	Fail map[string]bool

	mu    sync.Mutex
	calls []string
}

// Convert implements files.Codec
func (c *FakeCodec) Convert(src, dst string) error {
	name := filepath.Base(src)
	c.mu.Lock()
	c.calls = append(c.calls, name)
	fail := c.Fail[name]
	c.mu.Unlock()

	if fail {
		return fmt.Errorf("corrupt workbook %s", name)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

// Calls returns the source names converted so far
func (c *FakeCodec) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// EventRecorder is a progress publisher that keeps every event. OnEvent,
// when set, runs synchronously for each one.
type EventRecorder struct {
	OnEvent func(progress.Event)

	mu     sync.Mutex
	events []progress.Event
}

// Publish implements progress.Publisher
func (r *EventRecorder) Publish(e progress.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	hook := r.OnEvent
	r.mu.Unlock()
	if hook != nil {
		hook(e)
	}
}

// Events returns a copy of the recorded events
func (r *EventRecorder) Events() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

// OfKind returns the recorded events of one kind
func (r *EventRecorder) OfKind(kind progress.Kind) []progress.Event {
	var out []progress.Event
	for _, e := range r.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// MockSlogHandler captures log records for assertions
type MockSlogHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

// NewMockSlogHandler creates a new mock slog handler
func NewMockSlogHandler() *MockSlogHandler {
	return &MockSlogHandler{}
}

func (h *MockSlogHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *MockSlogHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

// WithAttrs and WithGroup share the record store with the parent
func (h *MockSlogHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *MockSlogHandler) WithGroup(string) slog.Handler { return h }

// Messages returns the messages logged at level
func (h *MockSlogHandler) Messages(level slog.Level) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, r := range h.records {
		if r.Level == level {
			out = append(out, r.Message)
		}
	}
	return out
}
