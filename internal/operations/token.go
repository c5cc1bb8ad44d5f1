package operations

import (
	"context"
	"sync"
	"time"
)

// Token is the run-wide cancellation signal shared by every worker. It can
// be tripped once and never reset.
type Token struct {
	once sync.Once
	ch   chan struct{}
}

// NewToken returns an untripped token
func NewToken() *Token {
	return &Token{ch: make(chan struct{})}
}

// Trip cancels the run. Later calls do nothing.
func (t *Token) Trip() {
	t.once.Do(func() { close(t.ch) })
}

// Tripped reports whether Trip has been called
func (t *Token) Tripped() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// Done is closed when the token trips
func (t *Token) Done() <-chan struct{} {
	return t.ch
}

// Sleep waits for d and reports whether it elapsed before a trip
func (t *Token) Sleep(d time.Duration) bool {
	if d <= 0 {
		return !t.Tripped()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return !t.Tripped()
	case <-t.ch:
		return false
	}
}

// Context returns a child of parent that is also cancelled when the token
// trips. The returned cancel must be called to release the watcher.
func (t *Token) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-t.ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// sleepCtx waits for d unless ctx ends first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return ctx.Err() == nil
	case <-ctx.Done():
		return false
	}
}
