package progress

import (
	"log/slog"
	"sync"
	"time"
)

// Sink fans events out to subscribers. Publish appends to an unbounded
// queue and returns immediately; one dispatcher goroutine delivers events
// to every subscriber in publish order.
type Sink struct {
	logger *slog.Logger

	mu     sync.Mutex
	queue  []Event
	subs   map[*subscriber]struct{}
	closed bool

	wake chan struct{}
	done chan struct{}
}

type subscriber struct {
	out  chan Event
	stop chan struct{}
	once sync.Once

	// mu serializes a send with closing out
	mu     sync.Mutex
	closed bool
}

// NewSink starts a sink and its dispatcher
func NewSink(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{
		logger: logger.With(slog.String("component", "progress.sink")),
		subs:   make(map[*subscriber]struct{}),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// Publish queues e. It never blocks; events published after Close are
// dropped.
func (s *Sink) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Subscribe registers a listener. Events published before the call are not
// replayed. The channel is closed by unsubscribe or by Close.
func (s *Sink) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	sub := &subscriber{
		out:  make(chan Event, buffer),
		stop: make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.shutdown()
		return sub.out, func() {}
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	return sub.out, func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		sub.shutdown()
	}
}

// Close delivers everything already queued, closes every subscriber
// channel and stops the dispatcher. It is safe to call more than once.
func (s *Sink) Close() {
	s.markClosed()
	<-s.done
}

// CloseWithin is Close with a bound on delivery. When subscribers have not
// taken the queue within timeout they are shut down and the rest of the
// queue is dropped. It reports whether everything was delivered.
func (s *Sink) CloseWithin(timeout time.Duration) bool {
	s.markClosed()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return true
	case <-timer.C:
	}

	s.mu.Lock()
	dropped := len(s.queue)
	s.mu.Unlock()
	s.logger.Warn("Subscribers did not drain in time",
		slog.Duration("timeout", timeout),
		slog.Int("queued", dropped))
	s.shutdownAll()
	<-s.done
	return false
}

func (s *Sink) markClosed() {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()

	if !already {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

func (s *Sink) dispatch() {
	defer close(s.done)
	for range s.wake {
		for {
			s.mu.Lock()
			batch := s.queue
			s.queue = nil
			closed := s.closed
			subs := make([]*subscriber, 0, len(s.subs))
			for sub := range s.subs {
				subs = append(subs, sub)
			}
			s.mu.Unlock()

			if len(batch) == 0 {
				if closed {
					s.shutdownAll()
					return
				}
				break
			}
			for _, e := range batch {
				for _, sub := range subs {
					sub.send(e)
				}
			}
		}
	}
}

func (s *Sink) shutdownAll() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[*subscriber]struct{})
	s.mu.Unlock()
	for sub := range subs {
		sub.shutdown()
	}
	s.logger.Debug("Progress sink closed", slog.Int("subscribers", len(subs)))
}

// send blocks until the subscriber takes e or unsubscribes
func (sub *subscriber) send(e Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	select {
	case sub.out <- e:
	case <-sub.stop:
	}
}

func (sub *subscriber) shutdown() {
	sub.once.Do(func() {
		close(sub.stop)
		sub.mu.Lock()
		sub.closed = true
		close(sub.out)
		sub.mu.Unlock()
	})
}
