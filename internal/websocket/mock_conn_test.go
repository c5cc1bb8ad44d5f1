package websocket

import (
	"errors"
	"sync"
	"time"
)

var errClosed = errors.New("connection closed")

type frame struct {
	Type int
	Data []byte
}

// mockConn records writes and serves reads from a channel. ReadMessage
// blocks until a frame is queued or the connection is closed.
type mockConn struct {
	mu       sync.Mutex
	written  []frame
	closed   bool
	writeErr error
	limit    int64
	deadline time.Time

	reads  chan frame
	closeC chan struct{}
	once   sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{
		reads:  make(chan frame, 16),
		closeC: make(chan struct{}),
	}
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	m.written = append(m.written, frame{Type: messageType, Data: append([]byte(nil), data...)})
	return nil
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-m.reads:
		return f.Type, f.Data, nil
	case <-m.closeC:
		return 0, nil, errClosed
	}
}

func (m *mockConn) Close() error {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.closeC)
	})
	return nil
}

func (m *mockConn) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	m.deadline = t
	m.mu.Unlock()
	return nil
}

func (m *mockConn) SetWriteDeadline(time.Time) error { return nil }

func (m *mockConn) SetReadLimit(limit int64) {
	m.mu.Lock()
	m.limit = limit
	m.mu.Unlock()
}

func (m *mockConn) SetPongHandler(func(string) error) {}

func (m *mockConn) RemoteAddr() string { return "127.0.0.1:50000" }

func (m *mockConn) Written(messageType int) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]byte
	for _, f := range m.written {
		if f.Type == messageType {
			out = append(out, f.Data)
		}
	}
	return out
}

func (m *mockConn) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
