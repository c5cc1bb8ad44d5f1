package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"munireports/internal/config"
	"munireports/internal/progress"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(testLogger(), nil)
	hub.Start()
	t.Cleanup(hub.Stop)
	return hub
}

func testOptions() ClientOptions {
	opts := DefaultClientOptions(config.WebSocketConfig{})
	opts.PingPeriod = time.Hour
	return opts
}

func decodeMessages(t *testing.T, frames [][]byte) []map[string]interface{} {
	t.Helper()
	out := make([]map[string]interface{}, 0, len(frames))
	for _, f := range frames {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

func waitForFrames(t *testing.T, conn *mockConn, n int) []map[string]interface{} {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(conn.Written(websocket.TextMessage)) >= n
	}, 2*time.Second, 5*time.Millisecond, "expected %d frame(s)", n)
	return decodeMessages(t, conn.Written(websocket.TextMessage))
}

func TestHubSendsConnectionMessage(t *testing.T) {
	hub := startHub(t)
	conn := newMockConn()
	client := NewClient(hub, conn, "trace-1", testOptions(), testLogger())
	require.True(t, client.Serve())

	msgs := waitForFrames(t, conn, 1)
	assert.Equal(t, TypeConnection, msgs[0]["type"])
	assert.Equal(t, "trace-1", msgs[0]["trace_id"])
	data := msgs[0]["data"].(map[string]interface{})
	assert.Equal(t, client.ID(), data["client_id"])
	assert.Equal(t, 1, hub.ClientCount())
}

func TestHubFollowsProgressSink(t *testing.T) {
	hub := startHub(t)
	conn := newMockConn()
	require.True(t, NewClient(hub, conn, "", testOptions(), testLogger()).Serve())
	waitForFrames(t, conn, 1)

	sink := progress.NewSink(testLogger())
	defer sink.Close()
	events, unsubscribe := sink.Subscribe(16)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Follow(ctx, events)

	sink.Publish(progress.Event{
		Kind:       progress.KindWorkflowProgress,
		RunID:      "run-1",
		City:       "congonhas",
		Year:       2025,
		State:      "harvesting_1",
		Percentage: 45,
	})
	sink.Publish(progress.Event{Kind: progress.KindRunProgress, RunID: "run-1", Percentage: 45})

	msgs := waitForFrames(t, conn, 3)
	assert.Equal(t, TypeWorkflowProgress, msgs[1]["type"])
	data := msgs[1]["data"].(map[string]interface{})
	assert.Equal(t, "congonhas", data["city"])
	assert.EqualValues(t, 2025, data["year"])
	assert.Equal(t, "harvesting_1", data["state"])
	assert.EqualValues(t, 45, data["percentage"])
	assert.Equal(t, TypeRunProgress, msgs[2]["type"])
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := startHub(t)
	opts := testOptions()
	opts.SendBuffer = 1
	// registered without pumps, so nothing drains its buffer
	client := NewClient(hub, newMockConn(), "", opts, testLogger())
	require.True(t, hub.Register(client))

	for i := 0; i < 3; i++ {
		hub.BroadcastEvent(progress.Event{Kind: progress.KindRunProgress, Percentage: i})
	}

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	for range client.send {
	}
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub := startHub(t)
	conn := newMockConn()
	require.True(t, NewClient(hub, conn, "", testOptions(), testLogger()).Serve())
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestClientHeartbeatIsAccepted(t *testing.T) {
	hub := startHub(t)
	conn := newMockConn()
	require.True(t, NewClient(hub, conn, "", testOptions(), testLogger()).Serve())
	waitForFrames(t, conn, 1)

	conn.reads <- frame{Type: websocket.TextMessage, Data: []byte(`{"type":"heartbeat"}` + "\n")}
	conn.reads <- frame{Type: websocket.TextMessage, Data: []byte(`{"type":"anything"}`)}

	hub.BroadcastMessage(Message{Type: TypeRunStatus, Data: map[string]string{"status": "running"}})
	msgs := waitForFrames(t, conn, 2)
	assert.Equal(t, TypeRunStatus, msgs[1]["type"])
	assert.Equal(t, 1, hub.ClientCount(), "client frames do not disconnect")
}

func TestHubStop(t *testing.T) {
	hub := NewHub(testLogger(), nil)
	hub.Start()
	conn := newMockConn()
	require.True(t, NewClient(hub, conn, "", testOptions(), testLogger()).Serve())
	waitForFrames(t, conn, 1)

	hub.Stop()
	hub.Stop()

	require.Eventually(t, conn.Closed, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, hub.ClientCount())
	assert.False(t, NewClient(hub, newMockConn(), "", testOptions(), testLogger()).Serve())

	done := make(chan struct{})
	go func() {
		hub.BroadcastEvent(progress.Event{Kind: progress.KindRunProgress})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked after Stop")
	}
}

func TestStopWithoutStart(t *testing.T) {
	hub := NewHub(testLogger(), nil)
	assert.NotPanics(t, hub.Stop)
}

func TestEventMessage(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		kind progress.Kind
		want string
	}{
		{progress.KindWorkflowStarted, TypeWorkflowStarted},
		{progress.KindWorkflowProgress, TypeWorkflowProgress},
		{progress.KindWorkflowFinished, TypeWorkflowFinished},
		{progress.KindRunProgress, TypeRunProgress},
		{progress.Kind("custom"), "custom"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			m := EventMessage(progress.Event{Kind: tt.kind, Timestamp: ts})
			assert.Equal(t, tt.want, m.Type)
			assert.Equal(t, ts, m.Timestamp)
		})
	}
	assert.False(t, EventMessage(progress.Event{}).Timestamp.IsZero())
}

func TestDefaultClientOptions(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.WebSocketConfig
		wantPong time.Duration
		wantPing time.Duration
	}{
		{"defaults", config.WebSocketConfig{}, config.WebSocketPongWait, config.WebSocketPongWait * 9 / 10},
		{"configured", config.WebSocketConfig{PingPeriod: 20 * time.Second, PongWait: 30 * time.Second}, 30 * time.Second, 20 * time.Second},
		{"ping not below pong", config.WebSocketConfig{PingPeriod: 40 * time.Second, PongWait: 30 * time.Second}, 30 * time.Second, 27 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultClientOptions(tt.cfg)
			assert.Equal(t, tt.wantPong, opts.PongWait)
			assert.Equal(t, tt.wantPing, opts.PingPeriod)
		})
	}
}
