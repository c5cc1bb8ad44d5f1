package websocket

import (
	"time"

	"munireports/internal/progress"
)

// Message types sent to the browser
const (
	TypeConnection       = "connection"
	TypeWorkflowStarted  = "workflow:started"
	TypeWorkflowProgress = "workflow:progress"
	TypeWorkflowFinished = "workflow:finished"
	TypeRunProgress      = "run:progress"
	TypeRunStatus        = "run:status"
)

// Message is the envelope of every frame the hub sends
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

var kindTypes = map[progress.Kind]string{
	progress.KindWorkflowStarted:  TypeWorkflowStarted,
	progress.KindWorkflowProgress: TypeWorkflowProgress,
	progress.KindWorkflowFinished: TypeWorkflowFinished,
	progress.KindRunProgress:      TypeRunProgress,
}

// EventMessage wraps a progress event. Unknown kinds keep their own name.
func EventMessage(e progress.Event) Message {
	typ, ok := kindTypes[e.Kind]
	if !ok {
		typ = string(e.Kind)
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return Message{Type: typ, Data: e, Timestamp: ts}
}
