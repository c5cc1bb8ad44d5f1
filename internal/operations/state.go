package operations

import (
	"fmt"
	"sync"
	"time"
)

// State is a city-year workflow state
type State string

const (
	StateInitializing     State = "initializing"
	StateAuthenticating   State = "authenticating"
	StateSelectingContext State = "selecting_context"
	StateSubmittingBatch1 State = "submitting_batch_1"
	StateHarvesting1      State = "harvesting_1"
	StateSubmittingBatch2 State = "submitting_batch_2"
	StateHarvesting2      State = "harvesting_2"
	StateConverting       State = "converting"
	StateDone             State = "done"
	StateFailed           State = "failed"
	StateCancelled        State = "cancelled"
)

// happyPath is the only forward order a workflow may take
var happyPath = []State{
	StateInitializing,
	StateAuthenticating,
	StateSelectingContext,
	StateSubmittingBatch1,
	StateHarvesting1,
	StateSubmittingBatch2,
	StateHarvesting2,
	StateConverting,
	StateDone,
}

// stateProgress is the percentage reported on entering a state
var stateProgress = map[State]int{
	StateInitializing:     0,
	StateAuthenticating:   5,
	StateSelectingContext: 10,
	StateSubmittingBatch1: 15,
	StateHarvesting1:      40,
	StateSubmittingBatch2: 50,
	StateHarvesting2:      75,
	StateConverting:       90,
	StateDone:             100,
	StateFailed:           100,
	StateCancelled:        100,
}

// Terminal reports whether s is Done, Failed or Cancelled
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether s may move to next. The happy path is
// strictly linear; Failed and Cancelled are reachable from any
// non-terminal state.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed || next == StateCancelled {
		return true
	}
	for i, st := range happyPath {
		if st == s {
			return i+1 < len(happyPath) && happyPath[i+1] == next
		}
	}
	return false
}

// TransitionError is returned for an illegal state change
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal workflow transition %s -> %s", e.From, e.To)
}

// StateChange is one entry of the transition history
type StateChange struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// stateMachine guards the current state of one workflow
type stateMachine struct {
	mu      sync.RWMutex
	current State
	history []StateChange
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateInitializing}
}

// Transition moves to next or returns a *TransitionError
func (m *stateMachine) Transition(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current.CanTransition(next) {
		return &TransitionError{From: m.current, To: next}
	}
	m.history = append(m.history, StateChange{From: m.current, To: next, At: time.Now()})
	m.current = next
	return nil
}

// Current returns the current state
func (m *stateMachine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// History returns a copy of the transitions so far
func (m *stateMachine) History() []StateChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StateChange, len(m.history))
	copy(out, m.history)
	return out
}
