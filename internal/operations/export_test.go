package operations

// Test hooks for unexported helpers
var (
	MatchOption   = matchOption
	StateProgress = stateProgress
)

// NewStateMachine exposes the workflow state machine to tests
func NewStateMachine() interface {
	Transition(State) error
	Current() State
	History() []StateChange
} {
	return newStateMachine()
}
