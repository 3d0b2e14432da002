package fallback

// WriteState tracks a store() call through the retry-then-degrade flow.
// Modelling it explicitly keeps the failure path testable without a real
// database outage.
type WriteState int

const (
	StateAttempting WriteState = iota
	StateRetrying
	StateDegraded
	StateReconciled
)

func (s WriteState) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateRetrying:
		return "retrying"
	case StateDegraded:
		return "degraded"
	case StateReconciled:
		return "reconciled"
	default:
		return "unknown"
	}
}

// WriteMachine walks Attempting → Retrying → Degraded → Reconciled. Fail
// advances past Attempting and Retrying; a write that fails twice is
// degraded and goes to the spool.
type WriteMachine struct {
	state WriteState
}

func NewWriteMachine() *WriteMachine {
	return &WriteMachine{state: StateAttempting}
}

func (m *WriteMachine) State() WriteState {
	return m.state
}

// Fail records a failed attempt and returns the new state.
func (m *WriteMachine) Fail() WriteState {
	switch m.state {
	case StateAttempting:
		m.state = StateRetrying
	case StateRetrying:
		m.state = StateDegraded
	}
	return m.state
}

// Degraded reports whether the write exhausted its retries.
func (m *WriteMachine) Degraded() bool {
	return m.state == StateDegraded
}

// Reconcile marks a degraded write as drained back into the primary store.
func (m *WriteMachine) Reconcile() {
	if m.state == StateDegraded {
		m.state = StateReconciled
	}
}
