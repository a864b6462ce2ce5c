// internal/agent/state.go
package agent

import (
	"sync"

	"go.uber.org/zap"
)

// State is a phase of the observe-think-act-reflect cycle.
type State string

const (
	StateObserving               State = "OBSERVING"
	StateReasoning               State = "REASONING"
	StateGoalAchieved            State = "GOAL_ACHIEVED"
	StateEscalatingNoAction      State = "ESCALATING_NO_ACTION"
	StateEscalatingLowConfidence State = "ESCALATING_LOW_CONFIDENCE"
	StateActing                  State = "ACTING"
	StateReflecting              State = "REFLECTING"
	StateFailed                  State = "FAILED"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateGoalAchieved || s == StateFailed
}

// stateMachine tracks the phase of a single run.
type stateMachine struct {
	mu      sync.Mutex
	current State
	logger  *zap.Logger
}

func newStateMachine(logger *zap.Logger) *stateMachine {
	return &stateMachine{current: StateObserving, logger: logger}
}

// transition moves to next. Terminal states cannot be exited.
func (m *stateMachine) transition(next State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == next {
		return true
	}
	if m.current.Terminal() {
		m.logger.Warn("Attempted to transition out of a terminal state. Ignoring.",
			zap.String("current_state", string(m.current)),
			zap.String("attempted_state", string(next)))
		return false
	}
	m.logger.Debug("Agent state transition", zap.String("from", string(m.current)), zap.String("to", string(next)))
	m.current = next
	return true
}

func (m *stateMachine) state() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
