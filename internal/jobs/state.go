package jobs

import (
	"fmt"
	"sync"

	"audiotext/internal/domain"
)

// stateMachine guards task state transitions.
type stateMachine struct {
	mu      sync.RWMutex
	current domain.TaskState
}

// newStateMachine creates a state machine in idle state.
func newStateMachine() *stateMachine {
	return &stateMachine{current: domain.TaskStateIdle}
}

// Current returns the current state.
func (m *stateMachine) Current() domain.TaskState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition validates and applies one state change.
func (m *stateMachine) Transition(to domain.TaskState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isValidTransition(m.current, to) {
		return fmt.Errorf("invalid transition: %s -> %s", m.current, to)
	}
	m.current = to
	return nil
}

// isValidTransition enforces the allowed task state machine edges.
// Terminal states have no outgoing edges; tasks are never reused.
func isValidTransition(from, to domain.TaskState) bool {
	switch from {
	case domain.TaskStateIdle:
		return to == domain.TaskStateRunning
	case domain.TaskStateRunning:
		return to == domain.TaskStateCompleted || to == domain.TaskStateFailed
	default:
		return false
	}
}
