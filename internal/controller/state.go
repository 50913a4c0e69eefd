package controller

import "fmt"

// State of a Controller.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTerminated
}

var transitions = map[State][]State{
	StateIdle:    {StateRunning},
	StateRunning: {StateCompleted, StateFailed, StateTerminated},
}

func validTransition(src, dst State) bool {
	for _, s := range transitions[src] {
		if s == dst {
			return true
		}
	}
	return false
}
