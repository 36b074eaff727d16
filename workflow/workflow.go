package workflow

import (
	"errors"
	"fmt"
)

// State is the job level state, independent of the firmware machine state.
type State string

var StateIdle State = "idle"
var StateRunning State = "running"
var StatePaused State = "paused"

var knownStates = map[State]bool{
	StateIdle:    true,
	StateRunning: true,
	StatePaused:  true,
}

func ParseState(s string) (State, error) {
	state := State(s)
	if !knownStates[state] {
		return StateIdle, fmt.Errorf("workflow: unknown state: %#v", s)
	}
	return state, nil
}

func (s State) String() string {
	return string(s)
}

// Action is a job lifecycle event.
type Action string

var ActionStart Action = "start"
var ActionPause Action = "pause"
var ActionResume Action = "resume"
var ActionStop Action = "stop"

var ErrInvalidTransition = errors.New("workflow: invalid transition")

var transitions = map[State]map[Action]State{
	StateIdle: {
		ActionStart: StateRunning,
	},
	StateRunning: {
		ActionPause: StatePaused,
		ActionStop:  StateIdle,
	},
	StatePaused: {
		ActionResume: StateRunning,
		ActionStop:   StateIdle,
	},
}

// Apply returns the state reached by applying action to s.
func (s State) Apply(action Action) (State, error) {
	next, ok := transitions[s][action]
	if !ok {
		return s, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, action, s)
	}
	return next, nil
}
