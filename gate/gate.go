// Package gate decides whether a class of command can safely be issued given the current
// controller snapshot.
//
// A gate is a pure predicate: it holds no state and must be recomputed whenever its inputs may
// have changed, never cached.
package gate

import (
	"math"

	"github.com/fornellas/cnccon/controller"
	"github.com/fornellas/cnccon/firmware"
	"github.com/fornellas/cnccon/workflow"
)

// Number is a user supplied numeric input, which may be absent or malformed.
type Number struct {
	Value float64
	Valid bool
}

func NewNumber(value float64) Number {
	return Number{Value: value, Valid: true}
}

// WellFormed reports whether n holds a finite number.
func (n Number) WellFormed() bool {
	return n.Valid && !math.IsNaN(n.Value) && !math.IsInf(n.Value, 0)
}

// Policy gates a class of commands.
type Policy struct {
	Name string
	// ReadyStates returns the machine states, for the given firmware, in which commands of this
	// class can be issued.
	ReadyStates func(firmware.Type) []firmware.MachineState
}

// CanIssue reports whether a command of this class can be issued now. Checks short circuit in
// order: connection, firmware readiness, workflow, then the required numeric inputs. Any single
// failed check vetoes.
func (p Policy) CanIssue(snapshot controller.Snapshot, required ...Number) bool {
	if !snapshot.Connection.Connected() {
		return false
	}

	if !snapshot.Type.Known() || snapshot.State == nil || snapshot.State.Firmware() != snapshot.Type {
		return false
	}
	readyStates := firmware.ReadyStates
	if p.ReadyStates != nil {
		readyStates = p.ReadyStates
	}
	var ready bool
	for _, state := range readyStates(snapshot.Type) {
		if _, ok := state.(firmware.Unrecognized); ok {
			continue
		}
		if state == snapshot.State {
			ready = true
			break
		}
	}
	if !ready {
		return false
	}

	if snapshot.Workflow == workflow.StateRunning {
		return false
	}

	for _, n := range required {
		if !n.WellFormed() {
			return false
		}
	}

	return true
}

// LaserTest gates firing the laser for a test pulse.
var LaserTest = Policy{
	Name:        "lasertest",
	ReadyStates: firmware.ReadyStates,
}

// CanIssue is LaserTest.CanIssue.
func CanIssue(snapshot controller.Snapshot, required ...Number) bool {
	return LaserTest.CanIssue(snapshot, required...)
}
