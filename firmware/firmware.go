package firmware

import (
	"fmt"
	"slices"
)

// Type identifies the firmware running on the machine controller.
type Type string

var TypeGrbl Type = "Grbl"
var TypeSmoothie Type = "Smoothie"
var TypeTinyG Type = "TinyG"
var TypeUnknown Type = ""

var knownTypes = map[Type]bool{
	TypeGrbl:     true,
	TypeSmoothie: true,
	TypeTinyG:    true,
}

// Types returns all known firmware types.
func Types() []Type {
	return []Type{TypeGrbl, TypeSmoothie, TypeTinyG}
}

// ParseType parses the firmware name as reported by the session server.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !knownTypes[t] {
		return TypeUnknown, fmt.Errorf("firmware: unknown type: %#v", s)
	}
	return t, nil
}

func (t Type) Known() bool {
	return knownTypes[t]
}

func (t Type) String() string {
	if t == TypeUnknown {
		return "Unknown"
	}
	return string(t)
}

// MachineState is the machine state reported by a specific firmware. The set of implementations
// is closed: GrblState, SmoothieState, TinyGState and Unrecognized.
type MachineState interface {
	// Firmware which defines this state.
	Firmware() Type
	String() string
	machineState()
}

// Unrecognized is a machine state that could not be mapped to its firmware vocabulary, either
// because the firmware type is unknown or because the firmware reported a state name this
// package does not know about. It is never ready.
type Unrecognized struct {
	FirmwareType Type
	Raw          string
}

func (u Unrecognized) Firmware() Type { return u.FirmwareType }

func (u Unrecognized) String() string {
	if u.Raw == "" {
		return "Unknown"
	}
	return fmt.Sprintf("Unrecognized (%s)", u.Raw)
}

func (Unrecognized) machineState() {}

// ParseMachineState maps a raw state reported by the given firmware to its MachineState.
// It never fails: anything it can't map yields Unrecognized.
func ParseMachineState(t Type, raw string) MachineState {
	switch t {
	case TypeGrbl:
		if s, ok := parseGrblState(raw); ok {
			return s
		}
	case TypeSmoothie:
		if s, ok := parseSmoothieState(raw); ok {
			return s
		}
	case TypeTinyG:
		if s, ok := parseTinyGState(raw); ok {
			return s
		}
	}
	return Unrecognized{FirmwareType: t, Raw: raw}
}

var readyStates = map[Type][]MachineState{
	TypeGrbl: {
		GrblStateIdle,
		GrblStateRun,
	},
	TypeSmoothie: {
		SmoothieStateIdle,
		SmoothieStateRun,
	},
	TypeTinyG: {
		TinyGStateReady,
		TinyGStateStop,
		TinyGStateEnd,
		TinyGStateRun,
	},
}

// ReadyStates returns the states of the given firmware in which ancillary commands (eg: laser
// test) can be issued without colliding with motion. Unknown firmware has no ready states.
func ReadyStates(t Type) []MachineState {
	return slices.Clone(readyStates[t])
}

// IsReady reports whether state is one of ReadyStates(t). A state defined by a different firmware
// than t is never ready.
func IsReady(t Type, state MachineState) bool {
	if state == nil || state.Firmware() != t {
		return false
	}
	return slices.Contains(readyStates[t], state)
}
