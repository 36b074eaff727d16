package firmware

import (
	"fmt"
	"strconv"
	"strings"
)

////////////////////////////////////////////////////////////////////////////////////////////////////
// Grbl
////////////////////////////////////////////////////////////////////////////////////////////////////

type GrblState string

var GrblStateIdle GrblState = "Idle"
var GrblStateRun GrblState = "Run"
var GrblStateHold GrblState = "Hold"
var GrblStateJog GrblState = "Jog"
var GrblStateAlarm GrblState = "Alarm"
var GrblStateDoor GrblState = "Door"
var GrblStateCheck GrblState = "Check"
var GrblStateHome GrblState = "Home"
var GrblStateSleep GrblState = "Sleep"

var knownGrblStates = map[GrblState]bool{
	GrblStateIdle:  true,
	GrblStateRun:   true,
	GrblStateHold:  true,
	GrblStateJog:   true,
	GrblStateAlarm: true,
	GrblStateDoor:  true,
	GrblStateCheck: true,
	GrblStateHome:  true,
	GrblStateSleep: true,
}

func parseGrblState(raw string) (GrblState, bool) {
	// Grbl 1.1 appends sub states, eg: "Hold:0", "Door:1".
	name, _, _ := strings.Cut(raw, ":")
	s := GrblState(name)
	return s, knownGrblStates[s]
}

func (GrblState) Firmware() Type   { return TypeGrbl }
func (s GrblState) String() string { return string(s) }
func (GrblState) machineState()    {}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Smoothie
////////////////////////////////////////////////////////////////////////////////////////////////////

type SmoothieState string

var SmoothieStateIdle SmoothieState = "Idle"
var SmoothieStateRun SmoothieState = "Run"
var SmoothieStateHold SmoothieState = "Hold"
var SmoothieStateDoor SmoothieState = "Door"
var SmoothieStateHome SmoothieState = "Home"
var SmoothieStateAlarm SmoothieState = "Alarm"
var SmoothieStateCheck SmoothieState = "Check"

var knownSmoothieStates = map[SmoothieState]bool{
	SmoothieStateIdle:  true,
	SmoothieStateRun:   true,
	SmoothieStateHold:  true,
	SmoothieStateDoor:  true,
	SmoothieStateHome:  true,
	SmoothieStateAlarm: true,
	SmoothieStateCheck: true,
}

func parseSmoothieState(raw string) (SmoothieState, bool) {
	s := SmoothieState(raw)
	return s, knownSmoothieStates[s]
}

func (SmoothieState) Firmware() Type   { return TypeSmoothie }
func (s SmoothieState) String() string { return string(s) }
func (SmoothieState) machineState()    {}

////////////////////////////////////////////////////////////////////////////////////////////////////
// TinyG
////////////////////////////////////////////////////////////////////////////////////////////////////

// TinyGState is the machine state code TinyG reports in its status reports (sr.stat).
type TinyGState int

const (
	TinyGStateInitializing TinyGState = iota
	TinyGStateReady
	TinyGStateAlarm
	TinyGStateStop
	TinyGStateEnd
	TinyGStateRun
	TinyGStateHold
	TinyGStateProbe
	TinyGStateCycle
	TinyGStateHoming
	TinyGStateJog
	TinyGStateInterlock
	TinyGStateShutdown
	TinyGStatePanic
)

var tinyGStateNames = map[TinyGState]string{
	TinyGStateInitializing: "Initializing",
	TinyGStateReady:        "Ready",
	TinyGStateAlarm:        "Alarm",
	TinyGStateStop:         "Stop",
	TinyGStateEnd:          "End",
	TinyGStateRun:          "Run",
	TinyGStateHold:         "Hold",
	TinyGStateProbe:        "Probe",
	TinyGStateCycle:        "Cycle",
	TinyGStateHoming:       "Homing",
	TinyGStateJog:          "Jog",
	TinyGStateInterlock:    "Interlock",
	TinyGStateShutdown:     "Shutdown",
	TinyGStatePanic:        "Panic",
}

// Accepts either the numeric code or its name.
func parseTinyGState(raw string) (TinyGState, bool) {
	if code, err := strconv.Atoi(raw); err == nil {
		s := TinyGState(code)
		_, ok := tinyGStateNames[s]
		return s, ok
	}
	for s, name := range tinyGStateNames {
		if name == raw {
			return s, true
		}
	}
	return 0, false
}

func (TinyGState) Firmware() Type { return TypeTinyG }

func (s TinyGState) String() string {
	if name, ok := tinyGStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("TinyGState(%d)", int(s))
}

func (TinyGState) machineState() {}
