package controller

// Command is a named command with positional arguments, forwarded verbatim to the session server.
// Arguments are always explicit: there are no optional trailing arguments.
type Command interface {
	Name() string
	Args() []any
}

// LaserTestOn fires the laser at Power percent of MaxS for Duration milliseconds; a zero duration
// keeps it on until LaserTestOff.
type LaserTestOn struct {
	Power    float64
	Duration float64
	MaxS     float64
}

func (LaserTestOn) Name() string  { return "lasertest:on" }
func (c LaserTestOn) Args() []any { return []any{c.Power, c.Duration, c.MaxS} }

type LaserTestOff struct{}

func (LaserTestOff) Name() string { return "lasertest:off" }
func (LaserTestOff) Args() []any  { return []any{} }

// Gcode sends a single line of G-code.
type Gcode struct {
	Line string
}

func (Gcode) Name() string  { return "gcode" }
func (c Gcode) Args() []any { return []any{c.Line} }

// SimpleCommand is a command without arguments.
type SimpleCommand string

var CommandStart SimpleCommand = "gcode:start"
var CommandPause SimpleCommand = "gcode:pause"
var CommandResume SimpleCommand = "gcode:resume"
var CommandStop SimpleCommand = "gcode:stop"
var CommandFeedHold SimpleCommand = "feedhold"
var CommandCycleStart SimpleCommand = "cyclestart"
var CommandReset SimpleCommand = "reset"
var CommandUnlock SimpleCommand = "unlock"
var CommandHoming SimpleCommand = "homing"

func (c SimpleCommand) Name() string { return string(c) }
func (SimpleCommand) Args() []any    { return []any{} }
