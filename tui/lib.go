package tui

import (
	"fmt"
	"strconv"

	"github.com/gdamore/tcell/v2"

	"github.com/fornellas/cnccon/firmware"
	"github.com/fornellas/cnccon/gate"
	iFmt "github.com/fornellas/cnccon/internal/fmt"
)

// Blank input is accepted: it clears the value.
func acceptUFloat(textToCheck string, lastChar rune) bool {
	if textToCheck == "" {
		return true
	}
	value, err := strconv.ParseFloat(textToCheck, 64)
	return err == nil && value >= 0
}

func acceptPercent(textToCheck string, lastChar rune) bool {
	if textToCheck == "" {
		return true
	}
	value, err := strconv.ParseFloat(textToCheck, 64)
	return err == nil && value >= 0 && value <= 100
}

func sprintNumber(number gate.Number, decimal uint) string {
	if !number.Valid {
		return ""
	}
	return iFmt.SprintFloat(number.Value, decimal)
}

func sprintBool(value bool) string {
	color := tcell.ColorGreen
	if !value {
		color = tcell.ColorRed
	}
	return fmt.Sprintf("[%s]%v[-]", color, value)
}

//gocyclo:ignore
func getMachineStateColor(state firmware.MachineState) tcell.Color {
	switch state {
	case firmware.GrblStateIdle, firmware.SmoothieStateIdle, firmware.TinyGStateReady:
		return tcell.ColorBlack
	case firmware.TinyGStateStop, firmware.TinyGStateEnd:
		return tcell.ColorDarkSlateGray
	case firmware.GrblStateRun, firmware.SmoothieStateRun, firmware.TinyGStateRun, firmware.TinyGStateCycle:
		return tcell.ColorGreen
	case firmware.GrblStateHold, firmware.SmoothieStateHold, firmware.TinyGStateHold:
		return tcell.ColorYellow
	case firmware.GrblStateJog, firmware.TinyGStateJog:
		return tcell.ColorDarkGreen
	case firmware.GrblStateAlarm, firmware.SmoothieStateAlarm, firmware.TinyGStateAlarm,
		firmware.TinyGStateShutdown, firmware.TinyGStatePanic:
		return tcell.ColorRed
	case firmware.GrblStateDoor, firmware.SmoothieStateDoor, firmware.TinyGStateInterlock:
		return tcell.ColorOrange
	case firmware.GrblStateCheck, firmware.SmoothieStateCheck:
		return tcell.ColorDarkCyan
	case firmware.GrblStateHome, firmware.SmoothieStateHome, firmware.TinyGStateHoming:
		return tcell.ColorLightGreen
	case firmware.GrblStateSleep:
		return tcell.ColorDarkBlue
	default:
		return tcell.ColorGray
	}
}
