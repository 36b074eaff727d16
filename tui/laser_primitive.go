package tui

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/fornellas/slogxt/log"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/fornellas/cnccon/firmware"
	iFmt "github.com/fornellas/cnccon/internal/fmt"
	"github.com/fornellas/cnccon/widget"
)

// LaserPrimitive renders a widget.Laser.
type LaserPrimitive struct {
	*tview.Flex
	app   *tview.Application
	laser *widget.Laser

	bodyFlex           *tview.Flex
	stateTextView      *tview.TextView
	statusTextView     *tview.TextView
	panelButton        *tview.Button
	testFlex           *tview.Flex
	powerInputField    *tview.InputField
	durationInputField *tview.InputField
	maxSInputField     *tview.InputField
	onButton           *tview.Button
	offButton          *tview.Button
}

func NewLaserPrimitive(
	ctx context.Context,
	app *tview.Application,
	laser *widget.Laser,
) *LaserPrimitive {
	lp := &LaserPrimitive{
		app:   app,
		laser: laser,
	}
	_, logger := log.MustWithGroup(ctx, "Laser")

	lp.stateTextView = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetWrap(true)
	lp.stateTextView.SetBorder(true).SetTitle("State")

	lp.statusTextView = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true)
	lp.statusTextView.SetBorder(true).SetTitle("Status")

	headerFlex := tview.NewFlex()
	headerFlex.SetDirection(tview.FlexColumn)
	headerFlex.AddItem(lp.stateTextView, 16, 0, false)
	headerFlex.AddItem(lp.statusTextView, 0, 1, false)

	lp.panelButton = tview.NewButton("Laser Test")
	lp.panelButton.SetSelectedFunc(laser.ToggleLaserTest)

	lp.testFlex = lp.newTestFlex(func(err error) {
		logger.Error("Laser test failed", "err", err)
	})

	lp.bodyFlex = tview.NewFlex()
	lp.bodyFlex.SetDirection(tview.FlexRow)
	lp.bodyFlex.AddItem(headerFlex, 7, 0, false)
	lp.bodyFlex.AddItem(lp.panelButton, 1, 0, false)
	lp.bodyFlex.AddItem(lp.testFlex, 5, 0, true)

	laserFlex := tview.NewFlex()
	laserFlex.SetBorder(true)
	laserFlex.SetDirection(tview.FlexRow)
	laserFlex.AddItem(lp.bodyFlex, 0, 1, true)
	lp.Flex = laserFlex

	lp.Refresh(laser.View())

	return lp
}

func (lp *LaserPrimitive) newTestFlex(errFn func(error)) *tview.Flex {
	view := lp.laser.View()

	lp.powerInputField = tview.NewInputField()
	lp.powerInputField.SetLabel("Power (%):")
	lp.powerInputField.SetText(sprintNumber(view.Test.Power, 0))
	lp.powerInputField.SetFieldWidth(5)
	lp.powerInputField.SetAcceptanceFunc(acceptPercent)
	lp.powerInputField.SetChangedFunc(func(text string) {
		power, err := strconv.ParseFloat(text, 64)
		if err != nil {
			power = 0
		}
		lp.laser.ChangePower(power)
	})

	lp.durationInputField = tview.NewInputField()
	lp.durationInputField.SetLabel("Duration (ms):")
	lp.durationInputField.SetText(sprintNumber(view.Test.Duration, 0))
	lp.durationInputField.SetFieldWidth(8)
	lp.durationInputField.SetAcceptanceFunc(acceptUFloat)
	lp.durationInputField.SetChangedFunc(lp.laser.ChangeDuration)

	lp.maxSInputField = tview.NewInputField()
	lp.maxSInputField.SetLabel("Max S:")
	lp.maxSInputField.SetText(sprintNumber(view.Test.MaxS, 2))
	lp.maxSInputField.SetFieldWidth(8)
	lp.maxSInputField.SetAcceptanceFunc(acceptUFloat)
	lp.maxSInputField.SetChangedFunc(lp.laser.ChangeMaxS)

	lp.onButton = tview.NewButton("Laser Test")
	lp.onButton.SetSelectedFunc(func() {
		if err := lp.laser.LaserTestOn(); err != nil {
			errFn(err)
		}
	})

	lp.offButton = tview.NewButton("Laser Off")
	lp.offButton.SetSelectedFunc(func() {
		if err := lp.laser.LaserTestOff(); err != nil {
			errFn(err)
		}
	})

	fieldsFlex := tview.NewFlex()
	fieldsFlex.SetDirection(tview.FlexColumn)
	fieldsFlex.AddItem(lp.powerInputField, 0, 1, true)
	fieldsFlex.AddItem(lp.durationInputField, 0, 1, false)
	fieldsFlex.AddItem(lp.maxSInputField, 0, 1, false)

	buttonsFlex := tview.NewFlex()
	buttonsFlex.SetDirection(tview.FlexColumn)
	buttonsFlex.AddItem(lp.onButton, 0, 1, false)
	buttonsFlex.AddItem(nil, 1, 0, false)
	buttonsFlex.AddItem(lp.offButton, 0, 1, false)

	testFlex := tview.NewFlex()
	testFlex.SetDirection(tview.FlexRow)
	testFlex.SetBorderPadding(1, 0, 1, 1)
	testFlex.AddItem(fieldsFlex, 1, 0, true)
	testFlex.AddItem(nil, 1, 0, false)
	testFlex.AddItem(buttonsFlex, 1, 0, false)
	return testFlex
}

func writeState(w io.Writer, view widget.LaserView) {
	snapshot := view.Controller
	if !snapshot.Connection.Connected() {
		fmt.Fprint(w, "Disconnected\n")
		return
	}
	if unrecognized, ok := snapshot.State.(firmware.Unrecognized); ok {
		if unrecognized.Raw == "" {
			fmt.Fprint(w, "Unknown\n")
		} else {
			fmt.Fprintf(w, "Unknown\n(%s)\n", tview.Escape(unrecognized.Raw))
		}
		return
	}
	fmt.Fprintf(w, "%s\n", tview.Escape(snapshot.State.String()))
}

func writeStatus(w io.Writer, view widget.LaserView) {
	snapshot := view.Controller
	ident := "-"
	if snapshot.Connection.Connected() {
		ident = snapshot.Connection.Ident
	}
	fmt.Fprintf(w, "Port: %s\n", tview.Escape(ident))
	fmt.Fprintf(w, "Firmware: %s\n", tview.Escape(snapshot.Type.String()))
	fmt.Fprintf(w, "Workflow: %s\n", tview.Escape(snapshot.Workflow.String()))
	test := view.Test
	if test.Power.Valid && test.Duration.Valid && test.MaxS.Valid {
		fmt.Fprintf(
			w, "Test: %s for %sms (S%s)\n",
			iFmt.SprintPercent(test.Power.Value),
			sprintNumber(test.Duration, 0),
			sprintNumber(test.MaxS, 2),
		)
	} else {
		fmt.Fprint(w, "Test: incomplete parameters\n")
	}
	fmt.Fprintf(w, "Laser test: %s", sprintBool(view.CanClick))
}

// Refresh updates all primitives to reflect view. It must be called from the application event
// loop.
func (lp *LaserPrimitive) Refresh(view widget.LaserView) {
	title := "Laser"
	if lp.laser.IsForked() {
		title += " (fork)"
	}
	if view.Minimized {
		title += " (minimized)"
	}
	lp.Flex.SetTitle(title)
	if view.Minimized {
		lp.Flex.ResizeItem(lp.bodyFlex, 0, 0)
	} else {
		lp.Flex.ResizeItem(lp.bodyFlex, 0, 1)
	}

	lp.stateTextView.Clear()
	if view.Controller.Connection.Connected() {
		lp.stateTextView.SetBackgroundColor(getMachineStateColor(view.Controller.State))
	} else {
		lp.stateTextView.SetBackgroundColor(tview.Styles.PrimitiveBackgroundColor)
	}
	writeState(lp.stateTextView, view)

	lp.statusTextView.Clear()
	writeStatus(lp.statusTextView, view)

	if view.Panel.LaserTest.Expanded {
		lp.panelButton.SetLabel("▼ Laser Test")
		lp.bodyFlex.ResizeItem(lp.testFlex, 5, 0)
	} else {
		lp.panelButton.SetLabel("▶ Laser Test")
		lp.bodyFlex.ResizeItem(lp.testFlex, 0, 0)
	}

	lp.onButton.SetDisabled(!view.CanClick)
	lp.offButton.SetDisabled(!view.Controller.Connection.Connected())
	if view.CanClick {
		lp.onButton.SetStyle(tcell.StyleDefault.Background(tcell.ColorDarkRed))
	} else {
		lp.onButton.SetStyle(tcell.StyleDefault.Background(tcell.ColorDarkGray))
	}
}
