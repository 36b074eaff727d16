package tui

import (
	"github.com/rivo/tview"
)

type LogsPrimitive struct {
	*tview.TextView
	app *tview.Application
}

func NewLogsPrimitive(app *tview.Application) *LogsPrimitive {
	lp := &LogsPrimitive{
		app: app,
	}

	logsTextView := tview.NewTextView()
	logsTextView.SetBorder(true)
	logsTextView.SetTitle("Logs")
	logsTextView.SetDynamicColors(true)
	logsTextView.SetScrollable(true)
	logsTextView.SetWrap(true)
	logsTextView.SetMaxLines(1000)
	logsTextView.SetChangedFunc(func() {
		logsTextView.ScrollToEnd()
		lp.app.Draw()
	})
	lp.TextView = logsTextView

	return lp
}
