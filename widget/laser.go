package widget

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/fornellas/slogxt/log"

	brokerMod "github.com/fornellas/cnccon/broker"
	"github.com/fornellas/cnccon/controller"
	"github.com/fornellas/cnccon/gate"
	"github.com/fornellas/cnccon/prefs"
)

var ErrMounted = errors.New("widget: already mounted")
var ErrUnavailable = errors.New("widget: action unavailable")

// Controller is what a widget needs from controller.Controller.
type Controller interface {
	Snapshot() controller.Snapshot
	OnConnectionOpen(name string, fn func(controller.ConnectionOpen)) *brokerMod.Subscription
	OnConnectionClose(name string, fn func(controller.ConnectionClose)) *brokerMod.Subscription
	OnSettings(name string, fn func(controller.SettingsChanged)) *brokerMod.Subscription
	OnState(name string, fn func(controller.StateChanged)) *brokerMod.Subscription
	OnWorkflow(name string, fn func(controller.WorkflowChanged)) *brokerMod.Subscription
	Dispatch(cmd controller.Command) error
}

type PanelState struct {
	Expanded bool
}

type Panels struct {
	LaserTest PanelState
}

// LaserTestParameters are the arguments to controller.LaserTestOn.
type LaserTestParameters struct {
	// Percent of MaxS.
	Power gate.Number
	// Milliseconds.
	Duration gate.Number
	// Spindle speed matching full laser power.
	MaxS gate.Number
}

// LaserState is the local state of a Laser widget.
type LaserState struct {
	Minimized  bool
	Fullscreen bool
	// Copy of the controller fields the widget renders and gates on.
	Controller controller.Snapshot
	Panel      Panels
	Test       LaserTestParameters
}

func (s LaserState) clone() LaserState {
	s.Controller = s.Controller.Clone()
	return s
}

// LaserView is what is rendered.
type LaserView struct {
	LaserState
	// Whether laser test can be fired now.
	CanClick bool
}

var defaultMaxS = 1000.0

var forkedIDRegexp = regexp.MustCompile(`\w+:[\w\-]+`)

// Laser binds the laser test widget to a controller.
type Laser struct {
	id         string
	controller Controller
	prefs      prefs.Store

	mu            sync.Mutex
	state         LaserState
	mounting      bool
	pending       []func(*LaserState)
	subscriptions []*brokerMod.Subscription
	stopAfterFunc func() bool
	changedFn     func()
}

// NewLaser creates an unmounted laser widget. Preferences are read from and written to store
// under the widget id namespace.
func NewLaser(id string, ctrl Controller, store prefs.Store) *Laser {
	l := &Laser{
		id:         id,
		controller: ctrl,
		prefs:      prefs.Namespace(store, id),
	}
	l.state = l.initialState(controller.InitialSnapshot())
	return l
}

// IsForked reports whether this widget is a fork of another widget (ie: its id is name:suffix).
func (l *Laser) IsForked() bool {
	return forkedIDRegexp.MatchString(l.id)
}

func (l *Laser) initialState(snapshot controller.Snapshot) LaserState {
	return LaserState{
		Minimized:  prefs.Bool(l.prefs, "minimized", false),
		Controller: snapshot,
		Panel: Panels{
			LaserTest: PanelState{
				Expanded: prefs.Bool(l.prefs, "panel.laserTest.expanded", true),
			},
		},
		Test: LaserTestParameters{
			Power:    gate.NewNumber(prefs.Float64(l.prefs, "test.power", 0)),
			Duration: gate.NewNumber(prefs.Float64(l.prefs, "test.duration", 0)),
			MaxS:     gate.NewNumber(prefs.Float64(l.prefs, "test.maxS", defaultMaxS)),
		},
	}
}

// SetChangedFunc sets a function called after every change to the local state, outside of any
// lock.
func (l *Laser) SetChangedFunc(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changedFn = fn
}

func (l *Laser) update(fn func(*LaserState)) {
	l.mu.Lock()
	if l.mounting {
		l.pending = append(l.pending, fn)
		l.mu.Unlock()
		return
	}
	fn(&l.state)
	changedFn := l.changedFn
	l.mu.Unlock()
	if changedFn != nil {
		changedFn()
	}
}

// persist writes user facing fields to the preference store; malformed test parameters are kept
// at their last well formed value.
func (l *Laser) persist() {
	l.mu.Lock()
	state := l.state
	l.mu.Unlock()

	l.prefs.Set("minimized", state.Minimized)
	l.prefs.Set("panel.laserTest.expanded", state.Panel.LaserTest.Expanded)
	if state.Test.Power.WellFormed() {
		l.prefs.Set("test.power", state.Test.Power.Value)
	}
	if state.Test.Duration.WellFormed() {
		l.prefs.Set("test.duration", state.Test.Duration.Value)
	}
	if state.Test.MaxS.WellFormed() {
		l.prefs.Set("test.maxS", state.Test.MaxS.Value)
	}
}

// Mount subscribes to controller events, and seeds the local state from preferences and the
// controller snapshot. Events delivered while mounting are replayed on top of the snapshot. The
// widget is unmounted when ctx is done, or when Unmount is called.
func (l *Laser) Mount(ctx context.Context) error {
	_, logger := log.MustWithAttrs(ctx, "widget", l.id)

	l.mu.Lock()
	if l.subscriptions != nil || l.mounting {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMounted, l.id)
	}
	l.mounting = true
	l.mu.Unlock()

	subscriptions := []*brokerMod.Subscription{
		l.controller.OnConnectionOpen(l.id, l.onConnectionOpen),
		l.controller.OnConnectionClose(l.id, l.onConnectionClose),
		l.controller.OnSettings(l.id, l.onSettings),
		l.controller.OnState(l.id, l.onState),
		l.controller.OnWorkflow(l.id, l.onWorkflow),
	}
	snapshot := l.controller.Snapshot()

	l.mu.Lock()
	l.state = l.initialState(snapshot)
	for _, fn := range l.pending {
		fn(&l.state)
	}
	l.pending = nil
	l.mounting = false
	l.subscriptions = subscriptions
	l.stopAfterFunc = context.AfterFunc(ctx, l.Unmount)
	changedFn := l.changedFn
	l.mu.Unlock()

	logger.Debug("Mounted")
	if changedFn != nil {
		changedFn()
	}
	return nil
}

// Unmount unsubscribes from all controller events. It is idempotent.
func (l *Laser) Unmount() {
	l.mu.Lock()
	subscriptions := l.subscriptions
	l.subscriptions = nil
	if l.stopAfterFunc != nil {
		l.stopAfterFunc()
		l.stopAfterFunc = nil
	}
	l.mu.Unlock()

	for _, subscription := range subscriptions {
		subscription.Unsubscribe()
	}
}

func (l *Laser) Mounted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subscriptions != nil
}

func (l *Laser) onConnectionOpen(e controller.ConnectionOpen) {
	l.update(func(s *LaserState) {
		s.Controller.Connection = controller.Connection{
			Ident:   e.Connection.Ident,
			Options: bytes.Clone(e.Connection.Options),
		}
	})
}

func (l *Laser) onConnectionClose(controller.ConnectionClose) {
	initialState := l.initialState(controller.InitialSnapshot())
	l.update(func(s *LaserState) {
		*s = initialState
	})
}

func (l *Laser) onSettings(e controller.SettingsChanged) {
	l.update(func(s *LaserState) {
		s.Controller.Type = e.Type
		s.Controller.Settings = bytes.Clone(e.Settings)
	})
}

func (l *Laser) onState(e controller.StateChanged) {
	l.update(func(s *LaserState) {
		s.Controller.Type = e.Type
		s.Controller.State = e.State
		s.Controller.StateData = bytes.Clone(e.StateData)
	})
}

func (l *Laser) onWorkflow(e controller.WorkflowChanged) {
	l.update(func(s *LaserState) {
		s.Controller.Workflow = e.State
	})
}

func canClick(s LaserState) bool {
	return gate.LaserTest.CanIssue(s.Controller, s.Test.Power, s.Test.Duration, s.Test.MaxS)
}

// View returns a copy of the local state, with CanClick freshly computed from it.
func (l *Laser) View() LaserView {
	l.mu.Lock()
	state := l.state.clone()
	l.mu.Unlock()
	return LaserView{
		LaserState: state,
		CanClick:   canClick(state),
	}
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Actions
////////////////////////////////////////////////////////////////////////////////////////////////////

func (l *Laser) Collapse() {
	l.update(func(s *LaserState) { s.Minimized = true })
	l.persist()
}

func (l *Laser) Expand() {
	l.update(func(s *LaserState) { s.Minimized = false })
	l.persist()
}

func (l *Laser) ToggleMinimized() {
	l.update(func(s *LaserState) { s.Minimized = !s.Minimized })
	l.persist()
}

func (l *Laser) ToggleFullscreen() {
	l.update(func(s *LaserState) {
		if !s.Fullscreen {
			s.Minimized = false
		}
		s.Fullscreen = !s.Fullscreen
	})
	l.persist()
}

func (l *Laser) ToggleLaserTest() {
	l.update(func(s *LaserState) { s.Panel.LaserTest.Expanded = !s.Panel.LaserTest.Expanded })
	l.persist()
}

// ChangePower sets the test power; non finite values become 0.
func (l *Laser) ChangePower(power float64) {
	if math.IsNaN(power) || math.IsInf(power, 0) {
		power = 0
	}
	l.update(func(s *LaserState) { s.Test.Power = gate.NewNumber(power) })
	l.persist()
}

// parsePositiveNumber parses user input: blank input is absent, anything else is clamped to a
// non negative number, with unparsable input becoming 0.
func parsePositiveNumber(text string) gate.Number {
	text = strings.TrimSpace(text)
	if text == "" {
		return gate.Number{}
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(value) || value < 0 {
		value = 0
	}
	if math.IsInf(value, 1) {
		value = math.MaxFloat64
	}
	return gate.NewNumber(value)
}

func (l *Laser) ChangeDuration(text string) {
	duration := parsePositiveNumber(text)
	l.update(func(s *LaserState) { s.Test.Duration = duration })
	l.persist()
}

func (l *Laser) ChangeMaxS(text string) {
	maxS := parsePositiveNumber(text)
	l.update(func(s *LaserState) { s.Test.MaxS = maxS })
	l.persist()
}

// LaserTestOn fires the laser with the current test parameters. It fails with ErrUnavailable
// when CanClick is false.
func (l *Laser) LaserTestOn() error {
	view := l.View()
	if !view.CanClick {
		return fmt.Errorf("%w: laser test on", ErrUnavailable)
	}
	return l.controller.Dispatch(controller.LaserTestOn{
		Power:    view.Test.Power.Value,
		Duration: view.Test.Duration.Value,
		MaxS:     view.Test.MaxS.Value,
	})
}

// LaserTestOff turns the laser off. It is not gated: turning the laser off is always safe, only
// requiring a connection.
func (l *Laser) LaserTestOff() error {
	return l.controller.Dispatch(controller.LaserTestOff{})
}
