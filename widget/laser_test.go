package widget

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/fornellas/slogxt/log"
	"github.com/stretchr/testify/require"

	"github.com/fornellas/cnccon/controller"
	"github.com/fornellas/cnccon/firmware"
	"github.com/fornellas/cnccon/gate"
	"github.com/fornellas/cnccon/prefs"
	"github.com/fornellas/cnccon/workflow"
)

func testContext(t *testing.T) context.Context {
	return log.WithLogger(t.Context(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type recordingTransport struct {
	mu   sync.Mutex
	cmds []controller.Command
}

func (r *recordingTransport) Send(ctx context.Context, ident string, cmd controller.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return nil
}

func (r *recordingTransport) Commands() []controller.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]controller.Command{}, r.cmds...)
}

type fixture struct {
	ctx        context.Context
	transport  *recordingTransport
	controller *controller.Controller
	store      *prefs.Viper
}

func newFixture(t *testing.T) *fixture {
	ctx := testContext(t)
	transport := &recordingTransport{}
	store, err := prefs.NewViper("")
	require.NoError(t, err)
	return &fixture{
		ctx:        ctx,
		transport:  transport,
		controller: controller.NewController(transport, nil),
		store:      store,
	}
}

func (f *fixture) apply(name controller.EventName, args ...string) {
	event := controller.RawEvent{Name: name}
	for _, arg := range args {
		event.Args = append(event.Args, json.RawMessage(arg))
	}
	f.controller.Apply(f.ctx, event)
}

func (f *fixture) connectGrbl(state string) {
	f.apply(controller.EventConnectionOpen, `{"ident":"dev1"}`)
	f.apply(controller.EventControllerSettings, `"Grbl"`, `{"version":"1.1h"}`)
	f.apply(controller.EventControllerState, `"Grbl"`, `{"status":{"activeState":"`+state+`"}}`)
}

func (f *fixture) mount(t *testing.T, id string) *Laser {
	l := NewLaser(id, f.controller, f.store)
	require.NoError(t, l.Mount(f.ctx))
	t.Cleanup(l.Unmount)
	return l
}

func TestLaserInitialState(t *testing.T) {
	f := newFixture(t)
	l := f.mount(t, "laser")

	view := l.View()
	require.False(t, view.CanClick)
	require.False(t, view.Minimized)
	require.False(t, view.Fullscreen)
	require.True(t, view.Panel.LaserTest.Expanded)
	require.Equal(t, LaserTestParameters{
		Power:    gate.NewNumber(0),
		Duration: gate.NewNumber(0),
		MaxS:     gate.NewNumber(1000),
	}, view.Test)
	require.Equal(t, controller.InitialSnapshot(), view.Controller)
}

func TestLaserMountSeedsFromSnapshotAndPreferences(t *testing.T) {
	f := newFixture(t)
	f.connectGrbl("Idle")
	ns := prefs.Namespace(f.store, "laser")
	ns.Set("minimized", true)
	ns.Set("test.power", 10)
	ns.Set("test.duration", 500)
	ns.Set("test.maxS", 1000)

	l := f.mount(t, "laser")
	view := l.View()
	require.True(t, view.Minimized)
	require.Equal(t, firmware.TypeGrbl, view.Controller.Type)
	require.Equal(t, firmware.MachineState(firmware.GrblStateIdle), view.Controller.State)
	require.Equal(t, "dev1", view.Controller.Connection.Ident)
	require.Equal(t, gate.NewNumber(10), view.Test.Power)
	require.True(t, view.CanClick)
}

func TestLaserScenarioA(t *testing.T) {
	f := newFixture(t)
	l := f.mount(t, "laser")

	f.connectGrbl("Idle")
	l.ChangePower(10)
	l.ChangeDuration("500")
	l.ChangeMaxS("1000")

	view := l.View()
	require.True(t, view.CanClick)

	require.NoError(t, l.LaserTestOn())
	require.NoError(t, l.LaserTestOff())

	workerCtx, cancel := context.WithCancel(f.ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- f.controller.CommandWorker(workerCtx) }()
	require.Eventually(t, func() bool { return len(f.transport.Commands()) == 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	require.Equal(t, []controller.Command{
		controller.LaserTestOn{Power: 10, Duration: 500, MaxS: 1000},
		controller.LaserTestOff{},
	}, f.transport.Commands())
}

func TestLaserScenarioBWorkflowRunning(t *testing.T) {
	f := newFixture(t)
	l := f.mount(t, "laser")
	f.connectGrbl("Idle")
	l.ChangePower(10)
	l.ChangeDuration("500")
	require.True(t, l.View().CanClick)

	f.apply(controller.EventWorkflowState, `"running"`)
	require.False(t, l.View().CanClick)
	require.ErrorIs(t, l.LaserTestOn(), ErrUnavailable)

	f.apply(controller.EventWorkflowState, `"paused"`)
	require.True(t, l.View().CanClick)
}

func TestLaserScenarioCTinyG(t *testing.T) {
	f := newFixture(t)
	l := f.mount(t, "laser")
	f.apply(controller.EventConnectionOpen, `{"ident":"dev1"}`)
	f.apply(controller.EventControllerState, `"TinyG"`, `{"sr":{"machineState":3}}`)

	view := l.View()
	require.Equal(t, firmware.MachineState(firmware.TinyGStateStop), view.Controller.State)
	require.True(t, view.CanClick)
}

func TestLaserScenarioEGrblHold(t *testing.T) {
	f := newFixture(t)
	l := f.mount(t, "laser")
	f.connectGrbl("Hold:0")
	require.False(t, l.View().CanClick)
	require.ErrorIs(t, l.LaserTestOn(), ErrUnavailable)
}

func TestLaserScenarioFConnectionClose(t *testing.T) {
	f := newFixture(t)
	l := f.mount(t, "laser")
	f.connectGrbl("Run")
	l.ChangePower(50)
	require.True(t, l.View().CanClick)

	f.apply(controller.EventConnectionClose)

	view := l.View()
	require.False(t, view.CanClick)
	require.Equal(t, firmware.MachineState(firmware.Unrecognized{}), view.Controller.State)
	require.Equal(t, firmware.TypeUnknown, view.Controller.Type)
	require.Empty(t, view.Controller.Connection.Ident)

	// Same as a fresh mount with no prior connection.
	fresh := NewLaser("laser", controller.NewController(&recordingTransport{}, nil), f.store)
	require.NoError(t, fresh.Mount(f.ctx))
	defer fresh.Unmount()
	require.Equal(t, fresh.View(), view)
	require.Equal(t, gate.NewNumber(50), view.Test.Power)
}

func TestLaserPartialUpdates(t *testing.T) {
	f := newFixture(t)
	l := f.mount(t, "laser")
	f.connectGrbl("Idle")

	f.apply(controller.EventControllerSettings, `"Grbl"`, `{"version":"1.1f"}`)
	view := l.View()
	require.JSONEq(t, `{"version":"1.1f"}`, string(view.Controller.Settings))
	require.Equal(t, firmware.MachineState(firmware.GrblStateIdle), view.Controller.State)

	f.apply(controller.EventControllerState, `"Grbl"`, `{"status":{"activeState":"Alarm"}}`)
	view = l.View()
	require.JSONEq(t, `{"version":"1.1f"}`, string(view.Controller.Settings))
	require.Equal(t, firmware.MachineState(firmware.GrblStateAlarm), view.Controller.State)
	require.Equal(t, "dev1", view.Controller.Connection.Ident)
}

func TestLaserUnmount(t *testing.T) {
	f := newFixture(t)
	l := NewLaser("laser", f.controller, f.store)
	require.NoError(t, l.Mount(f.ctx))
	require.True(t, l.Mounted())
	require.ErrorIs(t, l.Mount(f.ctx), ErrMounted)

	events := []controller.EventName{
		controller.EventConnectionOpen,
		controller.EventConnectionClose,
		controller.EventControllerSettings,
		controller.EventControllerState,
		controller.EventWorkflowState,
	}
	for _, event := range events {
		require.Equal(t, 1, f.controller.SubscriberCount(event), event)
	}

	l.Unmount()
	l.Unmount()
	require.False(t, l.Mounted())
	for _, event := range events {
		require.Equal(t, 0, f.controller.SubscriberCount(event), event)
	}

	f.connectGrbl("Idle")
	require.Empty(t, l.View().Controller.Connection.Ident)

	// Remount.
	require.NoError(t, l.Mount(f.ctx))
	require.Equal(t, "dev1", l.View().Controller.Connection.Ident)
	l.Unmount()
}

func TestLaserUnmountOnContextDone(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(f.ctx)
	l := NewLaser("laser", f.controller, f.store)
	require.NoError(t, l.Mount(ctx))
	cancel()
	require.Eventually(t, func() bool {
		return f.controller.SubscriberCount(controller.EventControllerState) == 0
	}, time.Second, time.Millisecond)
	require.False(t, l.Mounted())
}

func TestLaserIndependentCopies(t *testing.T) {
	f := newFixture(t)
	a := f.mount(t, "laser")
	b := f.mount(t, "laser:fork")
	f.connectGrbl("Idle")

	viewA := a.View()
	viewA.Controller.Settings[0] = 'X'
	require.Equal(t, byte('{'), b.View().Controller.Settings[0])
	require.Equal(t, byte('{'), a.View().Controller.Settings[0])
	require.Equal(t, byte('{'), f.controller.Snapshot().Settings[0])
}

func TestLaserTestParameters(t *testing.T) {
	f := newFixture(t)
	l := f.mount(t, "laser")
	f.connectGrbl("Idle")
	l.ChangeDuration("250")
	require.True(t, l.View().CanClick)

	l.ChangeDuration("  ")
	view := l.View()
	require.Equal(t, gate.Number{}, view.Test.Duration)
	require.False(t, view.CanClick)
	// Blank values are not persisted.
	require.Equal(t, 250.0, prefs.Float64(prefs.Namespace(f.store, "laser"), "test.duration", 0))

	testCases := []struct {
		input    string
		expected gate.Number
	}{
		{"12.5", gate.NewNumber(12.5)},
		{"-3", gate.NewNumber(0)},
		{"abc", gate.NewNumber(0)},
		{"NaN", gate.NewNumber(0)},
		{"", gate.Number{}},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			l.ChangeMaxS(tc.input)
			require.Equal(t, tc.expected, l.View().Test.MaxS)
		})
	}
}

func TestLaserPanelToggles(t *testing.T) {
	f := newFixture(t)
	l := f.mount(t, "laser")

	var changes int
	l.SetChangedFunc(func() { changes++ })

	l.ToggleLaserTest()
	require.False(t, l.View().Panel.LaserTest.Expanded)
	l.Collapse()
	require.True(t, l.View().Minimized)
	l.ToggleFullscreen()
	require.True(t, l.View().Fullscreen)
	require.False(t, l.View().Minimized)
	l.ToggleFullscreen()
	require.False(t, l.View().Fullscreen)
	l.ToggleMinimized()
	require.True(t, l.View().Minimized)
	l.Expand()
	require.False(t, l.View().Minimized)
	require.Equal(t, 6, changes)

	ns := prefs.Namespace(f.store, "laser")
	require.False(t, prefs.Bool(ns, "panel.laserTest.expanded", true))
	require.False(t, prefs.Bool(ns, "minimized", true))
}

func TestLaserChangePowerNonFinite(t *testing.T) {
	f := newFixture(t)
	l := f.mount(t, "laser")
	l.ChangePower(70)
	l.ChangePower(math.NaN())
	require.Equal(t, gate.NewNumber(0), l.View().Test.Power)
	l.ChangePower(70)
	l.ChangePower(math.Inf(1))
	require.Equal(t, gate.NewNumber(0), l.View().Test.Power)
}

func TestLaserTestOffNotConnected(t *testing.T) {
	f := newFixture(t)
	l := f.mount(t, "laser")
	require.ErrorIs(t, l.LaserTestOff(), controller.ErrNotConnected)
}

func TestLaserIsForked(t *testing.T) {
	f := newFixture(t)
	require.False(t, NewLaser("laser", f.controller, f.store).IsForked())
	require.True(t, NewLaser("laser:0c2a-41e1", f.controller, f.store).IsForked())
}

func TestLaserWorkflowCached(t *testing.T) {
	f := newFixture(t)
	l := f.mount(t, "laser")
	f.connectGrbl("Idle")
	f.apply(controller.EventWorkflowState, `"running"`)
	require.Equal(t, workflow.StateRunning, l.View().Controller.Workflow)
}

// racingController applies event right after the snapshot is taken, as EventWorker may do while a
// widget mounts.
type racingController struct {
	*controller.Controller
	ctx   context.Context
	event controller.RawEvent
	once  sync.Once
}

func (r *racingController) Snapshot() controller.Snapshot {
	snapshot := r.Controller.Snapshot()
	r.once.Do(func() { r.Controller.Apply(r.ctx, r.event) })
	return snapshot
}

func TestLaserMountEventDuringSnapshot(t *testing.T) {
	t.Run("connection:close", func(t *testing.T) {
		f := newFixture(t)
		f.connectGrbl("Idle")
		ctrl := &racingController{
			Controller: f.controller,
			ctx:        f.ctx,
			event:      controller.RawEvent{Name: controller.EventConnectionClose},
		}
		l := NewLaser("laser", ctrl, f.store)
		l.ChangePower(10)
		l.ChangeDuration("500")
		require.NoError(t, l.Mount(f.ctx))
		defer l.Unmount()

		require.False(t, f.controller.Snapshot().Connection.Connected())
		view := l.View()
		require.False(t, view.Controller.Connection.Connected())
		require.Equal(t, firmware.TypeUnknown, view.Controller.Type)
		require.False(t, view.CanClick)
	})

	t.Run("connection:open", func(t *testing.T) {
		f := newFixture(t)
		ctrl := &racingController{
			Controller: f.controller,
			ctx:        f.ctx,
			event: controller.RawEvent{
				Name: controller.EventConnectionOpen,
				Args: []json.RawMessage{json.RawMessage(`{"ident":"dev1"}`)},
			},
		}
		l := NewLaser("laser", ctrl, f.store)
		require.NoError(t, l.Mount(f.ctx))
		defer l.Unmount()

		require.Equal(t, "dev1", l.View().Controller.Connection.Ident)
		f.apply(controller.EventControllerState, `"Grbl"`, `{"status":{"activeState":"Idle"}}`)
		l.ChangePower(10)
		l.ChangeDuration("500")
		require.True(t, l.View().CanClick)
	})
}

func TestLaserConnectionReplaced(t *testing.T) {
	f := newFixture(t)
	l := f.mount(t, "laser")
	f.connectGrbl("Idle")
	l.ChangePower(10)
	l.ChangeDuration("500")
	require.True(t, l.View().CanClick)

	f.apply(controller.EventConnectionOpen, `{"ident":"dev2"}`)

	view := l.View()
	require.Equal(t, "dev2", view.Controller.Connection.Ident)
	require.Equal(t, firmware.TypeUnknown, view.Controller.Type)
	require.Equal(t, firmware.MachineState(firmware.Unrecognized{}), view.Controller.State)
	require.False(t, view.CanClick)
	require.ErrorIs(t, l.LaserTestOn(), ErrUnavailable)
}
