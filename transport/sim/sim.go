// Package sim simulates a session server connected to a single machine controller, for
// development and testing without hardware.
package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fornellas/slogxt/log"

	"github.com/fornellas/cnccon/controller"
	"github.com/fornellas/cnccon/firmware"
	"github.com/fornellas/cnccon/workflow"
)

var ErrUnknownIdent = errors.New("sim: unknown connection ident")
var ErrUnknownCommand = errors.New("sim: unknown command")

type phase int

const (
	phaseIdle phase = iota
	phaseRun
	phaseHold
	phaseHome
)

var rawStates = map[firmware.Type]map[phase]any{
	firmware.TypeGrbl: {
		phaseIdle: firmware.GrblStateIdle,
		phaseRun:  firmware.GrblStateRun,
		phaseHold: firmware.GrblStateHold,
		phaseHome: firmware.GrblStateHome,
	},
	firmware.TypeSmoothie: {
		phaseIdle: firmware.SmoothieStateIdle,
		phaseRun:  firmware.SmoothieStateRun,
		phaseHold: firmware.SmoothieStateHold,
		phaseHome: firmware.SmoothieStateHome,
	},
	firmware.TypeTinyG: {
		phaseIdle: int(firmware.TinyGStateReady),
		phaseRun:  int(firmware.TinyGStateRun),
		phaseHold: int(firmware.TinyGStateHold),
		phaseHome: int(firmware.TinyGStateHoming),
	},
}

var settings = map[firmware.Type]map[string]any{
	firmware.TypeGrbl: {
		"version":    "1.1h",
		"parameters": map[string]any{},
		"settings":   map[string]string{"$30": "1000", "$32": "1"},
	},
	firmware.TypeSmoothie: {
		"version": map[string]string{"build": "edge-3332442", "date": "Apr 22 2015"},
	},
	firmware.TypeTinyG: {
		"fv": 0.97,
		"fb": 440.20,
	},
}

type MachineOptions struct {
	// How long homing takes.
	HomingDuration time.Duration
	// Size of the buffer of events not yet consumed by Worker.
	EventBufferSize int
}

// Machine simulates a machine controller running the given firmware. It implements
// controller.Transport.
type Machine struct {
	firmwareType firmware.Type
	ident        string
	options      *MachineOptions

	events chan controller.RawEvent

	mu       sync.Mutex
	phase    phase
	workflow workflow.State
	timer    *time.Timer
	laserOn  bool
}

func NewMachine(firmwareType firmware.Type, ident string, options *MachineOptions) (*Machine, error) {
	if !firmwareType.Known() {
		return nil, fmt.Errorf("sim: unsupported firmware: %#v", string(firmwareType))
	}
	if options == nil {
		options = &MachineOptions{}
	}
	if options.HomingDuration == 0 {
		options.HomingDuration = 2 * time.Second
	}
	if options.EventBufferSize == 0 {
		options.EventBufferSize = 100
	}
	return &Machine{
		firmwareType: firmwareType,
		ident:        ident,
		options:      options,
		events:       make(chan controller.RawEvent, options.EventBufferSize),
		workflow:     workflow.StateIdle,
	}, nil
}

func (m *Machine) emit(name controller.EventName, args ...any) {
	event := controller.RawEvent{Name: name}
	for _, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			panic(fmt.Sprintf("bug: sim: failed to marshal %#v: %s", arg, err))
		}
		event.Args = append(event.Args, data)
	}
	select {
	case m.events <- event:
	default:
		// Dropped when Worker falls EventBufferSize events behind.
	}
}

func (m *Machine) statePayload() any {
	raw := rawStates[m.firmwareType][m.phase]
	switch m.firmwareType {
	case firmware.TypeTinyG:
		return map[string]any{"sr": map[string]any{"machineState": raw}}
	default:
		return map[string]any{"status": map[string]any{"activeState": raw}}
	}
}

// setPhase must be called with m.mu held.
func (m *Machine) setPhase(p phase) {
	m.phase = p
	m.emit(controller.EventControllerState, m.firmwareType, m.statePayload())
}

// setWorkflow must be called with m.mu held.
func (m *Machine) setWorkflow(action workflow.Action) error {
	next, err := m.workflow.Apply(action)
	if err != nil {
		return err
	}
	m.workflow = next
	m.emit(controller.EventWorkflowState, m.workflow)
	return nil
}

// after must be called with m.mu held.
func (m *Machine) after(d time.Duration, fn func()) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(d, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		fn()
	})
}

func (m *Machine) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func floatArg(args []any, i int) float64 {
	if i >= len(args) {
		return 0
	}
	if f, ok := args[i].(float64); ok {
		return f
	}
	return 0
}

// Send implements controller.Transport.
//
//gocyclo:ignore
func (m *Machine) Send(ctx context.Context, ident string, cmd controller.Command) error {
	if ident != m.ident {
		return fmt.Errorf("%w: %#v", ErrUnknownIdent, ident)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch cmd.Name() {
	case controller.LaserTestOn{}.Name():
		args := cmd.Args()
		duration := floatArg(args, 1)
		m.laserOn = true
		m.setPhase(phaseRun)
		if duration > 0 {
			m.after(time.Duration(duration*float64(time.Millisecond)), func() {
				m.laserOn = false
				m.setPhase(phaseIdle)
			})
		}
	case controller.LaserTestOff{}.Name():
		m.stopTimer()
		m.laserOn = false
		m.setPhase(phaseIdle)
	case controller.Gcode{}.Name():
		log.MustLogger(ctx).Debug("Simulated machine does not run G-code, ignoring", "args", cmd.Args())
	case controller.CommandStart.Name():
		if err := m.setWorkflow(workflow.ActionStart); err != nil {
			return err
		}
		m.setPhase(phaseRun)
	case controller.CommandPause.Name():
		if err := m.setWorkflow(workflow.ActionPause); err != nil {
			return err
		}
		m.setPhase(phaseHold)
	case controller.CommandResume.Name():
		if err := m.setWorkflow(workflow.ActionResume); err != nil {
			return err
		}
		m.setPhase(phaseRun)
	case controller.CommandStop.Name():
		if err := m.setWorkflow(workflow.ActionStop); err != nil {
			return err
		}
		m.setPhase(phaseIdle)
	case controller.CommandFeedHold.Name():
		m.setPhase(phaseHold)
	case controller.CommandCycleStart.Name():
		if m.workflow == workflow.StateRunning || m.laserOn {
			m.setPhase(phaseRun)
		} else {
			m.setPhase(phaseIdle)
		}
	case controller.CommandReset.Name():
		m.stopTimer()
		m.laserOn = false
		if m.workflow != workflow.StateIdle {
			if err := m.setWorkflow(workflow.ActionStop); err != nil {
				return err
			}
		}
		m.setPhase(phaseIdle)
	case controller.CommandUnlock.Name():
		m.setPhase(phaseIdle)
	case controller.CommandHoming.Name():
		m.setPhase(phaseHome)
		m.after(m.options.HomingDuration, func() {
			m.setPhase(phaseIdle)
		})
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Name())
	}

	log.MustLogger(ctx).Debug("Simulated command", "command", cmd.Name(), "args", cmd.Args())
	return nil
}

// Worker opens the simulated connection and forwards its events to eventCh, until ctx is done.
// It then closes the connection, emitting connection:close, and closes eventCh.
func (m *Machine) Worker(ctx context.Context, eventCh chan<- controller.RawEvent) error {
	defer close(eventCh)

	m.mu.Lock()
	m.emit(controller.EventConnectionOpen, map[string]any{
		"ident": m.ident,
		"type":  "simulated",
		"settings": map[string]any{
			"controllerType": m.firmwareType,
		},
	})
	m.emit(controller.EventControllerSettings, m.firmwareType, settings[m.firmwareType])
	m.setPhase(phaseIdle)
	m.emit(controller.EventWorkflowState, m.workflow)
	m.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.stopTimer()
			m.mu.Unlock()
			select {
			case eventCh <- controller.RawEvent{Name: controller.EventConnectionClose}:
			default:
			}
			err := ctx.Err()
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			return err
		case event := <-m.events:
			select {
			case eventCh <- event:
			case <-ctx.Done():
			}
		}
	}
}
