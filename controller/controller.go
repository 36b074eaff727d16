package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/fornellas/slogxt/log"

	brokerMod "github.com/fornellas/cnccon/broker"
	"github.com/fornellas/cnccon/firmware"
	"github.com/fornellas/cnccon/workflow"
)

var ErrNotConnected = errors.New("controller: not connected")
var ErrCommandQueueFull = errors.New("controller: command queue full")

// Transport sends commands to the session server for the connection with the given ident.
type Transport interface {
	Send(ctx context.Context, ident string, cmd Command) error
}

type ControllerOptions struct {
	// Maximum number of commands queued by Dispatch before they're sent.
	CommandQueueSize int
}

type queuedCommand struct {
	ident string
	cmd   Command
}

// Controller holds the live connection and firmware state, fans out changes to subscribers, and
// is the only path for issuing commands to the machine controller.
type Controller struct {
	transport Transport

	mu       sync.Mutex
	snapshot Snapshot

	commandCh chan queuedCommand

	connectionOpen  *brokerMod.Broker[ConnectionOpen]
	connectionClose *brokerMod.Broker[ConnectionClose]
	settings        *brokerMod.Broker[SettingsChanged]
	state           *brokerMod.Broker[StateChanged]
	workflow        *brokerMod.Broker[WorkflowChanged]
}

func NewController(transport Transport, options *ControllerOptions) *Controller {
	if options == nil {
		options = &ControllerOptions{}
	}
	if options.CommandQueueSize <= 0 {
		options.CommandQueueSize = 10
	}
	return &Controller{
		transport:       transport,
		snapshot:        InitialSnapshot(),
		commandCh:       make(chan queuedCommand, options.CommandQueueSize),
		connectionOpen:  brokerMod.NewBroker[ConnectionOpen](),
		connectionClose: brokerMod.NewBroker[ConnectionClose](),
		settings:        brokerMod.NewBroker[SettingsChanged](),
		state:           brokerMod.NewBroker[StateChanged](),
		workflow:        brokerMod.NewBroker[WorkflowChanged](),
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Clone()
}

func (c *Controller) OnConnectionOpen(name string, fn func(ConnectionOpen)) *brokerMod.Subscription {
	return c.connectionOpen.Subscribe(name, fn)
}

func (c *Controller) OnConnectionClose(name string, fn func(ConnectionClose)) *brokerMod.Subscription {
	return c.connectionClose.Subscribe(name, fn)
}

func (c *Controller) OnSettings(name string, fn func(SettingsChanged)) *brokerMod.Subscription {
	return c.settings.Subscribe(name, fn)
}

func (c *Controller) OnState(name string, fn func(StateChanged)) *brokerMod.Subscription {
	return c.state.Subscribe(name, fn)
}

func (c *Controller) OnWorkflow(name string, fn func(WorkflowChanged)) *brokerMod.Subscription {
	return c.workflow.Subscribe(name, fn)
}

// SubscriberCount returns the number of subscribers for the given event.
func (c *Controller) SubscriberCount(name EventName) int {
	switch name {
	case EventConnectionOpen:
		return c.connectionOpen.Len()
	case EventConnectionClose:
		return c.connectionClose.Len()
	case EventControllerSettings:
		return c.settings.Len()
	case EventControllerState:
		return c.state.Len()
	case EventWorkflowState:
		return c.workflow.Len()
	}
	return 0
}

func parseConnectionIdent(raw json.RawMessage) string {
	var ident string
	if err := json.Unmarshal(raw, &ident); err == nil {
		return ident
	}
	var options struct {
		Ident string `json:"ident"`
	}
	if err := json.Unmarshal(raw, &options); err == nil {
		return options.Ident
	}
	return ""
}

func (c *Controller) applyConnectionOpen(ctx context.Context, event RawEvent) {
	logger := log.MustLogger(ctx)

	options := event.arg(0)
	ident := parseConnectionIdent(options)
	if ident == "" {
		logger.Warn("Ignoring connection open without ident", "options", string(options))
		return
	}

	c.mu.Lock()
	replacedIdent := c.snapshot.Connection.Ident
	c.snapshot = InitialSnapshot()
	c.snapshot.Connection = Connection{
		Ident:   ident,
		Options: bytes.Clone(options),
	}
	connection := c.snapshot.Clone().Connection
	c.mu.Unlock()

	// Subscribers reset on connection:close, and only take the ident from connection:open.
	if replacedIdent != "" {
		logger.Warn("Connection replaced", "old", replacedIdent, "new", ident)
		c.connectionClose.Publish(ConnectionClose{Ident: replacedIdent})
	}

	logger.Info("Connection open", "ident", ident)
	c.connectionOpen.Publish(ConnectionOpen{Connection: connection})
}

func (c *Controller) applyConnectionClose(ctx context.Context) {
	logger := log.MustLogger(ctx)

	c.mu.Lock()
	ident := c.snapshot.Connection.Ident
	c.snapshot = InitialSnapshot()
	c.mu.Unlock()

	logger.Info("Connection closed", "ident", ident)
	c.connectionClose.Publish(ConnectionClose{Ident: ident})
}

// adoptType must be called with c.mu held. It returns false when the event must be dropped.
func (c *Controller) adoptType(ctx context.Context, name EventName, raw json.RawMessage) (firmware.Type, bool) {
	logger := log.MustLogger(ctx)

	if !c.snapshot.Connection.Connected() {
		logger.Warn("Ignoring event received while disconnected", "event", name)
		return firmware.TypeUnknown, false
	}

	// Once adopted, the type is fixed until the connection closes.
	adopted := c.snapshot.Type.Known()

	var typeName string
	if err := json.Unmarshal(raw, &typeName); err != nil {
		logger.Warn("Malformed firmware type", "event", name, "type", string(raw), "err", err)
		return firmware.TypeUnknown, !adopted
	}
	t, err := firmware.ParseType(typeName)
	if err != nil {
		logger.Warn("Unknown firmware type", "event", name, "err", err)
		return firmware.TypeUnknown, !adopted
	}

	if adopted && c.snapshot.Type != t {
		logger.Warn(
			"Ignoring event for a firmware type different from the connected one",
			"event", name, "connected", c.snapshot.Type, "type", t,
		)
		return firmware.TypeUnknown, false
	}

	return t, true
}

func (c *Controller) applySettings(ctx context.Context, event RawEvent) {
	c.mu.Lock()
	t, ok := c.adoptType(ctx, event.Name, event.arg(0))
	if !ok {
		c.mu.Unlock()
		return
	}
	c.snapshot.Type = t
	c.snapshot.Settings = bytes.Clone(event.arg(1))
	if !t.Known() {
		c.snapshot.State = firmware.Unrecognized{}
	}
	settingsChanged := SettingsChanged{
		Type:     t,
		Settings: bytes.Clone(c.snapshot.Settings),
	}
	c.mu.Unlock()

	c.settings.Publish(settingsChanged)
}

func (c *Controller) applyState(ctx context.Context, event RawEvent) {
	logger := log.MustLogger(ctx)

	c.mu.Lock()
	t, ok := c.adoptType(ctx, event.Name, event.arg(0))
	if !ok {
		c.mu.Unlock()
		return
	}
	stateData := event.arg(1)
	raw := firmware.ExtractMachineState(t, stateData)
	state := firmware.ParseMachineState(t, raw)
	if _, ok := state.(firmware.Unrecognized); ok && t.Known() {
		logger.Warn("Unrecognized machine state", "type", t, "state", raw)
	}
	c.snapshot.Type = t
	c.snapshot.State = state
	c.snapshot.StateData = bytes.Clone(stateData)
	stateChanged := StateChanged{
		Type:      t,
		State:     state,
		StateData: bytes.Clone(stateData),
	}
	c.mu.Unlock()

	c.state.Publish(stateChanged)
}

func (c *Controller) applyWorkflow(ctx context.Context, event RawEvent) {
	logger := log.MustLogger(ctx)

	var name string
	if err := json.Unmarshal(event.arg(0), &name); err != nil {
		logger.Warn("Ignoring malformed workflow state", "state", string(event.arg(0)), "err", err)
		return
	}
	state, err := workflow.ParseState(name)
	if err != nil {
		logger.Warn("Ignoring workflow state", "err", err)
		return
	}

	c.mu.Lock()
	if !c.snapshot.Connection.Connected() {
		c.mu.Unlock()
		logger.Warn("Ignoring event received while disconnected", "event", event.Name)
		return
	}
	c.snapshot.Workflow = state
	c.mu.Unlock()

	c.workflow.Publish(WorkflowChanged{State: state})
}

// Apply normalizes a single event received from the transport, updates the snapshot, and
// publishes the typed event to its subscribers, which run before Apply returns.
// Malformed or out of order events are logged and never panic.
func (c *Controller) Apply(ctx context.Context, event RawEvent) {
	switch event.Name {
	case EventConnectionOpen:
		c.applyConnectionOpen(ctx, event)
	case EventConnectionClose:
		c.applyConnectionClose(ctx)
	case EventControllerSettings:
		c.applySettings(ctx, event)
	case EventControllerState:
		c.applyState(ctx, event)
	case EventWorkflowState:
		c.applyWorkflow(ctx, event)
	default:
		log.MustLogger(ctx).Debug("Ignoring event", "event", event.Name)
	}
}

// EventWorker applies all events received from eventCh, in order. It runs until ctx is done or
// eventCh is closed; in the latter case the connection is considered closed.
func (c *Controller) EventWorker(ctx context.Context, eventCh <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			err := ctx.Err()
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			return err
		case event, ok := <-eventCh:
			if !ok {
				if c.Snapshot().Connection.Connected() {
					c.applyConnectionClose(ctx)
				}
				return fmt.Errorf("controller: event channel closed")
			}
			c.Apply(ctx, event)
		}
	}
}

// Dispatch queues cmd to be sent by CommandWorker and returns immediately. Its effect on the
// machine is only observable through subsequent events.
func (c *Controller) Dispatch(cmd Command) error {
	c.mu.Lock()
	ident := c.snapshot.Connection.Ident
	c.mu.Unlock()

	if ident == "" {
		return fmt.Errorf("%w: %s", ErrNotConnected, cmd.Name())
	}

	select {
	case c.commandCh <- queuedCommand{ident: ident, cmd: cmd}:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrCommandQueueFull, cmd.Name())
	}
}

// CommandWorker sends commands queued by Dispatch. Send failures are logged, not retried.
func (c *Controller) CommandWorker(ctx context.Context) error {
	logger := log.MustLogger(ctx)
	for {
		select {
		case <-ctx.Done():
			err := ctx.Err()
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			return err
		case queued := <-c.commandCh:
			logger.Debug("Sending command", "ident", queued.ident, "command", queued.cmd.Name(), "args", queued.cmd.Args())
			if err := c.transport.Send(ctx, queued.ident, queued.cmd); err != nil {
				logger.Error("Failed to send command", "command", queued.cmd.Name(), "err", err)
			}
		}
	}
}
