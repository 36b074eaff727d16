package controller

import (
	"encoding/json"

	"github.com/fornellas/cnccon/firmware"
	"github.com/fornellas/cnccon/workflow"
)

// EventName of events emitted by the session server.
type EventName string

var EventConnectionOpen EventName = "connection:open"
var EventConnectionClose EventName = "connection:close"
var EventControllerSettings EventName = "controller:settings"
var EventControllerState EventName = "controller:state"
var EventWorkflowState EventName = "workflow:state"

// RawEvent is an event as received from the transport, before normalization.
type RawEvent struct {
	Name EventName
	Args []json.RawMessage
}

func (e RawEvent) arg(i int) json.RawMessage {
	if i < len(e.Args) {
		return e.Args[i]
	}
	return nil
}

// ConnectionOpen is published when a connection to the machine controller is opened.
type ConnectionOpen struct {
	Connection Connection
}

// ConnectionClose is published after the connection was closed and the snapshot reset.
type ConnectionClose struct {
	// Ident of the connection that was closed.
	Ident string
}

// SettingsChanged carries the full firmware settings.
type SettingsChanged struct {
	Type     firmware.Type
	Settings json.RawMessage
}

// StateChanged carries the full, normalized, firmware state.
type StateChanged struct {
	Type      firmware.Type
	State     firmware.MachineState
	StateData json.RawMessage
}

// WorkflowChanged carries the new job level state.
type WorkflowChanged struct {
	State workflow.State
}
