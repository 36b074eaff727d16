package controller

import (
	"bytes"
	"encoding/json"

	"github.com/fornellas/cnccon/firmware"
	"github.com/fornellas/cnccon/workflow"
)

// Connection to the machine controller, as held by the session server.
type Connection struct {
	// Ident is the opaque connection identity; it is empty iff disconnected.
	Ident string
	// Options the connection was opened with, verbatim.
	Options json.RawMessage
}

func (c Connection) Connected() bool {
	return c.Ident != ""
}

// Snapshot is the full set of controller related fields at a point in time.
type Snapshot struct {
	Type firmware.Type
	// Firmware settings, verbatim.
	Settings json.RawMessage
	State    firmware.MachineState
	// Controller state report the State was extracted from, verbatim.
	StateData  json.RawMessage
	Workflow   workflow.State
	Connection Connection
}

// InitialSnapshot is the snapshot before any connection is open, and after it is closed.
func InitialSnapshot() Snapshot {
	return Snapshot{
		Type:     firmware.TypeUnknown,
		State:    firmware.Unrecognized{},
		Workflow: workflow.StateIdle,
	}
}

// Clone returns a copy that shares no memory with s.
func (s Snapshot) Clone() Snapshot {
	s.Settings = bytes.Clone(s.Settings)
	s.StateData = bytes.Clone(s.StateData)
	s.Connection.Options = bytes.Clone(s.Connection.Options)
	return s
}
