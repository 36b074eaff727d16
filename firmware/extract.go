package firmware

import (
	"bytes"
	"encoding/json"
	"strconv"
)

type grblStatePayload struct {
	Status struct {
		ActiveState json.RawMessage `json:"activeState"`
	} `json:"status"`
}

type tinyGStatePayload struct {
	Sr struct {
		MachineState json.RawMessage `json:"machineState"`
	} `json:"sr"`
}

func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}

// ExtractMachineState pulls the raw machine state out of the verbatim controller state payload
// sent by the session server for the given firmware. A payload which is itself a JSON string or
// number is taken as the raw state. Malformed payloads yield "".
func ExtractMachineState(t Type, payload json.RawMessage) string {
	if s := scalarString(payload); s != "" {
		return s
	}
	switch t {
	case TypeGrbl, TypeSmoothie:
		var p grblStatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return ""
		}
		return scalarString(p.Status.ActiveState)
	case TypeTinyG:
		var p tinyGStatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return ""
		}
		return scalarString(p.Sr.MachineState)
	}
	return ""
}
