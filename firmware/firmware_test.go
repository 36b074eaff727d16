package firmware

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	for _, typ := range Types() {
		t.Run(typ.String(), func(t *testing.T) {
			parsed, err := ParseType(string(typ))
			require.NoError(t, err)
			require.Equal(t, typ, parsed)
			require.True(t, parsed.Known())
		})
	}
	t.Run("unknown", func(t *testing.T) {
		parsed, err := ParseType("Marlin")
		require.Error(t, err)
		require.Equal(t, TypeUnknown, parsed)
		require.False(t, parsed.Known())
	})
}

func TestParseMachineState(t *testing.T) {
	testCases := []struct {
		typ      Type
		raw      string
		expected MachineState
	}{
		{TypeGrbl, "Idle", GrblStateIdle},
		{TypeGrbl, "Run", GrblStateRun},
		{TypeGrbl, "Hold:0", GrblStateHold},
		{TypeGrbl, "Door:1", GrblStateDoor},
		{TypeGrbl, "Ready", Unrecognized{FirmwareType: TypeGrbl, Raw: "Ready"}},
		{TypeSmoothie, "Idle", SmoothieStateIdle},
		{TypeSmoothie, "Jog", Unrecognized{FirmwareType: TypeSmoothie, Raw: "Jog"}},
		{TypeTinyG, "Stop", TinyGStateStop},
		{TypeTinyG, "5", TinyGStateRun},
		{TypeTinyG, "1", TinyGStateReady},
		{TypeTinyG, "99", Unrecognized{FirmwareType: TypeTinyG, Raw: "99"}},
		{TypeUnknown, "Idle", Unrecognized{FirmwareType: TypeUnknown, Raw: "Idle"}},
		{TypeGrbl, "", Unrecognized{FirmwareType: TypeGrbl}},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%s/%s", tc.typ, tc.raw), func(t *testing.T) {
			require.Equal(t, tc.expected, ParseMachineState(tc.typ, tc.raw))
		})
	}
}

func TestReadyStates(t *testing.T) {
	for _, typ := range Types() {
		t.Run(typ.String(), func(t *testing.T) {
			states := ReadyStates(typ)
			require.NotEmpty(t, states)
			for _, state := range states {
				require.Equal(t, typ, state.Firmware())
				require.True(t, IsReady(typ, state))
			}
		})
	}
	t.Run("unknown", func(t *testing.T) {
		require.Empty(t, ReadyStates(TypeUnknown))
		require.Empty(t, ReadyStates(Type("Marlin")))
	})
	t.Run("copy", func(t *testing.T) {
		states := ReadyStates(TypeGrbl)
		states[0] = GrblStateAlarm
		require.Equal(t, MachineState(GrblStateIdle), ReadyStates(TypeGrbl)[0])
		require.False(t, IsReady(TypeGrbl, GrblStateAlarm))
	})
}

func TestIsReady(t *testing.T) {
	testCases := []struct {
		name     string
		typ      Type
		state    MachineState
		expected bool
	}{
		{"grbl idle", TypeGrbl, GrblStateIdle, true},
		{"grbl hold", TypeGrbl, GrblStateHold, false},
		{"grbl alarm", TypeGrbl, GrblStateAlarm, false},
		{"smoothie run", TypeSmoothie, SmoothieStateRun, true},
		{"smoothie door", TypeSmoothie, SmoothieStateDoor, false},
		{"tinyg stop", TypeTinyG, TinyGStateStop, true},
		{"tinyg end", TypeTinyG, TinyGStateEnd, true},
		{"tinyg homing", TypeTinyG, TinyGStateHoming, false},
		{"cross firmware", TypeSmoothie, GrblStateIdle, false},
		{"unrecognized", TypeGrbl, Unrecognized{FirmwareType: TypeGrbl, Raw: "Idle2"}, false},
		{"unknown firmware", TypeUnknown, Unrecognized{}, false},
		{"nil", TypeGrbl, nil, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, IsReady(tc.typ, tc.state))
		})
	}
}

func TestExtractMachineState(t *testing.T) {
	testCases := []struct {
		name     string
		typ      Type
		payload  string
		expected string
	}{
		{"grbl status", TypeGrbl, `{"status":{"activeState":"Idle","mpos":{"x":"0.000"}}}`, "Idle"},
		{"smoothie status", TypeSmoothie, `{"status":{"activeState":"Run"}}`, "Run"},
		{"tinyg sr", TypeTinyG, `{"sr":{"machineState":3,"line":10}}`, "3"},
		{"tinyg sr name", TypeTinyG, `{"sr":{"machineState":"Ready"}}`, "Ready"},
		{"bare string", TypeGrbl, `"Hold"`, "Hold"},
		{"bare number", TypeTinyG, `4`, "4"},
		{"missing field", TypeGrbl, `{"status":{}}`, ""},
		{"wrong shape", TypeTinyG, `{"status":{"activeState":"Idle"}}`, ""},
		{"malformed", TypeGrbl, `{"status":`, ""},
		{"null", TypeGrbl, `null`, ""},
		{"empty", TypeGrbl, ``, ""},
		{"unknown firmware", TypeUnknown, `{"status":{"activeState":"Idle"}}`, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, ExtractMachineState(tc.typ, json.RawMessage(tc.payload)))
		})
	}
}
