package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"enginesound/server/internal/engine"
	"enginesound/server/internal/sensors"
	"enginesound/server/internal/synth"
)

func TestMarshalJSONUsesWireNames(t *testing.T) {
	record := engine.Telemetry{
		Tick:      12,
		Simulated: 200 * time.Millisecond,
		RPM:       4500,
		Gear:      3,
		Limiter:   true,
		Sensor:    sensors.StatusWaiting,
		Preset:    "turbo4",
		Modes:     synth.Modes{synth.ModeTurbo: 1},
	}
	data, err := MarshalJSON(record)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	if decoded["rpm"] != 4500.0 || decoded["simulated_ms"] != 200.0 || decoded["limiter"] != true {
		t.Fatalf("unexpected payload %s", data)
	}
	if decoded["sensor"] != sensors.StatusWaiting.String() {
		t.Fatalf("unexpected sensor field %v", decoded["sensor"])
	}
	modes, ok := decoded["modes"].(map[string]any)
	if !ok || modes["turbo"] != 1.0 {
		t.Fatalf("unexpected modes %v", decoded["modes"])
	}
}
