package engine

import (
	"math"
	"testing"
	"time"

	"enginesound/server/internal/input"
	"enginesound/server/internal/logging"
	"enginesound/server/internal/sensors"
	"enginesound/server/internal/synth"
)

const tick = time.Second / 60

type harness struct {
	t      *testing.T
	queue  *input.Queue
	bus    *synth.Bus
	ctrl   *Controller
	events []Event
	now    time.Time
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{t: t, queue: input.NewQueue(64), bus: synth.NewBus(), now: time.Unix(1_700_000_000, 0)}
	if cfg.Preset == "" {
		cfg.Preset = "inline4"
	}
	ctrl, err := NewController(cfg, h.queue, h.bus,
		WithLogger(logging.NewTestLogger()),
		WithEventSink(EventSinkFunc(func(e Event) { h.events = append(h.events, e) })),
	)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	h.ctrl = ctrl
	return h
}

func (h *harness) push(cmds ...input.Command) {
	for _, cmd := range cmds {
		if err := h.queue.Push(cmd); err != nil {
			h.t.Fatalf("push %s: %v", cmd.Kind, err)
		}
	}
}

func (h *harness) run(steps int) Telemetry {
	var last Telemetry
	for i := 0; i < steps; i++ {
		h.now = h.now.Add(tick)
		last = h.ctrl.Step(h.now, tick)
	}
	return last
}

func (h *harness) eventsOf(kind string) []Event {
	var out []Event
	for _, e := range h.events {
		if e.Type == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestNewControllerRejectsUnknownPreset(t *testing.T) {
	if _, err := NewController(Config{Preset: "steam"}, input.NewQueue(4), synth.NewBus()); err == nil {
		t.Fatalf("expected unknown preset error")
	}
}

func TestNewControllerPublishesIdleSnapshot(t *testing.T) {
	h := newHarness(t, Config{Preset: "v8"})
	snap := h.bus.Load()
	if snap == nil {
		t.Fatalf("expected snapshot at construction")
	}
	if snap.RPM != 700 || snap.Cylinders != 8 || snap.Modes[synth.ModeCrossPlane] != 1 {
		t.Fatalf("unexpected initial snapshot %+v", *snap)
	}
	if snap.Level != 1 {
		t.Fatalf("ignition should start on, level %.2f", snap.Level)
	}
}

func TestConfigOverridesApplyOnTopOfPreset(t *testing.T) {
	h := newHarness(t, Config{Preset: "inline4", RedlineRPM: 8000, Cylinders: 6, NoiseGain: 0, NoiseGainSet: true})
	params := h.ctrl.Parameters()
	if params.RedlineRPM != 8000 || params.Cylinders != 6 || params.NoiseGain != 0 {
		t.Fatalf("overrides not applied: %+v", params)
	}
	if params.IdleRPM != 900 {
		t.Fatalf("idle should come from the preset, got %.0f", params.IdleRPM)
	}
}

func TestOverridesAreSaturated(t *testing.T) {
	h := newHarness(t, Config{Cylinders: 40, RedlineRPM: 20000, Inertia: 2})
	params := h.ctrl.Parameters()
	if params.Cylinders != synth.MaxCylinders {
		t.Fatalf("expected cylinders clamped, got %d", params.Cylinders)
	}
	if params.RedlineRPM != synth.MaxRPM {
		t.Fatalf("expected redline clamped, got %.0f", params.RedlineRPM)
	}
	if params.Inertia > 0.99 {
		t.Fatalf("expected inertia clamped, got %.3f", params.Inertia)
	}
}

func TestThrottleSlewsTowardTarget(t *testing.T) {
	h := newHarness(t, Config{})
	h.push(input.Throttle(1))
	first := h.run(1)
	want := ThrottleRisePerSecond * tick.Seconds()
	if math.Abs(first.Throttle-want) > 1e-9 {
		t.Fatalf("expected one slew step %.4f got %.4f", want, first.Throttle)
	}
	if got := h.run(10).Throttle; got != 1 {
		t.Fatalf("throttle should settle at target, got %.3f", got)
	}
	h.push(input.Throttle(5))
	if got := h.run(1).Throttle; got != 1 {
		t.Fatalf("target above one must clamp, got %.3f", got)
	}
	h.push(input.Throttle(0))
	down := h.run(1).Throttle
	if math.Abs(down-(1-ThrottleFallPerSecond*tick.Seconds())) > 1e-9 {
		t.Fatalf("unexpected fall step %.4f", down)
	}
}

func TestNeutralRevRisesAndReturnsToIdle(t *testing.T) {
	h := newHarness(t, Config{})
	h.push(input.Throttle(1))
	revved := h.run(180)
	if revved.RPM < 5000 {
		t.Fatalf("free rev should climb, got %.0f", revved.RPM)
	}
	if revved.Speed != 0 {
		t.Fatalf("neutral must not move the vehicle, speed %.3f", revved.Speed)
	}
	h.push(input.Throttle(0))
	idle := h.run(600)
	if math.Abs(idle.RPM-900) > 25 {
		t.Fatalf("expected settle near idle, got %.0f", idle.RPM)
	}
}

func TestInGearDrivesVehicleAndLoad(t *testing.T) {
	h := newHarness(t, Config{})
	h.push(input.Gear(1), input.Throttle(1))
	out := h.run(120)
	if out.Gear != 1 {
		t.Fatalf("expected first gear, got %d", out.Gear)
	}
	if out.Speed <= 0 {
		t.Fatalf("vehicle should accelerate in gear")
	}
	if out.Torque <= 0 {
		t.Fatalf("expected positive torque")
	}
	if out.Load <= 0 || out.Load > 1 {
		t.Fatalf("load out of range %.3f", out.Load)
	}
}

func TestGearShiftSnapsRPMAndEmitsEvent(t *testing.T) {
	h := newHarness(t, Config{})
	h.push(input.Gear(1), input.Throttle(1))
	h.run(150)
	before := h.ctrl.Telemetry()
	h.push(input.GearUp())
	after := h.run(1)
	if after.Gear != 2 {
		t.Fatalf("expected second gear, got %d", after.Gear)
	}
	if after.RPM >= before.RPM {
		t.Fatalf("upshift should drop rpm: %.0f -> %.0f", before.RPM, after.RPM)
	}
	shifts := h.eventsOf(EventGearShift)
	if len(shifts) != 2 {
		t.Fatalf("expected two shift events, got %d", len(shifts))
	}
	if shifts[1].Payload["to"] != 2 {
		t.Fatalf("unexpected payload %+v", shifts[1].Payload)
	}
	//1.- Reselecting the same gear is a no-op.
	h.push(input.Gear(2))
	h.run(1)
	if len(h.eventsOf(EventGearShift)) != 2 {
		t.Fatalf("reselecting the gear should not emit")
	}
}

func TestPresetCrossFadesModes(t *testing.T) {
	h := newHarness(t, Config{Preset: "inline4"})
	h.push(input.Preset("VTEC"))
	h.run(1)
	params := h.ctrl.Parameters()
	if params.RedlineRPM != 8500 || params.IdleRPM != 950 {
		t.Fatalf("discrete fields should switch immediately: %+v", params)
	}
	mid := params.Modes[synth.ModeVTEC]
	if mid <= 0 || mid >= 1 {
		t.Fatalf("expected partial fade, got %.3f", mid)
	}
	frames := int(PresetFade / tick)
	h.run(frames)
	if got := h.ctrl.Parameters().Modes[synth.ModeVTEC]; got != 1 {
		t.Fatalf("fade should complete, got %.3f", got)
	}
	if h.ctrl.Telemetry().Preset != "vtec" {
		t.Fatalf("preset name not reported")
	}
	if len(h.eventsOf(EventPreset)) != 1 {
		t.Fatalf("expected one preset event")
	}
	//1.- Unknown presets are ignored.
	h.push(input.Preset("steam"))
	h.run(1)
	if h.ctrl.Telemetry().Preset != "vtec" {
		t.Fatalf("unknown preset should be ignored")
	}
}

func TestModeIntensityFades(t *testing.T) {
	h := newHarness(t, Config{})
	h.push(input.ModeIntensity("turbo", 0.6))
	h.run(int(PresetFade/tick) + 1)
	if got := h.ctrl.Parameters().Modes[synth.ModeTurbo]; math.Abs(got-0.6) > 1e-9 {
		t.Fatalf("expected turbo 0.6, got %.3f", got)
	}
	h.push(input.ModeIntensity("warp", 1))
	h.run(1)
	if got := h.ctrl.Parameters().Modes; got.Max() != 0.6 {
		t.Fatalf("unknown mode should be ignored, got %+v", got)
	}
}

func TestIgnitionOffSilencesSnapshot(t *testing.T) {
	h := newHarness(t, Config{})
	h.push(input.Throttle(1))
	h.run(10)
	h.push(input.Ignition(false))
	out := h.run(30)
	snap := h.bus.Load()
	if snap.Level != 0 || snap.Throttle != 0 || snap.NoiseGain != 0 {
		t.Fatalf("ignition off should silence: %+v", *snap)
	}
	if out.Ignition || out.Throttle != 0 {
		t.Fatalf("telemetry should reflect ignition off: %+v", out)
	}
	if len(h.eventsOf(EventIgnition)) != 1 {
		t.Fatalf("expected ignition event")
	}
}

func TestLimiterEventOnTransition(t *testing.T) {
	h := newHarness(t, Config{})
	h.push(input.Throttle(1))
	h.run(600)
	if !h.ctrl.Telemetry().Limiter {
		t.Fatalf("sustained full throttle in neutral should hit the limiter, rpm %.0f", h.ctrl.Telemetry().RPM)
	}
	events := h.eventsOf(EventLimiter)
	if len(events) != 1 || events[0].Payload["active"] != true {
		t.Fatalf("expected a single limiter entry event, got %+v", events)
	}
}

func TestRealVehicleFollowsSensors(t *testing.T) {
	h := newHarness(t, Config{Sensors: sensors.Config{Timeout: 2 * time.Second}})
	h.push(input.RealVehicle(true))
	waiting := h.run(1)
	if waiting.Sensor != sensors.StatusWaiting || !waiting.RealVehicle {
		t.Fatalf("expected waiting status, got %s", waiting.Sensor)
	}
	h.push(input.Location(10, 5, h.now), input.Motion(2, 0, 0))
	active := h.run(1)
	if active.Sensor != sensors.StatusActive {
		t.Fatalf("expected active status, got %s", active.Sensor)
	}
	if math.Abs(active.Speed-10) > 1e-9 {
		t.Fatalf("speed should follow the fix, got %.3f", active.Speed)
	}
	if active.RPM < 900 || active.Throttle <= 0 {
		t.Fatalf("expected sensor derived rpm and throttle: %+v", active)
	}
	//1.- No further fixes lets the status lapse to unavailable.
	lapsed := h.run(180)
	if lapsed.Sensor != sensors.StatusUnavailable {
		t.Fatalf("expected unavailable after timeout, got %s", lapsed.Sensor)
	}
	if err := h.ctrl.SensorError(h.now); err == nil {
		t.Fatalf("expected sensor error")
	}
	if len(h.eventsOf(EventSensor)) != 3 {
		t.Fatalf("expected three status transitions, got %d", len(h.eventsOf(EventSensor)))
	}
}

func TestSensorDeniedFallsBackToSimulation(t *testing.T) {
	h := newHarness(t, Config{})
	h.push(input.RealVehicle(true), input.SensorDenied("permission denied"))
	out := h.run(1)
	if out.Sensor != sensors.StatusUnavailable {
		t.Fatalf("expected unavailable, got %s", out.Sensor)
	}
	h.push(input.Throttle(1))
	if got := h.run(60).RPM; got < 2000 {
		t.Fatalf("simulation should keep running, rpm %.0f", got)
	}
	h.push(input.RealVehicle(false))
	if got := h.run(1).Sensor; got != sensors.StatusInactive {
		t.Fatalf("expected inactive after disabling, got %s", got)
	}
}

func TestStepCountsTicks(t *testing.T) {
	h := newHarness(t, Config{})
	out := h.run(30)
	if out.Tick != 30 || out.Simulated != 30*tick {
		t.Fatalf("unexpected counters tick=%d simulated=%s", out.Tick, out.Simulated)
	}
}
