package engine

import (
	"fmt"
	"sync"
	"time"

	"enginesound/server/internal/input"
	"enginesound/server/internal/logging"
	"enginesound/server/internal/physics"
	"enginesound/server/internal/sensors"
	"enginesound/server/internal/synth"
)

const (
	// ThrottleRisePerSecond and ThrottleFallPerSecond slew the applied throttle toward the target.
	ThrottleRisePerSecond = 8.0
	ThrottleFallPerSecond = 12.0
)

// Config selects the starting preset and optional overrides. Zero values keep the preset's value.
type Config struct {
	Preset       string
	IdleRPM      float64
	RedlineRPM   float64
	Cylinders    int
	Inertia      float64
	NoiseGain    float64
	NoiseGainSet bool
	Vehicle      *physics.VehicleState
	Sensors      sensors.Config
}

// Controller owns the physics side: engine parameters, vehicle, sensor fusion and the preset
// fade. Step is called from one goroutine; the accessors are safe from any goroutine.
type Controller struct {
	mu sync.Mutex

	params   Parameters
	vehicle  physics.VehicleState
	fusion   *sensors.Fusion
	fade     fade
	preset   string
	ignition bool
	realMode bool

	queue   *input.Queue
	bus     *synth.Bus
	sink    EventSink
	logger  *logging.Logger
	scratch []input.Command

	tick       uint64
	simulated  time.Duration
	prevSpeed  float64
	torque     float64
	demand     float64
	limiter    bool
	lastStatus sensors.Status
	latest     Telemetry
}

// Option customises a Controller.
type Option func(*Controller)

// WithEventSink forwards state transitions to sink.
func WithEventSink(sink EventSink) Option {
	return func(c *Controller) { c.sink = sink }
}

// WithLogger overrides the global logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewController builds a controller draining queue and publishing to bus.
func NewController(cfg Config, queue *input.Queue, bus *synth.Bus, opts ...Option) (*Controller, error) {
	preset, ok := LookupPreset(cfg.Preset)
	if !ok {
		return nil, fmt.Errorf("unknown engine preset %q (have %v)", cfg.Preset, PresetNames())
	}
	c := &Controller{
		vehicle:  physics.DefaultVehicle(),
		fusion:   sensors.NewFusion(cfg.Sensors),
		queue:    queue,
		bus:      bus,
		logger:   logging.L(),
		ignition: true,
		scratch:  make([]input.Command, 0, 64),
	}
	if cfg.Vehicle != nil {
		c.vehicle = *cfg.Vehicle
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.loadPreset(preset)
	//1.- Startup overrides apply on top of the preset only once.
	if cfg.IdleRPM > 0 {
		c.params.IdleRPM = cfg.IdleRPM
	}
	if cfg.RedlineRPM > 0 {
		c.params.RedlineRPM = cfg.RedlineRPM
	}
	if cfg.Cylinders > 0 {
		c.params.Cylinders = cfg.Cylinders
	}
	if cfg.Inertia > 0 {
		c.params.Inertia = cfg.Inertia
	}
	if cfg.NoiseGainSet {
		c.params.NoiseGain = cfg.NoiseGain
	}
	c.normalize()
	c.params.Modes = preset.Modes
	c.fade.start(preset.Modes, preset.Modes, 0)
	c.params.CurrentRPM = c.params.IdleRPM
	c.latest = c.telemetryLocked()
	c.publishLocked()
	return c, nil
}

func (c *Controller) loadPreset(p Preset) {
	c.preset = p.Name
	c.params.Cylinders = p.Cylinders
	c.params.IdleRPM = p.IdleRPM
	c.params.RedlineRPM = p.RedlineRPM
	c.params.Inertia = p.Inertia
	c.params.PeakTorqueNm = p.PeakTorqueNm
	c.params.NoiseGain = p.NoiseGain
}

// normalize saturates the discrete parameters and keeps RPM inside the new range.
func (c *Controller) normalize() {
	e := c.engine().Normalize()
	c.params.IdleRPM = e.IdleRPM
	c.params.RedlineRPM = e.RedlineRPM
	c.params.Inertia = e.Inertia
	c.params.PeakTorqueNm = e.PeakTorqueNm
	if c.params.Cylinders < 1 {
		c.params.Cylinders = 1
	}
	if c.params.Cylinders > synth.MaxCylinders {
		c.params.Cylinders = synth.MaxCylinders
	}
	c.params.NoiseGain = physics.Clamp01(c.params.NoiseGain)
	if c.params.CurrentRPM != 0 {
		c.params.CurrentRPM = e.ClampRPM(c.params.CurrentRPM)
	}
}

func (c *Controller) engine() physics.Engine {
	return physics.Engine{
		IdleRPM:      c.params.IdleRPM,
		RedlineRPM:   c.params.RedlineRPM,
		Inertia:      c.params.Inertia,
		PeakTorqueNm: c.params.PeakTorqueNm,
	}
}

// Step advances the physics by dt: drain commands, integrate, publish and report.
func (c *Controller) Step(now time.Time, dt time.Duration) Telemetry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tick++
	c.simulated += dt
	seconds := physics.ClampStep(dt.Seconds())

	//1.- Apply every queued intent in arrival order.
	c.scratch = c.queue.Drain(c.scratch[:0])
	for _, cmd := range c.scratch {
		c.apply(cmd, now)
	}

	//2.- Slew the applied throttle and cross-fade the archetype vector.
	c.slewThrottle(seconds)
	c.params.Modes = c.fade.advance(dt)

	//3.- Integrate either the sensor path or the free/coupled path.
	status := c.fusion.Status(now)
	if c.realMode && status == sensors.StatusActive {
		c.stepSensors(now, seconds)
	} else {
		c.stepFree(seconds)
	}
	if status != c.lastStatus {
		c.emit(EventSensor, map[string]any{"from": c.lastStatus.String(), "to": status.String()})
		c.logger.Info("sensor status changed", logging.String("from", c.lastStatus.String()), logging.String("to", status.String()))
		c.lastStatus = status
	}

	//4.- Observe limiter entry and exit as transitions, not per tick.
	limiter := c.params.CurrentRPM > c.params.RedlineRPM*synth.LimiterThreshold
	if limiter != c.limiter {
		c.limiter = limiter
		c.emit(EventLimiter, map[string]any{"active": limiter, "rpm": c.params.CurrentRPM})
	}

	c.publishLocked()
	c.latest = c.telemetryLocked()
	return c.latest
}

func (c *Controller) slewThrottle(seconds float64) {
	target := c.params.ThrottleTarget
	if !c.ignition {
		target = 0
	}
	c.demand = target
	current := c.params.ThrottleCurrent
	if target > current {
		current = min(target, current+ThrottleRisePerSecond*seconds)
	} else {
		current = max(target, current-ThrottleFallPerSecond*seconds)
	}
	c.params.ThrottleCurrent = current
}

func (c *Controller) stepFree(seconds float64) {
	e := c.engine()
	rpm := c.params.CurrentRPM
	throttle := c.params.ThrottleCurrent

	//1.- Torque at the current operating point drives the vehicle.
	c.torque = e.Torque(rpm, throttle)
	accel := c.vehicle.Integrate(c.torque, seconds)
	load := e.Load(rpm, accel, c.vehicle)

	//2.- The wheels pull the target toward the driveline RPM when a gear is engaged.
	target := e.TargetRPM(rpm, throttle)
	coupled := !c.vehicle.Declutched()
	if coupled {
		target = e.CoupledTargetRPM(target, c.vehicle.DrivelineRPM(), physics.CouplingFactor(c.vehicle.Speed, throttle))
	}
	c.params.CurrentRPM = e.StepRPM(rpm, target, load, coupled)
	c.params.Load = load
	c.prevSpeed = c.vehicle.Speed
}

func (c *Controller) stepSensors(now time.Time, seconds float64) {
	e := c.engine()
	estimate := c.fusion.Tick(now, e, c.vehicle)

	//1.- Sensor mode overrides the free-rev path outright.
	c.params.CurrentRPM = estimate.RPM
	c.params.ThrottleCurrent = estimate.Throttle
	c.demand = estimate.Throttle
	c.vehicle.Speed = estimate.Speed

	accel := 0.0
	if seconds > 0 {
		accel = (estimate.Speed - c.prevSpeed) / seconds
	}
	firstGear := c.vehicle
	firstGear.Gear = 1
	firstGear.Clutch = false
	c.params.Load = e.Load(estimate.RPM, accel, firstGear)
	c.torque = e.Torque(estimate.RPM, estimate.Throttle)
	c.prevSpeed = estimate.Speed
}

func (c *Controller) apply(cmd input.Command, now time.Time) {
	switch cmd.Kind {
	case input.KindThrottle:
		c.params.ThrottleTarget = physics.Clamp01(cmd.Value)
	case input.KindBrake:
		c.vehicle.Brake = physics.Clamp01(cmd.Value)
	case input.KindRoadLoad:
		c.vehicle.RoadLoad = physics.Clamp01(cmd.Value)
	case input.KindClutch:
		c.vehicle.Clutch = cmd.Flag
	case input.KindGear:
		c.shift(cmd.Int)
	case input.KindGearUp:
		c.shift(c.vehicle.Gear + 1)
	case input.KindGearDown:
		c.shift(c.vehicle.Gear - 1)
	case input.KindPreset:
		c.selectPreset(cmd.Name)
	case input.KindModeIntensity:
		mode, ok := synth.ParseMode(cmd.Name)
		if !ok {
			c.logger.Warn("unknown engine mode", logging.String("mode", cmd.Name))
			return
		}
		target := c.fade.to
		target[mode] = physics.Clamp01(cmd.Value)
		c.fade.start(c.params.Modes, target, PresetFade)
	case input.KindIgnition:
		if c.ignition != cmd.Flag {
			c.ignition = cmd.Flag
			c.emit(EventIgnition, map[string]any{"on": cmd.Flag})
			c.logger.Info("ignition changed", logging.Bool("on", cmd.Flag))
		}
	case input.KindRealVehicle:
		c.setRealVehicle(cmd.Flag, now)
	case input.KindLocation:
		at := cmd.Timestamp
		if at.IsZero() {
			at = now
		}
		c.fusion.OnLocation(sensors.Location{Speed: cmd.Value, Accuracy: cmd.Accuracy, Timestamp: at}, now)
	case input.KindMotion:
		c.fusion.OnMotion(sensors.Motion{X: cmd.X, Y: cmd.Y, Z: cmd.Z})
	case input.KindSensorDenied:
		c.fusion.Deny(cmd.Name)
	}
}

func (c *Controller) shift(gear int) {
	from := c.vehicle.Gear
	rpm := c.vehicle.ShiftGear(gear, c.params.CurrentRPM, c.engine())
	if c.vehicle.Gear == from {
		return
	}
	c.params.CurrentRPM = rpm
	c.emit(EventGearShift, map[string]any{"from": from, "to": c.vehicle.Gear, "rpm": rpm})
	c.logger.Debug("gear changed", logging.Int("from", from), logging.Int("to", c.vehicle.Gear), logging.Float64("rpm", rpm))
}

func (c *Controller) selectPreset(name string) {
	preset, ok := LookupPreset(name)
	if !ok {
		c.logger.Warn("unknown engine preset", logging.String("preset", name))
		return
	}
	if preset.Name == c.preset {
		return
	}
	from := c.preset
	//1.- Discrete fields switch now; the timbre cross-fades.
	c.loadPreset(preset)
	c.normalize()
	c.fade.start(c.params.Modes, preset.Modes, PresetFade)
	c.emit(EventPreset, map[string]any{"from": from, "to": preset.Name})
	c.logger.Info("preset changed", logging.String("from", from), logging.String("to", preset.Name))
}

func (c *Controller) setRealVehicle(on bool, now time.Time) {
	if on == c.realMode {
		return
	}
	c.realMode = on
	if on {
		c.fusion.Enable(now)
	} else {
		c.fusion.Disable()
	}
	c.emit(EventRealVehicle, map[string]any{"on": on})
	c.logger.Info("real vehicle mode changed", logging.Bool("on", on))
}

func (c *Controller) publishLocked() {
	if c.bus == nil {
		return
	}
	snap := synth.Snapshot{
		RPM:        c.params.CurrentRPM,
		Throttle:   c.params.ThrottleCurrent,
		Demand:     c.demand,
		Cylinders:  c.params.Cylinders,
		NoiseGain:  c.params.NoiseGain,
		RedlineRPM: c.params.RedlineRPM,
		IdleRPM:    c.params.IdleRPM,
		Load:       c.params.Load,
		Level:      1,
		Modes:      c.params.Modes,
	}
	if !c.ignition {
		snap.Throttle, snap.Demand, snap.NoiseGain, snap.Level = 0, 0, 0, 0
	}
	c.bus.Publish(snap)
}

func (c *Controller) telemetryLocked() Telemetry {
	return Telemetry{
		Tick:        c.tick,
		Simulated:   c.simulated,
		RPM:         c.params.CurrentRPM,
		Throttle:    c.params.ThrottleCurrent,
		Load:        c.params.Load,
		Speed:       c.vehicle.Speed,
		Gear:        c.vehicle.Gear,
		Torque:      c.torque,
		Brake:       c.vehicle.Brake,
		Clutch:      c.vehicle.Clutch,
		Limiter:     c.limiter,
		Ignition:    c.ignition,
		RealVehicle: c.realMode,
		Sensor:      c.lastStatus,
		Preset:      c.preset,
		Modes:       c.params.Modes,
	}
}

func (c *Controller) emit(kind string, payload map[string]any) {
	if c.sink == nil {
		return
	}
	c.sink.RecordEvent(Event{Tick: c.tick, Simulated: c.simulated, Type: kind, Payload: payload})
}

// Telemetry returns the record produced by the latest Step.
func (c *Controller) Telemetry() Telemetry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// Parameters returns a copy of the engine parameters.
func (c *Controller) Parameters() Parameters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// Vehicle returns a copy of the vehicle state.
func (c *Controller) Vehicle() physics.VehicleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vehicle
}

// SensorError explains why real-vehicle sensors are unavailable, or nil.
func (c *Controller) SensorError(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fusion.Err(now)
}
