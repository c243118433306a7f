package input

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidCommand reports a control payload that cannot be mapped onto a Command.
var ErrInvalidCommand = errors.New("invalid command")

// Envelope is a decoded remote control frame.
type Envelope struct {
	ClientID   string
	SequenceID uint64
	SentAt     time.Time
	Command    Command
}

// Frame returns the gate metadata of the envelope.
func (e Envelope) Frame() Frame {
	return Frame{ClientID: e.ClientID, SequenceID: e.SequenceID, SentAt: e.SentAt, Kind: e.Command.Kind}
}

// DecodeJSON parses a JSON control frame.
func DecodeJSON(data []byte) (Envelope, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return DecodeFields(fields)
}

// DecodeFields maps a generic field set onto an Envelope. Numbers arrive as float64, as both
// encoding/json and structpb produce them.
func DecodeFields(fields map[string]any) (Envelope, error) {
	if fields == nil {
		return Envelope{}, fmt.Errorf("%w: empty payload", ErrInvalidCommand)
	}
	kindName, _ := fields["type"].(string)
	kind, ok := ParseKind(kindName)
	if !ok {
		return Envelope{}, fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, kindName)
	}
	d := decoder{fields: fields}
	env := Envelope{ClientID: d.str("client_id")}
	if seq := d.num("sequence_id"); seq > 0 {
		env.SequenceID = uint64(seq)
	}
	if ms := d.num("sent_at_ms"); ms > 0 {
		env.SentAt = time.UnixMilli(int64(ms))
	}

	//1.- Each kind reads only the fields it needs; missing fields decode as zero.
	switch kind {
	case KindThrottle:
		env.Command = Throttle(d.num("value"))
	case KindBrake:
		env.Command = Brake(d.num("value"))
	case KindRoadLoad:
		env.Command = RoadLoad(d.num("value"))
	case KindGear:
		env.Command = Gear(int(math.Round(d.num("gear"))))
	case KindGearUp:
		env.Command = GearUp()
	case KindGearDown:
		env.Command = GearDown()
	case KindClutch:
		env.Command = Clutch(d.flag("on"))
	case KindIgnition:
		env.Command = Ignition(d.flag("on"))
	case KindRealVehicle:
		env.Command = RealVehicle(d.flag("on"))
	case KindPreset:
		env.Command = Preset(d.str("name"))
	case KindModeIntensity:
		env.Command = ModeIntensity(d.str("mode"), d.num("value"))
	case KindLocation:
		var at time.Time
		if ms := d.num("timestamp_ms"); ms > 0 {
			at = time.UnixMilli(int64(ms))
		}
		env.Command = Location(d.num("speed"), d.num("accuracy"), at)
	case KindMotion:
		env.Command = Motion(d.num("x"), d.num("y"), d.num("z"))
	case KindSensorDenied:
		env.Command = SensorDenied(d.str("reason"))
	}
	if d.err != nil {
		return Envelope{}, d.err
	}
	return env, nil
}

// decoder remembers the first type mismatch so callers check once.
type decoder struct {
	fields map[string]any
	err    error
}

func (d *decoder) fail(key string, value any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: field %q has type %T", ErrInvalidCommand, key, value)
	}
}

func (d *decoder) num(key string) float64 {
	raw, ok := d.fields[key]
	if !ok || raw == nil {
		return 0
	}
	value, ok := raw.(float64)
	if !ok || math.IsNaN(value) || math.IsInf(value, 0) {
		d.fail(key, raw)
		return 0
	}
	return value
}

func (d *decoder) str(key string) string {
	raw, ok := d.fields[key]
	if !ok || raw == nil {
		return ""
	}
	value, ok := raw.(string)
	if !ok {
		d.fail(key, raw)
	}
	return value
}

func (d *decoder) flag(key string) bool {
	raw, ok := d.fields[key]
	if !ok || raw == nil {
		return false
	}
	value, ok := raw.(bool)
	if !ok {
		d.fail(key, raw)
	}
	return value
}
