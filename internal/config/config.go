package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultHTTPAddr is where the health, metrics and websocket surface listens.
	DefaultHTTPAddr = ":43180"
	// DefaultGRPCAddr is where the telemetry service listens. Empty disables it.
	DefaultGRPCAddr = ":43181"
	// DefaultPingInterval controls the keepalive cadence for websocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound websocket frame size.
	DefaultMaxPayloadBytes int64 = 64 << 10
	// DefaultMaxClients bounds concurrent websocket connections. Zero disables the limit.
	DefaultMaxClients = 32

	// DefaultSampleRate is the audio output rate in Hz.
	DefaultSampleRate = 48000
	// DefaultChannels duplicates the mono engine into stereo.
	DefaultChannels = 2
	// DefaultBufferFrames sizes one device block.
	DefaultBufferFrames = 512
	// DefaultPhysicsHz is the target frame rate of the physics loop.
	DefaultPhysicsHz = 60.0

	// DefaultPreset selects the engine voice at startup.
	DefaultPreset = "inline4"
	// DefaultMasterGain leaves headroom at the device.
	DefaultMasterGain = 0.8
	// DefaultSeed fixes the synthesizer's random tables.
	DefaultSeed uint64 = 1

	// DefaultSensorTimeout marks real-vehicle sensors unavailable after this long without a fix.
	DefaultSensorTimeout = 5 * time.Second
	// DefaultCommandMaxAge drops remote control frames older than this.
	DefaultCommandMaxAge = 250 * time.Millisecond
	// DefaultCommandMinInterval rate limits continuous remote controls per client.
	DefaultCommandMinInterval = time.Second / 120

	// DefaultRecordMaxSessions caps how many recorded sessions are kept. Zero keeps all.
	DefaultRecordMaxSessions = 20
	// DefaultRecordMaxAge prunes recorded sessions older than this. Zero disables the age check.
	DefaultRecordMaxAge = 30 * 24 * time.Hour

	// DefaultLogLevel controls verbosity.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "enginesound.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 50
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 5
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures every runtime tunable of the engine sound service.
type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	GRPCSecret      string
	AllowedOrigins  []string
	ControlToken    string
	PingInterval    time.Duration
	MaxPayloadBytes int64
	MaxClients      int

	Audio   AudioConfig
	Engine  EngineConfig
	Control ControlConfig

	PhysicsHz float64
	Record    RecordConfig
	Keyboard  bool
	Logging   LoggingConfig
}

// RecordConfig enables session recording and its retention. An empty Dir disables recording.
type RecordConfig struct {
	Dir         string
	MaxSessions int
	MaxAge      time.Duration
}

// AudioConfig describes the output device.
type AudioConfig struct {
	Enabled      bool
	SampleRate   int
	Channels     int
	BufferFrames int
	MasterGain   float64
	Seed         uint64
}

// EngineConfig selects a preset and optional overrides. Zero values keep the preset's own setting.
type EngineConfig struct {
	Preset     string
	IdleRPM    float64
	RedlineRPM float64
	Cylinders  int
	Inertia    float64
	NoiseGain  float64
	// NoiseGainSet distinguishes an explicit zero noise gain from unset.
	NoiseGainSet bool
}

// ControlConfig tunes how remote commands and sensors are accepted.
type ControlConfig struct {
	SensorTimeout time.Duration
	MaxAge        time.Duration
	MinInterval   time.Duration
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the configuration from ENGINE_* environment variables over defaults and reports
// every invalid override in a single error.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:        getString("ENGINE_HTTP_ADDR", DefaultHTTPAddr),
		GRPCAddr:        DefaultGRPCAddr,
		GRPCSecret:      strings.TrimSpace(os.Getenv("ENGINE_GRPC_SECRET")),
		AllowedOrigins:  parseList(os.Getenv("ENGINE_ALLOWED_ORIGINS")),
		ControlToken:    strings.TrimSpace(os.Getenv("ENGINE_CONTROL_TOKEN")),
		PingInterval:    DefaultPingInterval,
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		MaxClients:      DefaultMaxClients,
		Audio: AudioConfig{
			Enabled:      true,
			SampleRate:   DefaultSampleRate,
			Channels:     DefaultChannels,
			BufferFrames: DefaultBufferFrames,
			MasterGain:   DefaultMasterGain,
			Seed:         DefaultSeed,
		},
		Engine: EngineConfig{
			Preset: strings.ToLower(getString("ENGINE_PRESET", DefaultPreset)),
		},
		Control: ControlConfig{
			SensorTimeout: DefaultSensorTimeout,
			MaxAge:        DefaultCommandMaxAge,
			MinInterval:   DefaultCommandMinInterval,
		},
		PhysicsHz: DefaultPhysicsHz,
		Record: RecordConfig{
			Dir:         strings.TrimSpace(os.Getenv("ENGINE_RECORD_DIR")),
			MaxSessions: DefaultRecordMaxSessions,
			MaxAge:      DefaultRecordMaxAge,
		},
		Logging: LoggingConfig{
			Level:      getString("ENGINE_LOG_LEVEL", DefaultLogLevel),
			Path:       getString("ENGINE_LOG_PATH", DefaultLogPath),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}
	if raw, ok := os.LookupEnv("ENGINE_GRPC_ADDR"); ok {
		//1.- An explicitly empty address switches the telemetry service off.
		cfg.GRPCAddr = strings.TrimSpace(raw)
	}

	p := &problems{}

	p.durationVar("ENGINE_PING_INTERVAL", &cfg.PingInterval, positiveDuration)
	p.int64Var("ENGINE_MAX_PAYLOAD_BYTES", &cfg.MaxPayloadBytes)
	p.intVar("ENGINE_MAX_CLIENTS", &cfg.MaxClients, 0, 1<<16)

	p.boolVar("ENGINE_AUDIO_ENABLED", &cfg.Audio.Enabled)
	p.intVar("ENGINE_SAMPLE_RATE", &cfg.Audio.SampleRate, 8000, 192000)
	p.intVar("ENGINE_CHANNELS", &cfg.Audio.Channels, 1, 8)
	p.intVar("ENGINE_BUFFER_FRAMES", &cfg.Audio.BufferFrames, 64, 16384)
	p.floatVar("ENGINE_MASTER_GAIN", &cfg.Audio.MasterGain, 0.0001, 1)
	p.uint64Var("ENGINE_SEED", &cfg.Audio.Seed)
	p.floatVar("ENGINE_PHYSICS_HZ", &cfg.PhysicsHz, 10, 240)

	p.floatVar("ENGINE_IDLE_RPM", &cfg.Engine.IdleRPM, 300, 3000)
	p.floatVar("ENGINE_REDLINE_RPM", &cfg.Engine.RedlineRPM, 3000, 12000)
	p.intVar("ENGINE_CYLINDERS", &cfg.Engine.Cylinders, 1, 12)
	p.floatVar("ENGINE_INERTIA", &cfg.Engine.Inertia, 0.8, 0.99)
	cfg.Engine.NoiseGainSet = p.floatVar("ENGINE_NOISE_GAIN", &cfg.Engine.NoiseGain, 0, 1)
	if cfg.Engine.IdleRPM > 0 && cfg.Engine.RedlineRPM > 0 && cfg.Engine.RedlineRPM <= cfg.Engine.IdleRPM {
		p.add("ENGINE_REDLINE_RPM must exceed ENGINE_IDLE_RPM")
	}

	p.boolVar("ENGINE_KEYBOARD", &cfg.Keyboard)
	p.intVar("ENGINE_RECORD_MAX_SESSIONS", &cfg.Record.MaxSessions, 0, 1<<20)
	p.durationVar("ENGINE_RECORD_MAX_AGE", &cfg.Record.MaxAge, nonNegativeDuration)
	p.durationVar("ENGINE_SENSOR_TIMEOUT", &cfg.Control.SensorTimeout, positiveDuration)
	p.durationVar("ENGINE_COMMAND_MAX_AGE", &cfg.Control.MaxAge, nonNegativeDuration)
	p.durationVar("ENGINE_COMMAND_MIN_INTERVAL", &cfg.Control.MinInterval, nonNegativeDuration)

	p.intVar("ENGINE_LOG_MAX_SIZE_MB", &cfg.Logging.MaxSizeMB, 1, 1<<20)
	p.intVar("ENGINE_LOG_MAX_BACKUPS", &cfg.Logging.MaxBackups, 0, 1<<20)
	p.intVar("ENGINE_LOG_MAX_AGE_DAYS", &cfg.Logging.MaxAgeDays, 0, 1<<20)
	p.boolVar("ENGINE_LOG_COMPRESS", &cfg.Logging.Compress)

	if err := p.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type durationCheck struct {
	ok   func(time.Duration) bool
	want string
}

var (
	positiveDuration    = durationCheck{ok: func(d time.Duration) bool { return d > 0 }, want: "a positive duration"}
	nonNegativeDuration = durationCheck{ok: func(d time.Duration) bool { return d >= 0 }, want: "a non-negative duration"}
)

// problems collects invalid overrides so operators see every mistake at once.
type problems struct {
	messages []string
}

func (p *problems) add(message string) {
	p.messages = append(p.messages, message)
}

func (p *problems) err() error {
	if len(p.messages) == 0 {
		return nil
	}
	return errors.New(strings.Join(p.messages, "; "))
}

func (p *problems) intVar(key string, dst *int, lo, hi int) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < lo || value > hi {
		p.add(fmt.Sprintf("%s must be an integer in [%d, %d], got %q", key, lo, hi, raw))
		return false
	}
	*dst = value
	return true
}

func (p *problems) int64Var(key string, dst *int64) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		p.add(fmt.Sprintf("%s must be a positive integer, got %q", key, raw))
		return false
	}
	*dst = value
	return true
}

func (p *problems) uint64Var(key string, dst *uint64) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		p.add(fmt.Sprintf("%s must be an unsigned integer, got %q", key, raw))
		return false
	}
	*dst = value
	return true
}

func (p *problems) floatVar(key string, dst *float64, lo, hi float64) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || value < lo || value > hi {
		p.add(fmt.Sprintf("%s must be a number in [%g, %g], got %q", key, lo, hi, raw))
		return false
	}
	*dst = value
	return true
}

func (p *problems) boolVar(key string, dst *bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		p.add(fmt.Sprintf("%s must be a boolean value, got %q", key, raw))
		return false
	}
	*dst = value
	return true
}

func (p *problems) durationVar(key string, dst *time.Duration, check durationCheck) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false
	}
	value, err := time.ParseDuration(raw)
	if err != nil || !check.ok(value) {
		p.add(fmt.Sprintf("%s must be %s, got %q", key, check.want, raw))
		return false
	}
	*dst = value
	return true
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
