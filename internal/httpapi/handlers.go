package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"enginesound/server/internal/audio"
	"enginesound/server/internal/input"
	"enginesound/server/internal/logging"
	"enginesound/server/internal/recorder"
	"enginesound/server/internal/simulation"
	"enginesound/server/internal/telemetry"
)

// ReadinessProvider exposes process state required for readiness checks.
type ReadinessProvider interface {
	StartupError() error
	Uptime() time.Duration
}

// AudioStatus describes the output device for status and metrics.
type AudioStatus struct {
	Backend string
	Started bool
	Err     error
	Stats   audio.Stats
}

// Options configures the HandlerSet. Nil sources are skipped in every response.
type Options struct {
	Logger      *logging.Logger
	Readiness   ReadinessProvider
	Telemetry   telemetry.Source
	SensorError func() error
	Intake      *input.Intake
	Monitor     *simulation.TickMonitor
	Audio       func() AudioStatus
	Recorder    func() recorder.Stats
	Storage     func() recorder.StorageStats
	Hub         *Hub
	TimeSource  func() time.Time
}

// HandlerSet bundles the operational and control handlers.
type HandlerSet struct {
	logger      *logging.Logger
	readiness   ReadinessProvider
	source      telemetry.Source
	sensorError func() error
	intake      *input.Intake
	monitor     *simulation.TickMonitor
	audio       func() AudioStatus
	recorder    func() recorder.Stats
	storage     func() recorder.StorageStats
	hub         *Hub
	now         func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		readiness:   opts.Readiness,
		source:      opts.Telemetry,
		sensorError: opts.SensorError,
		intake:      opts.Intake,
		monitor:     opts.Monitor,
		audio:       opts.Audio,
		recorder:    opts.Recorder,
		storage:     opts.Storage,
		hub:         opts.Hub,
		now:         now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/status", h.StatusHandler())
	if h.hub != nil {
		mux.Handle("/ws", h.hub)
	}
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports 503 with the startup failure, typically a missing audio device.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Clients       int     `json:"clients"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok", Clients: h.hub.Clients()}
		if h.readiness != nil {
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// StatusHandler returns the latest telemetry together with sensor and audio health.
func (h *HandlerSet) StatusHandler() http.HandlerFunc {
	type sensorResponse struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}
	type audioResponse struct {
		Backend   string `json:"backend"`
		Started   bool   `json:"started"`
		Error     string `json:"error,omitempty"`
		Frames    uint64 `json:"frames"`
		Backfires uint64 `json:"backfires"`
		Limiter   bool   `json:"limiter_active"`
	}
	type response struct {
		Telemetry json.RawMessage `json:"telemetry,omitempty"`
		Sensor    sensorResponse  `json:"sensor"`
		Audio     *audioResponse  `json:"audio,omitempty"`
		Clients   int             `json:"clients"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := response{Clients: h.hub.Clients()}
		if h.source != nil {
			record := h.source.Telemetry()
			payload, err := telemetry.MarshalJSON(record)
			if err != nil {
				h.logger.Error("encode status telemetry", logging.Error(err))
				http.Error(w, "failed to encode telemetry", http.StatusInternalServerError)
				return
			}
			resp.Telemetry = payload
			resp.Sensor.Status = record.Sensor.String()
		}
		if h.sensorError != nil {
			if err := h.sensorError(); err != nil {
				resp.Sensor.Error = err.Error()
			}
		}
		if h.audio != nil {
			state := h.audio()
			resp.Audio = &audioResponse{
				Backend:   state.Backend,
				Started:   state.Started,
				Frames:    state.Stats.Frames,
				Backfires: state.Stats.Backfires,
				Limiter:   state.Stats.LimiterActive,
			}
			if state.Err != nil {
				resp.Audio.Error = state.Err.Error()
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		var uptime float64
		if h.readiness != nil {
			uptime = h.readiness.Uptime().Seconds()
		}
		fmt.Fprintf(w, "# HELP enginesound_uptime_seconds Process uptime in seconds.\n")
		fmt.Fprintf(w, "# TYPE enginesound_uptime_seconds gauge\n")
		fmt.Fprintf(w, "enginesound_uptime_seconds %.0f\n", uptime)

		if h.monitor != nil {
			ticks := h.monitor.Snapshot()
			fmt.Fprintf(w, "# HELP enginesound_tick_samples_total Physics frames observed.\n")
			fmt.Fprintf(w, "# TYPE enginesound_tick_samples_total counter\n")
			fmt.Fprintf(w, "enginesound_tick_samples_total %d\n", ticks.Samples)
			fmt.Fprintf(w, "# HELP enginesound_tick_duration_seconds Physics frame cost.\n")
			fmt.Fprintf(w, "# TYPE enginesound_tick_duration_seconds gauge\n")
			fmt.Fprintf(w, "enginesound_tick_duration_seconds{stat=\"avg\"} %.6f\n", ticks.Average.Seconds())
			fmt.Fprintf(w, "enginesound_tick_duration_seconds{stat=\"max\"} %.6f\n", ticks.Max.Seconds())
			fmt.Fprintf(w, "enginesound_tick_duration_seconds{stat=\"last\"} %.6f\n", ticks.Last.Seconds())
			fmt.Fprintf(w, "# HELP enginesound_tick_overruns_total Physics frames that exceeded their budget.\n")
			fmt.Fprintf(w, "# TYPE enginesound_tick_overruns_total counter\n")
			fmt.Fprintf(w, "enginesound_tick_overruns_total %d\n", ticks.Overruns)
		}

		if h.source != nil {
			record := h.source.Telemetry()
			fmt.Fprintf(w, "# HELP enginesound_rpm Current engine speed.\n")
			fmt.Fprintf(w, "# TYPE enginesound_rpm gauge\n")
			fmt.Fprintf(w, "enginesound_rpm %.1f\n", record.RPM)
			fmt.Fprintf(w, "# HELP enginesound_speed_mps Vehicle speed in metres per second.\n")
			fmt.Fprintf(w, "# TYPE enginesound_speed_mps gauge\n")
			fmt.Fprintf(w, "enginesound_speed_mps %.3f\n", record.Speed)
			fmt.Fprintf(w, "# HELP enginesound_gear Selected gear, zero is neutral.\n")
			fmt.Fprintf(w, "# TYPE enginesound_gear gauge\n")
			fmt.Fprintf(w, "enginesound_gear %d\n", record.Gear)
			fmt.Fprintf(w, "# HELP enginesound_throttle Slewed throttle position.\n")
			fmt.Fprintf(w, "# TYPE enginesound_throttle gauge\n")
			fmt.Fprintf(w, "enginesound_throttle %.3f\n", record.Throttle)
			fmt.Fprintf(w, "# HELP enginesound_limiter_active Whether the rev limiter is engaged.\n")
			fmt.Fprintf(w, "# TYPE enginesound_limiter_active gauge\n")
			fmt.Fprintf(w, "enginesound_limiter_active %d\n", boolMetric(record.Limiter))
			fmt.Fprintf(w, "# HELP enginesound_sensor_status Real vehicle sensor status.\n")
			fmt.Fprintf(w, "# TYPE enginesound_sensor_status gauge\n")
			fmt.Fprintf(w, "enginesound_sensor_status{status=%q} 1\n", record.Sensor.String())
		}

		if h.intake != nil {
			stats := h.intake.Stats()
			fmt.Fprintf(w, "# HELP enginesound_commands_accepted_total Remote commands that reached the queue.\n")
			fmt.Fprintf(w, "# TYPE enginesound_commands_accepted_total counter\n")
			fmt.Fprintf(w, "enginesound_commands_accepted_total %d\n", stats.Accepted)
			fmt.Fprintf(w, "# HELP enginesound_commands_dropped_total Remote commands rejected by the gate.\n")
			fmt.Fprintf(w, "# TYPE enginesound_commands_dropped_total counter\n")
			fmt.Fprintf(w, "enginesound_commands_dropped_total{reason=%q} %d\n", input.DropReasonSequence.String(), stats.Drops.Sequence)
			fmt.Fprintf(w, "enginesound_commands_dropped_total{reason=%q} %d\n", input.DropReasonStale.String(), stats.Drops.Stale)
			fmt.Fprintf(w, "enginesound_commands_dropped_total{reason=%q} %d\n", input.DropReasonRateLimited.String(), stats.Drops.RateLimited)
			queue := h.intake.Queue().Stats()
			fmt.Fprintf(w, "# HELP enginesound_queue_pushed_total Commands pushed to the physics queue.\n")
			fmt.Fprintf(w, "# TYPE enginesound_queue_pushed_total counter\n")
			fmt.Fprintf(w, "enginesound_queue_pushed_total %d\n", queue.Pushed)
			fmt.Fprintf(w, "# HELP enginesound_queue_discarded_total Commands discarded because the queue was full.\n")
			fmt.Fprintf(w, "# TYPE enginesound_queue_discarded_total counter\n")
			fmt.Fprintf(w, "enginesound_queue_discarded_total %d\n", queue.Discarded)
		}

		if h.hub != nil {
			hub := h.hub.Stats()
			fmt.Fprintf(w, "# HELP enginesound_websocket_clients Current connected WebSocket clients.\n")
			fmt.Fprintf(w, "# TYPE enginesound_websocket_clients gauge\n")
			fmt.Fprintf(w, "enginesound_websocket_clients %d\n", hub.Clients)
			fmt.Fprintf(w, "# HELP enginesound_websocket_messages_total Inbound WebSocket messages.\n")
			fmt.Fprintf(w, "# TYPE enginesound_websocket_messages_total counter\n")
			fmt.Fprintf(w, "enginesound_websocket_messages_total %d\n", hub.Messages)
			fmt.Fprintf(w, "# HELP enginesound_websocket_invalid_total Inbound messages that failed to decode.\n")
			fmt.Fprintf(w, "# TYPE enginesound_websocket_invalid_total counter\n")
			fmt.Fprintf(w, "enginesound_websocket_invalid_total %d\n", hub.Invalid)
			fmt.Fprintf(w, "# HELP enginesound_websocket_rejected_total Handshakes refused by auth, rate or capacity checks.\n")
			fmt.Fprintf(w, "# TYPE enginesound_websocket_rejected_total counter\n")
			fmt.Fprintf(w, "enginesound_websocket_rejected_total %d\n", hub.Rejected)
		}

		if h.audio != nil {
			state := h.audio()
			fmt.Fprintf(w, "# HELP enginesound_audio_frames_total Audio frames rendered for the device.\n")
			fmt.Fprintf(w, "# TYPE enginesound_audio_frames_total counter\n")
			fmt.Fprintf(w, "enginesound_audio_frames_total %d\n", state.Stats.Frames)
			fmt.Fprintf(w, "# HELP enginesound_audio_backfires_total Backfire pops triggered by the synthesizer.\n")
			fmt.Fprintf(w, "# TYPE enginesound_audio_backfires_total counter\n")
			fmt.Fprintf(w, "enginesound_audio_backfires_total %d\n", state.Stats.Backfires)
		}

		if h.recorder != nil {
			stats := h.recorder()
			fmt.Fprintf(w, "# HELP enginesound_recorder_events_total Session events written.\n")
			fmt.Fprintf(w, "# TYPE enginesound_recorder_events_total counter\n")
			fmt.Fprintf(w, "enginesound_recorder_events_total %d\n", stats.Events)
			fmt.Fprintf(w, "# HELP enginesound_recorder_frames_total Session frames written.\n")
			fmt.Fprintf(w, "# TYPE enginesound_recorder_frames_total counter\n")
			fmt.Fprintf(w, "enginesound_recorder_frames_total %d\n", stats.Frames)
			fmt.Fprintf(w, "# HELP enginesound_recorder_dropped_total Session records dropped on a full buffer.\n")
			fmt.Fprintf(w, "# TYPE enginesound_recorder_dropped_total counter\n")
			fmt.Fprintf(w, "enginesound_recorder_dropped_total %d\n", stats.Dropped)
		}
		if h.storage != nil {
			stats := h.storage()
			fmt.Fprintf(w, "# HELP enginesound_recordings_sessions Recorded sessions on disk.\n")
			fmt.Fprintf(w, "# TYPE enginesound_recordings_sessions gauge\n")
			fmt.Fprintf(w, "enginesound_recordings_sessions %d\n", stats.Sessions)
			fmt.Fprintf(w, "# HELP enginesound_recordings_bytes Bytes used by recorded sessions.\n")
			fmt.Fprintf(w, "# TYPE enginesound_recordings_bytes gauge\n")
			fmt.Fprintf(w, "enginesound_recordings_bytes %d\n", stats.Bytes)
		}
	}
}

func boolMetric(b bool) int {
	if b {
		return 1
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
