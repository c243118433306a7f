package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"

	"enginesound/server/internal/audio"
	"enginesound/server/internal/config"
	"enginesound/server/internal/engine"
	"enginesound/server/internal/httpapi"
	"enginesound/server/internal/input"
	"enginesound/server/internal/keyboard"
	"enginesound/server/internal/logging"
	"enginesound/server/internal/recorder"
	"enginesound/server/internal/sensors"
	"enginesound/server/internal/simulation"
	"enginesound/server/internal/synth"
	"enginesound/server/internal/telemetry"
)

const (
	shutdownTimeout   = 5 * time.Second
	retentionInterval = time.Hour
	// handshakeWindow and handshakeLimit bound how fast websocket clients may reconnect.
	handshakeWindow = 10 * time.Second
	handshakeLimit  = 20
)

// App owns every long-lived component of the engine sound service.
type App struct {
	cfg     *config.Config
	logger  *logging.Logger
	started time.Time

	queue      *input.Queue
	intake     *input.Intake
	bus        *synth.Bus
	controller *engine.Controller
	monitor    *simulation.TickMonitor
	loop       *simulation.Loop

	stream   *audio.Stream
	device   *audio.Device
	audioErr error

	recorder *recorder.Recorder
	cleaner  *recorder.Cleaner

	hub      *httpapi.Hub
	handlers *httpapi.HandlerSet
	grpc     *grpc.Server
	http     *http.Server
}

// NewApp wires the controller, audio output, recorder and network surfaces from cfg. Audio
// failures are recorded for /readyz instead of aborting startup.
func NewApp(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = logging.L()
	}
	a := &App{cfg: cfg, logger: logger, started: time.Now()}

	//1.- Command plumbing shared by every input source.
	a.queue = input.NewQueue(input.DefaultQueueCapacity)
	gate := input.NewGate(input.GateConfig{MaxAge: cfg.Control.MaxAge, MinInterval: cfg.Control.MinInterval}, logger)
	a.intake = input.NewIntake(gate, a.queue)
	a.bus = synth.NewBus()

	//2.- Recording is optional; a broken directory only disables it.
	if cfg.Record.Dir != "" {
		rec, err := recorder.Open(cfg.Record.Dir, cfg.Engine.Preset, logger, time.Now)
		if err != nil {
			logger.Warn("session recording disabled", logging.String("dir", cfg.Record.Dir), logging.Error(err))
		} else {
			a.recorder = rec
		}
		a.cleaner = recorder.NewCleaner(cfg.Record.Dir, recorder.RetentionPolicy{
			MaxSessions: cfg.Record.MaxSessions,
			MaxAge:      cfg.Record.MaxAge,
		}, logger)
	}

	opts := []engine.Option{engine.WithLogger(logger)}
	if a.recorder != nil {
		opts = append(opts, engine.WithEventSink(a.recorder))
	}
	controller, err := engine.NewController(engine.Config{
		Preset:       cfg.Engine.Preset,
		IdleRPM:      cfg.Engine.IdleRPM,
		RedlineRPM:   cfg.Engine.RedlineRPM,
		Cylinders:    cfg.Engine.Cylinders,
		Inertia:      cfg.Engine.Inertia,
		NoiseGain:    cfg.Engine.NoiseGain,
		NoiseGainSet: cfg.Engine.NoiseGainSet,
		Sensors:      sensors.Config{Timeout: cfg.Control.SensorTimeout},
	}, a.queue, a.bus, opts...)
	if err != nil {
		_ = a.recorder.Close()
		return nil, err
	}
	a.controller = controller

	a.monitor = simulation.NewTickMonitor(time.Duration(float64(time.Second) / cfg.PhysicsHz))
	a.loop = simulation.NewLoop(cfg.PhysicsHz, a.frame, simulation.WithMonitor(a.monitor))

	//3.- The synthesizer is attached before the device so the first pull is never empty.
	if cfg.Audio.Enabled {
		a.openAudio()
	}

	a.hub = httpapi.NewHub(httpapi.HubConfig{
		AllowedOrigins:  cfg.AllowedOrigins,
		Token:           cfg.ControlToken,
		PingInterval:    cfg.PingInterval,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		MaxClients:      cfg.MaxClients,
		Limiter:         httpapi.NewSlidingWindowLimiter(handshakeWindow, handshakeLimit, nil),
	}, controller, a.intake, httpapi.WithHubLogger(logger.With(logging.String("component", "websocket"))))

	handlerOpts := httpapi.Options{
		Logger:      logger,
		Readiness:   a,
		Telemetry:   controller,
		SensorError: func() error { return controller.SensorError(time.Now()) },
		Intake:      a.intake,
		Monitor:     a.monitor,
		Audio:       a.audioStatus,
		Hub:         a.hub,
	}
	if a.recorder != nil {
		handlerOpts.Recorder = a.recorder.Stats
	}
	if a.cleaner != nil {
		handlerOpts.Storage = a.cleaner.Stats
	}
	a.handlers = httpapi.NewHandlerSet(handlerOpts)

	if cfg.GRPCAddr != "" {
		service := telemetry.NewService(controller, a.intake, telemetry.WithLogger(logger.With(logging.String("component", "grpc"))))
		a.grpc = telemetry.NewServer(service, cfg.GRPCSecret, logger)
	}
	return a, nil
}

func (a *App) openAudio() {
	cfg := a.cfg.Audio
	a.stream = audio.NewStream(cfg.Channels, cfg.BufferFrames)
	a.stream.Attach(synth.New(synth.Config{
		SampleRate: float64(cfg.SampleRate),
		Seed:       cfg.Seed,
		MasterGain: cfg.MasterGain,
	}, a.bus))
	device, err := audio.OpenDevice(audio.DeviceConfig{
		SampleRate:   cfg.SampleRate,
		Channels:     cfg.Channels,
		BufferFrames: cfg.BufferFrames,
	}, a.stream)
	if err == nil {
		err = device.Start()
		if err != nil {
			_ = device.Close()
		}
	}
	if err != nil {
		//4.- Physics and remote control keep running so telemetry clients are still served.
		a.stream.Detach()
		a.audioErr = err
		a.logger.Error("audio output unavailable", logging.Error(err))
		return
	}
	a.device = device
	a.logger.Info("audio output started",
		logging.String("backend", device.Backend()),
		logging.Int("sample_rate", cfg.SampleRate),
		logging.Int("channels", cfg.Channels),
		logging.Int("buffer_frames", cfg.BufferFrames),
	)
}

// frame is the physics loop body.
func (a *App) frame(now time.Time, dt time.Duration) {
	record := a.controller.Step(now, dt)
	if a.recorder != nil {
		a.recorder.RecordFrame(record)
	}
}

// StartupError implements httpapi.ReadinessProvider.
func (a *App) StartupError() error {
	if a.audioErr != nil {
		return fmt.Errorf("audio: %w", a.audioErr)
	}
	return nil
}

// Uptime implements httpapi.ReadinessProvider.
func (a *App) Uptime() time.Duration { return time.Since(a.started) }

func (a *App) audioStatus() httpapi.AudioStatus {
	status := httpapi.AudioStatus{Backend: "disabled", Err: a.audioErr}
	if a.stream != nil {
		status.Stats = a.stream.Stats()
	}
	if a.device != nil {
		status.Backend = a.device.Backend()
		status.Started = a.device.Started()
	}
	return status
}

// Handler exposes the HTTP surface with request tracing.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.handlers.Register(mux)
	return logging.HTTPTraceMiddleware(a.logger)(mux)
}

// Run starts every component and blocks until ctx is cancelled, a listener fails or the
// keyboard driver quits. It always shuts down before returning.
func (a *App) Run(ctx context.Context, keys io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	var wg sync.WaitGroup
	fail := func(err error) error {
		cancel()
		a.shutdown()
		wg.Wait()
		return err
	}

	a.loop.Start(ctx)
	if a.cleaner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.cleaner.Run(ctx, retentionInterval)
		}()
	}

	httpListener, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return fail(fmt.Errorf("listen http: %w", err))
	}
	a.http = &http.Server{Handler: a.Handler(), ReadHeaderTimeout: 5 * time.Second}
	a.logger.Info("http listening", logging.String("addr", httpListener.Addr().String()))
	go func() {
		if err := a.http.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serve http: %w", err)
		}
	}()

	if a.grpc != nil {
		grpcListener, err := net.Listen("tcp", a.cfg.GRPCAddr)
		if err != nil {
			return fail(fmt.Errorf("listen grpc: %w", err))
		}
		a.logger.Info("grpc listening", logging.String("addr", grpcListener.Addr().String()))
		go func() {
			if err := a.grpc.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("serve grpc: %w", err)
			}
		}()
	}

	if keys != nil {
		driver := keyboard.NewDriver(keyboard.NewKeymap(a.keyState), a.queue, keyboard.WithLogger(a.logger))
		a.logger.Info("keyboard control enabled", logging.String("keys", keyboard.Help))
		go func() {
			//5.- A quit key ends the process like a signal would.
			if err := driver.Run(ctx, keys); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warn("keyboard driver stopped", logging.Error(err))
				return
			}
			cancel()
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.logger.Error("server failed", logging.Error(runErr))
	}
	cancel()
	a.shutdown()
	wg.Wait()
	return runErr
}

func (a *App) keyState() keyboard.State {
	params := a.controller.Parameters()
	record := a.controller.Telemetry()
	return keyboard.State{
		ThrottleTarget: params.ThrottleTarget,
		Clutch:         record.Clutch,
		RealVehicle:    record.RealVehicle,
		Ignition:       record.Ignition,
		Preset:         record.Preset,
	}
}

// shutdown stops network surfaces first so no command arrives after the loop stops.
func (a *App) shutdown() {
	a.hub.Close()
	if a.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.http.Shutdown(ctx); err != nil {
			a.logger.Warn("http shutdown", logging.Error(err))
		}
		cancel()
	}
	if a.grpc != nil {
		stopGRPC(a.grpc, shutdownTimeout)
	}
	a.loop.Stop()
	a.queue.Close()
	if a.device != nil {
		if err := a.device.Close(); err != nil {
			a.logger.Warn("audio close", logging.Error(err))
		}
	}
	if err := a.recorder.Close(); err != nil {
		a.logger.Warn("recorder close", logging.Error(err))
	}
	a.logger.Info("engine sound service stopped", logging.Uint64("frames", a.loop.Frames()))
}

// stopGRPC drains in-flight calls, cutting open telemetry streams once timeout elapses.
func stopGRPC(server *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		server.Stop()
		<-done
	}
}
