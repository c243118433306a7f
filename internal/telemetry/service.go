package telemetry

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"enginesound/server/internal/engine"
	"enginesound/server/internal/input"
	"enginesound/server/internal/logging"
)

// StreamRateHz is the cadence of telemetry pushes.
const StreamRateHz = 20

// ClientIDMetadataKey names the caller for command sequencing.
const ClientIDMetadataKey = "x-client-id"

// Source exposes the latest telemetry record.
type Source interface {
	Telemetry() engine.Telemetry
}

// SourceFunc adapts a function into a Source.
type SourceFunc func() engine.Telemetry

// Telemetry implements Source.
func (f SourceFunc) Telemetry() engine.Telemetry { return f() }

// Option customises the behaviour of the service.
type Option func(*Service)

// tickerFactory constructs cancellable tick channels for throttled streaming.
type tickerFactory func(time.Duration) (<-chan time.Time, func())

// WithTickerFactory overrides the throttling ticker factory (used in tests).
func WithTickerFactory(factory tickerFactory) Option {
	return func(s *Service) {
		if factory != nil {
			s.newTicker = factory
		}
	}
}

// WithLogger overrides the global logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service implements TelemetryServer on top of the controller and the command intake.
type Service struct {
	source    Source
	intake    *input.Intake
	newTicker tickerFactory
	logger    *logging.Logger
}

var _ TelemetryServer = (*Service)(nil)

// NewService wires the service to its telemetry source and command intake.
func NewService(source Source, intake *input.Intake, opts ...Option) *Service {
	service := &Service{source: source, intake: intake, newTicker: defaultTickerFactory, logger: logging.L()}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

func defaultTickerFactory(interval time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(interval)
	return ticker.C, ticker.Stop
}

// StreamTelemetry pushes the latest record at StreamRateHz, skipping ticks with no new state.
func (s *Service) StreamTelemetry(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	if s == nil || s.source == nil {
		return status.Error(codes.FailedPrecondition, "telemetry unavailable")
	}
	ctx := stream.Context()
	tickCh, stop := s.newTicker(time.Second / StreamRateHz)
	defer stop()

	var (
		lastTick uint64
		sent     bool
	)
	for {
		select {
		case <-ctx.Done():
			//1.- Surface context cancellation so clients can retry.
			if errors.Is(ctx.Err(), context.Canceled) {
				return status.Error(codes.Canceled, "stream cancelled")
			}
			return status.Error(codes.DeadlineExceeded, "stream deadline exceeded")
		case _, ok := <-tickCh:
			if !ok {
				return nil
			}
			record := s.source.Telemetry()
			//2.- A stalled physics loop produces no duplicate frames.
			if sent && record.Tick == lastTick {
				continue
			}
			msg, err := Encode(record)
			if err != nil {
				return status.Errorf(codes.Internal, "encode telemetry: %v", err)
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
			lastTick, sent = record.Tick, true
		}
	}
}

// SubmitCommand decodes one control frame and routes it through the gate into the queue.
func (s *Service) SubmitCommand(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	if s == nil || s.intake == nil {
		return nil, status.Error(codes.FailedPrecondition, "commands unavailable")
	}
	env, err := input.DecodeFields(in.AsMap())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if env.ClientID == "" {
		env.ClientID = clientID(ctx)
	}
	decision, err := s.intake.Submit(env)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "enqueue command: %v", err)
	}
	switch decision.Reason {
	case input.DropReasonNone:
		return &emptypb.Empty{}, nil
	case input.DropReasonRateLimited:
		return nil, status.Error(codes.ResourceExhausted, "command rate limited")
	default:
		return nil, status.Errorf(codes.Aborted, "command dropped: %s", decision.Reason)
	}
}

// clientID names the caller from metadata, falling back to the peer address.
func clientID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for _, value := range md.Get(ClientIDMetadataKey) {
			if value != "" {
				return value
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return "grpc:" + p.Addr.String()
	}
	return ""
}
