package telemetry

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"enginesound/server/internal/engine"
	"enginesound/server/internal/input"
	"enginesound/server/internal/logging"
)

type countingSource struct {
	calls atomic.Uint64
	fixed bool
}

func (s *countingSource) Telemetry() engine.Telemetry {
	n := s.calls.Add(1)
	tick := n
	if s.fixed {
		tick = 1
	}
	return engine.Telemetry{Tick: tick, RPM: 1000 + float64(n), Gear: 2, Preset: "v8"}
}

type telemetryStreamStub struct {
	grpc.ServerStream
	ctx    context.Context
	frames []*structpb.Struct
}

func (s *telemetryStreamStub) Send(msg *structpb.Struct) error {
	s.frames = append(s.frames, msg)
	return nil
}

func (s *telemetryStreamStub) Context() context.Context { return s.ctx }

func manualTicker(ch chan time.Time) Option {
	return WithTickerFactory(func(time.Duration) (<-chan time.Time, func()) { return ch, func() {} })
}

func TestStreamTelemetrySkipsUnchangedTicks(t *testing.T) {
	tickCh := make(chan time.Time, 3)
	service := NewService(&countingSource{fixed: true}, nil, manualTicker(tickCh), WithLogger(logging.NewTestLogger()))
	for i := 0; i < 3; i++ {
		tickCh <- time.Now()
	}
	close(tickCh)
	stream := &telemetryStreamStub{ctx: context.Background()}
	if err := service.StreamTelemetry(nil, stream); err != nil {
		t.Fatalf("stream returned error: %v", err)
	}
	if len(stream.frames) != 1 {
		t.Fatalf("expected a single frame for an unchanged tick, got %d", len(stream.frames))
	}
	fields := stream.frames[0].GetFields()
	if fields["preset"].GetStringValue() != "v8" || fields["gear"].GetNumberValue() != 2 {
		t.Fatalf("unexpected frame %v", stream.frames[0])
	}
}

func TestStreamTelemetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	service := NewService(&countingSource{}, nil, manualTicker(make(chan time.Time)))
	err := service.StreamTelemetry(nil, &telemetryStreamStub{ctx: ctx})
	if status.Code(err) != codes.Canceled {
		t.Fatalf("expected cancelled status, got %v", err)
	}
}

func TestStreamTelemetryRequiresSource(t *testing.T) {
	var service *Service
	if status.Code(service.StreamTelemetry(nil, &telemetryStreamStub{ctx: context.Background()})) != codes.FailedPrecondition {
		t.Fatalf("expected failed precondition")
	}
}

type harness struct {
	client *Client
	queue  *input.Queue
	ticks  chan time.Time
}

func startServer(t *testing.T, secret string) *harness {
	t.Helper()
	queue := input.NewQueue(16)
	gate := input.NewGate(input.GateConfig{MinInterval: time.Hour}, logging.NewTestLogger())
	ticks := make(chan time.Time, 4)
	service := NewService(&countingSource{}, input.NewIntake(gate, queue), manualTicker(ticks), WithLogger(logging.NewTestLogger()))

	lis := bufconn.Listen(1 << 20)
	server := NewServer(service, secret, logging.NewTestLogger())
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &harness{client: NewClient(conn), queue: queue, ticks: ticks}
}

func command(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	return msg
}

func TestTelemetryOverBufconn(t *testing.T) {
	h := startServer(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := h.client.StreamTelemetry(ctx, grpc.UseCompressor(gzip.Name))
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	h.ticks <- time.Now()
	h.ticks <- time.Now()
	for i := 0; i < 2; i++ {
		msg, err := stream.Recv()
		if err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
		if msg.GetFields()["rpm"].GetNumberValue() <= 1000 {
			t.Fatalf("unexpected rpm in %v", msg)
		}
	}
}

func TestSubmitCommandQueuesAndGates(t *testing.T) {
	h := startServer(t, "")
	ctx := metadata.AppendToOutgoingContext(context.Background(), ClientIDMetadataKey, "pad")

	if _, err := h.client.SubmitCommand(ctx, command(t, map[string]any{"type": "throttle", "value": 0.5, "sequence_id": 1})); err != nil {
		t.Fatalf("submit throttle: %v", err)
	}
	_, err := h.client.SubmitCommand(ctx, command(t, map[string]any{"type": "throttle", "value": 0.6, "sequence_id": 1}))
	if status.Code(err) != codes.Aborted {
		t.Fatalf("expected replay to abort, got %v", err)
	}
	_, err = h.client.SubmitCommand(ctx, command(t, map[string]any{"type": "throttle", "value": 0.7, "sequence_id": 2}))
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if _, err := h.client.SubmitCommand(ctx, command(t, map[string]any{"type": "gear", "gear": 2, "sequence_id": 3})); err != nil {
		t.Fatalf("discrete commands bypass the rate limit: %v", err)
	}
	_, err = h.client.SubmitCommand(ctx, command(t, map[string]any{"type": "warp"}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}

	cmds := h.queue.Drain(nil)
	if len(cmds) != 2 || cmds[0] != input.Throttle(0.5) || cmds[1] != input.Gear(2) {
		t.Fatalf("unexpected queued commands %+v", cmds)
	}
}

func TestSharedSecretProtectsBothMethods(t *testing.T) {
	h := startServer(t, "hunter2")
	msg := command(t, map[string]any{"type": "gear_up", "sequence_id": 1})

	_, err := h.client.SubmitCommand(context.Background(), msg)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer hunter2")
	if _, err := h.client.SubmitCommand(ctx, msg); err != nil {
		t.Fatalf("bearer token should authenticate: %v", err)
	}

	stream, err := h.client.StreamTelemetry(context.Background())
	if err == nil {
		_, err = stream.Recv()
	}
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected stream to be rejected, got %v", err)
	}
}
