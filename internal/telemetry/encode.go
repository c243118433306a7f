package telemetry

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"enginesound/server/internal/engine"
)

// Encode converts a telemetry record into the wire struct.
func Encode(t engine.Telemetry) (*structpb.Struct, error) {
	msg, err := structpb.NewStruct(t.Map())
	if err != nil {
		return nil, fmt.Errorf("encode telemetry: %w", err)
	}
	return msg, nil
}

// MarshalJSON renders a telemetry record with protojson so websocket and gRPC clients see the
// same field names.
func MarshalJSON(t engine.Telemetry) ([]byte, error) {
	msg, err := Encode(t)
	if err != nil {
		return nil, err
	}
	return protojson.MarshalOptions{UseProtoNames: true}.Marshal(msg)
}
