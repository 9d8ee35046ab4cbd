package connector

import "encoding/json"

// jsonCodec is a google.golang.org/grpc/encoding.Codec that marshals
// request/response pairs as JSON instead of protobuf. Registered under
// Name() so a call can select it with grpc.CallContentSubtype, letting
// NodeConnector invoke data-plane methods without generated .pb.go
// stubs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }

const codecName = "json"
