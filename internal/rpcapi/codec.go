package rpcapi

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype registered with grpc-go for every
// dispatcher-defined service. It is installed once via init(), and
// ServerOption / DialOption below (plus the client stubs) force its use
// with grpc.ForceServerCodec / grpc.ForceCodec, so no "proto" codec (and no
// protoc-generated proto.Message implementation) is required for these
// messages.
//
// This is a direct generalization of the teacher's own pluggable Codec
// interface (pkg/pyproc/codec.go), which already offers interchangeable
// JSON and MessagePack backends for its Unix-domain-socket protocol and
// left a "protobuf codec not yet implemented" TODO. Rather than hand-forge
// protoreflect descriptors with no protoc toolchain available, that same
// codec abstraction is extended to also carry the dispatcher's own gRPC
// messages.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

// CodecName is the grpc encoding.Codec name under which jsonCodec is
// registered.
const CodecName = "dispatcher-json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// DialOption forces every call made over a dialed connection to use the
// dispatcher's JSON codec, so worker- and control-facing clients never
// need a "proto" content-type negotiation.
func DialOption() grpc.DialOption {
	return grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}))
}

// ServerOption forces every method served by a *grpc.Server to use the
// dispatcher's JSON codec regardless of the caller's content-subtype.
func ServerOption() grpc.ServerOption {
	return grpc.ForceServerCodec(jsonCodec{})
}
