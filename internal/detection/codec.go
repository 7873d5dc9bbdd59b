package detection

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is the gRPC content-subtype used for wire messages between
// the detector stage and the external detection service. The service
// contract here is private to this codebase (no shared .proto), so a small
// JSON codec stands in for generated protobuf marshaling — grpc supports
// arbitrary codecs via encoding.RegisterCodec, this is simply a minimal one.
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
