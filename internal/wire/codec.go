package wire

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName identifies the codec in the gRPC content-subtype.
const CodecName = "hwwire"

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec implements grpc/encoding.Codec for Message values.
type Codec struct{}

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("wire: cannot marshal %T", v)
	}
	return m.MarshalWire()
}

func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("wire: cannot unmarshal into %T", v)
	}
	return m.UnmarshalWire(data)
}
