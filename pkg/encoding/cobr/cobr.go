package cobr

import "github.com/fxamacker/cbor/v2"

// CBORCodec stores records as compact CBOR, keyed by the keyasint struct
// tags. The default codec.
type CBORCodec struct{}

func (CBORCodec) Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (CBORCodec) Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

func (CBORCodec) Name() string {
	return "cbor"
}
