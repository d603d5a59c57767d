package json

import (
	"github.com/goccy/go-json"
)

// JSONCodec stores records as JSON. Useful when the sourceinfo database
// should stay inspectable with plain tools.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (JSONCodec) Name() string {
	return "json"
}
