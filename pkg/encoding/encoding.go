package encoding

import (
	"fmt"
	"sync"

	"github.com/omalloc/precache/pkg/encoding/cobr"
	"github.com/omalloc/precache/pkg/encoding/json"
)

var (
	mu           sync.Mutex
	defaultCodec Codec = cobr.CBORCodec{}
)

// Codec encodes and decodes persisted records. Implementations must be
// safe for concurrent use.
type Codec interface {
	// Marshal returns the wire format of v.
	Marshal(v any) ([]byte, error)
	// Unmarshal parses the wire format into v.
	Unmarshal(data []byte, v any) error
	// Name returns the static name of the codec.
	Name() string
}

// SetDefaultCodec sets the codec used by package-level Marshal/Unmarshal.
func SetDefaultCodec(codec Codec) {
	mu.Lock()
	defer mu.Unlock()

	defaultCodec = codec
}

func GetDefaultCodec() Codec {
	mu.Lock()
	defer mu.Unlock()

	return defaultCodec
}

// Select sets the default codec by name. An empty name keeps CBOR.
func Select(name string) error {
	switch name {
	case "", "cbor":
		SetDefaultCodec(cobr.CBORCodec{})
	case "json":
		SetDefaultCodec(json.JSONCodec{})
	default:
		return fmt.Errorf("unknown codec %q", name)
	}
	return nil
}

func Marshal(v any) ([]byte, error) {
	return GetDefaultCodec().Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return GetDefaultCodec().Unmarshal(data, v)
}

func Name() string {
	return GetDefaultCodec().Name()
}
