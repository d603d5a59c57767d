package sourceinfo

import (
	"context"
	"errors"
	"fmt"

	cachev1 "github.com/omalloc/precache/api/defined/v1/cache"
)

// ErrNotFound is returned when no record exists for a resource.
var ErrNotFound = errors.New("source info not found")

// Store persists origin-reported content info per resource so restarts and
// HEAD-less origins keep serving correct response heads.
type Store interface {
	Get(ctx context.Context, url string) (*cachev1.ContentInfo, error)
	Put(ctx context.Context, info *cachev1.ContentInfo) error
	Close() error
}

// Create builds a Store by driver name. An empty driver selects the
// in-memory store.
func Create(driver, path string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "pebble":
		return NewPebble(path)
	case "nutsdb":
		return NewNutsDB(path)
	default:
		return nil, fmt.Errorf("unknown sourceinfo driver %q", driver)
	}
}
