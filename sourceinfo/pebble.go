package sourceinfo

import (
	"context"
	"errors"

	"github.com/cockroachdb/pebble/v2"

	cachev1 "github.com/omalloc/precache/api/defined/v1/cache"
	"github.com/omalloc/precache/pkg/encoding"
)

var _ Store = (*pebbleStore)(nil)

type pebbleStore struct {
	db *pebble.DB
}

// NewPebble opens a pebble-backed Store at path.
func NewPebble(path string) (Store, error) {
	db, err := pebble.Open(path, &pebble.Options{
		DisableWAL: true,
	})
	if err != nil {
		return nil, err
	}

	return &pebbleStore{db: db}, nil
}

func (r *pebbleStore) Get(_ context.Context, url string) (*cachev1.ContentInfo, error) {
	val, closer, err := r.db.Get([]byte(url))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer func() { _ = closer.Close() }()

	info := &cachev1.ContentInfo{}
	if err := encoding.Unmarshal(val, info); err != nil {
		return nil, err
	}
	return info, nil
}

func (r *pebbleStore) Put(_ context.Context, info *cachev1.ContentInfo) error {
	val, err := encoding.Marshal(info)
	if err != nil {
		return err
	}
	return r.db.Set([]byte(info.URL), val, pebble.NoSync)
}

func (r *pebbleStore) Close() error {
	return r.db.Close()
}
