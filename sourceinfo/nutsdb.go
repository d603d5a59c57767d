package sourceinfo

import (
	"context"
	"errors"

	"github.com/nutsdb/nutsdb"

	cachev1 "github.com/omalloc/precache/api/defined/v1/cache"
	"github.com/omalloc/precache/pkg/encoding"
)

const nutsBucket = "sourceinfo"

var _ Store = (*nutsStore)(nil)

type nutsStore struct {
	db *nutsdb.DB
}

// NewNutsDB opens a nutsdb-backed Store at path.
func NewNutsDB(path string) (Store, error) {
	db, err := nutsdb.Open(
		nutsdb.DefaultOptions,
		nutsdb.WithDir(path),
	)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *nutsdb.Tx) error {
		if tx.ExistBucket(nutsdb.DataStructureBTree, nutsBucket) {
			return nil
		}
		return tx.NewBucket(nutsdb.DataStructureBTree, nutsBucket)
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &nutsStore{db: db}, nil
}

func (r *nutsStore) Get(_ context.Context, url string) (*cachev1.ContentInfo, error) {
	var val []byte
	err := r.db.View(func(tx *nutsdb.Tx) error {
		v, err := tx.Get(nutsBucket, []byte(url))
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	if err != nil {
		if errors.Is(err, nutsdb.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	info := &cachev1.ContentInfo{}
	if err := encoding.Unmarshal(val, info); err != nil {
		return nil, err
	}
	return info, nil
}

func (r *nutsStore) Put(_ context.Context, info *cachev1.ContentInfo) error {
	val, err := encoding.Marshal(info)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *nutsdb.Tx) error {
		return tx.Put(nutsBucket, []byte(info.URL), val, nutsdb.Persistent)
	})
}

func (r *nutsStore) Close() error {
	return r.db.Close()
}
