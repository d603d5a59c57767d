package sourceinfo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachev1 "github.com/omalloc/precache/api/defined/v1/cache"
	"github.com/omalloc/precache/sourceinfo"
)

var record = &cachev1.ContentInfo{
	URL:    "http://origin.test/clip.mp4",
	Length: 1 << 20,
	Mime:   "video/mp4",
}

func TestCreateUnknownDriver(t *testing.T) {
	_, err := sourceinfo.Create("etcd", "")
	require.Error(t, err)
}

func TestCreateDefaultsToMemory(t *testing.T) {
	s, err := sourceinfo.Create("", "")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(t.Context(), record))
	got, err := s.Get(t.Context(), record.URL)
	require.NoError(t, err)
	assert.Equal(t, record, got)
}

func TestMemoryStoreMiss(t *testing.T) {
	s := sourceinfo.NewMemory()
	defer s.Close()

	_, err := s.Get(t.Context(), "http://origin.test/absent")
	require.ErrorIs(t, err, sourceinfo.ErrNotFound)
}

func TestPebbleStoreRoundTrip(t *testing.T) {
	s, err := sourceinfo.NewPebble(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(t.Context(), record.URL)
	require.ErrorIs(t, err, sourceinfo.ErrNotFound)

	require.NoError(t, s.Put(t.Context(), record))
	got, err := s.Get(t.Context(), record.URL)
	require.NoError(t, err)
	assert.Equal(t, record, got)

	// overwrite wins
	updated := *record
	updated.Length = 2 << 20
	require.NoError(t, s.Put(t.Context(), &updated))
	got, err = s.Get(t.Context(), record.URL)
	require.NoError(t, err)
	assert.EqualValues(t, 2<<20, got.Length)
}

func TestNutsDBStoreRoundTrip(t *testing.T) {
	s, err := sourceinfo.NewNutsDB(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(t.Context(), record.URL)
	require.ErrorIs(t, err, sourceinfo.ErrNotFound)

	require.NoError(t, s.Put(t.Context(), record))
	got, err := s.Get(t.Context(), record.URL)
	require.NoError(t, err)
	assert.Equal(t, record, got)
}
