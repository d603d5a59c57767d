package store_test

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/precache/store"
)

const resource = "http://origin.test/videos/clip.mp4"

func TestFileStoreAppendReadPromote(t *testing.T) {
	root := t.TempDir()

	s, err := store.NewFileStore(root, resource, nil)
	require.NoError(t, err)

	assert.EqualValues(t, 0, s.Available())
	assert.False(t, s.Complete())
	assert.True(t, strings.HasSuffix(s.Path(), ".download"))

	n, err := s.Append([]byte("hello "))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, err = s.Append([]byte("world"))
	require.NoError(t, err)
	assert.EqualValues(t, 11, s.Available())

	buf := make([]byte, 5)
	_, err = s.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf))

	require.NoError(t, s.SetComplete())
	assert.True(t, s.Complete())
	assert.False(t, strings.HasSuffix(s.Path(), ".download"))
	assert.True(t, strings.HasSuffix(s.Path(), ".mp4"), "artifact keeps the resource extension")

	// promoted artifacts reject further writes
	_, err = s.Append([]byte("more"))
	require.ErrorIs(t, err, store.ErrStoreComplete)

	// reads still work after promotion
	_, err = s.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	require.NoError(t, s.Close())
}

func TestFileStoreReadsSurvivePromotion(t *testing.T) {
	root := t.TempDir()

	s, err := store.NewFileStore(root, resource, nil)
	require.NoError(t, err)
	defer s.Close()

	payload := strings.Repeat("stream", 1024)
	_, err = s.Append([]byte(payload))
	require.NoError(t, err)

	// readers keep hammering the handle while the artifact is promoted;
	// none of them may ever observe a closed file
	start := make(chan struct{})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			buf := make([]byte, 6)
			for range 200 {
				_, err := s.ReadAt(buf, 0)
				assert.NoError(t, err)
				assert.Equal(t, "stream", string(buf))
			}
		}()
	}

	close(start)
	require.NoError(t, s.SetComplete())
	wg.Wait()

	assert.True(t, s.Complete())
	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
}

func TestFileStoreResumesPartialDownload(t *testing.T) {
	root := t.TempDir()

	s, err := store.NewFileStore(root, resource, nil)
	require.NoError(t, err)
	_, err = s.Append([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// a new store over the same resource picks the bytes back up
	s2, err := store.NewFileStore(root, resource, nil)
	require.NoError(t, err)
	defer s2.Close()

	assert.EqualValues(t, 7, s2.Available())
	assert.False(t, s2.Complete())

	_, err = s2.Append([]byte(" resumed"))
	require.NoError(t, err)
	require.NoError(t, s2.SetComplete())

	data, err := os.ReadFile(s2.Path())
	require.NoError(t, err)
	assert.Equal(t, "partial resumed", string(data))
}

func TestFileStoreReopensCompleteArtifact(t *testing.T) {
	root := t.TempDir()

	s, err := store.NewFileStore(root, resource, nil)
	require.NoError(t, err)
	_, err = s.Append([]byte("done"))
	require.NoError(t, err)
	require.NoError(t, s.SetComplete())
	require.NoError(t, s.Close())

	s2, err := store.NewFileStore(root, resource, nil)
	require.NoError(t, err)
	defer s2.Close()

	assert.True(t, s2.Complete())
	assert.EqualValues(t, 4, s2.Available())
}

func TestFileStoreDistinctResourcesDistinctFiles(t *testing.T) {
	root := t.TempDir()

	a, err := store.NewFileStore(root, "http://origin.test/a.bin", nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := store.NewFileStore(root, "http://origin.test/b.bin", nil)
	require.NoError(t, err)
	defer b.Close()

	assert.NotEqual(t, a.Path(), b.Path())
	assert.Equal(t, filepath.Dir(a.Path()), filepath.Dir(b.Path()))
}

func TestFileStoreBadRoot(t *testing.T) {
	blocked := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))

	_, err := store.NewFileStore(filepath.Join(blocked, "cache"), resource, nil)
	require.Error(t, err)
}

func TestFileStoreReadPastAvailable(t *testing.T) {
	s, err := store.NewFileStore(t.TempDir(), resource, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Append([]byte("abc"))
	require.NoError(t, err)

	buf := make([]byte, 8)
	n, err := s.ReadAt(buf, 0)
	assert.Equal(t, 3, n)
	assert.ErrorIs(t, err, io.EOF)
}
