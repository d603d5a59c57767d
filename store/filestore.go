package store

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	cachev1 "github.com/omalloc/precache/api/defined/v1/cache"
	"github.com/omalloc/precache/internal/constants"
)

// ErrStoreComplete is returned when appending to a finished artifact.
var ErrStoreComplete = errors.New("artifact already complete")

var _ cachev1.Store = (*FileStore)(nil)

// FileStore keeps one resource's bytes in a single cache file. While the
// download is in progress the bytes live in a ".download" sibling that is
// promoted to the final name on completion; a partial file left behind by a
// previous process is picked up and resumed.
type FileStore struct {
	usage DiskUsage

	mu       sync.Mutex
	f        *os.File
	path     string // final artifact path
	tmpPath  string
	size     int64
	complete bool
}

// NewFileStore opens (or resumes) the cache file for resource under root.
// The file name is the xxhash of the resource id plus its original extension.
func NewFileStore(root, resource string, usage DiskUsage) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("prepare cache root: %w", err)
	}
	if usage == nil {
		usage = Unlimited()
	}

	path := filepath.Join(root, artifactName(resource))
	s := &FileStore{
		usage:   usage,
		path:    path,
		tmpPath: path + constants.DownloadSuffix,
	}

	// a finished artifact from a previous run
	if st, err := os.Stat(path); err == nil {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open artifact: %w", err)
		}
		s.f = f
		s.size = st.Size()
		s.complete = true
		_ = usage.Touch(path)
		return s, nil
	}

	f, err := os.OpenFile(s.tmpPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open partial artifact: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	s.f = f
	s.size = st.Size()
	return s, nil
}

func (s *FileStore) Available() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *FileStore) Append(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.complete {
		return 0, ErrStoreComplete
	}

	n, err := s.f.WriteAt(p, s.size)
	s.size += int64(n)
	return n, err
}

func (s *FileStore) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	f := s.f
	s.mu.Unlock()

	return f.ReadAt(p, off)
}

func (s *FileStore) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

// SetComplete promotes the partial file to its final name. The open handle
// is kept; the rename moves the same inode, so readers holding the handle
// outside the lock stay valid. Touch runs afterwards so retention sees the
// new artifact.
func (s *FileStore) SetComplete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.complete {
		return nil
	}

	if err := s.f.Sync(); err != nil {
		return err
	}
	if err := os.Rename(s.tmpPath, s.path); err != nil {
		return fmt.Errorf("promote artifact: %w", err)
	}
	s.complete = true

	return s.usage.Touch(s.path)
}

func (s *FileStore) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.complete {
		return s.path
	}
	return s.tmpPath
}

// Close releases the file handle. A partial artifact stays on disk so a
// later store can resume the download.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

func artifactName(resource string) string {
	name := fmt.Sprintf("%016x", xxhash.Sum64String(resource))
	if ext := resourceExt(resource); ext != "" {
		name += ext
	}
	return name
}

// resourceExt extracts a safe file extension from the resource URL path.
func resourceExt(resource string) string {
	u, err := url.Parse(resource)
	if err != nil {
		return ""
	}
	ext := filepath.Ext(u.Path)
	if len(ext) > 8 || strings.ContainsAny(ext, "/\\") {
		return ""
	}
	return ext
}
