package cache

import (
	"context"
	"io"
)

// ProgressEvent is emitted whenever newly-cached bytes of a resource become
// available. Fire-and-forget, never persisted.
type ProgressEvent struct {
	// Resource is the canonical remote identifier (typically an HTTP URL).
	Resource string
	// Percent is the share of the resource already cached, 0-100.
	// -1 when the total length is still unknown.
	Percent int
	// Artifact is the local path of the (possibly partial) cached file.
	Artifact string
}

// Listener receives cache progress notifications.
//
// Listeners are compared by identity when unregistering, so the same value
// must be passed to register and unregister.
type Listener interface {
	OnCacheAvailable(ev ProgressEvent)
}

// Request identifies a byte-range or whole-resource fetch.
type Request struct {
	// Resource is the remote identifier the request targets.
	Resource string
	// Offset is the first byte wanted. 0 means the whole resource.
	Offset int64
	// Raw skips the HTTP-style response head; the sink receives body
	// bytes only.
	Raw bool
}

// ContentInfo describes a remote resource as reported by its origin.
type ContentInfo struct {
	URL    string `json:"url" cbor:"1,keyasint"`
	Length int64  `json:"length" cbor:"2,keyasint"` // -1 when unknown
	Mime   string `json:"mime" cbor:"3,keyasint"`
}

// Source reads remote bytes for one resource.
type Source interface {
	// Open returns a reader positioned at offset. The reader must unblock
	// when ctx is canceled.
	Open(ctx context.Context, offset int64) (io.ReadCloser, error)
	// ContentInfo resolves the resource's length and mime type.
	ContentInfo(ctx context.Context) (*ContentInfo, error)
	Close() error
}

// Store persists one resource's bytes as an append-only partial artifact.
type Store interface {
	// Available returns how many leading bytes are already stored.
	Available() int64
	// Append writes p after the currently available bytes.
	Append(p []byte) (int, error)
	// ReadAt reads stored bytes from off. Callers must not read past
	// Available.
	ReadAt(p []byte, off int64) (int, error)
	// Complete reports whether the artifact holds the whole resource.
	Complete() bool
	// SetComplete promotes the partial artifact to its final location.
	SetComplete() error
	// Path returns the artifact's current on-disk path.
	Path() string
	Close() error
}

// Engine fetches, caches and serves one resource's bytes. An engine is
// exclusively owned by its session and shut down when the last consumer
// disconnects.
type Engine interface {
	// ProcessRequest serves one request to the sink, blocking for the
	// duration of the exchange. Safe for concurrent callers.
	ProcessRequest(ctx context.Context, req *Request, sink io.Writer) error
	// Shutdown releases the engine's source and store. Idempotent.
	Shutdown()
	// RegisterCacheListener sets the engine's single progress listener.
	// Last set wins; nil clears it.
	RegisterCacheListener(l Listener)
}
