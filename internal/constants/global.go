package constants

const AppName = "precache"

// on-disk naming
const (
	// DownloadSuffix marks a partial artifact still being filled.
	DownloadSuffix = ".download"
)

// engine tuning
const (
	// FillChunkSize is the read size used by the background fill loop.
	FillChunkSize = 64 << 10
	// ServeChunkSize is the read size used when streaming to a sink.
	ServeChunkSize = 32 << 10
	// ProgressQueueSize bounds the dispatcher's pending event queue.
	ProgressQueueSize = 64
)
