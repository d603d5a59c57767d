package event

// EngineLifecycle is the payload carried with engine created/destroyed
// events so owners can audit session activations.
type EngineLifecycle struct {
	// Resource is the remote identifier the engine serves.
	Resource string
	// SessionID is the owning session's unique id.
	SessionID string
}

// CacheCompleted is published once a resource is fully persisted.
type CacheCompleted struct {
	// Resource is the remote identifier that produced the artifact.
	Resource string
	// Artifact is the final on-disk path of the cached file.
	Artifact string
	// ContentLength is the total artifact size in bytes.
	ContentLength int64
}

var (
	// EngineCreatedTopic fires after a session activates a new engine.
	EngineCreatedTopic = NewTopic[EngineLifecycle]("engine.created")
	// EngineDestroyedTopic fires after a session tears an engine down.
	EngineDestroyedTopic = NewTopic[EngineLifecycle]("engine.destroyed")
	// CacheCompletedTopic fires when a background fill reaches 100%.
	CacheCompletedTopic = NewTopic[CacheCompleted]("cache.completed")
)
