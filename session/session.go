package session

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	cachev1 "github.com/omalloc/precache/api/defined/v1/cache"
	"github.com/omalloc/precache/api/defined/v1/event"
	"github.com/omalloc/precache/conf"
	"github.com/omalloc/precache/metrics"
	"github.com/omalloc/precache/pkg/logging"
)

// Session coordinates all consumers of one resource. The underlying engine
// is created lazily on the first request and shut down when the consumer
// count returns to zero, so at most one engine exists per resource at a
// time no matter how many consumers stream from it.
type Session struct {
	id         string
	resource   string
	cfg        *conf.Config
	log        *zap.SugaredLogger
	factory    Factory
	dispatcher *Dispatcher

	consumers atomic.Int32

	// mu serializes engine create/destroy transitions. Request delegation
	// itself runs outside the lock.
	mu     sync.Mutex
	engine cachev1.Engine
}

type Option func(*Session)

// WithFactory replaces the default engine factory.
func WithFactory(f Factory) Option {
	return func(s *Session) { s.factory = f }
}

// WithLogger sets the session logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Session) { s.log = log }
}

func New(resource string, cfg *conf.Config, opts ...Option) *Session {
	s := &Session{
		id:       uuid.NewString(),
		resource: resource,
		cfg:      cfg,
		log:      logging.Nop(),
		factory:  newEngine,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.log = s.log.With("resource", resource, "session", s.id)
	s.dispatcher = newDispatcher(s.log)
	return s
}

// ID returns the session's unique id, used in logs and lifecycle events.
func (s *Session) ID() string {
	return s.id
}

// Resource returns the canonical remote identifier this session serves.
func (s *Session) Resource() string {
	return s.resource
}

// ProcessRequest serves one request to sink through the shared engine,
// creating the engine if this is the first active consumer. The consumer
// count is released on every exit path, and the engine is shut down when
// the count returns to zero.
func (s *Session) ProcessRequest(ctx context.Context, req *cachev1.Request, sink io.Writer) error {
	eng, err := s.acquire()
	if err != nil {
		return err
	}
	defer s.release()

	return eng.ProcessRequest(ctx, req, sink)
}

// RegisterCacheListener adds an observer for cache progress. Valid at any
// time, including before any engine exists.
func (s *Session) RegisterCacheListener(l cachev1.Listener) {
	s.dispatcher.Register(l)
}

// UnregisterCacheListener removes a previously registered observer.
// Removing an absent observer is a no-op.
func (s *Session) UnregisterCacheListener(l cachev1.Listener) {
	s.dispatcher.Unregister(l)
}

// ConsumerCount reports the consumers currently inside ProcessRequest.
// Informational only; it may be stale the instant it is read.
func (s *Session) ConsumerCount() int {
	return int(s.consumers.Load())
}

// Shutdown clears all observers, force-destroys a live engine and resets
// the consumer count. Safe to call repeatedly and concurrently with
// in-flight requests; those requests keep streaming from the engine they
// captured and observe the teardown on their release.
//
// Resetting the count while consumers are mid-flight is a known race kept
// from the original design: their releases clamp at zero instead of going
// negative. A request arriving after Shutdown lazily builds a new engine.
func (s *Session) Shutdown() {
	s.dispatcher.Clear()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	s.consumers.Store(0)
}

// Close shuts the session down and stops its dispatcher. The session must
// not be used afterwards; owners call this on eviction.
func (s *Session) Close() {
	s.Shutdown()
	s.dispatcher.Close()
}

// acquire ensures an engine exists and counts the caller as a consumer.
// Creation and the increment happen under one critical section so two
// racing first consumers cannot build two engines, and a counted consumer
// always holds a live engine reference.
func (s *Session) acquire() (cachev1.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine == nil {
		eng, err := s.factory(s.resource, s.cfg, s.dispatcher)
		if err != nil {
			return nil, err
		}
		s.engine = eng

		metrics.EnginesCreatedTotal.Inc()
		event.EngineCreatedTopic.Emit(context.Background(), event.EngineLifecycle{
			Resource:  s.resource,
			SessionID: s.id,
		})
		s.log.Debugw("engine created")
	}

	s.consumers.Add(1)
	metrics.ActiveConsumers.Inc()
	return s.engine, nil
}

// release undoes acquire. The decrement and the maybe-destroy run under
// the same lock that guards creation, so teardown never races a first
// consumer activating a fresh engine.
func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := s.consumers.Add(-1); n <= 0 {
		if n < 0 {
			// Shutdown reset the count while we were streaming
			s.consumers.Store(0)
		}
		s.teardownLocked()
	}
	metrics.ActiveConsumers.Dec()
}

func (s *Session) teardownLocked() {
	if s.engine == nil {
		return
	}

	s.engine.RegisterCacheListener(nil)
	s.engine.Shutdown()
	s.engine = nil

	metrics.EnginesDestroyedTotal.Inc()
	event.EngineDestroyedTopic.Emit(context.Background(), event.EngineLifecycle{
		Resource:  s.resource,
		SessionID: s.id,
	})
	s.log.Debugw("engine destroyed")
}
