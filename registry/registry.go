package registry

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/omalloc/precache/conf"
	"github.com/omalloc/precache/metrics"
	"github.com/omalloc/precache/pkg/encoding"
	"github.com/omalloc/precache/pkg/logging"
	"github.com/omalloc/precache/session"
	"github.com/omalloc/precache/sourceinfo"
)

// Registry owns one session per resource for the whole process. Sessions
// are created on first use and live until evicted or the registry shuts
// down; eviction only removes sessions with zero consumers.
type Registry struct {
	cfg  *conf.Config
	log  *zap.SugaredLogger
	info sourceinfo.Store

	mu       sync.Mutex
	sessions map[string]*session.Session
	closed   bool
}

// New builds a registry over cfg. When cfg carries no InfoStore one is
// created from cfg.SourceInfo and owned (closed) by the registry.
func New(cfg *conf.Config, log *zap.SugaredLogger) (*Registry, error) {
	if cfg == nil {
		cfg = conf.Default()
	}
	if log == nil {
		if cfg.LogFile != "" {
			log = logging.NewFileLogger(cfg.LogFile, cfg.Verbose)
		} else {
			log = logging.Nop()
		}
	}

	if err := encoding.Select(cfg.Encoding); err != nil {
		return nil, fmt.Errorf("record codec: %w", err)
	}

	var owned sourceinfo.Store
	if cfg.InfoStore == nil {
		si := cfg.SourceInfo
		if si == nil {
			si = &conf.SourceInfo{Driver: "memory"}
		}
		store, err := sourceinfo.Create(si.Driver, si.Path)
		if err != nil {
			return nil, fmt.Errorf("sourceinfo store: %w", err)
		}
		cfg.InfoStore = store
		owned = store
	}

	return &Registry{
		cfg:      cfg,
		log:      log,
		info:     owned,
		sessions: make(map[string]*session.Session),
	}, nil
}

// Session returns the session for resource, creating it on first use.
func (r *Registry) Session(resource string) (*session.Session, error) {
	u, err := url.Parse(resource)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid resource %q", resource)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("registry closed")
	}

	s, ok := r.sessions[resource]
	if !ok {
		s = session.New(resource, r.cfg, session.WithLogger(r.log))
		r.sessions[resource] = s
		metrics.SessionsActive.Inc()
		r.log.Debugw("session created", "resource", resource, "session", s.ID())
	}
	return s, nil
}

// Count reports how many sessions the registry currently holds.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// EvictIdle closes and removes every session without active consumers and
// returns how many were evicted. The count check is advisory: a consumer
// arriving concurrently loses the race and simply gets a fresh session on
// its next lookup.
func (r *Registry) EvictIdle() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for resource, s := range r.sessions {
		if s.ConsumerCount() > 0 {
			continue
		}
		s.Close()
		delete(r.sessions, resource)
		metrics.SessionsActive.Dec()
		evicted++
	}
	return evicted
}

// Shutdown force-closes every session concurrently and releases the
// registry's sourceinfo store. The registry rejects lookups afterwards.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*session.Session)
	r.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, s := range sessions {
		g.Go(func() error {
			s.Close()
			return nil
		})
	}
	err := g.Wait()

	metrics.SessionsActive.Sub(float64(len(sessions)))

	if r.info != nil {
		if cerr := r.info.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
