package session

import (
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	cachev1 "github.com/omalloc/precache/api/defined/v1/cache"
	"github.com/omalloc/precache/internal/constants"
	"github.com/omalloc/precache/metrics"
)

var _ cachev1.Listener = (*Dispatcher)(nil)

// Dispatcher is the single listener a session registers with its engine. It
// marshals progress events onto one dedicated goroutine and re-broadcasts
// each event to a snapshot of the observer set, so observers are never
// invoked concurrently with each other and never on the engine's goroutine.
type Dispatcher struct {
	log *zap.SugaredLogger

	mu        sync.RWMutex
	observers []cachev1.Listener

	queue     chan cachev1.ProgressEvent
	done      chan struct{}
	closeOnce sync.Once
}

func newDispatcher(log *zap.SugaredLogger) *Dispatcher {
	d := &Dispatcher{
		log:   log,
		queue: make(chan cachev1.ProgressEvent, constants.ProgressQueueSize),
		done:  make(chan struct{}),
	}
	go d.pump()
	return d
}

// OnCacheAvailable enqueues the event for broadcast. Fire-and-forget: a
// saturated queue drops the event rather than stalling the engine.
func (d *Dispatcher) OnCacheAvailable(ev cachev1.ProgressEvent) {
	select {
	case <-d.done:
	case d.queue <- ev:
		metrics.ProgressEventsTotal.Inc()
	default:
		metrics.ProgressDroppedTotal.Inc()
		d.log.Warnw("progress queue full, dropping event",
			"resource", ev.Resource,
			"percent", ev.Percent,
		)
	}
}

// Register adds an observer. It takes effect for the next broadcast.
func (d *Dispatcher) Register(l cachev1.Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, l)
}

// Unregister removes an observer by identity. Removing an absent observer
// is a no-op; a broadcast already in flight still delivers to it.
func (d *Dispatcher) Unregister(l cachev1.Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = lo.Filter(d.observers, func(x cachev1.Listener, _ int) bool {
		return x != l
	})
}

// Clear drops every observer but keeps the pump running; the session stays
// usable after a shutdown.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = nil
}

// Close stops the pump goroutine. Pending events are discarded.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
	})
	d.Clear()
}

func (d *Dispatcher) pump() {
	for {
		select {
		case <-d.done:
			return
		case ev := <-d.queue:
			d.broadcast(ev)
		}
	}
}

// broadcast delivers ev to a snapshot of the observer set taken now;
// registrations racing this event only affect the next one.
func (d *Dispatcher) broadcast(ev cachev1.ProgressEvent) {
	d.mu.RLock()
	snapshot := make([]cachev1.Listener, len(d.observers))
	copy(snapshot, d.observers)
	d.mu.RUnlock()

	for _, l := range snapshot {
		d.deliver(l, ev)
	}
}

// deliver shields the pump from a misbehaving observer; a panic is logged
// and the remaining observers still receive the event.
func (d *Dispatcher) deliver(l cachev1.Listener, ev cachev1.ProgressEvent) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ListenerFailuresTotal.Inc()
			d.log.Errorw("cache listener panicked",
				"resource", ev.Resource,
				"panic", r,
			)
		}
	}()

	l.OnCacheAvailable(ev)
}
