package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachev1 "github.com/omalloc/precache/api/defined/v1/cache"
	"github.com/omalloc/precache/pkg/logging"
)

type countingListener struct {
	mu     sync.Mutex
	events []cachev1.ProgressEvent
}

func (l *countingListener) OnCacheAvailable(ev cachev1.ProgressEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *countingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func TestBroadcastDeliversToAllExactlyOnce(t *testing.T) {
	d := newDispatcher(logging.Nop())
	defer d.Close()

	listeners := make([]*countingListener, 8)
	for i := range listeners {
		listeners[i] = &countingListener{}
		d.Register(listeners[i])
	}

	d.OnCacheAvailable(cachev1.ProgressEvent{Resource: "r1", Percent: 42})

	for _, l := range listeners {
		require.Eventually(t, func() bool {
			return l.count() == 1
		}, 2*time.Second, time.Millisecond)
	}

	// still exactly one per listener after the queue drained
	time.Sleep(20 * time.Millisecond)
	for _, l := range listeners {
		assert.Equal(t, 1, l.count())
	}
}

func TestDeliveryNeverOnCallerContext(t *testing.T) {
	d := newDispatcher(logging.Nop())
	defer d.Close()

	entered := make(chan struct{})
	release := make(chan struct{})
	d.Register(listenerFn(func(cachev1.ProgressEvent) {
		close(entered)
		<-release
	}))

	// the emit must return even though the listener is blocked
	d.OnCacheAvailable(cachev1.ProgressEvent{Resource: "r1"})

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never invoked")
	}
	close(release)
}

func TestObserversNeverInvokedConcurrently(t *testing.T) {
	d := newDispatcher(logging.Nop())
	defer d.Close()

	var inflight atomic.Int32
	var overlapped atomic.Bool
	var delivered atomic.Int32

	for range 4 {
		d.Register(listenerFn(func(cachev1.ProgressEvent) {
			if inflight.Add(1) > 1 {
				overlapped.Store(true)
			}
			time.Sleep(time.Millisecond)
			inflight.Add(-1)
			delivered.Add(1)
		}))
	}

	for i := range 8 {
		d.OnCacheAvailable(cachev1.ProgressEvent{Resource: "r1", Percent: i})
	}

	require.Eventually(t, func() bool {
		return delivered.Load() == 32
	}, 5*time.Second, time.Millisecond)
	assert.False(t, overlapped.Load(), "observer callbacks overlapped")
}

func TestUnregisterDuringBroadcastKeepsSnapshot(t *testing.T) {
	d := newDispatcher(logging.Nop())
	defer d.Close()

	gate := make(chan struct{})
	first := &countingListener{}
	second := &countingListener{}

	d.Register(listenerFn(func(cachev1.ProgressEvent) {
		<-gate // hold the broadcast open
	}))
	d.Register(first)
	d.Register(second)

	d.OnCacheAvailable(cachev1.ProgressEvent{Percent: 1})
	time.Sleep(10 * time.Millisecond) // let the pump enter the broadcast

	// removed mid-broadcast: still part of the in-flight snapshot
	d.Unregister(second)
	close(gate)

	require.Eventually(t, func() bool {
		return first.count() == 1 && second.count() == 1
	}, 2*time.Second, time.Millisecond)

	d.OnCacheAvailable(cachev1.ProgressEvent{Percent: 2})
	require.Eventually(t, func() bool {
		return first.count() == 2
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, second.count(), "unregistered observer must miss the next event")
}

func TestPanickingObserverDoesNotStopDelivery(t *testing.T) {
	d := newDispatcher(logging.Nop())
	defer d.Close()

	healthy := &countingListener{}
	d.Register(listenerFn(func(cachev1.ProgressEvent) {
		panic("observer bug")
	}))
	d.Register(healthy)

	d.OnCacheAvailable(cachev1.ProgressEvent{Percent: 5})

	require.Eventually(t, func() bool {
		return healthy.count() == 1
	}, 2*time.Second, time.Millisecond)
}

func TestUnregisterAbsentObserverIsNoop(t *testing.T) {
	d := newDispatcher(logging.Nop())
	defer d.Close()

	l := &countingListener{}
	d.Unregister(l)

	d.Register(l)
	d.OnCacheAvailable(cachev1.ProgressEvent{Percent: 1})
	require.Eventually(t, func() bool {
		return l.count() == 1
	}, 2*time.Second, time.Millisecond)
}

type listenerFn func(cachev1.ProgressEvent)

func (f listenerFn) OnCacheAvailable(ev cachev1.ProgressEvent) { f(ev) }
