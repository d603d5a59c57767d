package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulbellamy/ratecounter"
	"go.uber.org/zap"

	cachev1 "github.com/omalloc/precache/api/defined/v1/cache"
	"github.com/omalloc/precache/api/defined/v1/event"
	"github.com/omalloc/precache/internal/constants"
	"github.com/omalloc/precache/metrics"
	"github.com/omalloc/precache/pkg/logging"
)

var _ cachev1.Engine = (*ProxyEngine)(nil)

// ProxyEngine serves one resource to any number of concurrent sinks while a
// single background fill pulls the resource from its source into the store.
// Readers wait on a condition variable until the bytes they need land.
type ProxyEngine struct {
	resource string
	source   cachev1.Source
	store    cachev1.Store
	log      *zap.SugaredLogger
	rate     *ratecounter.RateCounter

	listener atomic.Pointer[cachev1.Listener]

	mu        sync.Mutex
	cond      *sync.Cond
	available int64
	complete  bool
	filling   bool
	fillErr   error

	fillCtx  context.Context
	cancel   context.CancelFunc
	fillWG   sync.WaitGroup
	stopOnce sync.Once

	lastPercent atomic.Int32
}

func New(resource string, src cachev1.Source, st cachev1.Store, log *zap.SugaredLogger) *ProxyEngine {
	if log == nil {
		log = logging.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &ProxyEngine{
		resource:  resource,
		source:    src,
		store:     st,
		log:       log,
		rate:      ratecounter.NewRateCounter(1 * time.Second),
		available: st.Available(),
		complete:  st.Complete(),
		fillCtx:   ctx,
		cancel:    cancel,
	}
	e.cond = sync.NewCond(&e.mu)
	e.lastPercent.Store(-1)
	return e
}

// ProcessRequest streams the resource from req.Offset to sink, pulling
// missing bytes from the origin as it goes. Safe for concurrent callers
// sharing the engine.
func (e *ProxyEngine) ProcessRequest(ctx context.Context, req *cachev1.Request, sink io.Writer) error {
	info, err := e.source.ContentInfo(ctx)
	if err != nil {
		return err
	}

	if !req.Raw {
		if err := writeHead(sink, info, req.Offset); err != nil {
			return err
		}
	}

	e.ensureFill()

	// wake blocked readers when the caller gives up. The waker takes the
	// lock so it cannot fire between a reader's ctx check and its Wait.
	stop := context.AfterFunc(ctx, e.lockedBroadcast)
	defer stop()

	buf := make([]byte, constants.ServeChunkSize)
	offset := req.Offset
	for {
		n, err := e.read(ctx, buf, offset)
		if n > 0 {
			if _, werr := sink.Write(buf[:n]); werr != nil {
				return werr
			}
			offset += int64(n)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// RegisterCacheListener sets the single progress listener. Last set wins;
// nil clears.
func (e *ProxyEngine) RegisterCacheListener(l cachev1.Listener) {
	if l == nil {
		e.listener.Store(nil)
		return
	}
	e.listener.Store(&l)
}

// Shutdown cancels the fill and releases source and store. Idempotent.
func (e *ProxyEngine) Shutdown() {
	e.stopOnce.Do(func() {
		e.cancel()
		e.lockedBroadcast()
		e.fillWG.Wait()

		_ = e.source.Close()
		_ = e.store.Close()
		e.log.Debugw("engine shut down", "resource", e.resource)
	})
}

// lockedBroadcast wakes waiting readers after a context transition. Plain
// Broadcast is enough once guarded state changed; cancellations change no
// guarded state, so the lock is what keeps the wakeup from slipping into
// the gap before a reader's Wait.
func (e *ProxyEngine) lockedBroadcast() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cond.Broadcast()
}

// read blocks until at least one byte past off is available, the artifact
// is complete, or the fill fails.
func (e *ProxyEngine) read(ctx context.Context, p []byte, off int64) (int, error) {
	e.mu.Lock()
	for off >= e.available && !e.complete && e.fillErr == nil {
		if err := ctx.Err(); err != nil {
			e.mu.Unlock()
			return 0, err
		}
		if err := e.fillCtx.Err(); err != nil {
			e.mu.Unlock()
			return 0, err
		}
		e.cond.Wait()
	}

	if off >= e.available {
		if e.complete {
			e.mu.Unlock()
			return 0, io.EOF
		}
		err := e.fillErr
		e.mu.Unlock()
		return 0, err
	}

	if rest := e.available - off; int64(len(p)) > rest {
		p = p[:rest]
	}
	e.mu.Unlock()

	return e.store.ReadAt(p, off)
}

func (e *ProxyEngine) ensureFill() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.filling || e.complete || e.fillErr != nil || e.fillCtx.Err() != nil {
		return
	}
	e.filling = true
	e.fillWG.Add(1)
	go e.fill()
}

func (e *ProxyEngine) fill() {
	defer e.fillWG.Done()

	total := int64(-1)
	if info, err := e.source.ContentInfo(e.fillCtx); err == nil {
		total = info.Length
	}

	off := e.store.Available()
	if total >= 0 && off >= total {
		// a resumed partial artifact that already holds everything
		e.finishFill()
		return
	}

	rc, err := e.source.Open(e.fillCtx, off)
	if err != nil {
		e.failFill(err)
		return
	}
	defer func() { _ = rc.Close() }()

	buf := make([]byte, constants.FillChunkSize)
	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			if _, werr := e.store.Append(buf[:n]); werr != nil {
				e.failFill(werr)
				return
			}
			e.rate.Incr(int64(n))

			e.mu.Lock()
			e.available += int64(n)
			e.mu.Unlock()
			e.cond.Broadcast()

			e.notifyProgress(total)
		}
		if errors.Is(rerr, io.EOF) {
			e.finishFill()
			return
		}
		if rerr != nil {
			e.failFill(rerr)
			return
		}
	}
}

func (e *ProxyEngine) finishFill() {
	if err := e.store.SetComplete(); err != nil {
		e.failFill(err)
		return
	}

	e.mu.Lock()
	e.complete = true
	size := e.available
	e.mu.Unlock()
	e.cond.Broadcast()

	e.notify(100)
	metrics.CacheCompletedTotal.Inc()
	event.CacheCompletedTopic.Emit(context.Background(), event.CacheCompleted{
		Resource:      e.resource,
		Artifact:      e.store.Path(),
		ContentLength: size,
	})
	e.log.Infow("resource fully cached", "resource", e.resource, "size", size)
}

func (e *ProxyEngine) failFill(err error) {
	if cerr := e.fillCtx.Err(); cerr != nil {
		// shutdown mid-fill, nothing to report
		err = cerr
	} else {
		e.log.Warnw("fill failed", "resource", e.resource, "error", err)
	}

	e.mu.Lock()
	e.fillErr = err
	e.mu.Unlock()
	e.cond.Broadcast()
}

// notifyProgress emits an event only when the integer percent moves.
func (e *ProxyEngine) notifyProgress(total int64) {
	if total <= 0 {
		return
	}

	e.mu.Lock()
	avail := e.available
	e.mu.Unlock()

	percent := int(avail * 100 / total)
	if percent > 100 {
		percent = 100
	}
	e.notify(percent)
}

// notify emits percent to the registered listener, suppressing duplicates.
func (e *ProxyEngine) notify(percent int) {
	if e.lastPercent.Swap(int32(percent)) == int32(percent) {
		return
	}
	if l := e.listener.Load(); l != nil {
		(*l).OnCacheAvailable(cachev1.ProgressEvent{
			Resource: e.resource,
			Percent:  percent,
			Artifact: e.store.Path(),
		})
	}
	e.log.Debugw("cache progress",
		"resource", e.resource,
		"percent", percent,
		"bps", e.rate.Rate(),
	)
}

// writeHead frames an HTTP-style response head onto the sink.
func writeHead(sink io.Writer, info *cachev1.ContentInfo, offset int64) error {
	var b strings.Builder

	if offset > 0 {
		b.WriteString("HTTP/1.1 206 Partial Content\r\n")
	} else {
		b.WriteString("HTTP/1.1 200 OK\r\n")
	}
	b.WriteString("Accept-Ranges: bytes\r\n")
	if info.Mime != "" {
		fmt.Fprintf(&b, "Content-Type: %s\r\n", info.Mime)
	}
	if info.Length >= 0 {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", info.Length-offset)
		if offset > 0 {
			fmt.Fprintf(&b, "Content-Range: bytes %d-%d/%d\r\n", offset, info.Length-1, info.Length)
		}
	}
	b.WriteString("\r\n")

	_, err := io.WriteString(sink, b.String())
	return err
}
