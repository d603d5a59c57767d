package session

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	cachev1 "github.com/omalloc/precache/api/defined/v1/cache"
	"github.com/omalloc/precache/conf"
	"github.com/omalloc/precache/engine"
	"github.com/omalloc/precache/source"
	"github.com/omalloc/precache/store"
)

// ErrEngineCreation wraps any failure constructing an engine: bad resource
// id, unknown variant, or unavailable storage. The caller's consumer count
// is untouched when it is returned.
var ErrEngineCreation = errors.New("engine creation failed")

// Factory constructs a live engine for a resource with the session's
// upstream listener already registered. Stateless between calls.
type Factory func(resource string, cfg *conf.Config, upstream cachev1.Listener) (cachev1.Engine, error)

// pooledOptions tunes the shared transport of the pooled variant.
type pooledOptions struct {
	MaxIdleConns        int           `json:"max_idle_conns" mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host" mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout" mapstructure:"idle_conn_timeout"`
}

var (
	pooledOnce      sync.Once
	pooledTransport *http.Transport
	pooledErr       error
)

// sharedTransport lazily builds the transport shared by every pooled-variant
// engine in the process.
func sharedTransport(cfg *conf.Config) (*http.Transport, error) {
	pooledOnce.Do(func() {
		opts := pooledOptions{
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		}
		if err := cfg.UnmarshalEngineOptions(&opts); err != nil {
			pooledErr = err
			return
		}
		pooledTransport = &http.Transport{
			MaxIdleConns:        opts.MaxIdleConns,
			MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
			IdleConnTimeout:     opts.IdleConnTimeout,
		}
	})
	return pooledTransport, pooledErr
}

// newEngine is the default Factory. The variant is a configuration choice,
// not a type hierarchy: both variants produce the same engine over a
// differently wired source.
func newEngine(resource string, cfg *conf.Config, upstream cachev1.Listener) (cachev1.Engine, error) {
	srcOpts := []source.Option{
		source.WithHeaderInjector(cfg.Headers),
		source.WithRateLimit(cfg.DownloadRateKbps),
		source.WithInfoStore(cfg.InfoStore),
	}

	switch cfg.Variant {
	case conf.VariantStandard, "":
	case conf.VariantPooled:
		rt, err := sharedTransport(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: pooled transport: %s", ErrEngineCreation, err)
		}
		srcOpts = append(srcOpts, source.WithTransport(rt))
	default:
		return nil, fmt.Errorf("%w: unknown variant %q", ErrEngineCreation, cfg.Variant)
	}

	src, err := source.NewHTTPSource(resource, srcOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEngineCreation, err)
	}

	st, err := store.NewFileStore(cfg.CacheRoot, resource, DiskUsageFor(cfg))
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("%w: %s", ErrEngineCreation, err)
	}

	eng := engine.New(resource, src, st, nil)
	eng.RegisterCacheListener(upstream)
	return eng, nil
}

// DiskUsageFor maps config to a retention policy; an explicit cfg.DiskUsage
// wins, otherwise the first non-zero limit applies.
func DiskUsageFor(cfg *conf.Config) store.DiskUsage {
	switch {
	case cfg.DiskUsage != nil:
		return cfg.DiskUsage
	case cfg.MaxCacheSize > 0:
		return store.LimitTotalSize(cfg.MaxCacheSize, nil)
	case cfg.MaxCacheFiles > 0:
		return store.LimitTotalCount(cfg.MaxCacheFiles, nil)
	case cfg.MinDiskFree > 0:
		return store.LimitMinFree(cfg.MinDiskFree, nil)
	default:
		return store.Unlimited()
	}
}
