package session

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachev1 "github.com/omalloc/precache/api/defined/v1/cache"
	"github.com/omalloc/precache/conf"
	"github.com/omalloc/precache/store"
)

func testConfig(t *testing.T) *conf.Config {
	cfg := conf.Default()
	cfg.CacheRoot = t.TempDir()
	return cfg
}

func TestNewEngineUnknownVariant(t *testing.T) {
	cfg := testConfig(t)
	cfg.Variant = "turbo"

	_, err := newEngine("http://origin.test/a.bin", cfg, nil)
	require.ErrorIs(t, err, ErrEngineCreation)
}

func TestNewEngineInvalidResource(t *testing.T) {
	_, err := newEngine("ftp://origin.test/a.bin", testConfig(t), nil)
	require.ErrorIs(t, err, ErrEngineCreation)
}

func TestNewEngineUnpreparableStorage(t *testing.T) {
	cfg := testConfig(t)
	// a file where the cache root should be
	root := cfg.CacheRoot + "/blocked"
	require.NoError(t, writeFile(root))
	cfg.CacheRoot = root + "/cache"

	_, err := newEngine("http://origin.test/a.bin", cfg, nil)
	require.ErrorIs(t, err, ErrEngineCreation)
}

func TestNewEngineStandardServesAndNotifies(t *testing.T) {
	payload := bytes.Repeat([]byte("precache"), 512)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "a.bin", time.Now(), bytes.NewReader(payload))
	}))
	defer origin.Close()

	upstream := &countingListener{}
	eng, err := newEngine(origin.URL+"/a.bin", testConfig(t), upstream)
	require.NoError(t, err)
	defer eng.Shutdown()

	var sink bytes.Buffer
	err = eng.ProcessRequest(t.Context(), &cachev1.Request{Raw: true}, &sink)
	require.NoError(t, err)
	assert.Equal(t, payload, sink.Bytes())

	// the upstream listener was registered before the engine went live
	require.Eventually(t, func() bool {
		n := upstream.count()
		if n == 0 {
			return false
		}
		upstream.mu.Lock()
		defer upstream.mu.Unlock()
		return upstream.events[n-1].Percent == 100
	}, 2*time.Second, time.Millisecond)
}

func TestDiskUsageFor(t *testing.T) {
	for _, mut := range []func(*conf.Config){
		func(c *conf.Config) { c.MaxCacheSize = 0 },
		func(c *conf.Config) { c.MaxCacheSize = 1 << 20 },
		func(c *conf.Config) { c.MaxCacheSize = 0; c.MaxCacheFiles = 10 },
		func(c *conf.Config) { c.MaxCacheSize = 0; c.MinDiskFree = 1 << 30 },
	} {
		cfg := conf.Default()
		mut(cfg)
		assert.NotNil(t, DiskUsageFor(cfg))
	}

	// an explicit policy always wins
	cfg := conf.Default()
	cfg.DiskUsage = store.Unlimited()
	assert.Same(t, cfg.DiskUsage, DiskUsageFor(cfg))
}

func writeFile(path string) error {
	return os.WriteFile(path, []byte("x"), 0o644)
}
