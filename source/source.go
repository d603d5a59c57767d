package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	cachev1 "github.com/omalloc/precache/api/defined/v1/cache"
	"github.com/omalloc/precache/pkg/iobuf"
	"github.com/omalloc/precache/sourceinfo"
)

// ErrRangeUnsupported is returned when the origin ignores a Range request.
var ErrRangeUnsupported = errors.New("origin does not support range requests")

var _ cachev1.Source = (*HTTPSource)(nil)

// HTTPSource fetches a resource's bytes with HTTP range requests.
type HTTPSource struct {
	url    string
	client *http.Client
	inject func(url string) http.Header
	kbps   int
	store  sourceinfo.Store

	sf singleflight.Group

	mu     sync.Mutex
	cached *cachev1.ContentInfo
}

type Option func(*HTTPSource)

// WithTransport replaces the default per-source transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *HTTPSource) { s.client.Transport = rt }
}

// WithHeaderInjector adds headers to every origin request.
func WithHeaderInjector(fn func(url string) http.Header) Option {
	return func(s *HTTPSource) { s.inject = fn }
}

// WithRateLimit caps downloads to kbps kilobytes per second.
func WithRateLimit(kbps int) Option {
	return func(s *HTTPSource) { s.kbps = kbps }
}

// WithInfoStore persists resolved content info across restarts.
func WithInfoStore(store sourceinfo.Store) Option {
	return func(s *HTTPSource) { s.store = store }
}

func NewHTTPSource(rawurl string, opts ...Option) (*HTTPSource, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("invalid resource url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported resource scheme %q", u.Scheme)
	}

	s := &HTTPSource{
		url:    rawurl,
		client: &http.Client{Transport: &http.Transport{}},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *HTTPSource) Open(ctx context.Context, offset int64) (io.ReadCloser, error) {
	req, err := s.newRequest(ctx, http.MethodGet)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}

	switch {
	case offset == 0 && resp.StatusCode == http.StatusOK:
	case offset > 0 && resp.StatusCode == http.StatusPartialContent:
	case offset > 0 && resp.StatusCode == http.StatusOK:
		_ = resp.Body.Close()
		return nil, ErrRangeUnsupported
	default:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("origin responded %s", resp.Status)
	}

	s.memoizeResponse(resp, offset)

	body := resp.Body
	if s.kbps > 0 {
		body = iobuf.NewRateLimitReader(ctx, body, s.kbps)
	}
	return body, nil
}

// ContentInfo resolves the resource's length and mime type. Lookup order:
// memoized value, the sourceinfo store, then a single-flighted origin probe.
func (s *HTTPSource) ContentInfo(ctx context.Context) (*cachev1.ContentInfo, error) {
	s.mu.Lock()
	if s.cached != nil {
		info := *s.cached
		s.mu.Unlock()
		return &info, nil
	}
	s.mu.Unlock()

	if s.store != nil {
		if info, err := s.store.Get(ctx, s.url); err == nil {
			s.memoize(info)
			return info, nil
		}
	}

	v, err, _ := s.sf.Do(s.url, func() (any, error) {
		return s.probe(ctx)
	})
	if err != nil {
		return nil, err
	}

	info := v.(*cachev1.ContentInfo)
	s.memoize(info)
	if s.store != nil {
		_ = s.store.Put(ctx, info)
	}
	return info, nil
}

func (s *HTTPSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *HTTPSource) newRequest(ctx context.Context, method string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.url, nil)
	if err != nil {
		return nil, err
	}
	if s.inject != nil {
		for k, vals := range s.inject(s.url) {
			for _, v := range vals {
				req.Header.Add(k, v)
			}
		}
	}
	return req, nil
}

// probe asks the origin for length and mime. HEAD first; origins that do
// not answer HEAD get a one-byte range GET instead.
func (s *HTTPSource) probe(ctx context.Context) (*cachev1.ContentInfo, error) {
	req, err := s.newRequest(ctx, http.MethodHead)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err == nil {
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode == http.StatusOK && resp.ContentLength >= 0 {
			return &cachev1.ContentInfo{
				URL:    s.url,
				Length: resp.ContentLength,
				Mime:   resp.Header.Get("Content-Type"),
			}, nil
		}
	}

	req, err = s.newRequest(ctx, http.MethodGet)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err = s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	info := &cachev1.ContentInfo{
		URL:    s.url,
		Length: -1,
		Mime:   resp.Header.Get("Content-Type"),
	}
	switch resp.StatusCode {
	case http.StatusPartialContent:
		info.Length = totalFromContentRange(resp.Header.Get("Content-Range"))
	case http.StatusOK:
		info.Length = resp.ContentLength
	default:
		return nil, fmt.Errorf("origin responded %s", resp.Status)
	}
	return info, nil
}

func (s *HTTPSource) memoize(info *cachev1.ContentInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *info
	s.cached = &cp
}

// memoizeResponse learns content info from a data response when no probe
// has run yet.
func (s *HTTPSource) memoizeResponse(resp *http.Response, offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return
	}

	info := &cachev1.ContentInfo{
		URL:    s.url,
		Length: -1,
		Mime:   resp.Header.Get("Content-Type"),
	}
	if offset == 0 {
		info.Length = resp.ContentLength
	} else if total := totalFromContentRange(resp.Header.Get("Content-Range")); total >= 0 {
		info.Length = total
	}
	s.cached = info
}

// totalFromContentRange parses the total out of "bytes 0-0/12345".
func totalFromContentRange(v string) int64 {
	idx := strings.LastIndexByte(v, '/')
	if idx < 0 {
		return -1
	}
	total, err := strconv.ParseInt(v[idx+1:], 10, 64)
	if err != nil {
		return -1
	}
	return total
}
