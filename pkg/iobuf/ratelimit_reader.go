package iobuf

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

type rateLimitReader struct {
	ctx context.Context
	rd  io.ReadCloser
	lim *rate.Limiter
}

// NewRateLimitReader caps rd to kbps kilobytes per second. Waits are bound to
// ctx, so a canceled context unblocks a throttled Read.
func NewRateLimitReader(ctx context.Context, rd io.ReadCloser, kbps int) io.ReadCloser {
	bps := kbps << 10
	return &rateLimitReader{
		ctx: ctx,
		rd:  rd,
		lim: rate.NewLimiter(rate.Limit(bps), bps),
	}
}

func (r *rateLimitReader) Read(p []byte) (n int, err error) {
	size := len(p)
	if burst := r.lim.Burst(); size > burst {
		size = burst
	}

	if err = r.lim.WaitN(r.ctx, size); err != nil {
		return 0, err
	}

	return r.rd.Read(p[:size])
}

func (r *rateLimitReader) Close() error {
	return r.rd.Close()
}
