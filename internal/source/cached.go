package source

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/patfam/internal/cache"
)

// Cached decorates a Client with a response cache. Only successful lookups
// are stored; concurrent identical lookups share one upstream call.
type Cached struct {
	inner       Client
	cache       cache.Cache
	ttl         time.Duration
	callTimeout time.Duration
	group       singleflight.Group
}

// CachedOption configures a Cached client
type CachedOption func(*Cached)

// WithCallTimeout bounds the shared upstream call. It runs detached from
// the callers' contexts, so this is its only deadline besides the transport's.
func WithCallTimeout(d time.Duration) CachedOption {
	return func(c *Cached) { c.callTimeout = d }
}

// NewCached wraps inner. A nil cache disables caching but keeps collapsing.
func NewCached(inner Client, c cache.Cache, ttl time.Duration, opts ...CachedOption) *Cached {
	cc := &Cached{inner: inner, cache: c, ttl: ttl}
	for _, opt := range opts {
		opt(cc)
	}
	return cc
}

func (c *Cached) Name() string                  { return c.inner.Name() }
func (c *Cached) Kind() Kind                    { return c.inner.Kind() }
func (c *Cached) SupportsFamilyExpansion() bool { return c.inner.SupportsFamilyExpansion() }

// Unwrap returns the decorated client
func (c *Cached) Unwrap() Client { return c.inner }

// Lookup serves req from the cache or the decorated client
func (c *Cached) Lookup(ctx context.Context, req Request) (*Response, error) {
	key := cache.CacheKey(c.inner.Name(), req.Op(), req.Target(), req.Jurisdiction)

	if c.cache != nil {
		if data, ok := c.cache.Get(key); ok {
			var resp Response
			if err := json.Unmarshal(data, &resp); err == nil {
				return &resp, nil
			}
			_ = c.cache.Delete(key)
		}
	}

	// The shared call must not inherit one caller's cancellation; each
	// caller waits on its own context instead.
	ch := c.group.DoChan(key, func() (interface{}, error) {
		callCtx := context.WithoutCancel(ctx)
		if c.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, c.callTimeout)
			defer cancel()
		}
		resp, err := c.inner.Lookup(callCtx, req)
		if err != nil {
			return nil, err
		}
		if c.cache != nil && resp != nil {
			if data, err := json.Marshal(resp); err == nil {
				_ = c.cache.Set(key, data, c.ttl)
			}
		}
		return resp, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, TransportError(c.inner.Name(), req.Op(), ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	resp, _ := res.Val.(*Response)
	if resp == nil {
		resp = &Response{}
	}
	return resp, nil
}
