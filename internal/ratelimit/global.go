package ratelimit

import (
	"fmt"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// NewStore returns a Redis backed limiter store, or an in-process one when rdb is nil.
func NewStore(rdb *redis.Client, prefix string) (limiter.Store, error) {
	opts := limiter.StoreOptions{Prefix: prefix, CleanUpInterval: time.Minute}
	if rdb == nil {
		return memory.NewStoreWithOptions(opts), nil
	}
	return limiterredis.NewStoreWithOptions(rdb, opts)
}

// Global applies one fixed-window budget per key to every request.
type Global struct {
	Limiter *limiter.Limiter
	Key     func(*http.Request) string
	OnError func(error)
}

// NewGlobal builds a Global limiter from a rate such as "300-M".
func NewGlobal(store limiter.Store, rate string) (Global, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return Global{}, fmt.Errorf("parse rate %q: %w", rate, err)
	}
	return Global{Limiter: limiter.New(store, parsed), Key: IPKey}, nil
}

// Middleware implements the http.Handler middleware interface.
func (g Global) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		keyFn := g.Key
		if keyFn == nil {
			keyFn = IPKey
		}
		lctx, err := g.Limiter.Get(r.Context(), keyFn(r))
		if err != nil {
			if g.OnError != nil {
				g.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}
		resetAt := time.Unix(lctx.Reset, 0)
		writeHeaders(w, int(lctx.Limit), int(lctx.Remaining), resetAt)
		if lctx.Reached {
			reject(w, resetAt)
			return
		}
		next.ServeHTTP(w, r)
	})
}
