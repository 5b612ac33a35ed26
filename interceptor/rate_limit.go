package interceptor

import (
	"context"
	"sync"
	"time"

	"fault-rpc/message"
	"fault-rpc/partner"

	"golang.org/x/time/rate"
)

// RateLimit admits requests through a token bucket per partner and short-circuits
// the rest with a RateLimited error. Buckets of partners idle for longer than
// idleTTL are evicted.
func RateLimit(rps float64, burst int, idleTTL time.Duration) Interceptor {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &rateLimit{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimit struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	hits    uint64
	now     func() time.Time
}

func (r *rateLimit) allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.buckets[key] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	r.hits++
	if r.hits%512 == 0 {
		cutoff := now.Add(-r.idleTTL)
		for k, v := range r.buckets {
			if v.lastSeen.Before(cutoff) {
				delete(r.buckets, k)
			}
		}
	}
	return allowed
}

func (r *rateLimit) Pre(ctx context.Context, req *message.Request) *message.Response {
	id, _ := partner.IDFromContext(ctx)
	if r.allow(id) {
		return nil
	}
	return message.NewErrorResponse(req.ID, message.KindRateLimited, "rate limit exceeded for partner %q", id)
}

func (r *rateLimit) Post(context.Context, *message.Request, *message.Response) {}
