package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to the wrapped client.
type RateLimited struct {
	next    Client
	limiter *rate.Limiter
}

// NewRateLimited wraps c with a token bucket of rps requests per second.
// A non-positive rps returns c unchanged.
func NewRateLimited(c Client, rps float64, burst int) Client {
	if rps <= 0 {
		return c
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: c, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimited) Translate(ctx context.Context, req Request) (Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}
	return r.next.Translate(ctx, req)
}
