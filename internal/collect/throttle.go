// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package collect

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle spaces out requests to one backend with a token bucket.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle allows perSecond requests per second with the given burst.
// A non-positive rate disables throttling.
func NewThrottle(perSecond float64, burst int) *Throttle {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Throttle{limiter: rate.NewLimiter(limit, max(burst, 1))}
}

// Wait blocks until a request may be sent or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}
