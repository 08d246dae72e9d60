package adapters

import (
	"context"
	"os"
	"strconv"

	"golang.org/x/time/rate"
)

// newOutboundLimiter builds a token-bucket limiter from an env var
// named ratePerSecondEnv, parsed as requests/second, or nil when unset
// or invalid — callers treat a nil limiter as "unlimited", since most
// deployments have no downstream quota to respect.
func newOutboundLimiter(ratePerSecondEnv string) *rate.Limiter {
	raw := os.Getenv(ratePerSecondEnv)
	if raw == "" {
		return nil
	}
	rps, err := strconv.ParseFloat(raw, 64)
	if err != nil || rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// waitLimiter blocks until the limiter admits one request, or returns
// immediately when limiter is nil.
func waitLimiter(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}
