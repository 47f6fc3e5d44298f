package ports

import (
	"log/slog"
	"net/http"

	"github.com/Amund211/coalesce/internal/logging"
	"github.com/Amund211/coalesce/internal/ratelimiting"
)

func NewRateLimitMiddleware(rateLimiter ratelimiting.RequestRateLimiter, onLimitExceeded http.HandlerFunc) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !rateLimiter.Consume(r) {
				logging.FromContext(r.Context()).InfoContext(
					r.Context(),
					"Returning response",
					"statusCode", http.StatusTooManyRequests,
					"reason", "ratelimit exceeded",
					"key", rateLimiter.KeyFor(r),
				)
				onLimitExceeded(w, r)
				return
			}

			next(w, r)
		}
	}
}

func ComposeMiddlewares(middlewares ...func(http.HandlerFunc) http.HandlerFunc) func(http.HandlerFunc) http.HandlerFunc {
	if len(middlewares) == 1 {
		return middlewares[0]
	}
	first := middlewares[0]
	rest := ComposeMiddlewares(middlewares[1:]...)
	return func(h http.HandlerFunc) http.HandlerFunc {
		return first(rest(h))
	}
}

func writeRateLimitExceeded(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"success":false,"cause":"rate limit exceeded"}`))
}

// RateLimits configures the inbound token buckets of one endpoint
type RateLimits struct {
	IPRefill        ratelimiting.RefillPerSecond
	IPBurst         ratelimiting.BurstSize
	RequesterRefill ratelimiting.RefillPerSecond
	RequesterBurst  ratelimiting.BurstSize
}

func buildEndpointMiddleware(
	operation string,
	limits RateLimits,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) func(http.HandlerFunc) http.HandlerFunc {
	ipLimiter, _ := ratelimiting.NewTokenBucketRateLimiter(limits.IPRefill, limits.IPBurst)
	ipRateLimiter := ratelimiting.NewRequestBasedRateLimiter(
		ipLimiter,
		ratelimiting.IPKeyFunc,
	)
	requesterLimiter, _ := ratelimiting.NewTokenBucketRateLimiter(limits.RequesterRefill, limits.RequesterBurst)
	requesterRateLimiter := ratelimiting.NewRequestBasedRateLimiter(
		// NOTE: Rate limiting based on user controlled value
		requesterLimiter,
		ratelimiting.RequesterKeyFunc,
	)

	return ComposeMiddlewares(
		buildMetricsMiddleware(operation),
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		BuildCORSMiddleware(allowedOrigins),
		NewRateLimitMiddleware(ipRateLimiter, writeRateLimitExceeded),
		NewRateLimitMiddleware(requesterRateLimiter, writeRateLimitExceeded),
	)
}
