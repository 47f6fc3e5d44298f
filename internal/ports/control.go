package ports

import (
	"log/slog"
	"net/http"

	"github.com/Amund211/coalesce/internal/logging"
	"github.com/Amund211/coalesce/internal/ratelimiting"
)

type controlResponse struct {
	Success bool   `json:"success"`
	Phase   string `json:"phase"`
}

func controlLimits() RateLimits {
	return RateLimits{
		IPRefill:        ratelimiting.RefillPerSecond(1),
		IPBurst:         ratelimiting.BurstSize(10),
		RequesterRefill: ratelimiting.RefillPerSecond(1),
		RequesterBurst:  ratelimiting.BurstSize(5),
	}
}

// MakePurgeHandler aborts every running query and mutation of the gateway
func MakePurgeHandler(
	gateway *Gateway,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildEndpointMiddleware("purge", controlLimits(), allowedOrigins, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		inflight := gateway.Queries().InFlight()
		live := gateway.Mutations().Live()

		gateway.Purge()

		logging.FromContext(ctx).InfoContext(ctx, "Purged gateway", "queries", inflight, "mutations", live)

		writeJSON(ctx, w, http.StatusOK, controlResponse{
			Success: true,
			Phase:   gateway.Queries().Phase().String(),
		})
	}

	return middleware(handler)
}

func MakeHydrateCompleteHandler(
	gateway *Gateway,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildEndpointMiddleware("hydrate_complete", controlLimits(), allowedOrigins, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		gateway.OnHydrateComplete()

		writeJSON(ctx, w, http.StatusOK, controlResponse{
			Success: true,
			Phase:   gateway.Queries().Phase().String(),
		})
	}

	return middleware(handler)
}
