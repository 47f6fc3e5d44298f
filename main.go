package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/Amund211/coalesce/internal/adapters/cache"
	"github.com/Amund211/coalesce/internal/adapters/transport"
	"github.com/Amund211/coalesce/internal/client"
	"github.com/Amund211/coalesce/internal/config"
	"github.com/Amund211/coalesce/internal/domain"
	"github.com/Amund211/coalesce/internal/logging"
	"github.com/Amund211/coalesce/internal/ports"
	"github.com/Amund211/coalesce/internal/reporting"
	"github.com/Amund211/coalesce/internal/requestqueue"
	"github.com/Amund211/coalesce/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	_ "golang.org/x/crypto/x509roots/fallback"
)

func main() {
	instanceID := uuid.New().String()
	logger := slog.New(logging.NewTraceLogHandler(slog.NewJSONHandler(os.Stdout, nil))).With("instanceID", instanceID)

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	config, err := config.ConfigFromEnv()
	if err != nil {
		fail("Failed to load config", "error", err.Error())
	}
	logger.Info("Loaded config", "config", config.NonSensitiveString())

	if config.OTelEnabled() {
		shutdown, err := telemetry.SetupOTelSDK(context.Background(), "coalesce")
		if err != nil {
			fail("Failed to set up OpenTelemetry", "error", err.Error())
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Error("Failed to shut down OpenTelemetry", "error", err.Error())
			}
		}()
		logger.Info("Initialized OpenTelemetry")
	}

	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	upstream, err := transport.NewUpstream(config.UpstreamURL(), httpClient)
	if err != nil {
		fail("Failed to initialize upstream", "error", err.Error())
	}
	logger.Info("Initialized upstream")

	queue, err := requestqueue.New(
		map[domain.Category]requestqueue.Limits{
			domain.CategoryQuery: {
				MaxConcurrent: config.QueryConcurrency(),
				WindowLimit:   config.UpstreamWindowLimit(),
				Window:        config.UpstreamWindow(),
			},
			domain.CategoryMutation: {
				MaxConcurrent: config.MutationConcurrency(),
				WindowLimit:   config.UpstreamWindowLimit(),
				Window:        config.UpstreamWindow(),
			},
		},
		time.Now,
		time.After,
	)
	if err != nil {
		fail("Failed to initialize request queue", "error", err.Error())
	}

	resourceCache, stopCache := cache.NewMemoryCache(domain.Resources{}, config.RequestStateTTL())
	defer stopCache()

	gateway := client.New[domain.Resources](resourceCache, queue, config.ExecutionContext())
	logger.Info("Initialized gateway", "execution", config.ExecutionContext())

	sentryMiddleware, flush, err := reporting.NewSentryMiddlewareOrMock(config)
	if err != nil {
		fail("Failed to initialize Sentry", "error", err.Error())
	}
	defer flush()
	logger.Info("Initialized Sentry middleware")

	allowedOrigins, err := ports.NewDomainSuffixes(config.AllowedOriginSuffixes()...)
	if err != nil {
		fail("Failed to initialize allowed origins", "error", err.Error())
	}

	http.HandleFunc(
		"OPTIONS /v1/resources/{path...}",
		ports.BuildCORSHandler(allowedOrigins),
	)
	http.HandleFunc(
		"GET /v1/resources/{path...}",
		ports.MakeGetResourceHandler(
			gateway,
			upstream,
			allowedOrigins,
			logger.With("port", "getresource"),
			sentryMiddleware,
		),
	)
	mutateResource := ports.MakeMutateResourceHandler(
		gateway,
		upstream,
		allowedOrigins,
		logger.With("port", "mutateresource"),
		sentryMiddleware,
	)
	http.HandleFunc("POST /v1/resources/{path...}", mutateResource)
	http.HandleFunc("PUT /v1/resources/{path...}", mutateResource)
	http.HandleFunc("DELETE /v1/resources/{path...}", mutateResource)

	http.HandleFunc(
		"OPTIONS /v1/state/{path...}",
		ports.BuildCORSHandler(allowedOrigins),
	)
	http.HandleFunc(
		"GET /v1/state/{path...}",
		ports.MakeGetResourceStateHandler(
			gateway,
			upstream,
			allowedOrigins,
			logger.With("port", "getresourcestate"),
			sentryMiddleware,
		),
	)

	http.HandleFunc(
		"POST /v1/purge",
		ports.MakePurgeHandler(
			gateway,
			allowedOrigins,
			logger.With("port", "purge"),
			sentryMiddleware,
		),
	)
	http.HandleFunc(
		"POST /v1/hydrate-complete",
		ports.MakeHydrateCompleteHandler(
			gateway,
			allowedOrigins,
			logger.With("port", "hydratecomplete"),
			sentryMiddleware,
		),
	)

	logger.Info("Init complete")
	err = http.ListenAndServe(fmt.Sprintf(":%s", config.Port()), nil)
	if errors.Is(err, http.ErrServerClosed) {
		logger.Info("Server shutdown")
	} else {
		logger.Error("Server error", "error", err.Error())
	}
}
