package ports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Amund211/coalesce/internal/client"
	"github.com/Amund211/coalesce/internal/domain"
	"github.com/Amund211/coalesce/internal/logging"
	"github.com/Amund211/coalesce/internal/processor"
	"github.com/Amund211/coalesce/internal/ratelimiting"
	"github.com/Amund211/coalesce/internal/reporting"
)

const maxBodyBytes = 1 << 20

type Upstream interface {
	Fetch(path string) func(ctx context.Context) (json.RawMessage, error)
	Send(method, path string, body json.RawMessage) func(ctx context.Context) (json.RawMessage, error)
}

type Gateway = client.Client[domain.Resources]

func resourcePath(r *http.Request) (string, bool) {
	raw := strings.Trim(r.PathValue("path"), "/")
	if raw == "" {
		return "", false
	}
	for _, segment := range strings.Split(raw, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", false
		}
	}
	return "/" + raw, true
}

func parsePolicy(r *http.Request) (domain.FetchPolicy, error) {
	raw := r.URL.Query().Get("policy")
	if raw == "" {
		return domain.CacheFirst, nil
	}
	return domain.ParseFetchPolicy(raw)
}

func queryRequestID(path string) string {
	return "GET " + path
}

// resourceQuery reads and writes the document stored at path
func resourceQuery(upstream Upstream, path string, policy domain.FetchPolicy, requesterID string) processor.QueryRequest[domain.Resources, domain.Document] {
	fetch := upstream.Fetch(path)

	return processor.QueryRequest[domain.Resources, domain.Document]{
		GetRequestID: func() string {
			return queryRequestID(path)
		},
		FetchPolicy: policy,
		Fetch: func(ctx context.Context) (domain.Document, error) {
			body, err := fetch(ctx)
			if err != nil {
				return domain.Document{}, err
			}
			return domain.Document{Body: body}, nil
		},
		FromCache: func(resources domain.Resources, _ processor.CacheArgs) (domain.Document, bool) {
			return resources.Document(path)
		},
		ToCache: func(resources domain.Resources, doc domain.Document, _ processor.CacheArgs) domain.Resources {
			return resources.WithDocument(path, doc)
		},
		IsOptimisticData: func(_ domain.Resources, doc domain.Document, _ processor.CacheArgs) bool {
			return doc.Optimistic
		},
		RequesterID: requesterID,
	}
}

func MakeGetResourceHandler(
	gateway *Gateway,
	upstream Upstream,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildEndpointMiddleware(
		"get_resource",
		RateLimits{
			IPRefill:        ratelimiting.RefillPerSecond(20),
			IPBurst:         ratelimiting.BurstSize(600),
			RequesterRefill: ratelimiting.RefillPerSecond(10),
			RequesterBurst:  ratelimiting.BurstSize(300),
		},
		allowedOrigins,
		rootLogger,
		sentryMiddleware,
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		path, ok := resourcePath(r)
		if !ok {
			writeError(ctx, w, r.PathValue("path"), "invalid path", http.StatusBadRequest)
			return
		}

		policy, err := parsePolicy(r)
		if err != nil {
			writeError(ctx, w, path, "invalid policy", http.StatusBadRequest)
			return
		}

		ctx = logging.AddResourceToContext(ctx, path, policy)
		ctx = reporting.AddResourceToContext(ctx, path, policy)

		result := processor.Query(ctx, gateway.Queries(), resourceQuery(upstream, path, policy, r.Header.Get("X-Requester-Id")))

		if result.Pending != nil {
			doc, err := result.Pending.Wait(ctx)
			if err != nil {
				writeRequestError(ctx, w, path, err)
				return
			}
			writeDocument(ctx, w, path, sourceNetwork, doc)
			return
		}

		switch {
		case result.Cache.HasData:
			writeDocument(ctx, w, path, sourceCache, result.Cache.Data)
		case result.Cache.Error != nil:
			writeRequestError(ctx, w, path, result.Cache.Error)
		case result.Flags.Required:
			// Required but not allowed in this execution context
			writeError(ctx, w, path, "not available", http.StatusServiceUnavailable)
		default:
			writeError(ctx, w, path, "not cached", http.StatusNotFound)
		}
	}

	return middleware(handler)
}

type resourceStateResponse struct {
	Success    bool   `json:"success"`
	Path       string `json:"path"`
	HasData    bool   `json:"hasData"`
	Optimistic bool   `json:"optimistic"`
	Loading    bool   `json:"loading"`
	Error      string `json:"error,omitempty"`
	Required   bool   `json:"required"`
	Allowed    bool   `json:"allowed"`
}

// MakeGetResourceStateHandler reports what a query for the resource would see, without running it
func MakeGetResourceStateHandler(
	gateway *Gateway,
	upstream Upstream,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildEndpointMiddleware(
		"get_resource_state",
		RateLimits{
			IPRefill:        ratelimiting.RefillPerSecond(20),
			IPBurst:         ratelimiting.BurstSize(600),
			RequesterRefill: ratelimiting.RefillPerSecond(10),
			RequesterBurst:  ratelimiting.BurstSize(300),
		},
		allowedOrigins,
		rootLogger,
		sentryMiddleware,
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		path, ok := resourcePath(r)
		if !ok {
			writeError(ctx, w, r.PathValue("path"), "invalid path", http.StatusBadRequest)
			return
		}

		policy, err := parsePolicy(r)
		if err != nil {
			writeError(ctx, w, path, "invalid policy", http.StatusBadRequest)
			return
		}

		state := processor.GetQueryState(gateway.Queries(), resourceQuery(upstream, path, policy, r.Header.Get("X-Requester-Id")))

		response := resourceStateResponse{
			Success:    true,
			Path:       path,
			HasData:    state.Cache.HasData,
			Optimistic: state.Cache.HasData && state.Cache.Data.Optimistic,
			Loading:    state.Cache.Loading,
			Required:   state.Flags.Required,
			Allowed:    state.Flags.Allowed,
		}
		if state.Cache.Error != nil {
			response.Error = state.Cache.Error.Error()
		}

		writeJSON(ctx, w, http.StatusOK, response)
	}

	return middleware(handler)
}

var errOptimisticNotSupported = errors.New("optimistic writes are only supported for PUT")

// resourceMutation writes through to the upstream and keeps the cached document at path in sync
func resourceMutation(
	upstream Upstream,
	method string,
	path string,
	body json.RawMessage,
	optimistic bool,
	requesterID string,
) (processor.MutationRequest[domain.Resources, domain.Document], error) {
	send := upstream.Send(method, path, body)

	req := processor.MutationRequest[domain.Resources, domain.Document]{
		GetRequestID: func() string {
			return fmt.Sprintf("%s %s", method, path)
		},
		Fetch: func(ctx context.Context) (domain.Document, error) {
			response, err := send(ctx)
			if err != nil {
				return domain.Document{}, err
			}
			return domain.Document{Body: response}, nil
		},
		RequesterID: requesterID,
	}

	switch method {
	case http.MethodPut:
		req.ToCache = func(resources domain.Resources, doc domain.Document, _ processor.CacheArgs) domain.Resources {
			if len(body) > 0 && string(doc.Body) == "null" {
				// The upstream did not echo the document
				doc.Body = body
			}
			return resources.WithDocument(path, doc)
		}
		if optimistic {
			req.OptimisticData = &domain.Document{Body: body, Optimistic: true}
			req.RemoveOptimisticData = func(resources domain.Resources, doc domain.Document, _ processor.CacheArgs) domain.Resources {
				return resources.WithoutOptimisticDocument(path, doc.Body)
			}
		}
	case http.MethodDelete:
		req.ToCache = func(resources domain.Resources, _ domain.Document, _ processor.CacheArgs) domain.Resources {
			return resources.WithoutDocument(path)
		}
	}

	if optimistic && req.OptimisticData == nil {
		return req, errOptimisticNotSupported
	}

	return req, nil
}

func MakeMutateResourceHandler(
	gateway *Gateway,
	upstream Upstream,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildEndpointMiddleware(
		"mutate_resource",
		RateLimits{
			IPRefill:        ratelimiting.RefillPerSecond(4),
			IPBurst:         ratelimiting.BurstSize(120),
			RequesterRefill: ratelimiting.RefillPerSecond(2),
			RequesterBurst:  ratelimiting.BurstSize(60),
		},
		allowedOrigins,
		rootLogger,
		sentryMiddleware,
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		path, ok := resourcePath(r)
		if !ok {
			writeError(ctx, w, r.PathValue("path"), "invalid path", http.StatusBadRequest)
			return
		}

		ctx = logging.AddResourceToContext(ctx, path, "")
		ctx = reporting.AddResourceToContext(ctx, path, "")

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(ctx, w, path, "could not read body", http.StatusBadRequest)
			return
		}
		if len(body) > 0 && !json.Valid(body) {
			writeError(ctx, w, path, "body is not valid JSON", http.StatusBadRequest)
			return
		}

		optimistic := r.Header.Get("X-Optimistic") == "true"

		req, err := resourceMutation(upstream, r.Method, path, body, optimistic, r.Header.Get("X-Requester-Id"))
		if errors.Is(err, errOptimisticNotSupported) {
			writeError(ctx, w, path, err.Error(), http.StatusBadRequest)
			return
		}

		doc, err := processor.Mutate(ctx, gateway.Mutations(), req).Wait(ctx)
		if err != nil {
			writeRequestError(ctx, w, path, err)
			return
		}

		writeDocument(ctx, w, path, sourceNetwork, doc)
	}

	return middleware(handler)
}
