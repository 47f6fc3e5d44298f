package ports_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Amund211/coalesce/internal/adapters/cache"
	"github.com/Amund211/coalesce/internal/client"
	"github.com/Amund211/coalesce/internal/domain"
	"github.com/Amund211/coalesce/internal/ports"
	"github.com/stretchr/testify/require"
)

const (
	testTimeout = 5 * time.Second
	testTick    = 5 * time.Millisecond
)

type immediateQueue struct{}

func (immediateQueue) Submit(ctx context.Context, _ domain.Category, work func(ctx context.Context) (any, error)) (any, error) {
	return work(ctx)
}

type mockedUpstream struct {
	t *testing.T

	fetches atomic.Int32
	sends   atomic.Int32

	fetch func(ctx context.Context, path string) (json.RawMessage, error)
	send  func(ctx context.Context, method, path string, body json.RawMessage) (json.RawMessage, error)
}

func (m *mockedUpstream) Fetch(path string) func(ctx context.Context) (json.RawMessage, error) {
	return func(ctx context.Context) (json.RawMessage, error) {
		m.t.Helper()
		m.fetches.Add(1)
		require.NotNil(m.t, m.fetch, "unexpected fetch of %s", path)
		return m.fetch(ctx, path)
	}
}

func (m *mockedUpstream) Send(method, path string, body json.RawMessage) func(ctx context.Context) (json.RawMessage, error) {
	return func(ctx context.Context) (json.RawMessage, error) {
		m.t.Helper()
		m.sends.Add(1)
		require.NotNil(m.t, m.send, "unexpected %s of %s", method, path)
		return m.send(ctx, method, path, body)
	}
}

// blockingCall lets a test hold an upstream call open until it is released
type blockingCall struct {
	started chan struct{}
	release chan struct{}

	response json.RawMessage
	err      error
}

func newBlockingCall(response string, err error) *blockingCall {
	return &blockingCall{
		started:  make(chan struct{}, 10),
		release:  make(chan struct{}),
		response: json.RawMessage(response),
		err:      err,
	}
}

func (b *blockingCall) call(ctx context.Context) (json.RawMessage, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return b.response, b.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type gatewayHandlers struct {
	gateway  *ports.Gateway
	upstream *mockedUpstream

	get         http.HandlerFunc
	state       http.HandlerFunc
	mutate      http.HandlerFunc
	purge       http.HandlerFunc
	hydrateDone http.HandlerFunc
}

func newGatewayHandlers(t *testing.T, execution domain.ExecutionContext) *gatewayHandlers {
	t.Helper()

	testLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	allowedOrigins, err := ports.NewDomainSuffixes("example.com")
	require.NoError(t, err)
	noopMiddleware := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			h(w, r)
		}
	}

	memoryCache, stop := cache.NewMemoryCache(domain.Resources{}, 0)
	t.Cleanup(stop)

	gateway := client.New[domain.Resources](memoryCache, immediateQueue{}, execution)
	upstream := &mockedUpstream{t: t}

	return &gatewayHandlers{
		gateway:     gateway,
		upstream:    upstream,
		get:         ports.MakeGetResourceHandler(gateway, upstream, allowedOrigins, testLogger, noopMiddleware),
		state:       ports.MakeGetResourceStateHandler(gateway, upstream, allowedOrigins, testLogger, noopMiddleware),
		mutate:      ports.MakeMutateResourceHandler(gateway, upstream, allowedOrigins, testLogger, noopMiddleware),
		purge:       ports.MakePurgeHandler(gateway, allowedOrigins, testLogger, noopMiddleware),
		hydrateDone: ports.MakeHydrateCompleteHandler(gateway, allowedOrigins, testLogger, noopMiddleware),
	}
}

type resourceResponse struct {
	Success    bool            `json:"success"`
	Path       string          `json:"path"`
	Source     string          `json:"source"`
	Optimistic bool            `json:"optimistic"`
	Data       json.RawMessage `json:"data"`
	Cause      string          `json:"cause"`
	Upstream   json.RawMessage `json:"upstream"`
}

func parseResourceResponse(t *testing.T, w *httptest.ResponseRecorder) resourceResponse {
	t.Helper()
	require.Equal(t, "application/json", w.Result().Header.Get("Content-Type"))

	var resp resourceResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

func makeRequest(method, path, query string, body string, requesterID string) *http.Request {
	target := fmt.Sprintf("/v1/resources/%s", path)
	if query != "" {
		target += "?" + query
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, reader)
	req.SetPathValue("path", path)
	if requesterID != "" {
		req.Header.Set("X-Requester-Id", requesterID)
	}
	return req
}

func serve(handler http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestMakeGetResourceHandler(t *testing.T) {
	t.Parallel()

	t.Run("miss is fetched then served from cache", func(t *testing.T) {
		t.Parallel()

		h := newGatewayHandlers(t, domain.ExecutionInteractive)
		h.upstream.fetch = func(ctx context.Context, path string) (json.RawMessage, error) {
			require.Equal(t, "/users/1", path)
			return json.RawMessage(`{"name":"Ada"}`), nil
		}

		w := serve(h.get, makeRequest("GET", "users/1", "", "", "requester"))
		require.Equal(t, http.StatusOK, w.Code)
		resp := parseResourceResponse(t, w)
		require.True(t, resp.Success)
		require.Equal(t, "/users/1", resp.Path)
		require.Equal(t, "network", resp.Source)
		require.JSONEq(t, `{"name":"Ada"}`, string(resp.Data))

		w = serve(h.get, makeRequest("GET", "users/1", "policy=cache-first", "", "requester"))
		require.Equal(t, http.StatusOK, w.Code)
		resp = parseResourceResponse(t, w)
		require.Equal(t, "cache", resp.Source)
		require.JSONEq(t, `{"name":"Ada"}`, string(resp.Data))

		require.Equal(t, int32(1), h.upstream.fetches.Load())
	})

	t.Run("cache-and-network always fetches", func(t *testing.T) {
		t.Parallel()

		h := newGatewayHandlers(t, domain.ExecutionInteractive)
		version := atomic.Int32{}
		h.upstream.fetch = func(ctx context.Context, path string) (json.RawMessage, error) {
			return json.RawMessage(fmt.Sprintf(`{"version":%d}`, version.Add(1))), nil
		}

		for i := 1; i <= 3; i++ {
			w := serve(h.get, makeRequest("GET", "counter", "policy=cache-and-network", "", ""))
			require.Equal(t, http.StatusOK, w.Code)
			resp := parseResourceResponse(t, w)
			require.Equal(t, "network", resp.Source)
			require.JSONEq(t, fmt.Sprintf(`{"version":%d}`, i), string(resp.Data))
		}
		require.Equal(t, int32(3), h.upstream.fetches.Load())
	})

	t.Run("no-cache does not write the cache", func(t *testing.T) {
		t.Parallel()

		h := newGatewayHandlers(t, domain.ExecutionInteractive)
		h.upstream.fetch = func(ctx context.Context, path string) (json.RawMessage, error) {
			return json.RawMessage(`{"fresh":true}`), nil
		}

		w := serve(h.get, makeRequest("GET", "users/1", "policy=no-cache", "", ""))
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, 0, h.gateway.Cache().CacheData().Len())

		w = serve(h.get, makeRequest("GET", "users/1", "policy=cache-only", "", ""))
		require.Equal(t, http.StatusNotFound, w.Code)
		require.Equal(t, "not cached", parseResourceResponse(t, w).Cause)
	})

	t.Run("cache-only miss", func(t *testing.T) {
		t.Parallel()

		h := newGatewayHandlers(t, domain.ExecutionInteractive)

		w := serve(h.get, makeRequest("GET", "users/1", "policy=cache-only", "", ""))
		require.Equal(t, http.StatusNotFound, w.Code)
		resp := parseResourceResponse(t, w)
		require.False(t, resp.Success)
		require.Equal(t, "not cached", resp.Cause)
		require.Equal(t, int32(0), h.upstream.fetches.Load())
	})

	t.Run("invalid input", func(t *testing.T) {
		t.Parallel()

		h := newGatewayHandlers(t, domain.ExecutionInteractive)

		w := serve(h.get, makeRequest("GET", "users/1", "policy=sometimes", "", ""))
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, "invalid policy", parseResourceResponse(t, w).Cause)

		for _, path := range []string{"", "/", "users/../admin", "users//1"} {
			w := serve(h.get, makeRequest("GET", path, "", "", ""))
			require.Equal(t, http.StatusBadRequest, w.Code, path)
			require.Equal(t, "invalid path", parseResourceResponse(t, w).Cause)
		}

		require.Equal(t, int32(0), h.upstream.fetches.Load())
	})

	t.Run("upstream client errors pass through and are cached", func(t *testing.T) {
		t.Parallel()

		h := newGatewayHandlers(t, domain.ExecutionInteractive)
		h.upstream.fetch = func(ctx context.Context, path string) (json.RawMessage, error) {
			return nil, &domain.UpstreamStatusError{StatusCode: http.StatusNotFound, Body: []byte(`{"error":"no such user"}`)}
		}

		w := serve(h.get, makeRequest("GET", "users/404", "", "", ""))
		require.Equal(t, http.StatusNotFound, w.Code)
		resp := parseResourceResponse(t, w)
		require.Equal(t, "upstream rejected request", resp.Cause)
		require.JSONEq(t, `{"error":"no such user"}`, string(resp.Upstream))

		// The error is kept in the request state
		w = serve(h.get, makeRequest("GET", "users/404", "policy=cache-only", "", ""))
		require.Equal(t, http.StatusNotFound, w.Code)
		require.Equal(t, "upstream rejected request", parseResourceResponse(t, w).Cause)
		require.Equal(t, int32(1), h.upstream.fetches.Load())
	})

	t.Run("upstream failures", func(t *testing.T) {
		t.Parallel()

		cases := []struct {
			name       string
			err        error
			statusCode int
			cause      string
		}{
			{
				name:       "server error",
				err:        &domain.UpstreamStatusError{StatusCode: http.StatusInternalServerError, Body: []byte("oops")},
				statusCode: http.StatusBadGateway,
				cause:      "upstream error",
			},
			{
				name:       "network error",
				err:        fmt.Errorf("%w: connection refused", domain.ErrUpstream),
				statusCode: http.StatusBadGateway,
				cause:      "upstream error",
			},
			{
				name:       "temporarily unavailable",
				err:        fmt.Errorf("waiting for query window: %w", domain.ErrTemporarilyUnavailable),
				statusCode: http.StatusServiceUnavailable,
				cause:      "temporarily unavailable",
			},
			{
				name:       "unknown error",
				err:        errors.New("something else"),
				statusCode: http.StatusInternalServerError,
				cause:      "internal server error",
			},
		}

		for _, c := range cases {
			t.Run(c.name, func(t *testing.T) {
				t.Parallel()

				h := newGatewayHandlers(t, domain.ExecutionInteractive)
				h.upstream.fetch = func(ctx context.Context, path string) (json.RawMessage, error) {
					return nil, c.err
				}

				w := serve(h.get, makeRequest("GET", "users/1", "", "", ""))
				require.Equal(t, c.statusCode, w.Code)
				resp := parseResourceResponse(t, w)
				require.False(t, resp.Success)
				require.Equal(t, c.cause, resp.Cause)
			})
		}
	})

	t.Run("concurrent requests share one upstream call", func(t *testing.T) {
		t.Parallel()

		h := newGatewayHandlers(t, domain.ExecutionInteractive)
		call := newBlockingCall(`{"shared":true}`, nil)
		h.upstream.fetch = func(ctx context.Context, path string) (json.RawMessage, error) {
			return call.call(ctx)
		}

		var wg sync.WaitGroup
		recorders := make([]*httptest.ResponseRecorder, 3)
		for i := range recorders {
			wg.Add(1)
			go func() {
				defer wg.Done()
				recorders[i] = serve(h.get, makeRequest("GET", "users/1", "", "", fmt.Sprintf("requester-%d", i)))
			}()
		}

		<-call.started
		require.Eventually(t, func() bool {
			return len(h.gateway.Cache().RequestState("GET /users/1").Loading) == 3
		}, testTimeout, testTick)
		require.Equal(t, 1, h.gateway.Queries().InFlight())

		close(call.release)
		wg.Wait()

		for _, w := range recorders {
			require.Equal(t, http.StatusOK, w.Code)
			resp := parseResourceResponse(t, w)
			require.Equal(t, "network", resp.Source)
			require.JSONEq(t, `{"shared":true}`, string(resp.Data))
		}
		require.Equal(t, int32(1), h.upstream.fetches.Load())
		require.Empty(t, h.gateway.Cache().RequestState("GET /users/1").Loading)
	})

	t.Run("server render does not fetch", func(t *testing.T) {
		t.Parallel()

		h := newGatewayHandlers(t, domain.ExecutionServerRender)
		h.upstream.fetch = func(ctx context.Context, path string) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		}

		// Allowed while nothing is cached
		w := serve(h.get, makeRequest("GET", "users/1", "", "", ""))
		require.Equal(t, http.StatusOK, w.Code)

		// A refresh is required but not allowed once data is cached
		w = serve(h.get, makeRequest("GET", "users/1", "policy=cache-and-network", "", ""))
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "cache", parseResourceResponse(t, w).Source)
		require.Equal(t, int32(1), h.upstream.fetches.Load())
	})

	t.Run("server render without cache and without permission", func(t *testing.T) {
		t.Parallel()

		h := newGatewayHandlers(t, domain.ExecutionServerRender)

		w := serve(h.get, makeRequest("GET", "users/1", "policy=no-cache", "", ""))
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		require.Equal(t, "not available", parseResourceResponse(t, w).Cause)
		require.Equal(t, int32(0), h.upstream.fetches.Load())
	})
}

func TestMakeGetResourceStateHandler(t *testing.T) {
	t.Parallel()

	h := newGatewayHandlers(t, domain.ExecutionInteractive)
	h.upstream.fetch = func(ctx context.Context, path string) (json.RawMessage, error) {
		return json.RawMessage(`{"id":1}`), nil
	}

	type stateResponse struct {
		Success    bool   `json:"success"`
		Path       string `json:"path"`
		HasData    bool   `json:"hasData"`
		Optimistic bool   `json:"optimistic"`
		Loading    bool   `json:"loading"`
		Error      string `json:"error"`
		Required   bool   `json:"required"`
		Allowed    bool   `json:"allowed"`
	}

	getState := func(t *testing.T, query string) stateResponse {
		t.Helper()
		req := httptest.NewRequest("GET", "/v1/state/items/1?"+query, nil)
		req.SetPathValue("path", "items/1")
		w := serve(h.state, req)
		require.Equal(t, http.StatusOK, w.Code)

		var resp stateResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp
	}

	require.Equal(t, stateResponse{
		Success:  true,
		Path:     "/items/1",
		Required: true,
		Allowed:  true,
	}, getState(t, ""))
	require.Equal(t, int32(0), h.upstream.fetches.Load())

	w := serve(h.get, makeRequest("GET", "items/1", "", "", ""))
	require.Equal(t, http.StatusOK, w.Code)

	require.Equal(t, stateResponse{
		Success:  true,
		Path:     "/items/1",
		HasData:  true,
		Required: false,
		Allowed:  true,
	}, getState(t, "policy=cache-first"))

	require.Equal(t, stateResponse{
		Success:  true,
		Path:     "/items/1",
		HasData:  true,
		Required: true,
		Allowed:  true,
	}, getState(t, "policy=cache-and-network"))

	require.Equal(t, int32(1), h.upstream.fetches.Load())
}

func TestMakeMutateResourceHandler(t *testing.T) {
	t.Parallel()

	seed := func(t *testing.T, h *gatewayHandlers, path string, body string) {
		t.Helper()
		h.upstream.fetch = func(ctx context.Context, _ string) (json.RawMessage, error) {
			return json.RawMessage(body), nil
		}
		w := serve(h.get, makeRequest("GET", path, "", "", ""))
		require.Equal(t, http.StatusOK, w.Code)
	}

	cached := func(t *testing.T, h *gatewayHandlers, path string) (resourceResponse, int) {
		t.Helper()
		w := serve(h.get, makeRequest("GET", path, "policy=cache-only", "", ""))
		return parseResourceResponse(t, w), w.Code
	}

	t.Run("PUT stores the upstream response", func(t *testing.T) {
		t.Parallel()

		h := newGatewayHandlers(t, domain.ExecutionInteractive)
		h.upstream.send = func(ctx context.Context, method, path string, body json.RawMessage) (json.RawMessage, error) {
			require.Equal(t, "PUT", method)
			require.Equal(t, "/users/1", path)
			require.JSONEq(t, `{"name":"Grace"}`, string(body))
			return json.RawMessage(`{"name":"Grace","id":1}`), nil
		}

		w := serve(h.mutate, makeRequest("PUT", "users/1", "", `{"name":"Grace"}`, ""))
		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `{"name":"Grace","id":1}`, string(parseResourceResponse(t, w).Data))

		resp, code := cached(t, h, "users/1")
		require.Equal(t, http.StatusOK, code)
		require.JSONEq(t, `{"name":"Grace","id":1}`, string(resp.Data))
		require.False(t, resp.Optimistic)
	})

	t.Run("PUT without echo stores the submitted body", func(t *testing.T) {
		t.Parallel()

		h := newGatewayHandlers(t, domain.ExecutionInteractive)
		h.upstream.send = func(ctx context.Context, method, path string, body json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage("null"), nil
		}

		w := serve(h.mutate, makeRequest("PUT", "users/1", "", `{"name":"Grace"}`, ""))
		require.Equal(t, http.StatusOK, w.Code)

		resp, code := cached(t, h, "users/1")
		require.Equal(t, http.StatusOK, code)
		require.JSONEq(t, `{"name":"Grace"}`, string(resp.Data))
	})

	t.Run("optimistic PUT is visible until confirmed", func(t *testing.T) {
		t.Parallel()

		h := newGatewayHandlers(t, domain.ExecutionInteractive)
		seed(t, h, "users/1", `{"name":"Ada"}`)

		call := newBlockingCall(`{"name":"Grace","confirmed":true}`, nil)
		h.upstream.send = func(ctx context.Context, method, path string, body json.RawMessage) (json.RawMessage, error) {
			return call.call(ctx)
		}

		req := makeRequest("PUT", "users/1", "", `{"name":"Grace"}`, "")
		req.Header.Set("X-Optimistic", "true")

		done := make(chan *httptest.ResponseRecorder)
		go func() {
			done <- serve(h.mutate, req)
		}()
		<-call.started

		resp, code := cached(t, h, "users/1")
		require.Equal(t, http.StatusOK, code)
		require.True(t, resp.Optimistic)
		require.JSONEq(t, `{"name":"Grace"}`, string(resp.Data))

		// Optimistic data never satisfies cache-first
		w := serve(h.get, makeRequest("GET", "users/1", "", "", ""))
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "network", parseResourceResponse(t, w).Source)
		require.Equal(t, int32(2), h.upstream.fetches.Load())

		close(call.release)
		w = <-done
		require.Equal(t, http.StatusOK, w.Code)

		resp, _ = cached(t, h, "users/1")
		require.False(t, resp.Optimistic)
		require.JSONEq(t, `{"name":"Grace","confirmed":true}`, string(resp.Data))
	})

	t.Run("failed optimistic PUT restores the confirmed document", func(t *testing.T) {
		t.Parallel()

		h := newGatewayHandlers(t, domain.ExecutionInteractive)
		seed(t, h, "users/1", `{"name":"Ada"}`)

		call := newBlockingCall("", &domain.UpstreamStatusError{StatusCode: http.StatusConflict, Body: []byte(`{"error":"conflict"}`)})
		h.upstream.send = func(ctx context.Context, method, path string, body json.RawMessage) (json.RawMessage, error) {
			return call.call(ctx)
		}

		req := makeRequest("PUT", "users/1", "", `{"name":"Grace"}`, "")
		req.Header.Set("X-Optimistic", "true")

		done := make(chan *httptest.ResponseRecorder)
		go func() {
			done <- serve(h.mutate, req)
		}()
		<-call.started

		resp, _ := cached(t, h, "users/1")
		require.True(t, resp.Optimistic)

		close(call.release)
		w := <-done
		require.Equal(t, http.StatusConflict, w.Code)
		require.JSONEq(t, `{"error":"conflict"}`, string(parseResourceResponse(t, w).Upstream))

		resp, code := cached(t, h, "users/1")
		require.Equal(t, http.StatusOK, code)
		require.False(t, resp.Optimistic)
		require.JSONEq(t, `{"name":"Ada"}`, string(resp.Data))
	})

	t.Run("optimistic writes other than PUT are rejected", func(t *testing.T) {
		t.Parallel()

		h := newGatewayHandlers(t, domain.ExecutionInteractive)

		for _, method := range []string{"POST", "DELETE"} {
			req := makeRequest(method, "users/1", "", `{"name":"Grace"}`, "")
			req.Header.Set("X-Optimistic", "true")

			w := serve(h.mutate, req)
			require.Equal(t, http.StatusBadRequest, w.Code)
		}
		require.Equal(t, int32(0), h.upstream.sends.Load())
	})

	t.Run("DELETE removes the document", func(t *testing.T) {
		t.Parallel()

		h := newGatewayHandlers(t, domain.ExecutionInteractive)
		seed(t, h, "users/1", `{"name":"Ada"}`)
		h.upstream.send = func(ctx context.Context, method, path string, body json.RawMessage) (json.RawMessage, error) {
			require.Equal(t, "DELETE", method)
			return json.RawMessage("null"), nil
		}

		w := serve(h.mutate, makeRequest("DELETE", "users/1", "", "", ""))
		require.Equal(t, http.StatusOK, w.Code)

		_, code := cached(t, h, "users/1")
		require.Equal(t, http.StatusNotFound, code)
	})

	t.Run("POST leaves the cache alone", func(t *testing.T) {
		t.Parallel()

		h := newGatewayHandlers(t, domain.ExecutionInteractive)
		seed(t, h, "users", `[]`)
		h.upstream.send = func(ctx context.Context, method, path string, body json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"id":2}`), nil
		}

		w := serve(h.mutate, makeRequest("POST", "users", "", `{"name":"Grace"}`, ""))
		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `{"id":2}`, string(parseResourceResponse(t, w).Data))

		resp, _ := cached(t, h, "users")
		require.JSONEq(t, `[]`, string(resp.Data))
	})

	t.Run("each mutation calls the upstream", func(t *testing.T) {
		t.Parallel()

		h := newGatewayHandlers(t, domain.ExecutionInteractive)
		h.upstream.send = func(ctx context.Context, method, path string, body json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		}

		for range 3 {
			w := serve(h.mutate, makeRequest("POST", "events", "", `{}`, "same-requester"))
			require.Equal(t, http.StatusOK, w.Code)
		}
		require.Equal(t, int32(3), h.upstream.sends.Load())
	})

	t.Run("invalid body", func(t *testing.T) {
		t.Parallel()

		h := newGatewayHandlers(t, domain.ExecutionInteractive)

		w := serve(h.mutate, makeRequest("PUT", "users/1", "", `{"name":`, ""))
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, "body is not valid JSON", parseResourceResponse(t, w).Cause)
		require.Equal(t, int32(0), h.upstream.sends.Load())
	})
}
