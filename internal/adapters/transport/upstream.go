package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Amund211/coalesce/internal/constants"
	"github.com/Amund211/coalesce/internal/domain"
	"github.com/Amund211/coalesce/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type upstreamMetricsCollection struct {
	requestCount metric.Int64Counter
}

func setupUpstreamMetrics(meter metric.Meter) (upstreamMetricsCollection, error) {
	requestCount, err := meter.Int64Counter("transport/upstream/request_count")
	if err != nil {
		return upstreamMetricsCollection{}, fmt.Errorf("failed to create request count metric: %w", err)
	}

	return upstreamMetricsCollection{
		requestCount: requestCount,
	}, nil
}

type upstream struct {
	baseURL    *url.URL
	httpClient HttpClient

	metrics upstreamMetricsCollection
	tracer  trace.Tracer
}

func NewUpstream(baseURL string, httpClient HttpClient) (*upstream, error) {
	const name = "coalesce/transport/upstream"

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse upstream url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported upstream url scheme: %q", parsed.Scheme)
	}

	metrics, err := setupUpstreamMetrics(otel.Meter(name))
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	return &upstream{
		baseURL:    parsed,
		httpClient: httpClient,
		metrics:    metrics,
		tracer:     otel.Tracer(name),
	}, nil
}

// Fetch returns a unit of work reading the document at path
func (u *upstream) Fetch(path string) func(ctx context.Context) (json.RawMessage, error) {
	return func(ctx context.Context) (json.RawMessage, error) {
		return u.do(ctx, http.MethodGet, path, nil)
	}
}

// Send returns a unit of work writing body to path with the given method
func (u *upstream) Send(method, path string, body json.RawMessage) func(ctx context.Context) (json.RawMessage, error) {
	return func(ctx context.Context) (json.RawMessage, error) {
		return u.do(ctx, method, path, body)
	}
}

func (u *upstream) resolve(path string) string {
	resolved := *u.baseURL
	resolved.Path = strings.TrimSuffix(u.baseURL.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	resolved.RawQuery = ""
	return resolved.String()
}

func (u *upstream) do(ctx context.Context, method, path string, body json.RawMessage) (json.RawMessage, error) {
	ctx, span := u.tracer.Start(ctx, "Upstream.do", trace.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	))
	defer span.End()

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.resolve(path), reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", constants.USER_AGENT)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request to upstream aborted: %w", errors.Join(err, ctx.Err()))
		}
		return nil, fmt.Errorf("%w: failed to send request: %w", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %w", domain.ErrUpstream, err)
	}

	u.metrics.requestCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status_code", strconv.Itoa(resp.StatusCode)),
	))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.FromContext(ctx).InfoContext(
			ctx,
			"Upstream returned non-success status",
			"method", method,
			"path", path,
			"statusCode", resp.StatusCode,
		)
		return nil, &domain.UpstreamStatusError{StatusCode: resp.StatusCode, Body: data}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("null"), nil
	}

	return json.RawMessage(data), nil
}
