// Package requestqueue admits units of work per category, limiting how many
// run at once and optionally how many start per time window.
package requestqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/Amund211/coalesce/internal/domain"
	"github.com/Amund211/coalesce/internal/ratelimiting"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

type Work = func(ctx context.Context) (any, error)

type WindowLimiter interface {
	Acquire(ctx context.Context, minOperationTime time.Duration) (func(), error)
}

type Limits struct {
	// Zero means unlimited
	MaxConcurrent int64

	// Window limiting is disabled when WindowLimit is zero
	WindowLimit      int
	Window           time.Duration
	MinOperationTime time.Duration
}

type lane struct {
	concurrency      *semaphore.Weighted
	window           WindowLimiter
	minOperationTime time.Duration
}

type queueMetricsCollection struct {
	submitCount metric.Int64Counter
	waitTime    metric.Float64Histogram
}

func setupQueueMetrics(meter metric.Meter) (queueMetricsCollection, error) {
	submitCount, err := meter.Int64Counter(
		"requestqueue/submit_count",
		metric.WithDescription("Units of work submitted to the request queue"),
	)
	if err != nil {
		return queueMetricsCollection{}, fmt.Errorf("failed to create submit count metric: %w", err)
	}

	waitTime, err := meter.Float64Histogram(
		"requestqueue/wait_seconds",
		metric.WithDescription("Time spent waiting for admission"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return queueMetricsCollection{}, fmt.Errorf("failed to create wait time metric: %w", err)
	}

	return queueMetricsCollection{
		submitCount: submitCount,
		waitTime:    waitTime,
	}, nil
}

type queue struct {
	lanes    map[domain.Category]*lane
	fallback *lane
	nowFunc  func() time.Time

	metrics queueMetricsCollection
	tracer  trace.Tracer
}

// New builds a queue with one lane per category in limits.
// Categories without limits share an unlimited lane.
func New(
	limits map[domain.Category]Limits,
	nowFunc func() time.Time,
	afterFunc func(time.Duration) <-chan time.Time,
) (*queue, error) {
	const name = "coalesce/requestqueue"

	metrics, err := setupQueueMetrics(otel.Meter(name))
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	lanes := make(map[domain.Category]*lane, len(limits))
	for category, l := range limits {
		if l.MaxConcurrent < 0 || l.WindowLimit < 0 {
			return nil, fmt.Errorf("invalid limits for category %s: %+v", category, l)
		}
		if l.WindowLimit > 0 && l.Window <= 0 {
			return nil, fmt.Errorf("window limit for category %s needs a positive window", category)
		}

		ln := &lane{minOperationTime: l.MinOperationTime}
		if l.MaxConcurrent > 0 {
			ln.concurrency = semaphore.NewWeighted(l.MaxConcurrent)
		}
		if l.WindowLimit > 0 {
			ln.window = ratelimiting.NewWindowLimiter(l.WindowLimit, l.Window, nowFunc, afterFunc)
		}
		lanes[category] = ln
	}

	return &queue{
		lanes:    lanes,
		fallback: &lane{},
		nowFunc:  nowFunc,
		metrics:  metrics,
		tracer:   otel.Tracer(name),
	}, nil
}

// Submit runs work once the category admits it and returns its result.
// ctx cancels both the wait for admission and the work itself.
func (q *queue) Submit(ctx context.Context, category domain.Category, work Work) (any, error) {
	ctx, span := q.tracer.Start(ctx, "RequestQueue.Submit", trace.WithAttributes(
		attribute.String("category", string(category)),
	))
	defer span.End()

	attributes := metric.WithAttributes(attribute.String("category", string(category)))
	q.metrics.submitCount.Add(ctx, 1, attributes)

	ln, ok := q.lanes[category]
	if !ok {
		ln = q.fallback
	}

	waitStart := q.nowFunc()

	if ln.concurrency != nil {
		if err := ln.concurrency.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("waiting for %s slot: %w", category, err)
		}
		defer ln.concurrency.Release(1)
	}

	if ln.window != nil {
		release, err := ln.window.Acquire(ctx, ln.minOperationTime)
		if err != nil {
			return nil, fmt.Errorf("waiting for %s window: %w", category, err)
		}
		defer release()
	}

	q.metrics.waitTime.Record(ctx, q.nowFunc().Sub(waitStart).Seconds(), attributes)

	return work(ctx)
}
