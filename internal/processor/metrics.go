package processor

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "coalesce/processor"

type processorMetricsCollection struct {
	networkCalls  metric.Int64Counter
	dedupHits     metric.Int64Counter
	cancellations metric.Int64Counter
	purges        metric.Int64Counter
	mutations     metric.Int64Counter
	rollbacks     metric.Int64Counter
}

var metrics processorMetricsCollection

func init() {
	meter := otel.Meter(instrumentationName)

	networkCalls, err := meter.Int64Counter(
		"processor/network_calls",
		metric.WithDescription("Calls submitted to the request queue"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create network calls metric: %w", err))
	}

	dedupHits, err := meter.Int64Counter(
		"processor/dedup_hits",
		metric.WithDescription("Queries attached to an already running call"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create dedup hits metric: %w", err))
	}

	cancellations, err := meter.Int64Counter(
		"processor/cancellations",
		metric.WithDescription("Shared calls aborted after every requester withdrew"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create cancellations metric: %w", err))
	}

	purges, err := meter.Int64Counter(
		"processor/purged",
		metric.WithDescription("Calls aborted by purge"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create purges metric: %w", err))
	}

	mutations, err := meter.Int64Counter(
		"processor/mutations",
		metric.WithDescription("Mutations started"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create mutations metric: %w", err))
	}

	rollbacks, err := meter.Int64Counter(
		"processor/optimistic_rollbacks",
		metric.WithDescription("Optimistic updates removed without being confirmed"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rollbacks metric: %w", err))
	}

	metrics = processorMetricsCollection{
		networkCalls:  networkCalls,
		dedupHits:     dedupHits,
		cancellations: cancellations,
		purges:        purges,
		mutations:     mutations,
		rollbacks:     rollbacks,
	}
}
