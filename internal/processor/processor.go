// Package processor coordinates queries and mutations against a shared cache.
//
// Queries for the same request id share one network call. Every caller holds
// its own context and the call is only aborted once all of them have
// cancelled. Mutations always run exactly once per call and may apply an
// optimistic update to the cache while they are in flight.
package processor

import (
	"context"

	"github.com/Amund211/coalesce/internal/domain"
	"github.com/google/uuid"
)

// Queue admits units of work and returns their result
type Queue interface {
	Submit(ctx context.Context, category domain.Category, work func(ctx context.Context) (any, error)) (any, error)
}

// CacheArgs identify the request a cache transform is applied for
type CacheArgs struct {
	RequestID   string
	RequesterID string
}

func requesterOrNew(requesterID string) string {
	if requesterID != "" {
		return requesterID
	}
	return uuid.New().String()
}
