package cache

import "github.com/Amund211/coalesce/internal/domain"

type RequestStateUpdate struct {
	RequestID string
	// Pure transform of the current record. Returning an equal record is a no-op.
	Update func(domain.RequestState) domain.RequestState
}

// StateUpdate is applied atomically by the cache. Both parts are optional.
type StateUpdate[C any] struct {
	RequestState *RequestStateUpdate
	// Pure transform of the current cache data
	CacheData func(C) C
}

type Cache[C any] interface {
	CacheData() C
	RequestState(requestID string) domain.RequestState
	UpdateState(update StateUpdate[C])
}
