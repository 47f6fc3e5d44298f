package cache

import (
	"sync"
	"time"

	"github.com/Amund211/coalesce/internal/domain"
)

type memoryCache[C any] struct {
	data   C
	states *requestStateStore
	lock   sync.Mutex
}

func (c *memoryCache[C]) CacheData() C {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.data
}

func (c *memoryCache[C]) RequestState(requestID string) domain.RequestState {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.states.get(requestID)
}

func (c *memoryCache[C]) UpdateState(update StateUpdate[C]) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if update.RequestState != nil && update.RequestState.Update != nil {
		requestID := update.RequestState.RequestID
		current := c.states.get(requestID)
		next := update.RequestState.Update(current)
		if !sameRequestState(current, next) {
			c.states.set(requestID, next)
		}
	}

	if update.CacheData != nil {
		c.data = update.CacheData(c.data)
	}
}

// TrackedRequests returns the number of request ids with a non-empty state record
func (c *memoryCache[C]) TrackedRequests() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.states.len()
}

// NewMemoryCache returns an in-memory cache and a function stopping its expiry loop.
// Request state records expire after stateTTL, or never if stateTTL <= 0.
func NewMemoryCache[C any](initial C, stateTTL time.Duration) (*memoryCache[C], func()) {
	states, stop := newRequestStateStore(stateTTL)
	return &memoryCache[C]{
		data:   initial,
		states: states,
	}, stop
}

// Type assertion
var _ Cache[int] = (*memoryCache[int])(nil)
