package cache

import (
	"reflect"
	"slices"
	"time"

	"github.com/Amund211/coalesce/internal/domain"
	"github.com/jellydator/ttlcache/v3"
)

// requestStateStore keeps request state records, optionally expiring them after ttl
type requestStateStore struct {
	cache *ttlcache.Cache[string, domain.RequestState]
}

func (s *requestStateStore) get(requestID string) domain.RequestState {
	item := s.cache.Get(requestID)
	if item == nil {
		return domain.RequestState{}
	}
	return item.Value()
}

func (s *requestStateStore) set(requestID string, state domain.RequestState) {
	if state.Error == nil && len(state.Loading) == 0 {
		s.cache.Delete(requestID)
		return
	}
	s.cache.Set(requestID, state, ttlcache.DefaultTTL)
}

func (s *requestStateStore) len() int {
	return s.cache.Len()
}

func sameRequestState(a, b domain.RequestState) bool {
	return sameError(a.Error, b.Error) && slices.Equal(a.Loading, b.Loading)
}

// Errors with uncomparable dynamic types are never considered the same
func sameError(a, b error) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	typeA := reflect.TypeOf(a)
	if typeA != reflect.TypeOf(b) || !typeA.Comparable() {
		return false
	}
	return a == b
}

// A ttl <= 0 keeps records until they are cleared
func newRequestStateStore(ttl time.Duration) (*requestStateStore, func()) {
	if ttl < 0 {
		ttl = 0
	}
	stateTTLCache := ttlcache.New[string, domain.RequestState](
		ttlcache.WithTTL[string, domain.RequestState](ttl),
		ttlcache.WithDisableTouchOnHit[string, domain.RequestState](),
	)
	if ttl == 0 {
		return &requestStateStore{cache: stateTTLCache}, func() {}
	}

	go stateTTLCache.Start()
	return &requestStateStore{cache: stateTTLCache}, stateTTLCache.Stop
}
