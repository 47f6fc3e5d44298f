package processor_test

import (
	"context"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Amund211/coalesce/internal/adapters/cache"
	"github.com/Amund211/coalesce/internal/domain"
	"github.com/Amund211/coalesce/internal/processor"
)

type store map[string]string

func (s store) with(key, value string) store {
	next := maps.Clone(s)
	if next == nil {
		next = store{}
	}
	next[key] = value
	return next
}

func (s store) without(key, value string) store {
	if s[key] != value {
		return s
	}
	next := maps.Clone(s)
	delete(next, key)
	return next
}

type immediateQueue struct {
	lock       sync.Mutex
	categories []domain.Category
}

func (q *immediateQueue) Submit(ctx context.Context, category domain.Category, work func(ctx context.Context) (any, error)) (any, error) {
	q.lock.Lock()
	q.categories = append(q.categories, category)
	q.lock.Unlock()
	return work(ctx)
}

func (q *immediateQueue) Categories() []domain.Category {
	q.lock.Lock()
	defer q.lock.Unlock()
	return append([]domain.Category(nil), q.categories...)
}

type fetchResult struct {
	value string
	err   error
}

type controlledFetch struct {
	calls   atomic.Int32
	started chan struct{}
	results chan fetchResult

	// Keep waiting for a result after the call is aborted
	ignoreCancel bool
}

func newControlledFetch() *controlledFetch {
	return &controlledFetch{
		started: make(chan struct{}, 16),
		results: make(chan fetchResult),
	}
}

func (f *controlledFetch) fetch(ctx context.Context) (string, error) {
	f.calls.Add(1)
	f.started <- struct{}{}

	if f.ignoreCancel {
		result := <-f.results
		return result.value, result.err
	}

	select {
	case result := <-f.results:
		return result.value, result.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *controlledFetch) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-f.started:
	case <-t.Context().Done():
		t.Fatal("fetch was not started")
	}
}

func (f *controlledFetch) succeed(value string) {
	f.results <- fetchResult{value: value}
}

func (f *controlledFetch) fail(err error) {
	f.results <- fetchResult{err: err}
}

type setup struct {
	cache     cache.Cache[store]
	queue     *immediateQueue
	queries   *processor.QueryProcessor[store]
	mutations *processor.MutationProcessor[store]
}

func newSetup(t *testing.T, execution domain.ExecutionContext) setup {
	t.Helper()

	c, stop := cache.NewMemoryCache(store{}, 0)
	t.Cleanup(stop)

	queue := &immediateQueue{}

	return setup{
		cache:     c,
		queue:     queue,
		queries:   processor.NewQueryProcessor(c, queue, execution),
		mutations: processor.NewMutationProcessor(c, queue),
	}
}

func newQuery(requestID string, policy domain.FetchPolicy, requesterID string, f *controlledFetch) processor.QueryRequest[store, string] {
	return processor.QueryRequest[store, string]{
		GetRequestID: func() string { return requestID },
		FetchPolicy:  policy,
		Fetch:        f.fetch,
		FromCache: func(cacheData store, args processor.CacheArgs) (string, bool) {
			value, ok := cacheData[args.RequestID]
			return value, ok
		},
		ToCache: func(cacheData store, data string, args processor.CacheArgs) store {
			return cacheData.with(args.RequestID, data)
		},
		RemoveOptimisticData: func(cacheData store, data string, args processor.CacheArgs) store {
			return cacheData.without(args.RequestID, data)
		},
		IsOptimisticData: func(cacheData store, data string, args processor.CacheArgs) bool {
			return strings.HasPrefix(data, "optimistic")
		},
		RequesterID: requesterID,
	}
}

func newMutation(requestID string, f *controlledFetch) processor.MutationRequest[store, string] {
	return processor.MutationRequest[store, string]{
		GetRequestID: func() string { return requestID },
		Fetch:        f.fetch,
		ToCache: func(cacheData store, data string, args processor.CacheArgs) store {
			return cacheData.with(args.RequestID, data)
		},
		RemoveOptimisticData: func(cacheData store, data string, args processor.CacheArgs) store {
			return cacheData.without(args.RequestID, data)
		},
	}
}

func ptr[T any](v T) *T {
	return &v
}

func withCacheData(data store) cache.StateUpdate[store] {
	return cache.StateUpdate[store]{
		CacheData: func(store) store { return data },
	}
}

func withRequestState(requestID string, state domain.RequestState) cache.StateUpdate[store] {
	return cache.StateUpdate[store]{
		RequestState: &cache.RequestStateUpdate{
			RequestID: requestID,
			Update:    func(domain.RequestState) domain.RequestState { return state },
		},
	}
}
