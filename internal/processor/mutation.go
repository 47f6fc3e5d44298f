package processor

import (
	"context"
	"sync"

	"github.com/Amund211/coalesce/internal/adapters/cache"
	"github.com/Amund211/coalesce/internal/cancellation"
	"github.com/Amund211/coalesce/internal/domain"
	"github.com/Amund211/coalesce/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type MutationRequest[C, R any] struct {
	// Optional, passed on to the cache transforms
	GetRequestID func() string

	Fetch func(ctx context.Context) (R, error)

	// Optional. Merges the response into the cache data on success.
	ToCache func(cacheData C, data R, args CacheArgs) C

	// Applied with ToCache before the call starts. Only used together with RemoveOptimisticData.
	OptimisticData       *R
	RemoveOptimisticData func(cacheData C, data R, args CacheArgs) C

	// Generated when empty
	RequesterID string
}

type mutationHandle[C any] struct {
	future     *future
	controller *cancellation.Controller
	stop       func() bool

	// nil unless an optimistic update was applied
	rollback func(C) C
}

type MutationProcessor[C any] struct {
	cache cache.Cache[C]
	queue Queue

	mutex sync.Mutex
	live  map[*mutationHandle[C]]struct{}

	tracer trace.Tracer
}

func NewMutationProcessor[C any](c cache.Cache[C], queue Queue) *MutationProcessor[C] {
	return &MutationProcessor[C]{
		cache:  c,
		queue:  queue,
		live:   make(map[*mutationHandle[C]]struct{}),
		tracer: otel.Tracer(instrumentationName),
	}
}

// Mutate runs req exactly once and returns its pending result.
//
// An optimistic update is written to the cache before Mutate returns. It is removed
// again when the mutation settles, is cancelled through ctx, or is purged.
func Mutate[C, R any](ctx context.Context, p *MutationProcessor[C], req MutationRequest[C, R]) *Pending[R] {
	args := CacheArgs{RequesterID: requesterOrNew(req.RequesterID)}
	if req.GetRequestID != nil {
		args.RequestID = req.GetRequestID()
	}

	ctx = logging.AddRequestToContext(ctx, args.RequestID)

	p.mutex.Lock()
	defer p.mutex.Unlock()

	handle := &mutationHandle[C]{
		future:     newFuture(),
		controller: cancellation.NewController(ctx),
	}

	if req.OptimisticData != nil {
		if req.RemoveOptimisticData != nil && req.ToCache != nil {
			optimistic := *req.OptimisticData
			p.cache.UpdateState(cache.StateUpdate[C]{
				CacheData: func(cacheData C) C {
					return req.ToCache(cacheData, optimistic, args)
				},
			})
			handle.rollback = func(cacheData C) C {
				return req.RemoveOptimisticData(cacheData, optimistic, args)
			}
		} else {
			logging.FromContext(ctx).WarnContext(ctx, "Optimistic data ignored: mutation needs both ToCache and RemoveOptimisticData")
		}
	}

	p.live[handle] = struct{}{}
	handle.stop = cancellation.Wire(ctx, func() {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		p.abortLocked(handle)
	})

	metrics.mutations.Add(ctx, 1)

	work := func(ctx context.Context) (any, error) {
		return req.Fetch(ctx)
	}

	var toCache func(C, any) C
	if req.ToCache != nil {
		toCache = func(cacheData C, data any) C {
			value, _ := data.(R)
			return req.ToCache(cacheData, value, args)
		}
	}

	go p.run(handle, work, toCache)

	return &Pending[R]{future: handle.future}
}

func (p *MutationProcessor[C]) run(handle *mutationHandle[C], work func(ctx context.Context) (any, error), toCache func(C, any) C) {
	ctx, span := p.tracer.Start(handle.controller.Context(), "MutationProcessor.fetch")
	defer span.End()

	metrics.networkCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("category", string(domain.CategoryMutation))))

	value, err := p.queue.Submit(ctx, domain.CategoryMutation, work)
	err = handle.controller.Err(err)

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, ok := p.live[handle]; !ok {
		// Purged or cancelled, the rollback has already been applied
		handle.future.settle(value, err)
		return
	}
	delete(p.live, handle)
	handle.stop()

	if err != nil {
		logging.FromContext(ctx).InfoContext(ctx, "Mutation failed", "error", err)
		p.rollbackLocked(ctx, handle)
	} else if handle.rollback != nil || toCache != nil {
		p.cache.UpdateState(cache.StateUpdate[C]{
			CacheData: func(cacheData C) C {
				if handle.rollback != nil {
					cacheData = handle.rollback(cacheData)
				}
				if toCache != nil {
					cacheData = toCache(cacheData, value)
				}
				return cacheData
			},
		})
	}

	handle.future.settle(value, err)
}

// abortLocked cancels a live mutation and removes its optimistic update
func (p *MutationProcessor[C]) abortLocked(handle *mutationHandle[C]) {
	if _, ok := p.live[handle]; !ok {
		return
	}
	delete(p.live, handle)

	handle.stop()
	handle.controller.Abort()
	p.rollbackLocked(handle.controller.Context(), handle)
	handle.future.settle(nil, domain.ErrCancelled)
}

func (p *MutationProcessor[C]) rollbackLocked(ctx context.Context, handle *mutationHandle[C]) {
	if handle.rollback == nil {
		return
	}

	metrics.rollbacks.Add(ctx, 1)
	p.cache.UpdateState(cache.StateUpdate[C]{
		CacheData: handle.rollback,
	})
}

// Purge aborts every live mutation and removes their optimistic updates.
// Callers waiting on a purged mutation receive domain.ErrCancelled, and its
// eventual result no longer touches the cache.
func (p *MutationProcessor[C]) Purge() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for handle := range p.live {
		metrics.purges.Add(handle.controller.Context(), 1, metric.WithAttributes(attribute.String("category", string(domain.CategoryMutation))))
		p.abortLocked(handle)
	}
}

// Live returns the number of mutations that have not settled yet
func (p *MutationProcessor[C]) Live() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.live)
}
