package processor

import (
	"context"
	"errors"
	"sync"

	"github.com/Amund211/coalesce/internal/adapters/cache"
	"github.com/Amund211/coalesce/internal/cancellation"
	"github.com/Amund211/coalesce/internal/domain"
	"github.com/Amund211/coalesce/internal/fetchpolicy"
	"github.com/Amund211/coalesce/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type QueryRequest[C, R any] struct {
	GetRequestID func() string
	FetchPolicy  domain.FetchPolicy

	// Fetch performs the network call. It must return once ctx is cancelled.
	Fetch func(ctx context.Context) (R, error)

	// FromCache projects the data for this request out of the cache data
	FromCache func(cacheData C, args CacheArgs) (R, bool)
	ToCache   func(cacheData C, data R, args CacheArgs) C

	// Written to the cache when the call starts, and removed again when it settles
	OptimisticData       *R
	RemoveOptimisticData func(cacheData C, data R, args CacheArgs) C
	IsOptimisticData     func(cacheData C, data R, args CacheArgs) bool

	// Generated when empty
	RequesterID string

	DisableSSR                    bool
	PreventExcessRequestOnHydrate bool
}

func (req QueryRequest[C, R]) descriptor(ctx context.Context, args CacheArgs) *descriptor[C] {
	if !req.FetchPolicy.Cacheable() {
		return nil
	}

	desc := &descriptor[C]{
		toCache: func(cacheData C, data any) C {
			value, _ := data.(R)
			return req.ToCache(cacheData, value, args)
		},
	}

	if req.OptimisticData == nil {
		return desc
	}

	if req.RemoveOptimisticData == nil {
		logging.FromContext(ctx).WarnContext(ctx, "Optimistic data ignored: query needs RemoveOptimisticData")
		return desc
	}

	optimistic := *req.OptimisticData
	desc.applyOptimistic = func(cacheData C) C {
		return req.ToCache(cacheData, optimistic, args)
	}
	desc.removeOptimistic = func(cacheData C) C {
		return req.RemoveOptimisticData(cacheData, optimistic, args)
	}

	return desc
}

type CacheState[R any] struct {
	Data    R
	HasData bool
	Error   error
	// Whether this requester is attached to a running call for the request
	Loading bool
}

type Flags struct {
	Required bool
	Allowed  bool
}

type QueryState[R any] struct {
	// Zero for no-cache queries
	Cache CacheState[R]
	Flags Flags
}

type QueryResult[R any] struct {
	QueryState[R]
	// nil when no call was needed or allowed
	Pending *Pending[R]
}

type QueryProcessor[C any] struct {
	cache     cache.Cache[C]
	queue     Queue
	execution domain.ExecutionContext

	mutex    sync.Mutex
	phase    domain.Phase
	inflight map[string]*inflightEntry[C]
	epoch    uint64

	tracer trace.Tracer
}

func NewQueryProcessor[C any](c cache.Cache[C], queue Queue, execution domain.ExecutionContext) *QueryProcessor[C] {
	return &QueryProcessor[C]{
		cache:     c,
		queue:     queue,
		execution: execution,
		phase:     domain.PhaseHydrating,
		inflight:  make(map[string]*inflightEntry[C]),
		tracer:    otel.Tracer(instrumentationName),
	}
}

// Query returns the cached state for req and, if a network call is required and
// allowed, the pending result of the call shared by every caller of the request id.
//
// Cancelling ctx detaches this caller from the call. The call is aborted once
// every attached caller has detached.
func Query[C, R any](ctx context.Context, p *QueryProcessor[C], req QueryRequest[C, R]) QueryResult[R] {
	req.RequesterID = requesterOrNew(req.RequesterID)
	args := CacheArgs{RequestID: req.GetRequestID(), RequesterID: req.RequesterID}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	state := queryState(p, req, args)

	if !state.Flags.Required || !state.Flags.Allowed {
		if req.FetchPolicy.Cacheable() {
			p.writeStateLocked(args.RequestID, nil, stateUpdate{kind: updateLoading})
		}
		return QueryResult[R]{QueryState: state}
	}

	work := func(ctx context.Context) (any, error) {
		return req.Fetch(ctx)
	}

	ctx = logging.AddRequestToContext(ctx, args.RequestID)
	entry := p.attachLocked(ctx, args, req.descriptor(ctx, args), work)

	return QueryResult[R]{
		QueryState: state,
		Pending:    &Pending[R]{future: entry.future},
	}
}

// GetQueryState reads the cached state for req without starting or joining a call
func GetQueryState[C, R any](p *QueryProcessor[C], req QueryRequest[C, R]) QueryState[R] {
	req.RequesterID = requesterOrNew(req.RequesterID)
	args := CacheArgs{RequestID: req.GetRequestID(), RequesterID: req.RequesterID}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	return queryState(p, req, args)
}

func queryState[C, R any](p *QueryProcessor[C], req QueryRequest[C, R], args CacheArgs) QueryState[R] {
	var state CacheState[R]
	var cached fetchpolicy.Cached

	if req.FetchPolicy.Cacheable() {
		requestState := p.cache.RequestState(args.RequestID)
		cacheData := p.cache.CacheData()

		state.Data, state.HasData = req.FromCache(cacheData, args)
		state.Error = requestState.Error
		state.Loading = requestState.IsLoading(args.RequesterID)

		cached = fetchpolicy.Cached{
			HasData:    state.HasData,
			Optimistic: state.HasData && req.IsOptimisticData != nil && req.IsOptimisticData(cacheData, state.Data, args),
			HasError:   state.Error != nil,
		}
	}

	policyQuery := fetchpolicy.Query{
		Policy:                        req.FetchPolicy,
		PreventExcessRequestOnHydrate: req.PreventExcessRequestOnHydrate,
		DisableSSR:                    req.DisableSSR,
	}

	return QueryState[R]{
		Cache: state,
		Flags: Flags{
			Required: fetchpolicy.Required(policyQuery, cached, p.phase),
			Allowed:  fetchpolicy.Allowed(policyQuery, cached, p.execution),
		},
	}
}

func (p *QueryProcessor[C]) attachLocked(
	ctx context.Context,
	args CacheArgs,
	desc *descriptor[C],
	work func(ctx context.Context) (any, error),
) *inflightEntry[C] {
	requestID := args.RequestID

	entry, ok := p.inflight[requestID]
	if ok {
		// Callers that already cancelled may not have detached yet
		for _, a := range entry.cancelledAttachments() {
			p.detachLocked(entry, a)
		}
		entry, ok = p.inflight[requestID]
	}

	if ok {
		metrics.dedupHits.Add(ctx, 1)

		if entry.cacheable == nil && desc != nil {
			// The call started without an optimistic write, so there is none to undo
			entry.cacheable = desc.withoutOptimistic()
		}

		p.watchLocked(ctx, entry, args.RequesterID, desc != nil)

		if entry.cacheable != nil {
			p.writeStateLocked(requestID, entry.cacheable, stateUpdate{kind: updateLoading})
		}
		return entry
	}

	p.epoch++
	entry = newInflightEntry(ctx, requestID, p.epoch, desc)
	p.inflight[requestID] = entry

	p.watchLocked(ctx, entry, args.RequesterID, desc != nil)

	if entry.cacheable != nil {
		p.writeStateLocked(requestID, entry.cacheable, stateUpdate{kind: updateStart})
	}

	go p.run(entry, work)

	return entry
}

// watchLocked attaches a caller to entry. Only cacheable callers show up in the loading set.
func (p *QueryProcessor[C]) watchLocked(ctx context.Context, entry *inflightEntry[C], requesterID string, cacheable bool) {
	a := entry.attach(requesterID, ctx, cacheable)
	a.stop = cancellation.Wire(ctx, func() {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		p.detachLocked(entry, a)
	})
}

func (p *QueryProcessor[C]) detachLocked(entry *inflightEntry[C], a *attachment) {
	if a.detached {
		return
	}

	if !entry.detach(a) {
		if !p.isCurrentLocked(entry) || entry.cacheable == nil {
			return
		}
		p.writeStateLocked(entry.requestID, entry.cacheable, stateUpdate{kind: updateLoading})
		return
	}

	metrics.cancellations.Add(entry.controller.Context(), 1)

	if p.isCurrentLocked(entry) {
		delete(p.inflight, entry.requestID)
		if entry.cacheable != nil {
			p.writeStateLocked(entry.requestID, entry.cacheable, stateUpdate{kind: updateFail, err: domain.ErrCancelled})
		}
	}

	entry.release()
	entry.future.settle(nil, domain.ErrCancelled)
}

func (p *QueryProcessor[C]) isCurrentLocked(entry *inflightEntry[C]) bool {
	current, ok := p.inflight[entry.requestID]
	return ok && current.epoch == entry.epoch
}

func (p *QueryProcessor[C]) run(entry *inflightEntry[C], work func(ctx context.Context) (any, error)) {
	ctx, span := p.tracer.Start(entry.controller.Context(), "QueryProcessor.fetch", trace.WithAttributes(
		attribute.String("requestID", entry.requestID),
	))
	defer span.End()

	metrics.networkCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("category", string(domain.CategoryQuery))))

	value, err := p.queue.Submit(ctx, domain.CategoryQuery, work)
	err = entry.controller.Err(err)
	if err != nil && !errors.Is(err, domain.ErrCancelled) {
		logging.FromContext(ctx).InfoContext(ctx, "Query failed", "error", err)
	}

	p.complete(entry, value, err)
}

func (p *QueryProcessor[C]) complete(entry *inflightEntry[C], value any, err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.isCurrentLocked(entry) {
		delete(p.inflight, entry.requestID)

		if entry.cacheable != nil {
			if err != nil {
				p.writeStateLocked(entry.requestID, entry.cacheable, stateUpdate{kind: updateFail, err: err})
			} else {
				p.writeStateLocked(entry.requestID, entry.cacheable, stateUpdate{kind: updateSuccess, data: value})
			}
		}
	}

	entry.release()
	entry.future.settle(value, err)
}

type updateKind int

const (
	updateLoading updateKind = iota
	updateStart
	updateFail
	updateSuccess
	// Removes optimistic data without recording an error
	updatePurge
)

type stateUpdate struct {
	kind updateKind
	data any
	err  error
}

// writeStateLocked commits the request state derived from the in-flight table for requestID,
// together with the cache data change of the update
func (p *QueryProcessor[C]) writeStateLocked(requestID string, desc *descriptor[C], update stateUpdate) {
	var loading []string
	if entry, ok := p.inflight[requestID]; ok {
		loading = entry.loadingIDs()
	}

	change := cache.StateUpdate[C]{
		RequestState: &cache.RequestStateUpdate{
			RequestID: requestID,
			Update: func(state domain.RequestState) domain.RequestState {
				next := state
				switch update.kind {
				case updateFail:
					next.Error = update.err
				case updateSuccess:
					next.Error = nil
				}
				if !state.SameLoading(loading) {
					next.Loading = loading
				}
				return next
			},
		},
	}

	if desc != nil {
		switch update.kind {
		case updateStart:
			change.CacheData = desc.applyOptimistic
		case updateFail, updatePurge:
			change.CacheData = desc.removeOptimistic
		case updateSuccess:
			change.CacheData = func(cacheData C) C {
				if desc.removeOptimistic != nil {
					cacheData = desc.removeOptimistic(cacheData)
				}
				return desc.toCache(cacheData, update.data)
			}
		}
	}

	p.cache.UpdateState(change)
}

// Purge aborts every running call, removes their optimistic data and clears the
// loading markers of their requests.
// Callers waiting on a purged call receive domain.ErrCancelled.
func (p *QueryProcessor[C]) Purge() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	purged := p.inflight
	p.inflight = make(map[string]*inflightEntry[C])

	for requestID, entry := range purged {
		metrics.purges.Add(entry.controller.Context(), 1, metric.WithAttributes(attribute.String("category", string(domain.CategoryQuery))))

		entry.controller.Abort()
		entry.release()
		entry.future.settle(nil, domain.ErrCancelled)

		if entry.cacheable != nil {
			p.writeStateLocked(requestID, entry.cacheable, stateUpdate{kind: updatePurge})
		}
	}
}

// OnHydrateComplete ends the hydration phase. Calling it again has no effect.
func (p *QueryProcessor[C]) OnHydrateComplete() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.phase == domain.PhaseHydrating {
		p.phase = domain.PhaseSteady
	}
}

func (p *QueryProcessor[C]) Phase() domain.Phase {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.phase
}

// InFlight returns the number of running calls
func (p *QueryProcessor[C]) InFlight() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.inflight)
}
