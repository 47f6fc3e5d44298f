package processor

import (
	"context"
	"maps"
	"slices"

	"github.com/Amund211/coalesce/internal/cancellation"
)

// descriptor holds the cache transforms of the query an entry writes back for
type descriptor[C any] struct {
	applyOptimistic  func(C) C
	removeOptimistic func(C) C
	toCache          func(C, any) C
}

func (d *descriptor[C]) withoutOptimistic() *descriptor[C] {
	return &descriptor[C]{toCache: d.toCache}
}

// attachment is one caller waiting on an entry
type attachment struct {
	requesterID string
	token       context.Context
	stop        func() bool
	detached    bool
	// Counted in the loading set
	cacheable   bool
}

type inflightEntry[C any] struct {
	requestID string
	epoch     uint64

	future     *future
	controller *cancellation.Controller
	refs       *cancellation.RefCount

	// Cacheable attachments per requester id
	loading     map[string]int
	attachments map[*attachment]struct{}

	// nil while only callers that bypass the cache are attached
	cacheable *descriptor[C]
}

func newInflightEntry[C any](parent context.Context, requestID string, epoch uint64, cacheable *descriptor[C]) *inflightEntry[C] {
	controller := cancellation.NewController(parent)
	return &inflightEntry[C]{
		requestID:   requestID,
		epoch:       epoch,
		future:      newFuture(),
		controller:  controller,
		refs:        cancellation.NewRefCount(controller),
		loading:     make(map[string]int),
		attachments: make(map[*attachment]struct{}),
		cacheable:   cacheable,
	}
}

func (e *inflightEntry[C]) attach(requesterID string, token context.Context, cacheable bool) *attachment {
	a := &attachment{
		requesterID: requesterID,
		token:       token,
		stop:        func() bool { return true },
		cacheable:   cacheable,
	}
	e.attachments[a] = struct{}{}
	if cacheable {
		e.loading[requesterID]++
	}
	e.refs.Attach()
	return a
}

// detach removes a from the entry and reports whether it was the last attachment,
// in which case the entry's controller has been aborted
func (e *inflightEntry[C]) detach(a *attachment) bool {
	if a.detached {
		return false
	}
	a.detached = true
	a.stop()

	delete(e.attachments, a)
	if a.cacheable {
		e.loading[a.requesterID]--
		if e.loading[a.requesterID] <= 0 {
			delete(e.loading, a.requesterID)
		}
	}

	return e.refs.Detach()
}

// cancelledAttachments returns attachments whose caller has cancelled but not yet detached
func (e *inflightEntry[C]) cancelledAttachments() []*attachment {
	var cancelled []*attachment
	for a := range e.attachments {
		if !a.detached && a.token.Err() != nil {
			cancelled = append(cancelled, a)
		}
	}
	return cancelled
}

// release stops watching every attached caller once the entry has settled
func (e *inflightEntry[C]) release() {
	for a := range e.attachments {
		a.detached = true
		a.stop()
	}
	clear(e.attachments)
	clear(e.loading)
}

func (e *inflightEntry[C]) loadingIDs() []string {
	return slices.Sorted(maps.Keys(e.loading))
}
