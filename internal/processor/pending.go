package processor

import (
	"context"
	"sync"
)

// future is settled exactly once. Later settlements are ignored.
type future struct {
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

func (f *future) settle(value any, err error) bool {
	settled := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		settled = true
		close(f.done)
	})
	return settled
}

// Pending is the eventual result of a network call.
// Every holder of a Pending sharing one call observes the same value and error.
type Pending[R any] struct {
	future *future
}

// Done is closed when the result is available
func (p *Pending[R]) Done() <-chan struct{} {
	return p.future.done
}

// Wait blocks until the result is available or ctx is done.
// ctx only bounds the wait: it never cancels the underlying call.
func (p *Pending[R]) Wait(ctx context.Context) (R, error) {
	var zero R

	select {
	case <-p.future.done:
	default:
		select {
		case <-p.future.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	if p.future.err != nil {
		return zero, p.future.err
	}

	value, _ := p.future.value.(R)
	return value, nil
}
