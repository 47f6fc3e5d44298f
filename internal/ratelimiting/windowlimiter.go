package ratelimiting

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Amund211/coalesce/internal/domain"
)

// windowLimiter admits at most limit operations per sliding window.
//
// Each admitted operation holds one of limit slots until it releases, and may
// only start once the window has passed since the oldest finished operation.
type windowLimiter struct {
	limit     int
	window    time.Duration
	nowFunc   func() time.Time
	afterFunc func(time.Duration) <-chan time.Time

	availableSlots chan struct{}
	// Finish times of past operations, oldest first. Always holds one entry per free slot.
	finishedAt []time.Time
	mutex      sync.Mutex
}

func NewWindowLimiter(
	limit int,
	window time.Duration,
	nowFunc func() time.Time,
	afterFunc func(time.Duration) <-chan time.Time,
) *windowLimiter {
	availableSlots := make(chan struct{}, limit)
	for range limit {
		availableSlots <- struct{}{}
	}

	// Pretend every slot finished a window ago so the first operations start right away
	finishedAt := make([]time.Time, limit)
	longAgo := nowFunc().Add(-window)
	for i := range finishedAt {
		finishedAt[i] = longAgo
	}

	return &windowLimiter{
		limit:     limit,
		window:    window,
		nowFunc:   nowFunc,
		afterFunc: afterFunc,

		availableSlots: availableSlots,
		finishedAt:     finishedAt,
	}
}

// Acquire waits until an operation may start.
//
// On success the caller must call release once the operation has finished.
// If ctx has a deadline that would pass before the wait plus minOperationTime,
// Acquire fails immediately with domain.ErrTemporarilyUnavailable.
func (l *windowLimiter) Acquire(ctx context.Context, minOperationTime time.Duration) (func(), error) {
	select {
	case <-l.availableSlots:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	oldest, err := l.takeOldest(ctx, minOperationTime)
	if err != nil {
		l.availableSlots <- struct{}{}
		return nil, err
	}

	if wait := l.untilFree(oldest); wait > 0 {
		select {
		case <-ctx.Done():
			// Give back the finish time we took, the slot is unused
			l.putFinished(oldest)
			l.availableSlots <- struct{}{}
			return nil, ctx.Err()
		case <-l.afterFunc(wait):
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.putFinished(l.nowFunc())
			l.availableSlots <- struct{}{}
		})
	}
	return release, nil
}

func (l *windowLimiter) untilFree(finished time.Time) time.Duration {
	return l.window - l.nowFunc().Sub(finished)
}

func (l *windowLimiter) putFinished(t time.Time) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	i, _ := slices.BinarySearchFunc(l.finishedAt, t, func(a, b time.Time) int {
		return a.Compare(b)
	})
	l.finishedAt = slices.Insert(l.finishedAt, i, t)
}

func (l *windowLimiter) takeOldest(ctx context.Context, minOperationTime time.Duration) (time.Time, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	oldest := l.finishedAt[0]

	if deadline, ok := ctx.Deadline(); ok {
		needed := l.untilFree(oldest) + minOperationTime
		if remaining := deadline.Sub(l.nowFunc()); needed > remaining {
			return time.Time{}, fmt.Errorf(
				"%w: window limit would delay operation by %s with %s left",
				domain.ErrTemporarilyUnavailable,
				needed,
				remaining,
			)
		}
	}

	l.finishedAt = l.finishedAt[1:]
	return oldest, nil
}
