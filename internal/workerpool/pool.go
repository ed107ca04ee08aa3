// Package workerpool provides the serialized execution slot shared by all
// users' inference runs. Capacity is fixed at 1 in production wiring: the
// backend computation is too heavy to run concurrently, so every submission
// queues for the single slot.
package workerpool

import "context"

type Pool struct {
	slots chan struct{}
}

func New(capacity int) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{slots: make(chan struct{}, capacity)}
}

// Capacity returns the number of concurrent slots.
func (p *Pool) Capacity() int { return cap(p.slots) }

// InUse returns the number of currently held slots.
func (p *Pool) InUse() int { return len(p.slots) }

// Do waits for a free slot, runs fn, and releases the slot. Waiting is
// unbounded; the only escape is ctx cancellation, in which case fn never
// runs and ctx.Err() is returned. fn receives the same ctx so the backend
// can observe cancellation mid-run.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.slots }()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
