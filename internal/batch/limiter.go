// Package batch runs work items in bounded, contiguous batches.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultBatchDelay is the pause between two batches when no option overrides it.
const DefaultBatchDelay = 200 * time.Millisecond

// Result is the outcome of one work item. Exactly one of Value/Err is meaningful.
type Result[R any] struct {
	Value R
	Err   error
}

// OK reports whether the item succeeded.
func (r Result[R]) OK() bool {
	return r.Err == nil
}

type options struct {
	delay time.Duration
}

// Option tunes Run.
type Option func(*options)

// WithBatchDelay sets the pause between successive batches. Zero disables it.
func WithBatchDelay(d time.Duration) Option {
	return func(o *options) {
		if d < 0 {
			d = 0
		}
		o.delay = d
	}
}

// Run dispatches items in contiguous batches of at most concurrency items,
// waits for every item of a batch to settle, then pauses before the next one.
// The returned slice always has len(items) entries in input order. A failing
// or panicking worker never prevents the other items from running.
//
// Items not yet dispatched when ctx is done report ctx.Err().
func Run[T, R any](ctx context.Context, items []T, concurrency int, worker func(context.Context, T) (R, error), opts ...Option) []Result[R] {
	o := options{delay: DefaultBatchDelay}
	for _, opt := range opts {
		opt(&o)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]Result[R], len(items))
	for start := 0; start < len(items); start += concurrency {
		if start > 0 && o.delay > 0 {
			timer := time.NewTimer(o.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			for i := start; i < len(items); i++ {
				results[i].Err = err
			}
			break
		}

		end := min(start+concurrency, len(items))
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = call(ctx, items[i], worker)
			}(i)
		}
		wg.Wait()
	}
	return results
}

func call[T, R any](ctx context.Context, item T, worker func(context.Context, T) (R, error)) (res Result[R]) {
	defer func() {
		if p := recover(); p != nil {
			res = Result[R]{Err: fmt.Errorf("batch worker panic: %v", p)}
		}
	}()
	v, err := worker(ctx, item)
	return Result[R]{Value: v, Err: err}
}

// Count returns how many results succeeded and failed.
func Count[R any](results []Result[R]) (succeeded, failed int) {
	for _, r := range results {
		if r.OK() {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}
