package batch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_PreservesOrderAndLength(t *testing.T) {
	items := []int{5, 1, 4, 2, 3, 9, 7}
	results := Run(context.Background(), items, 3, func(_ context.Context, n int) (int, error) {
		time.Sleep(time.Duration(n) * time.Millisecond)
		return n * 10, nil
	}, WithBatchDelay(0))

	require.Len(t, results, len(items))
	for i, n := range items {
		assert.NoError(t, results[i].Err)
		assert.Equal(t, n*10, results[i].Value)
	}
}

func TestRun_NeverExceedsConcurrency(t *testing.T) {
	for _, k := range []int{1, 2, 4} {
		var inFlight, peak atomic.Int32
		items := make([]int, 11)
		Run(context.Background(), items, k, func(_ context.Context, _ int) (struct{}, error) {
			cur := inFlight.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			return struct{}{}, nil
		}, WithBatchDelay(0))

		assert.LessOrEqual(t, int(peak.Load()), k, "concurrency %d", k)
	}
}

func TestRun_FailureDoesNotAbortOthers(t *testing.T) {
	boom := errors.New("boom")
	results := Run(context.Background(), []string{"a", "fail", "c", "panic", "e"}, 2,
		func(_ context.Context, s string) (string, error) {
			switch s {
			case "fail":
				return "", boom
			case "panic":
				panic("worker exploded")
			}
			return s, nil
		}, WithBatchDelay(0))

	require.Len(t, results, 5)
	assert.ErrorIs(t, results[1].Err, boom)
	assert.ErrorContains(t, results[3].Err, "panic")
	assert.Equal(t, "e", results[4].Value)

	ok, failed := Count(results)
	assert.Equal(t, 3, ok)
	assert.Equal(t, 2, failed)
}

func TestRun_ZeroConcurrencyClampedToOne(t *testing.T) {
	var peak, inFlight atomic.Int32
	Run(context.Background(), []int{1, 2, 3}, 0, func(_ context.Context, _ int) (int, error) {
		if n := inFlight.Add(1); n > peak.Load() {
			peak.Store(n)
		}
		defer inFlight.Add(-1)
		return 0, nil
	}, WithBatchDelay(0))
	assert.Equal(t, int32(1), peak.Load())
}

func TestRun_DelaysBetweenBatchesOnly(t *testing.T) {
	start := time.Now()
	Run(context.Background(), []int{1, 2, 3, 4}, 2, func(_ context.Context, n int) (int, error) {
		return n, nil
	}, WithBatchDelay(30*time.Millisecond))
	elapsed := time.Since(start)

	// two batches, one pause
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestRun_CancelledContextMarksRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	results := Run(ctx, []int{1, 2, 3, 4}, 2, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			cancel()
		}
		return n, nil
	}, WithBatchDelay(0))

	require.Len(t, results, 4)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.ErrorIs(t, results[2].Err, context.Canceled)
	assert.ErrorIs(t, results[3].Err, context.Canceled)
}
