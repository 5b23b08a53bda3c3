package transfer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBoundedLimitsConcurrency(t *testing.T) {
	items := make([]int, 13)
	for i := range items {
		items[i] = i
	}

	var running, peak atomic.Int32
	var mu sync.Mutex
	done := make(map[int]bool)

	err := RunBounded(context.Background(), items, 5, func(_ context.Context, item int) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Duration(5+item%4*5) * time.Millisecond)
		running.Add(-1)

		mu.Lock()
		done[item] = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, done, 13)
	assert.LessOrEqual(t, peak.Load(), int32(5))
	assert.Greater(t, peak.Load(), int32(1))
}

func TestRunBoundedSlidingWindow(t *testing.T) {
	// 第一个 item 一直阻塞, 其余 item 仍然能占用剩下的那个槽位依次完成
	release := make(chan struct{})
	var finished atomic.Int32
	items := []int{0, 1, 2, 3, 4}

	errc := make(chan error, 1)
	go func() {
		errc <- RunBounded(context.Background(), items, 2, func(_ context.Context, item int) error {
			if item == 0 {
				<-release
			}
			finished.Add(1)
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		return finished.Load() == 4
	}, 2*time.Second, 5*time.Millisecond)
	close(release)
	require.NoError(t, <-errc)
	assert.Equal(t, int32(5), finished.Load())
}

func TestRunBoundedStopsSchedulingAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	items := make([]int, 20)
	for i := range items {
		items[i] = i
	}

	var started atomic.Int32
	err := RunBounded(context.Background(), items, 1, func(_ context.Context, item int) error {
		started.Add(1)
		if item == 2 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Less(t, started.Load(), int32(len(items)))
}

func TestRunBoundedWaitsForInFlightWorkers(t *testing.T) {
	boom := errors.New("boom")
	var slowDone atomic.Bool

	err := RunBounded(context.Background(), []int{0, 1}, 2, func(_ context.Context, item int) error {
		if item == 0 {
			return boom
		}
		time.Sleep(50 * time.Millisecond)
		slowDone.Store(true)
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.True(t, slowDone.Load(), "in-flight worker should finish before RunBounded returns")
}

func TestRunBoundedEmpty(t *testing.T) {
	require.NoError(t, RunBounded(context.Background(), []Chunk(nil), 5, func(context.Context, Chunk) error {
		return errors.New("should not run")
	}))
}
