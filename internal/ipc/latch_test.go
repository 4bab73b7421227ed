package ipc

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

func TestLatch_ConcurrentResolveWinsOnce(t *testing.T) {
	for round := 0; round < 20; round++ {
		l := NewLatch[int]()

		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				var err error
				if i%2 == 0 {
					err = errors.New("transport")
				}
				if l.Resolve(i, err) {
					wins.Add(1)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())

		v, err := l.Wait(context.Background())
		if v%2 == 0 {
			assert.Error(t, err)
		} else {
			assert.NoError(t, err)
		}
	}
}

func TestLatch_LaterResolvesAreIgnored(t *testing.T) {
	l := NewLatch[string]()
	assert.True(t, l.Resolve("first", nil))
	assert.False(t, l.Resolve("second", errors.New("late")))

	v, err := l.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	select {
	case <-l.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestLatch_WaitHonoursContext(t *testing.T) {
	l := NewLatch[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	v, err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, v)

	assert.True(t, l.Resolve(7, nil))
}

func TestLatch_WaitBlocksUntilResolved(t *testing.T) {
	l := NewLatch[int]()
	go func() {
		time.Sleep(5 * time.Millisecond)
		l.Resolve(3, nil)
	}()
	v, err := l.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}
