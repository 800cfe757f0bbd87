package segment

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_NotifyOnce(t *testing.T) {
	r := NewRequest(NewSlice([]byte("k"), []byte("v")), 3)
	assert.Equal(t, StatusInit, r.Status())
	assert.Equal(t, 3, r.Shard())

	assert.False(t, r.Notify(StatusInit))
	assert.True(t, r.Notify(StatusSuccess))
	assert.False(t, r.Notify(StatusFail))

	assert.Equal(t, StatusSuccess, r.Wait())
	assert.Equal(t, StatusSuccess, r.Status())
}

func TestRequest_WaitBlocksUntilNotify(t *testing.T) {
	r := NewRequest(NewSlice([]byte("k"), []byte("v")), 0)

	got := make(chan Status, 1)
	go func() { got <- r.Wait() }()

	select {
	case <-got:
		t.Fatal("Wait returned before Notify")
	case <-time.After(20 * time.Millisecond):
	}

	require.True(t, r.Notify(StatusFail))
	select {
	case st := <-got:
		assert.Equal(t, StatusFail, st)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken")
	}
}

func TestRequest_ConcurrentNotify(t *testing.T) {
	r := NewRequest(NewSlice([]byte("k"), []byte("v")), 0)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st := StatusSuccess
			if i%2 == 1 {
				st = StatusFail
			}
			if r.Notify(st) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.NotEqual(t, StatusInit, r.Wait())
}

func TestRequest_WaitContext(t *testing.T) {
	r := NewRequest(NewSlice([]byte("k"), []byte("v")), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st, err := r.WaitContext(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusInit, st)

	// Giving up does not prevent the outcome from being delivered.
	require.True(t, r.Notify(StatusSuccess))
	st, err = r.WaitContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, st)
}
