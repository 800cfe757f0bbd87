package hlkvds_test

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yonger1516/HLKVDS"
	"github.com/yonger1516/HLKVDS/testutil"
)

// TestNoGoroutineLeaks verifies that the shard writers and the commit
// workers stop when Close is called.
func TestNoGoroutineLeaks(t *testing.T) {
	tests := []struct {
		name     string
		opts     []hlkvds.Option
		maxLeaks int // Allow small variance (runtime background goroutines)
	}{
		{
			name:     "default shards",
			maxLeaks: 2,
		},
		{
			name:     "many shards",
			opts:     []hlkvds.Option{hlkvds.WithShards(16)},
			maxLeaks: 2,
		},
		{
			name:     "latency friendly",
			opts:     []hlkvds.Option{hlkvds.WithLatencyFriendly(true)},
			maxLeaks: 2,
		},
		{
			name:     "no segment timeout",
			opts:     []hlkvds.Option{hlkvds.WithSegmentTimeout(0)},
			maxLeaks: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runtime.GC()
			time.Sleep(50 * time.Millisecond)

			initial := runtime.NumGoroutine()
			t.Logf("Initial goroutines: %d", initial)

			opts := append([]hlkvds.Option{hlkvds.WithGeometry(testSegmentSize, testSegments)}, tt.opts...)
			db, err := hlkvds.Open(context.Background(), t.TempDir(), opts...)
			require.NoError(t, err)

			// Without a timeout writes only commit on Close.
			ctx := context.Background()
			done := make(chan error, 10)
			for i := 0; i < 10; i++ {
				go func(i int) {
					done <- db.Put(ctx, testutil.Key(i), []byte("v"))
				}(i)
			}

			afterWrites := runtime.NumGoroutine()
			t.Logf("After writes: %d goroutines (+%d)", afterWrites, afterWrites-initial)

			require.NoError(t, db.Close())
			for i := 0; i < 10; i++ {
				// Writes that lost the race with Close are rejected.
				if err := <-done; err != nil {
					assert.ErrorIs(t, err, hlkvds.ErrClosed)
				}
			}

			deadline := time.Now().Add(2 * time.Second)
			var final, leaked int
			for {
				runtime.GC()
				time.Sleep(50 * time.Millisecond)

				final = runtime.NumGoroutine()
				leaked = final - initial
				if leaked <= tt.maxLeaks || time.Now().After(deadline) {
					break
				}
			}
			t.Logf("Final goroutines: %d (leaked: %d)", final, leaked)
			assert.LessOrEqual(t, leaked, tt.maxLeaks, "goroutine leak detected")
		})
	}
}
