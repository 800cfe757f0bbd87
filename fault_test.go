package hlkvds

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yonger1516/HLKVDS/engine"
	"github.com/yonger1516/HLKVDS/internal/fs"
	"github.com/yonger1516/HLKVDS/segment"
)

func openFaulty(t *testing.T, dir string, fsys *fs.FaultyFS) (*DB, error) {
	t.Helper()
	return Open(context.Background(), dir,
		withFileSystem(fsys),
		WithGeometry(4*segment.BlockSize, 16),
		WithSegmentTimeout(time.Millisecond),
	)
}

func TestFault_DataWriteFails(t *testing.T) {
	tests := []struct {
		name  string
		fault fs.Fault
	}{
		{"write", fs.Fault{FailAfterBytes: 0}},
		{"sync", fs.Fault{FailAfterBytes: -1, FailOnSync: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			fsys := fs.NewFaultyFS(nil)
			fsys.AddRule(dataFileName, tt.fault)

			db, err := openFaulty(t, t.TempDir(), fsys)
			require.NoError(t, err)
			defer db.Close()
			free := db.Stats().FreeSegments

			err = db.Put(ctx, []byte("k"), []byte("v"))
			assert.ErrorIs(t, err, engine.ErrCommitFailed)

			_, err = db.Get(ctx, []byte("k"))
			assert.ErrorIs(t, err, ErrNotFound)
			assert.Eventually(t, func() bool { return db.Stats().FreeSegments == free },
				time.Second, time.Millisecond, "the failed segment is reusable")
		})
	}
}

func TestFault_SnapshotFails(t *testing.T) {
	fsys := fs.NewFaultyFS(nil)
	fsys.AddRule(snapshotFileName, fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	_, err := openFaulty(t, t.TempDir(), fsys)
	assert.ErrorIs(t, err, fs.ErrInjected)
}

func TestFault_TransientWriteFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fsys := fs.NewFaultyFS(nil)

	db, err := openFaulty(t, dir, fsys)
	require.NoError(t, err)
	require.NoError(t, db.Put(ctx, []byte("k1"), []byte("v1")))

	// 1. Nothing more can be written.
	fsys.SetLimit(fsys.Written())
	assert.ErrorIs(t, db.Put(ctx, []byte("k2"), []byte("v2")), engine.ErrCommitFailed)

	got, err := db.Get(ctx, []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	// 2. The device recovers.
	fsys.ClearRules()
	require.NoError(t, db.Put(ctx, []byte("k3"), []byte("v3")))
	require.NoError(t, db.Close())

	// 3. Only the committed writes survive a reopen.
	db, err = openFaulty(t, dir, fs.NewFaultyFS(nil))
	require.NoError(t, err)
	defer db.Close()

	for k, want := range map[string]string{"k1": "v1", "k3": "v3"} {
		got, err := db.Get(ctx, []byte(k))
		require.NoError(t, err, k)
		assert.Equal(t, []byte(want), got)
	}
	_, err = db.Get(ctx, []byte("k2"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTranslateError(t *testing.T) {
	assert.Nil(t, translateError(nil))
	assert.ErrorIs(t, translateError(engine.ErrNotFound), ErrNotFound)
	assert.ErrorIs(t, translateError(engine.ErrClosed), ErrClosed)
	assert.ErrorIs(t, translateError(segment.ErrNoKey), ErrEmptyKey)

	other := engine.ErrBatchTooLarge
	assert.Equal(t, other, translateError(other))
}
