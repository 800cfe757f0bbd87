package segment

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/yonger1516/HLKVDS/digest"
	"github.com/yonger1516/HLKVDS/volume"
)

const testSegmentSize = 4 * BlockSize

func newTestVolume(t *testing.T) *volume.MemoryVolume {
	t.Helper()
	vol, err := volume.NewMemoryVolume(volume.Geometry{ID: 1, SegmentSize: testSegmentSize, NumSegments: 8})
	require.NoError(t, err)
	return vol
}

func mustDigest(t *testing.T, key string) digest.Digest {
	t.Helper()
	d, err := digest.Default.Compute([]byte(key))
	require.NoError(t, err)
	return d
}

func value(size int, fill byte) []byte {
	return bytes.Repeat([]byte{fill}, size)
}

// countingEngine counts Compute calls.
type countingEngine struct {
	calls int
}

func (e *countingEngine) Name() string { return "counting" }

func (e *countingEngine) Compute(key []byte) (digest.Digest, error) {
	e.calls++
	return digest.Default.Compute(key)
}
