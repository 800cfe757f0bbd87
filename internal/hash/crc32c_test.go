package hash

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C_KnownValue(t *testing.T) {
	// Standard CRC32C check value for "123456789".
	assert.Equal(t, uint32(0xE3069283), CRC32C([]byte("123456789")))
}

func TestExtend_MatchesContiguous(t *testing.T) {
	head := []byte("segment-head-region")
	tail := []byte("segment-tail-region")

	joined := append(append([]byte{}, head...), tail...)
	assert.Equal(t, CRC32C(joined), Extend(CRC32C(head), tail))

	h := NewCRC32C()
	_, _ = h.Write(head)
	_, _ = h.Write(tail)
	assert.Equal(t, CRC32C(joined), h.Sum32())
}

func TestUint32s(t *testing.T) {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:], 32)
	binary.LittleEndian.PutUint32(buf[4:], 4096)
	binary.LittleEndian.PutUint32(buf[8:], 7)

	assert.Equal(t, CRC32C(buf), Uint32s(32, 4096, 7))
	assert.NotEqual(t, Uint32s(32, 4096, 7), Uint32s(32, 4096, 8))
}
