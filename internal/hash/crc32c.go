package hash

import (
	"encoding/binary"
	"hash"
	"hash/crc32"
)

// crc32cTable is pre-computed for CRC32-Castagnoli polynomial.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// Extend continues a CRC32C computation started with CRC32C over more data.
// Extend(CRC32C(a), b) == CRC32C(append(a, b...)).
func Extend(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, crc32cTable, data)
}

// NewCRC32C returns a new CRC32-Castagnoli hash.Hash32.
func NewCRC32C() hash.Hash32 {
	return crc32.New(crc32cTable)
}

// Uint32s computes the CRC32C of the little-endian encoding of vals.
// Used for checksumming cursor positions and counts.
func Uint32s(vals ...uint32) uint32 {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return CRC32C(buf)
}
