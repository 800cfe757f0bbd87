// Package hash provides the checksum primitives used by the on-disk segment format.
//
// # CRC32-Castagnoli (CRC32C)
//
// Every checksum written into a segment is a CRC32-Castagnoli (CRC32C) value:
//
//   - the dual-cursor segment header carries a data checksum over the occupied
//     head and tail regions plus a length checksum over the cursor positions
//   - the single-cursor (latency friendly) layout stores one checksum over the
//     whole occupied head region in a fixed reserve at the end of the segment
//
// CRC32C is hardware accelerated on x86 (SSE4.2) and ARM (CRC extension), so
// checksumming a full segment is cheap relative to the device write.
//
// # Usage
//
// For one-shot checksums:
//
//	checksum := hash.CRC32C(data)
//
// For checksums over non-contiguous regions:
//
//	crc := hash.CRC32C(head)
//	crc = hash.Extend(crc, tail)
package hash
