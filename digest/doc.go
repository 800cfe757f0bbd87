// Package digest computes the fixed-width key digests used as the index key
// and as the on-disk record identity.
//
// A [Digest] is 20 bytes wide. Two engines are provided:
//
//   - [RIPEMD160]: the default; cryptographic spread, no practical collisions
//   - [XXHash]: non-cryptographic xxh64 chain folded to 20 bytes; faster for
//     trusted key spaces
//
// Engines are stateless and safe for concurrent use.
package digest
