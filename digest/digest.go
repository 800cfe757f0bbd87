package digest

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // 20-byte digest is part of the on-disk format
)

// Size is the width of a Digest in bytes.
const Size = 20

// ErrNilKey is returned when a digest is requested for a nil key.
var ErrNilKey = errors.New("digest: key is nil")

// Digest is the fixed-width hash of a key.
type Digest [Size]byte

// String returns the hex encoding of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Uint64 returns the first 8 bytes as a little-endian integer.
// Used for shard routing.
func (d Digest) Uint64() uint64 {
	return binary.LittleEndian.Uint64(d[:8])
}

// FromBytes copies b into a Digest. b must be exactly Size bytes long.
func FromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != Size {
		return d, fmt.Errorf("digest: invalid length %d (expected %d)", len(b), Size)
	}
	copy(d[:], b)
	return d, nil
}

// Engine computes digests of keys.
type Engine interface {
	Name() string
	Compute(key []byte) (Digest, error)
}

// Default is the engine used when none is configured.
var Default Engine = RIPEMD160()

type ripemd160Engine struct{}

// RIPEMD160 returns the RIPEMD-160 digest engine.
func RIPEMD160() Engine { return ripemd160Engine{} }

func (ripemd160Engine) Name() string { return "ripemd160" }

func (ripemd160Engine) Compute(key []byte) (Digest, error) {
	var d Digest
	if key == nil {
		return d, ErrNilKey
	}
	h := ripemd160.New()
	if _, err := h.Write(key); err != nil {
		return d, fmt.Errorf("digest: %w", err)
	}
	copy(d[:], h.Sum(nil))
	return d, nil
}

type xxhashEngine struct{}

// XXHash returns an engine chaining three xxh64 rounds into a 20-byte digest.
func XXHash() Engine { return xxhashEngine{} }

func (xxhashEngine) Name() string { return "xxhash" }

func (xxhashEngine) Compute(key []byte) (Digest, error) {
	var d Digest
	if key == nil {
		return d, ErrNilKey
	}

	h1 := xxhash.Sum64(key)
	h2 := chain(h1, key)
	h3 := chain(h2, key)

	binary.LittleEndian.PutUint64(d[0:8], h1)
	binary.LittleEndian.PutUint64(d[8:16], h2)
	binary.LittleEndian.PutUint32(d[16:20], uint32(h3))
	return d, nil
}

// chain hashes seed || key.
func chain(seed uint64, key []byte) uint64 {
	var prefix [8]byte
	binary.LittleEndian.PutUint64(prefix[:], seed)
	h := xxhash.New()
	_, _ = h.Write(prefix[:])
	_, _ = h.Write(key)
	return h.Sum64()
}

// ByName returns the engine with the given name.
func ByName(name string) (Engine, error) {
	switch name {
	case "", "ripemd160":
		return RIPEMD160(), nil
	case "xxhash":
		return XXHash(), nil
	default:
		return nil, fmt.Errorf("digest: unknown engine %q", name)
	}
}
