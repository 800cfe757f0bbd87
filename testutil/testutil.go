package testutil

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand = rand.New(rand.NewSource(r.seed))
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// Key returns the deterministic key for index i.
func Key(i int) []byte {
	return []byte(fmt.Sprintf("key-%08d", i))
}

// Keys returns the keys for indexes [0, n).
func Keys(n int) [][]byte {
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = Key(i)
	}
	return keys
}

// Value returns a random printable value with a length in [minLen, maxLen].
func (r *RNG) Value(minLen, maxLen int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.valueLocked(minLen, maxLen)
}

func (r *RNG) valueLocked(minLen, maxLen int) []byte {
	n := minLen
	if maxLen > minLen {
		n += r.rand.Intn(maxLen - minLen + 1)
	}
	v := make([]byte, n)
	for i := range v {
		v[i] = byte('a' + r.rand.Intn(26))
	}
	return v
}

// Values generates num random values with lengths in [minLen, maxLen].
// Uses a single backing array for efficiency.
func (r *RNG) Values(num, minLen, maxLen int) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	lens := make([]int, num)
	total := 0
	for i := range lens {
		lens[i] = minLen
		if maxLen > minLen {
			lens[i] += r.rand.Intn(maxLen - minLen + 1)
		}
		total += lens[i]
	}

	data := make([]byte, total)
	for i := range data {
		data[i] = byte('a' + r.rand.Intn(26))
	}

	values := make([][]byte, num)
	off := 0
	for i, n := range lens {
		values[i] = data[off : off+n : off+n]
		off += n
	}
	return values
}

// Zipf returns a Zipfian-distributed value in [0, n).
// s=1.0 gives standard Zipf, larger s concentrates on the first keys.
// Hot keys in a key-value workload follow this shape.
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zipfLocked(n, s)
}

func (r *RNG) zipfLocked(n int, s float64) int {
	if n <= 1 {
		return 0
	}

	var hns float64
	for i := 1; i <= n; i++ {
		hns += 1.0 / math.Pow(float64(i), s)
	}

	u := r.rand.Float64() * hns
	var cumulative float64
	for k := 1; k <= n; k++ {
		cumulative += 1.0 / math.Pow(float64(k), s)
		if u <= cumulative {
			return k - 1
		}
	}
	return n - 1
}

// OpKind is the kind of a generated workload operation.
type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
)

// Op is one generated workload operation.
type Op struct {
	Kind  OpKind
	Key   []byte
	Value []byte
}

// Workload generates n operations over keyCount keys. deleteRate is the
// probability that an operation deletes instead of writing. Keys are
// drawn with Zipf skew s; s <= 0 draws uniformly.
func (r *RNG) Workload(n, keyCount int, deleteRate, s float64, minLen, maxLen int) []Op {
	r.mu.Lock()
	defer r.mu.Unlock()

	ops := make([]Op, n)
	for i := range ops {
		var k int
		if s > 0 {
			k = r.zipfLocked(keyCount, s)
		} else {
			k = r.rand.Intn(keyCount)
		}
		if r.rand.Float64() < deleteRate {
			ops[i] = Op{Kind: OpDelete, Key: Key(k)}
			continue
		}
		ops[i] = Op{Kind: OpPut, Key: Key(k), Value: r.valueLocked(minLen, maxLen)}
	}
	return ops
}

// Model is a reference key-value map used to verify a store.
// It is thread-safe.
type Model struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{data: make(map[string][]byte)}
}

// Apply records op in the model.
func (m *Model) Apply(op Op) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch op.Kind {
	case OpPut:
		m.data[string(op.Key)] = append([]byte(nil), op.Value...)
	case OpDelete:
		delete(m.data, string(op.Key))
	}
}

// Get returns the expected value of key.
func (m *Model) Get(key []byte) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	return v, ok
}

// Len returns the number of live keys.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Keys returns the live keys in sorted order.
func (m *Model) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
