// Package bloom implements the membership filter attached to every run.
//
// A negative answer is definitive, so a point lookup can skip the run without
// touching its data blocks. A positive answer may be a false positive.
package bloom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
)

const (
	minBits   = 64
	maxHashes = 16
	headerLen = 4
)

// ErrCorrupted indicates the serialized filter is invalid.
var ErrCorrupted = errors.New("bloom: corrupted filter data")

// Filter is a fixed-size bloom filter using double hashing.
type Filter struct {
	bits *bitset.BitSet
	m    uint64
	k    uint32
}

// New sizes a filter for n keys at bitsPerEntry bits each.
// The hash count is bitsPerEntry*ln2, the optimum for that density.
func New(n int, bitsPerEntry float64) *Filter {
	if n < 1 {
		n = 1
	}
	m := uint64(math.Ceil(float64(n) * bitsPerEntry))
	if m < minBits {
		m = minBits
	}

	k := uint32(math.Round(bitsPerEntry * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > maxHashes {
		k = maxHashes
	}

	return &Filter{
		bits: bitset.New(uint(m)),
		m:    m,
		k:    k,
	}
}

// Add inserts key into the filter.
func (f *Filter) Add(key []byte) {
	h1, h2 := hash(key)
	for i := uint32(0); i < f.k; i++ {
		f.bits.Set(uint((h1 + uint64(i)*h2) % f.m))
	}
}

// MayContain returns false only if key was never added.
func (f *Filter) MayContain(key []byte) bool {
	h1, h2 := hash(key)
	for i := uint32(0); i < f.k; i++ {
		if !f.bits.Test(uint((h1 + uint64(i)*h2) % f.m)) {
			return false
		}
	}
	return true
}

// Bits returns the filter size in bits.
func (f *Filter) Bits() uint64 { return f.m }

// Hashes returns the number of hash functions.
func (f *Filter) Hashes() uint32 { return f.k }

// MarshalBinary encodes the filter as [4 bytes k][bitset].
func (f *Filter) MarshalBinary() ([]byte, error) {
	body, err := f.bits.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("bloom: marshal bitset: %w", err)
	}
	out := make([]byte, headerLen, headerLen+len(body))
	binary.BigEndian.PutUint32(out, f.k)
	return append(out, body...), nil
}

// Unmarshal decodes a filter produced by MarshalBinary.
func Unmarshal(data []byte) (*Filter, error) {
	if len(data) < headerLen {
		return nil, ErrCorrupted
	}
	k := binary.BigEndian.Uint32(data[:headerLen])
	if k < 1 || k > maxHashes {
		return nil, ErrCorrupted
	}

	bits := &bitset.BitSet{}
	if err := bits.UnmarshalBinary(data[headerLen:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if bits.Len() < minBits {
		return nil, ErrCorrupted
	}

	return &Filter{bits: bits, m: uint64(bits.Len()), k: k}, nil
}

// hash computes two FNV-1a variants for double hashing.
func hash(key []byte) (h1, h2 uint64) {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)

	h1 = offset
	for _, b := range key {
		h1 ^= uint64(b)
		h1 *= prime
	}

	h2 = offset ^ 0x5555555555555555
	for i := len(key) - 1; i >= 0; i-- {
		h2 ^= uint64(key[i])
		h2 *= prime
	}

	// odd step visits every slot before repeating
	return h1, h2 | 1
}
