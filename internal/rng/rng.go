// Package rng derives the independent, seeded random streams a batch run
// draws from. No code in this module uses the global math/rand source.
package rng

import (
	"encoding/binary"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
)

// Stream identifies one consumer of randomness within a run.
type Stream uint64

const (
	StreamSampler Stream = 0x5a4d504c // customer draws
	StreamSynth   Stream = 0x53594e54 // field draws
	StreamIDs     Stream = 0x49445331 // transaction ids
)

// New returns a generator for one stream of a run. Equal seed and stream
// always yield the same sequence.
func New(seed uint64, stream Stream) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(stream)))
}

// ForKey returns a generator seeded from a string key, e.g. a customer id.
// The sequence depends only on the key.
func ForKey(key string) *rand.Rand {
	h := xxhash.Sum64String(key)
	return rand.New(rand.NewPCG(h, h^0x9e3779b97f4a7c15))
}

// Reader adapts a generator to io.Reader so it can feed uuid generation.
type Reader struct {
	R *rand.Rand
}

// Read fills p with random bytes. It never fails.
func (r Reader) Read(p []byte) (int, error) {
	var buf [8]byte
	n := 0
	for n < len(p) {
		binary.LittleEndian.PutUint64(buf[:], r.R.Uint64())
		n += copy(p[n:], buf[:])
	}
	return n, nil
}
