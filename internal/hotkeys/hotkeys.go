// Package hotkeys tracks the most frequently read keys of the cache with the
// HeavyKeeper algorithm.
//
// HeavyKeeper keeps depth rows of width buckets, each holding a fingerprint
// and a counter. A key increments the buckets it owns and probabilistically
// decays the counters of buckets held by other keys, with probability
// decay^count. Rarely seen keys therefore lose their buckets quickly while
// heavy hitters keep theirs. The largest counter a key reaches is its
// estimated frequency; a min-heap keeps the K best estimates.
//
// The same key hash also feeds a HyperLogLog, so the tracker can report how
// many distinct keys were read alongside the heaviest ones.
//
// Keys that cannot enter a full heap never allocate: the heap minimum acts as
// a gatekeeper before any key string is built.
package hotkeys

import (
	"math"
	"sort"
	"sync"

	"github.com/zeebo/xxh3"
)

const decayLookupSize = 256

// Config holds tracker parameters.
type Config struct {
	K     int
	Width int
	Depth int
	Decay float64
}

// DefaultConfig returns K=10, width=1024, depth=4, decay=0.9.
func DefaultConfig() Config {
	return Config{K: 10, Width: 1024, Depth: 4, Decay: 0.9}
}

type bucket struct {
	fp    uint64
	count uint64
}

// Tracker is a HeavyKeeper top-K sketch. It is safe for concurrent use.
type Tracker struct {
	mu sync.Mutex

	k       int
	width   uint64
	depth   uint64
	decay   float64
	buckets []bucket
	heap    entries
	seen    distinct

	// thresholds[c] is decay^c scaled to the uint64 range so a decay
	// decision is a single comparison against the RNG output.
	thresholds [decayLookupSize]uint64
	rng        uint64
}

// New creates a tracker. Zero fields of cfg take their defaults.
func New(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.K <= 0 {
		cfg.K = def.K
	}
	if cfg.Width <= 0 {
		cfg.Width = def.Width
	}
	if cfg.Depth <= 0 {
		cfg.Depth = def.Depth
	}
	if cfg.Decay <= 0 || cfg.Decay >= 1 {
		cfg.Decay = def.Decay
	}

	t := &Tracker{
		k:       cfg.K,
		width:   uint64(cfg.Width),
		depth:   uint64(cfg.Depth),
		decay:   cfg.Decay,
		buckets: make([]bucket, cfg.Width*cfg.Depth),
		heap:    make(entries, 0, cfg.K),
		rng:     0x9e3779b97f4a7c15,
	}
	for i := range t.thresholds {
		t.thresholds[i] = probToThreshold(math.Pow(cfg.Decay, float64(i)))
	}
	return t
}

func probToThreshold(p float64) uint64 {
	if p >= 1 {
		return math.MaxUint64
	}
	return uint64(p * float64(math.MaxUint64))
}

// shouldDecay draws from a xorshift64 generator.
func (t *Tracker) shouldDecay(count uint64) bool {
	x := t.rng
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	t.rng = x

	if count < decayLookupSize {
		return x < t.thresholds[count]
	}
	return x < probToThreshold(math.Pow(t.decay, float64(count)))
}

// Touch records one access to key.
func (t *Tracker) Touch(key []byte) {
	h := xxh3.Hash(key)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seen.add(h)

	var est uint64
	for d := uint64(0); d < t.depth; d++ {
		b := &t.buckets[d*t.width+mix(h^d)%t.width]
		switch {
		case b.count == 0:
			b.fp, b.count = h, 1
		case b.fp == h:
			b.count++
		default:
			if t.shouldDecay(b.count) {
				b.count--
				if b.count == 0 {
					b.fp, b.count = h, 1
				}
			}
		}
		if b.fp == h && b.count > est {
			est = b.count
		}
	}

	if i, ok := t.heap.find(key); ok {
		if est > t.heap[i].Count {
			t.heap[i].Count = est
			t.heap.fix(i)
		}
		return
	}
	if len(t.heap) < t.k {
		t.heap.push(Entry{Key: string(key), Count: est, fp: h})
		return
	}
	if est > t.heap[0].Count {
		t.heap[0] = Entry{Key: string(key), Count: est, fp: h}
		t.heap.fix(0)
	}
}

// Top returns the tracked keys, heaviest first.
func (t *Tracker) Top() []Entry {
	t.mu.Lock()
	out := make([]Entry, len(t.heap))
	copy(out, t.heap)
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Reset forgets every key.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.buckets)
	t.heap = t.heap[:0]
	t.seen.reset()
}

// Distinct estimates how many different keys were touched since the last
// Reset.
func (t *Tracker) Distinct() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seen.count()
}

// mix is SplitMix64, used to derive an independent bucket index per row.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
