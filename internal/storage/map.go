// map.go implements the default backend: a sharded in-memory map.
//
// Sharding Strategy
// =================
//
// Items are spread over 256 shards, each with its own RWMutex. The reactor
// is the only writer, but the metrics endpoint and the expiry sweep read
// from other goroutines, and a shard lock keeps each of them short.
//
// Keys are assigned to shards with xxhash modulo 256.
//
// Expiration
// ==========
//
// Expired items are dropped lazily when read and actively by DeleteExpired,
// which samples the per-shard expires index the way Redis does: sample up to
// 20 keys, delete the dead ones, repeat while more than 10% were dead.

package storage

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 256

// Active expiration tuning.
const (
	expiryKeysPerLoop     = 20
	expiryAcceptableStale = 10 // percent
	expiryMaxIterations   = 16
	expiryTimeLimit       = 25 * time.Millisecond
)

type shard struct {
	mu      sync.RWMutex
	items   map[string]*Item
	expires map[string]int64 // key -> absolute Unix seconds
}

// MapStore is the in-memory backend.
type MapStore struct {
	shards [shardCount]*shard
	opts   Options
	flush  flushDeadline

	hits    atomic.Int64
	misses  atomic.Int64
	expired atomic.Int64
}

// NewMapStore creates an empty map backend.
func NewMapStore(opts Options) *MapStore {
	opts.withDefaults()
	s := &MapStore{opts: opts}
	for i := range s.shards {
		s.shards[i] = &shard{
			items:   make(map[string]*Item),
			expires: make(map[string]int64),
		}
	}
	return s
}

func (s *MapStore) shardFor(key []byte) *shard {
	return s.shards[xxhash.Sum64(key)%shardCount]
}

// live reports whether it is visible at now.
func (s *MapStore) live(it *Item, now time.Time) bool {
	return !it.expired(now) && !s.flush.hides(it.stored, now)
}

func (s *MapStore) Get(key []byte) *Item {
	sh := s.shardFor(key)
	now := s.opts.Now()

	sh.mu.RLock()
	it, ok := sh.items[string(key)]
	sh.mu.RUnlock()

	if ok && s.live(it, now) {
		s.hits.Add(1)
		return it
	}
	if ok {
		s.drop(sh, key, it)
	}
	s.misses.Add(1)
	return nil
}

// drop removes a dead item unless it was replaced in the meantime.
func (s *MapStore) drop(sh *shard, key []byte, it *Item) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.items[string(key)] == it {
		delete(sh.items, string(key))
		delete(sh.expires, string(key))
		s.expired.Add(1)
	}
}

func (s *MapStore) Put(it *Item) bool {
	s.UpdateCAS(it)
	it.stored = s.opts.Now().UnixNano()

	sh := s.shardFor(it.Key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	k := string(it.Key)
	sh.items[k] = it
	if it.Exptime != 0 {
		sh.expires[k] = it.Exptime
	} else {
		delete(sh.expires, k)
	}
	return true
}

func (s *MapStore) Create(key, data []byte, flags, exptime uint32) *Item {
	if len(data) > s.opts.MaxItemSize {
		return nil
	}
	return newItem(key, data, flags, exptime, s.opts.Now())
}

func (s *MapStore) Delete(key []byte) bool {
	sh := s.shardFor(key)
	now := s.opts.Now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	k := string(key)
	it, ok := sh.items[k]
	if !ok {
		return false
	}
	delete(sh.items, k)
	delete(sh.expires, k)
	// An expired item was already logically gone.
	return s.live(it, now)
}

func (s *MapStore) Flush(when uint32) {
	if when != 0 {
		s.flush.set(when, s.opts.Now())
		return
	}

	s.flush.at.Store(0)
	for _, sh := range s.shards {
		sh.mu.Lock()
		clear(sh.items)
		clear(sh.expires)
		sh.mu.Unlock()
	}
}

func (s *MapStore) UpdateCAS(it *Item) {
	it.CAS = nextCAS()
}

// Release is a no-op: items are garbage collected.
func (s *MapStore) Release(*Item) {}

// DeleteExpired samples every shard's expires index and removes dead items.
func (s *MapStore) DeleteExpired() int {
	//
	// DESIGN
	// ------
	//
	// Scanning every key would stall the reactor that calls this from its
	// tick. Go map iteration order is randomized, so ranging over the first
	// expiryKeysPerLoop entries of the expires index is a random sample. A
	// shard with many dead keys gets sampled again; a clean one is skipped
	// after a single pass. The whole sweep stops after expiryTimeLimit.
	//
	start := time.Now()
	now := s.opts.Now().Unix()
	deleted := 0

	for _, sh := range s.shards {
		for iteration := 1; ; iteration++ {
			sampled, expired := s.sampleAndExpire(sh, now)
			deleted += expired

			if sampled == 0 || expired*100/sampled <= expiryAcceptableStale {
				break
			}
			if iteration%expiryMaxIterations == 0 && time.Since(start) > expiryTimeLimit {
				s.expired.Add(int64(deleted))
				return deleted
			}
		}
	}
	s.expired.Add(int64(deleted))
	return deleted
}

func (s *MapStore) sampleAndExpire(sh *shard, now int64) (sampled, expired int) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for key, exp := range sh.expires {
		if sampled >= expiryKeysPerLoop {
			break
		}
		sampled++
		if exp <= now {
			delete(sh.items, key)
			delete(sh.expires, key)
			expired++
		}
	}
	return sampled, expired
}

// Len returns the number of stored items, expired or not.
func (s *MapStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.items)
		sh.mu.RUnlock()
	}
	return n
}

func (s *MapStore) Stats() Stats {
	return Stats{
		Items:   int64(s.Len()),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Expired: s.expired.Load(),
	}
}
