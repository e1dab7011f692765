// freecache.go implements a bounded backend on top of freecache. The cache
// keeps its own LRU-ish eviction and expiry, so memory stays within the
// configured size regardless of the workload.
//
// Value Layout
// ============
//
// freecache stores opaque byte slices, so item metadata travels in a fixed
// header in front of the data:
//
//	+-------+-------+-------------+------+
//	| Flags | CAS   | Stored (ns) | Data |
//	| 4B    | 8B    | 8B          | var  |
//	+-------+-------+-------------+------+
//
// The expiration is kept by freecache itself and read back with
// GetWithExpiration.

package storage

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/coocood/freecache"
)

const (
	// DefaultCacheSize is the freecache size used when none is configured.
	DefaultCacheSize = 64 * 1024 * 1024

	valueHeaderSize = 20

	// entryOverhead is freecache's per-entry header.
	entryOverhead = 24

	// minCacheSize is the smallest cache freecache will build.
	minCacheSize = 512 * 1024
)

// storeTimer feeds the store clock to freecache.
type storeTimer struct {
	now func() time.Time
}

func (t storeTimer) Now() uint32 {
	return uint32(t.now().Unix())
}

// FreeCacheStore is the bounded backend.
type FreeCacheStore struct {
	cache    *freecache.Cache
	opts     Options
	flush    flushDeadline
	maxEntry int
}

// NewFreeCacheStore creates a freecache backend of opts.CacheSize bytes.
func NewFreeCacheStore(opts Options) (*FreeCacheStore, error) {
	opts.withDefaults()
	if opts.CacheSize < 0 {
		return nil, fmt.Errorf("storage: negative cache size %d", opts.CacheSize)
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = DefaultCacheSize
	}
	size := max(opts.CacheSize, minCacheSize)

	return &FreeCacheStore{
		cache:    freecache.NewCacheCustomTimer(size, storeTimer{now: opts.Now}),
		opts:     opts,
		maxEntry: size / 1024,
	}, nil
}

func (s *FreeCacheStore) Get(key []byte) *Item {
	v, expireAt, err := s.cache.GetWithExpiration(key)
	if err != nil || len(v) < valueHeaderSize {
		return nil
	}

	it := decodeItem(key, v)
	it.Exptime = int64(expireAt)
	if s.flush.hides(it.stored, s.opts.Now()) {
		s.cache.Del(key)
		return nil
	}
	return it
}

func (s *FreeCacheStore) Put(it *Item) bool {
	now := s.opts.Now()

	ttl := 0
	if it.Exptime != 0 {
		ttl = int(it.Exptime - now.Unix())
		if ttl <= 0 {
			// Stored already expired: the old value is replaced by nothing.
			s.UpdateCAS(it)
			s.cache.Del(it.Key)
			return true
		}
	}

	s.UpdateCAS(it)
	it.stored = now.UnixNano()
	// Set only fails for oversized keys or entries.
	return s.cache.Set(it.Key, encodeItem(it), ttl) == nil
}

func (s *FreeCacheStore) Create(key, data []byte, flags, exptime uint32) *Item {
	if len(data) > s.opts.MaxItemSize {
		return nil
	}
	if len(key)+len(data)+valueHeaderSize+entryOverhead > s.maxEntry {
		return nil
	}
	return newItem(key, data, flags, exptime, s.opts.Now())
}

func (s *FreeCacheStore) Delete(key []byte) bool {
	v, err := s.cache.Peek(key)
	if err != nil || len(v) < valueHeaderSize {
		return false
	}
	stored := int64(binary.BigEndian.Uint64(v[12:20]))
	s.cache.Del(key)
	return !s.flush.hides(stored, s.opts.Now())
}

func (s *FreeCacheStore) Flush(when uint32) {
	if when != 0 {
		s.flush.set(when, s.opts.Now())
		return
	}
	s.flush.at.Store(0)
	s.cache.Clear()
}

func (s *FreeCacheStore) UpdateCAS(it *Item) {
	it.CAS = nextCAS()
}

// Release is a no-op: Get hands out copies.
func (s *FreeCacheStore) Release(*Item) {}

// DeleteExpired is a no-op: freecache reclaims expired entries itself.
func (s *FreeCacheStore) DeleteExpired() int { return 0 }

func (s *FreeCacheStore) Stats() Stats {
	return Stats{
		Items:     s.cache.EntryCount(),
		Hits:      s.cache.HitCount(),
		Misses:    s.cache.MissCount(),
		Expired:   s.cache.ExpiredCount(),
		Evictions: s.cache.EvacuateCount(),
	}
}

func encodeItem(it *Item) []byte {
	v := make([]byte, valueHeaderSize+len(it.Data))
	binary.BigEndian.PutUint32(v[0:4], it.Flags)
	binary.BigEndian.PutUint64(v[4:12], it.CAS)
	binary.BigEndian.PutUint64(v[12:20], uint64(it.stored))
	copy(v[valueHeaderSize:], it.Data)
	return v
}

func decodeItem(key, v []byte) *Item {
	return &Item{
		Key:    append([]byte(nil), key...),
		Data:   v[valueHeaderSize:],
		Flags:  binary.BigEndian.Uint32(v[0:4]),
		CAS:    binary.BigEndian.Uint64(v[4:12]),
		stored: int64(binary.BigEndian.Uint64(v[12:20])),
	}
}
