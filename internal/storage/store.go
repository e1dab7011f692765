// Package storage holds the key/value items served by memcached-light.
//
// Items
// =====
//
// An Item is immutable once stored: every mutation creates a new item with
// Create, fills it, and replaces the old one with Put. Put stamps the item with
// a fresh CAS taken from a process-wide counter, so two stores in the same
// process never hand out the same CAS.
//
// Expiration
// ==========
//
// Expiration times follow memcached: 0 never expires, values up to 30 days
// are relative to now, larger values are absolute Unix timestamps. Items are
// converted to an absolute Unix second when created.
//
// A delayed flush records a deadline instead of dropping data. Once the
// deadline passes, every item stored before it reads as missing.
package storage

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// relativeExpiryLimit is the largest expiration treated as relative.
const relativeExpiryLimit = 60 * 60 * 24 * 30

// DefaultMaxItemSize bounds the value of a single item.
const DefaultMaxItemSize = 1024 * 1024

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("storage: unknown backend")

// Item is a stored value and its metadata.
type Item struct {
	Key     []byte
	Data    []byte
	Flags   uint32
	Exptime int64 // absolute Unix seconds, 0 for never
	CAS     uint64

	stored int64 // Unix nanoseconds of the last Put
}

// expired reports whether the item is dead at now.
func (it *Item) expired(now time.Time) bool {
	return it.Exptime != 0 && it.Exptime <= now.Unix()
}

// Store is the collaborator the command handlers run against.
type Store interface {
	// Get returns the live item for key, or nil.
	Get(key []byte) *Item

	// Put stores item, replacing any previous value, and assigns it a new
	// CAS. It reports false when the backend could not hold the item.
	Put(item *Item) bool

	// Create allocates an item. It returns nil when the value is too large.
	Create(key, data []byte, flags, exptime uint32) *Item

	// Delete removes key and reports whether a live item was removed.
	Delete(key []byte) bool

	// Flush invalidates every item now (when == 0) or once the deadline
	// described by when has passed.
	Flush(when uint32)

	// UpdateCAS assigns the next CAS value to item.
	UpdateCAS(item *Item)

	// Release hands an item obtained from Get or Create back to the store.
	Release(item *Item)

	// DeleteExpired actively removes expired items and returns how many
	// were dropped.
	DeleteExpired() int

	// Stats returns a snapshot of the store counters.
	Stats() Stats
}

// Stats is a snapshot of a store.
type Stats struct {
	Items     int64
	Hits      int64
	Misses    int64
	Expired   int64
	Evictions int64
}

// Options configure a backend.
type Options struct {
	MaxItemSize int
	CacheSize   int // bytes, freecache only

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (o *Options) withDefaults() {
	if o.MaxItemSize <= 0 {
		o.MaxItemSize = DefaultMaxItemSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Open creates the named backend: "map" or "freecache".
func Open(kind string, opts Options) (Store, error) {
	switch kind {
	case "map", "":
		return NewMapStore(opts), nil
	case "freecache":
		return NewFreeCacheStore(opts)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
}

var lastCAS atomic.Uint64

// nextCAS returns a value larger than every CAS handed out before.
func nextCAS() uint64 {
	return lastCAS.Add(1)
}

// Expiration converts a protocol expiration to absolute Unix seconds.
func Expiration(exptime uint32, now time.Time) int64 {
	switch {
	case exptime == 0:
		return 0
	case exptime <= relativeExpiryLimit:
		return now.Unix() + int64(exptime)
	}
	return int64(exptime)
}

// newItem copies key and data into a fresh item.
func newItem(key, data []byte, flags, exptime uint32, now time.Time) *Item {
	buf := make([]byte, len(key)+len(data))
	copy(buf, key)
	copy(buf[len(key):], data)
	return &Item{
		Key:     buf[:len(key):len(key)],
		Data:    buf[len(key):],
		Flags:   flags,
		Exptime: Expiration(exptime, now),
	}
}

// flushDeadline tracks a pending or past delayed flush.
type flushDeadline struct {
	at atomic.Int64 // Unix nanoseconds, 0 for none
}

func (f *flushDeadline) set(when uint32, now time.Time) {
	at := Expiration(when, now)
	f.at.Store(time.Unix(at, 0).UnixNano())
}

// hides reports whether an item stored at stored is invalidated at now.
func (f *flushDeadline) hides(stored int64, now time.Time) bool {
	at := f.at.Load()
	return at != 0 && now.UnixNano() >= at && stored < at
}
