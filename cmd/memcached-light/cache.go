package main

import (
	"strconv"

	"github.com/dustin/gomemcached"

	"mclight.lopezb.com/internal/hotkeys"
	"mclight.lopezb.com/internal/protocol"
	"mclight.lopezb.com/internal/storage"
)

// storeMode selects the precondition of a storage command.
type storeMode int

const (
	modeSet storeMode = iota
	modeAdd
	modeReplace
)

// cache implements the memcached command semantics on top of a Store. Both
// command tables call into it, so they agree on every status code.
//
// All methods run on the reactor goroutine. The read-check-write sequences
// below are therefore atomic with respect to other clients.
type cache struct {
	store storage.Store
	hot   *hotkeys.Tracker
}

func validKey(key []byte) bool {
	return len(key) <= protocol.MaxKeyLength
}

// get returns the live item for key. The caller must Release it.
func (c *cache) get(key []byte) (*storage.Item, gomemcached.Status) {
	if !validKey(key) {
		return nil, gomemcached.EINVAL
	}
	if c.hot != nil {
		c.hot.Touch(key)
	}
	it := c.store.Get(key)
	if it == nil {
		return nil, gomemcached.KEY_ENOENT
	}
	return it, gomemcached.SUCCESS
}

// checkCAS compares a client CAS against the current item for key. A zero
// CAS always matches; a non-zero CAS requires the item to exist.
func (c *cache) checkCAS(key []byte, cas uint64) (*storage.Item, gomemcached.Status) {
	cur := c.store.Get(key)
	if cas == 0 {
		return cur, gomemcached.SUCCESS
	}
	if cur == nil {
		return nil, gomemcached.KEY_ENOENT
	}
	if cur.CAS != cas {
		c.store.Release(cur)
		return nil, gomemcached.KEY_EEXISTS
	}
	return cur, gomemcached.SUCCESS
}

// put creates and stores a new item, returning its CAS.
func (c *cache) put(key, data []byte, flags, exptime uint32) (uint64, gomemcached.Status) {
	it := c.store.Create(key, data, flags, exptime)
	if it == nil {
		return 0, gomemcached.E2BIG
	}
	defer c.store.Release(it)
	if !c.store.Put(it) {
		return 0, gomemcached.ENOMEM
	}
	return it.CAS, gomemcached.SUCCESS
}

// set runs set, add and replace.
func (c *cache) set(mode storeMode, key, data []byte, flags, exptime uint32, cas uint64) (uint64, gomemcached.Status) {
	if !validKey(key) {
		return 0, gomemcached.EINVAL
	}

	cur, status := c.checkCAS(key, cas)
	if status != gomemcached.SUCCESS {
		return 0, status
	}
	exists := cur != nil
	if exists {
		c.store.Release(cur)
	}

	switch {
	case mode == modeAdd && exists:
		return 0, gomemcached.KEY_EEXISTS
	case mode == modeReplace && !exists:
		return 0, gomemcached.KEY_ENOENT
	}
	return c.put(key, data, flags, exptime)
}

// concat runs append and prepend. The item keeps its flags and expiration.
func (c *cache) concat(prepend bool, key, data []byte, cas uint64) (uint64, gomemcached.Status) {
	if !validKey(key) {
		return 0, gomemcached.EINVAL
	}

	cur, status := c.checkCAS(key, cas)
	if status != gomemcached.SUCCESS {
		return 0, status
	}
	if cur == nil {
		return 0, gomemcached.NOT_STORED
	}
	defer c.store.Release(cur)

	joined := make([]byte, 0, len(cur.Data)+len(data))
	if prepend {
		joined = append(append(joined, data...), cur.Data...)
	} else {
		joined = append(append(joined, cur.Data...), data...)
	}
	// An absolute timestamp is always past the relative range, so the
	// expiration survives the round trip through Create.
	return c.put(key, joined, cur.Flags, uint32(cur.Exptime))
}

// remove deletes key, honouring cas.
func (c *cache) remove(key []byte, cas uint64) gomemcached.Status {
	if !validKey(key) {
		return gomemcached.EINVAL
	}
	cur, status := c.checkCAS(key, cas)
	if status != gomemcached.SUCCESS {
		return status
	}
	if cur != nil {
		c.store.Release(cur)
	}
	if !c.store.Delete(key) {
		return gomemcached.KEY_ENOENT
	}
	return gomemcached.SUCCESS
}

// arithmetic runs incr and decr. Counters are stored as decimal text like
// memcached does; increments wrap at 64 bits and decrements stop at zero.
func (c *cache) arithmetic(incr bool, key []byte, delta, initial uint64, exptime uint32) (protocol.Counter, gomemcached.Status) {
	if !validKey(key) {
		return protocol.Counter{}, gomemcached.EINVAL
	}

	cur := c.store.Get(key)
	if cur == nil {
		if exptime == protocol.NoAutoCreate {
			return protocol.Counter{}, gomemcached.KEY_ENOENT
		}
		cas, status := c.put(key, strconv.AppendUint(nil, initial, 10), 0, exptime)
		return protocol.Counter{Value: initial, CAS: cas}, status
	}
	defer c.store.Release(cur)

	value, err := strconv.ParseUint(string(cur.Data), 10, 64)
	if err != nil {
		return protocol.Counter{}, gomemcached.DELTA_BADVAL
	}
	switch {
	case incr:
		value += delta
	case delta > value:
		value = 0
	default:
		value -= delta
	}

	cas, status := c.put(key, strconv.AppendUint(nil, value, 10), cur.Flags, uint32(cur.Exptime))
	return protocol.Counter{Value: value, CAS: cas}, status
}

// flush invalidates the store. An immediate flush also forgets the hot keys.
func (c *cache) flush(when uint32) {
	c.store.Flush(when)
	if when == 0 && c.hot != nil {
		c.hot.Reset()
	}
}
