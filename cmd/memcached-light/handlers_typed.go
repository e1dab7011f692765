package main

import (
	"github.com/dustin/gomemcached"

	"mclight.lopezb.com/internal/protocol"
)

// typedCommands serves the level 1 interface from the cache.
type typedCommands struct {
	app *application
}

var _ protocol.Callbacks = (*typedCommands)(nil)

func (t *typedCommands) Get(_ *protocol.Client, key []byte) (protocol.Value, gomemcached.Status) {
	it, status := t.app.cache.get(key)
	if status != gomemcached.SUCCESS {
		return protocol.Value{}, status
	}
	defer t.app.store.Release(it)
	return protocol.Value{Data: it.Data, Flags: it.Flags, CAS: it.CAS}, gomemcached.SUCCESS
}

func (t *typedCommands) Set(_ *protocol.Client, key, data []byte, flags, exptime uint32, cas uint64) (uint64, gomemcached.Status) {
	return t.app.cache.set(modeSet, key, data, flags, exptime, cas)
}

func (t *typedCommands) Add(_ *protocol.Client, key, data []byte, flags, exptime uint32) (uint64, gomemcached.Status) {
	return t.app.cache.set(modeAdd, key, data, flags, exptime, 0)
}

func (t *typedCommands) Replace(_ *protocol.Client, key, data []byte, flags, exptime uint32, cas uint64) (uint64, gomemcached.Status) {
	return t.app.cache.set(modeReplace, key, data, flags, exptime, cas)
}

func (t *typedCommands) Append(_ *protocol.Client, key, data []byte, cas uint64) (uint64, gomemcached.Status) {
	return t.app.cache.concat(false, key, data, cas)
}

func (t *typedCommands) Prepend(_ *protocol.Client, key, data []byte, cas uint64) (uint64, gomemcached.Status) {
	return t.app.cache.concat(true, key, data, cas)
}

func (t *typedCommands) Delete(_ *protocol.Client, key []byte, cas uint64) gomemcached.Status {
	return t.app.cache.remove(key, cas)
}

func (t *typedCommands) Increment(_ *protocol.Client, key []byte, delta, initial uint64, exptime uint32) (protocol.Counter, gomemcached.Status) {
	return t.app.cache.arithmetic(true, key, delta, initial, exptime)
}

func (t *typedCommands) Decrement(_ *protocol.Client, key []byte, delta, initial uint64, exptime uint32) (protocol.Counter, gomemcached.Status) {
	return t.app.cache.arithmetic(false, key, delta, initial, exptime)
}

func (t *typedCommands) Flush(_ *protocol.Client, when uint32) gomemcached.Status {
	t.app.cache.flush(when)
	return gomemcached.SUCCESS
}

func (t *typedCommands) Noop(*protocol.Client) gomemcached.Status {
	return gomemcached.SUCCESS
}

func (t *typedCommands) Quit(*protocol.Client) gomemcached.Status {
	return gomemcached.SUCCESS
}

func (t *typedCommands) Version(*protocol.Client) (string, gomemcached.Status) {
	return serverVersion, gomemcached.SUCCESS
}

func (t *typedCommands) Stat(_ *protocol.Client, group []byte, emit protocol.StatEmitter) gomemcached.Status {
	return t.app.stats(string(group), emit)
}
