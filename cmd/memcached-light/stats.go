package main

import (
	"os"
	"strconv"
	"time"

	"github.com/dustin/gomemcached"

	"mclight.lopezb.com/internal/protocol"
)

// stats emits the statistics of group. The empty group is the general
// server report; "hotkeys" lists the most read keys, heaviest first. The
// caller sends the terminating empty entry.
func (app *application) stats(group string, emit protocol.StatEmitter) gomemcached.Status {
	switch group {
	case "":
		return app.generalStats(emit)
	case "hotkeys":
		if app.hotkeys == nil {
			return gomemcached.KEY_ENOENT
		}
		for _, e := range app.hotkeys.Top() {
			if status := emit(e.Key, strconv.FormatUint(e.Count, 10)); status != gomemcached.SUCCESS {
				return status
			}
		}
		return gomemcached.SUCCESS
	}
	return gomemcached.KEY_ENOENT
}

func (app *application) generalStats(emit protocol.StatEmitter) gomemcached.Status {
	now := time.Now()
	st := app.store.Stats()
	pool := app.instance.Pool().Stats()
	m := app.metrics

	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	i := func(v int64) string { return strconv.FormatInt(v, 10) }

	entries := [][2]string{
		{"pid", strconv.Itoa(os.Getpid())},
		{"uptime", i(int64(now.Sub(app.started) / time.Second))},
		{"time", i(now.Unix())},
		{"version", serverVersion},
		{"interface", strconv.Itoa(app.table.InterfaceVersion())},
		{"storage", app.config.storage},
		{"curr_connections", i(m.CurrentConnections.Load())},
		{"total_connections", u(m.TotalConnections.Load())},
		{"rejected_connections", u(m.RejectedConnections.Load())},
		{"cmd_total", u(m.TotalCommands.Load())},
		{"cmd_failed", u(m.FailedCommands.Load())},
		{"bytes_read", u(m.BytesRead.Load())},
		{"bytes_written", u(m.BytesWritten.Load())},
		{"curr_items", i(st.Items)},
		{"get_hits", i(st.Hits)},
		{"get_misses", i(st.Misses)},
		{"expired", i(st.Expired)},
		{"evictions", i(st.Evictions)},
		{"output_chunk_size", strconv.Itoa(app.instance.Pool().ChunkSize())},
		{"output_chunks", i(pool.Allocated)},
		{"output_chunks_in_use", i(pool.InUse)},
	}
	if app.hotkeys != nil {
		entries = append(entries, [2]string{"distinct_keys_read", u(app.hotkeys.Distinct())})
	}
	for _, e := range entries {
		if status := emit(e[0], e[1]); status != gomemcached.SUCCESS {
			return status
		}
	}
	return gomemcached.SUCCESS
}
