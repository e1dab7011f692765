package main

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mclight.lopezb.com/internal/storage"
)

const metricsNamespace = "memcached_light"

// Metrics holds the atomic counters for monitoring the server's health. The
// reactor updates them; the STAT command and the Prometheus exporter read
// them from wherever they run.
type Metrics struct {
	TotalConnections    atomic.Uint64 // Counts total connections ever accepted
	CurrentConnections  atomic.Int64  // Live sessions
	RejectedConnections atomic.Uint64 // Connections refused by the -c limit
	TotalCommands       atomic.Uint64 // Commands dispatched, binary and text
	FailedCommands      atomic.Uint64 // Commands answered with an error status
	BytesRead           atomic.Uint64
	BytesWritten        atomic.Uint64
	ExpiredSwept        atomic.Uint64 // Items removed by the active expiry

	commands *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics struct.
func NewMetrics() *Metrics {
	return &Metrics{
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "commands_total",
				Help:      "Commands dispatched, by opcode and status.",
			},
			[]string{"opcode", "status"},
		),
	}
}

// registerMetrics exposes the server counters, the chunk pool and the store
// on reg.
func (app *application) registerMetrics(reg prometheus.Registerer) error {
	m := app.metrics
	counter := func(name, help string, v *atomic.Uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(
			prometheus.CounterOpts{Namespace: metricsNamespace, Name: name, Help: help},
			func() float64 { return float64(v.Load()) },
		)
	}
	gauge := func(name, help string, f func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: metricsNamespace, Name: name, Help: help},
			f,
		)
	}
	storeCounter := func(name, help string, field func(storage.Stats) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(
			prometheus.CounterOpts{Namespace: metricsNamespace, Name: name, Help: help},
			func() float64 { return float64(field(app.store.Stats())) },
		)
	}
	pool := app.instance.Pool()

	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.commands,
		counter("connections_total", "Connections accepted.", &m.TotalConnections),
		counter("connections_rejected_total", "Connections refused by the connection limit.", &m.RejectedConnections),
		counter("commands_failed_total", "Commands answered with an error status.", &m.FailedCommands),
		counter("read_bytes_total", "Bytes received from clients.", &m.BytesRead),
		counter("written_bytes_total", "Bytes sent to clients.", &m.BytesWritten),
		counter("expiry_swept_total", "Items removed by the active expiry sweep.", &m.ExpiredSwept),
		gauge("connections", "Live client sessions.", func() float64 {
			return float64(m.CurrentConnections.Load())
		}),
		gauge("output_chunks_allocated", "Output chunks created by the pool.", func() float64 {
			return float64(pool.Stats().Allocated)
		}),
		gauge("output_chunks_in_use", "Output chunks queued on clients.", func() float64 {
			return float64(pool.Stats().InUse)
		}),
		gauge("items", "Items in the store.", func() float64 {
			return float64(app.store.Stats().Items)
		}),
		storeCounter("store_hits_total", "Store lookups that found a live item.", func(st storage.Stats) int64 { return st.Hits }),
		storeCounter("store_misses_total", "Store lookups that found nothing.", func(st storage.Stats) int64 { return st.Misses }),
		storeCounter("store_evictions_total", "Items evicted to make room.", func(st storage.Stats) int64 { return st.Evictions }),
	}

	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
