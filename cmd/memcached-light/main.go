// main.go is the entry point for memcached-light, a small memcached server
// built on the protocol library. It parses the command line, opens the
// storage backend, builds the command table for the requested interface
// level and hands everything to the reactor.
//
// Startup Sequence
// ================
//
// Configuration is parsed first so that a bad flag exits before anything is
// allocated. The store is opened next: a backend that cannot be created is a
// startup failure. Only then is the command table built, because the typed
// callbacks and the raw handlers both close over the store. The pid file is
// written last, right before the listeners are bound, and removed again when
// the reactor returns.
//
// Interface Levels
// ================
//
// The server can serve the same cache through either handler style of the
// library:
//
//   - Level 0 (default): raw handlers that decode extras themselves and
//     build every response frame. Only the binary protocol is accepted.
//   - Level 1 (-1): typed callbacks, one per memcached verb. The library does
//     the encoding, and the ASCII protocol becomes available as well because
//     the text framer speaks the same callbacks.
//
// Both levels share the cache semantics in cache.go, so a client cannot tell
// them apart on the binary protocol.
//
// Exit Codes
// ==========
//
// The process exits with status 1 on any startup failure: invalid arguments,
// storage initialisation errors, a pid file that cannot be written, or no
// listener that could be bound.

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mclight.lopezb.com/internal/hotkeys"
	"mclight.lopezb.com/internal/protocol"
	"mclight.lopezb.com/internal/storage"
)

const (
	defaultPort           = 9999
	defaultMaxConnections = 1024
	serverVersion         = "1.0.0"
)

type config struct {
	ports          []int
	typed          bool
	verbose        bool
	maxConnections int
	pidFile        string
	storage        string
	cacheSize      int
	maxItemSize    int
	chunkSize      int
	maxChunks      int
	inputBuffer    int
	metricsAddr    string
	hotKeys        int
}

// portList is a repeatable -p flag.
type portList []int

func (p *portList) String() string {
	s := make([]string, len(*p))
	for i, port := range *p {
		s[i] = strconv.Itoa(port)
	}
	return strings.Join(s, ",")
}

func (p *portList) Set(v string) error {
	port, err := strconv.Atoi(v)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", v)
	}
	*p = append(*p, port)
	return nil
}

// parseConfig reads the command line into a config. Usage and errors go to
// output.
func parseConfig(args []string, output io.Writer) (config, error) {
	var (
		cfg   config
		ports portList
	)

	fs := flag.NewFlagSet("memcached-light", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.Var(&ports, "p", "TCP port to listen on (repeatable)")
	fs.BoolVar(&cfg.typed, "1", false, "Use the typed (level 1) command interface")
	fs.BoolVar(&cfg.verbose, "v", false, "Log every command to stderr")
	fs.IntVar(&cfg.maxConnections, "c", defaultMaxConnections, "Maximum concurrent connections")
	fs.StringVar(&cfg.pidFile, "P", "", "Write the process id to this file")
	fs.StringVar(&cfg.storage, "storage", "map", "Storage backend: map or freecache")
	fs.IntVar(&cfg.cacheSize, "cache-size", storage.DefaultCacheSize, "freecache size in bytes")
	fs.IntVar(&cfg.maxItemSize, "max-item-size", storage.DefaultMaxItemSize, "Largest value accepted, in bytes")
	fs.IntVar(&cfg.chunkSize, "chunk-size", protocol.DefaultChunkSize, "Output chunk size in bytes")
	fs.IntVar(&cfg.maxChunks, "max-chunks", protocol.DefaultMaxChunks, "Output chunks shared by all clients (-1 for unbounded)")
	fs.IntVar(&cfg.inputBuffer, "input-buffer", protocol.DefaultInputBufferSize, "Receive buffer size in bytes")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (empty disables)")
	fs.IntVar(&cfg.hotKeys, "hotkeys", hotkeys.DefaultConfig().K, "Number of hot keys to track (0 disables)")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if fs.NArg() > 0 {
		return config{}, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	switch {
	case cfg.maxConnections <= 0:
		return config{}, errors.New("-c must be positive")
	case cfg.hotKeys < 0:
		return config{}, errors.New("-hotkeys must not be negative")
	case cfg.chunkSize <= 0:
		return config{}, errors.New("-chunk-size must be positive")
	case cfg.inputBuffer <= 0:
		return config{}, errors.New("-input-buffer must be positive")
	}

	if len(ports) == 0 {
		ports = portList{defaultPort}
	}
	cfg.ports = ports
	return cfg, nil
}

type application struct {
	config   config
	logger   *slog.Logger
	debug    *slog.Logger
	started  time.Time
	store    storage.Store
	hotkeys  *hotkeys.Tracker
	cache    *cache
	metrics  *Metrics
	registry *prometheus.Registry
	table    *protocol.CommandTable
	instance *protocol.Instance

	// Owned by the reactor goroutine.
	live int

	addrs    []net.Addr
	readyCh  chan struct{}
	stopping atomic.Bool
}

// newApplication wires the store, the hot-key tracker, the command table and
// the protocol instance for cfg.
func newApplication(cfg config, logger *slog.Logger) (*application, error) {
	st, err := storage.Open(cfg.storage, storage.Options{
		CacheSize:   cfg.cacheSize,
		MaxItemSize: cfg.maxItemSize,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	app := &application{
		config:  cfg,
		logger:  logger,
		started: time.Now(),
		store:   st,
		metrics: NewMetrics(),
		readyCh: make(chan struct{}),
	}
	if cfg.verbose {
		app.debug = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	if cfg.hotKeys > 0 {
		hk := hotkeys.DefaultConfig()
		hk.K = cfg.hotKeys
		app.hotkeys = hotkeys.New(hk)
	}
	app.cache = &cache{store: st, hot: app.hotkeys}

	if cfg.typed {
		app.table = protocol.NewTypedTable(&typedCommands{app: app}, app.hooks())
	} else {
		app.table = protocol.NewRawTable(app.rawCommands(), app.hooks())
	}

	app.instance, err = protocol.NewInstance(app.table, protocol.Options{
		Transport:       evioTransport{},
		InputBufferSize: cfg.inputBuffer,
		ChunkSize:       cfg.chunkSize,
		MaxChunks:       cfg.maxChunks,
	})
	if err != nil {
		return nil, err
	}

	app.registry = prometheus.NewRegistry()
	if err := app.registerMetrics(app.registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	return app, nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "memcached-light:", err)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseConfig(args, os.Stderr)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	app, err := newApplication(cfg, logger)
	if err != nil {
		return err
	}

	if cfg.pidFile != "" {
		if err := writePidFile(cfg.pidFile); err != nil {
			return err
		}
		defer func() {
			if err := os.Remove(cfg.pidFile); err != nil {
				logger.Error("failed to remove pid file", "path", cfg.pidFile, "error", err)
			}
		}()
	}

	return app.serve()
}

func writePidFile(path string) error {
	pid := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(path, []byte(pid), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}
