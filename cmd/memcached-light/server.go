package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/evio"

	"mclight.lopezb.com/internal/protocol"
)

const (
	tickInterval           = 100 * time.Millisecond
	metricsShutdownTimeout = 5 * time.Second
)

// serve runs the reactor until a shutdown is requested.
func (app *application) serve() error {
	//
	// DESIGN
	// ------
	//
	// The protocol library assumes a single goroutine per instance: the
	// receive buffer and the chunk pool are shared by every client without
	// locks. evio gives us exactly that with one event loop, so every
	// callback below runs on the same goroutine and touches app.live and the
	// sessions freely.
	//
	// 1. CONNECTION LIMITING
	//    Opened counts live sessions. A connection over the limit is closed
	//    right away and never gets a client.
	//
	// 2. SHUTDOWN
	//    Signals arrive on another goroutine, which only flips a flag. The
	//    tick callback observes it on the loop and returns evio.Shutdown;
	//    evio then closes every connection through Closed, so each session
	//    returns its chunks before Serve returns.
	//
	// 3. HOUSEKEEPING
	//    The same tick runs the active expiry of the store, keeping the
	//    sweep on the loop goroutine with the rest of the cache traffic.
	//
	events := evio.Events{
		NumLoops: 1,
		Serving:  app.serving,
		Opened:   app.opened,
		Data:     app.data,
		Closed:   app.closed,
		Tick:     app.tick,
	}

	addrs := make([]string, len(app.config.ports))
	for i, port := range app.config.ports {
		addrs[i] = fmt.Sprintf("tcp://:%d", port)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case s := <-quit:
			app.logger.Info("caught signal", "signal", s.String())
			app.stop()
		case <-done:
		}
	}()

	if app.config.metricsAddr != "" {
		srv := &http.Server{
			Addr:              app.config.metricsAddr,
			Handler:           app.metricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			app.logger.Info("metrics server starting", "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	app.logger.Info("server starting", "addresses", addrs, "interface", app.table.InterfaceVersion())
	if err := evio.Serve(events, addrs...); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	app.logger.Info("server stopped gracefully")
	return nil
}

// stop asks the reactor to shut down at its next tick.
func (app *application) stop() {
	app.stopping.Store(true)
}

func (app *application) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))
	return mux
}

func (app *application) serving(srv evio.Server) evio.Action {
	app.addrs = srv.Addrs
	for _, addr := range srv.Addrs {
		app.logger.Info("listening", "address", addr.String())
	}
	if app.readyCh != nil {
		close(app.readyCh)
	}
	return evio.None
}

func (app *application) opened(c evio.Conn) (out []byte, opts evio.Options, action evio.Action) {
	remote := c.RemoteAddr().String()

	if app.live >= app.config.maxConnections {
		app.metrics.RejectedConnections.Add(1)
		app.logger.Info("rejecting connection, limit reached", "remote_addr", remote)
		return nil, opts, evio.Close
	}

	s := &session{remote: remote}
	s.client = app.instance.NewClient(s)
	c.SetContext(s)

	app.live++
	app.metrics.TotalConnections.Add(1)
	app.metrics.CurrentConnections.Add(1)
	app.logger.Info("new connection", "remote_addr", remote)
	return nil, opts, evio.None
}

func (app *application) data(c evio.Conn, in []byte) (out []byte, action evio.Action) {
	s, ok := c.Context().(*session)
	if !ok {
		return nil, evio.Close
	}

	out, ev := s.handle(in)
	app.metrics.BytesRead.Add(s.client.BytesIn() - s.lastIn)
	app.metrics.BytesWritten.Add(s.client.BytesOut() - s.lastOut)
	s.lastIn, s.lastOut = s.client.BytesIn(), s.client.BytesOut()

	if ev == protocol.Closed {
		if err := s.client.Err(); err != nil && !errors.Is(err, protocol.ErrClientClosed) {
			app.logger.Info("closing client", "remote_addr", s.remote, "error", err)
		}
		return out, evio.Close
	}
	return out, evio.None
}

func (app *application) closed(c evio.Conn, err error) evio.Action {
	s, ok := c.Context().(*session)
	if !ok {
		// Rejected in opened.
		return evio.None
	}
	c.SetContext(nil)
	s.client.Close()

	app.live--
	app.metrics.CurrentConnections.Add(-1)
	if err != nil {
		app.logger.Info("client disconnected", "remote_addr", s.remote, "error", err)
	} else {
		app.logger.Info("client disconnected", "remote_addr", s.remote)
	}
	return evio.None
}

func (app *application) tick() (delay time.Duration, action evio.Action) {
	if app.stopping.Load() {
		app.logger.Info("shutting down server")
		return 0, evio.Shutdown
	}
	if n := app.store.DeleteExpired(); n > 0 {
		app.metrics.ExpiredSwept.Add(uint64(n))
	}
	return tickInterval, evio.None
}
