// Package bridge moves frames from a blocking capture loop to any number of
// goroutine consumers.
package bridge

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/mojo333/mdns-tunnel/internal/link"
	"github.com/mojo333/mdns-tunnel/internal/logger"
	"github.com/mojo333/mdns-tunnel/internal/metrics"
)

// Bridge runs the capture-and-filter loop on its own OS thread and publishes
// accepted frames to a Hub.
type Bridge struct {
	src    link.Receiver
	accept func([]byte) bool
	hub    *Hub

	log      *logger.Logger
	metrics  *metrics.Metrics
	echo     *link.EchoCache
	recorder *link.Recorder

	startOnce sync.Once
	done      chan error
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger for capture loop events.
func WithLogger(l *logger.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// WithMetrics counts captured, matched and echo-dropped frames.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithEchoCache drops captured frames this process injected itself.
func WithEchoCache(c *link.EchoCache) Option {
	return func(b *Bridge) { b.echo = c }
}

// WithRecorder records every published frame.
func WithRecorder(r *link.Recorder) Option {
	return func(b *Bridge) { b.recorder = r }
}

// New returns a Bridge reading from src. accept is called from the capture
// thread only, so it may hold unsynchronized decoder state.
func New(src link.Receiver, accept func([]byte) bool, opts ...Option) *Bridge {
	b := &Bridge{
		src:    src,
		accept: accept,
		hub:    NewHub(),
		log:    logger.Discard(),
		done:   make(chan error, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start launches the capture loop once. The returned channel yields the loop's
// terminal error (nil when it stopped because the bridge was closed) and is
// then closed.
func (b *Bridge) Start() <-chan error {
	b.startOnce.Do(func() {
		go func() {
			runtime.LockOSThread()
			err := b.run()
			b.hub.Close()
			b.done <- err
			close(b.done)
		}()
	})
	return b.done
}

// Subscribe returns a new independent read cursor on accepted frames.
func (b *Bridge) Subscribe() *Subscription {
	return b.hub.Subscribe()
}

// Close stops publishing. The capture loop exits when it next wakes, and
// every subscription drains then reports ErrClosed.
func (b *Bridge) Close() {
	b.hub.Close()
}

func (b *Bridge) run() error {
	for {
		frame, err := b.src.ReceiveNext()
		if err != nil {
			if errors.Is(err, link.ErrClosed) {
				return nil
			}
			b.log.Error("capture loop stopped: %s", err)
			return fmt.Errorf("capture: %w", err)
		}
		b.metrics.Captured()
		if b.hub.Closed() {
			return nil
		}

		if b.echo.Seen(frame) {
			b.metrics.EchoDropped()
			b.log.Debug("dropped %d byte echo of an injected frame", len(frame))
			continue
		}
		if !b.accept(frame) {
			continue
		}
		b.metrics.Matched()

		if !b.hub.Publish(frame) {
			b.log.Info("all consumers gone, capture loop exiting")
			return nil
		}
		if err := b.recorder.Record(frame); err != nil {
			b.log.Warning("recording captured frame: %s", err)
		}
	}
}
