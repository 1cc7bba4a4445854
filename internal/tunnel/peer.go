// Package tunnel carries captured frames over a TCP connection to a remote
// relay and injects the frames the remote sends back.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/mojo333/mdns-tunnel/internal/bridge"
	"github.com/mojo333/mdns-tunnel/internal/link"
	"github.com/mojo333/mdns-tunnel/internal/logger"
	"github.com/mojo333/mdns-tunnel/internal/metrics"
)

var (
	// ErrRemoteClosed reports that the remote ended the stream between units.
	ErrRemoteClosed = errors.New("tunnel: remote closed connection")
	// ErrSourceClosed reports that the local frame source has no more frames.
	ErrSourceClosed = errors.New("tunnel: frame source closed")
)

// FrameSource yields captured frames in capture order.
// *bridge.Subscription implements it.
type FrameSource interface {
	Next(ctx context.Context) ([]byte, error)
	Close()
}

var _ FrameSource = (*bridge.Subscription)(nil)

// State is the lifecycle state of a Peer.
type State int32

const (
	Active State = iota
	Closed
)

func (s State) String() string {
	if s == Closed {
		return "closed"
	}
	return "active"
}

// Peer relays in both directions over one connection until either direction
// fails. A Peer is used once.
type Peer struct {
	Conn     net.Conn
	Frames   FrameSource
	Injector link.Injector

	// Remote is the accepted peer address, nil for outbound connections.
	Remote net.Addr

	Log      *logger.Logger
	Metrics  *metrics.Metrics
	Recorder *link.Recorder

	// WriteTimeout bounds each unit write. Zero means no deadline.
	WriteTimeout time.Duration

	state atomic.Int32
}

// State reports whether the peer is still relaying.
func (p *Peer) State() State {
	return State(p.state.Load())
}

// Run relays until the connection or the frame source ends, an injection
// fails, or ctx is cancelled. The connection and frame source are closed on
// return. The returned error is the cause of termination and is never nil.
func (p *Peer) Run(ctx context.Context) error {
	log := p.logger()
	defer p.Metrics.PeerStarted()()

	g, gctx := errgroup.WithContext(ctx)
	// Either direction failing cancels gctx, which unblocks the other one.
	stop := context.AfterFunc(gctx, func() {
		p.Conn.Close()
		p.Frames.Close()
	})

	g.Go(func() error { return p.outbound(gctx) })
	g.Go(func() error { return p.inbound() })

	err := g.Wait()
	stop()
	if ctx.Err() != nil {
		err = ctx.Err()
	}

	p.Frames.Close()
	if cerr := p.Conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = multierr.Append(err, cerr)
	}
	p.state.Store(int32(Closed))

	if p.Remote != nil {
		log.Info("REMOTE: Connection from %s closed: %s", p.Remote, err)
	} else {
		log.Info("REMOTE: Connection closed: %s", err)
	}
	return err
}

func (p *Peer) logger() *logger.Logger {
	if p.Log == nil {
		return logger.Discard()
	}
	return p.Log
}

func (p *Peer) outbound(ctx context.Context) error {
	enc := NewEncoder(p.Conn)
	for {
		frame, err := p.Frames.Next(ctx)
		if err != nil {
			if errors.Is(err, bridge.ErrClosed) {
				return ErrSourceClosed
			}
			return err
		}
		if p.WriteTimeout > 0 {
			if err := p.Conn.SetWriteDeadline(time.Now().Add(p.WriteTimeout)); err != nil {
				return fmt.Errorf("setting write deadline: %w", err)
			}
		}
		if err := enc.Encode(frame); err != nil {
			return fmt.Errorf("writing frame: %w", err)
		}
		p.Metrics.Sent()
	}
}

func (p *Peer) inbound() error {
	dec := NewDecoder(p.Conn)
	for {
		frame, err := dec.Decode()
		if err != nil {
			if err == io.EOF {
				return ErrRemoteClosed
			}
			return fmt.Errorf("reading frame: %w", err)
		}
		p.Metrics.Received()
		if err := p.Recorder.Record(frame); err != nil {
			p.logger().Warning("recording received frame: %s", err)
		}

		if err := p.Injector.Inject(frame); err != nil {
			p.Metrics.InjectFailed()
			return fmt.Errorf("injecting frame: %w", err)
		}
	}
}
