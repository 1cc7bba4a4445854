// Package relay drives the tunnel in either role: a server accepting any
// number of remote relays, or a client holding one outbound connection.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mojo333/mdns-tunnel/internal/bridge"
	"github.com/mojo333/mdns-tunnel/internal/link"
	"github.com/mojo333/mdns-tunnel/internal/logger"
	"github.com/mojo333/mdns-tunnel/internal/metrics"
	"github.com/mojo333/mdns-tunnel/internal/tunnel"
)

// DefaultKeepAlive is the TCP keepalive period for tunnel connections.
const DefaultKeepAlive = 15 * time.Second

// Source hands out independent subscriptions on captured frames.
// *bridge.Bridge and *bridge.Hub implement it.
type Source interface {
	Subscribe() *bridge.Subscription
}

// Session carries what every peer shares: the captured frame source and the
// local link's send half.
type Session struct {
	Source   Source
	Injector link.Injector

	Log      *logger.Logger
	Metrics  *metrics.Metrics
	Recorder *link.Recorder

	// WriteTimeout bounds each unit written to a remote. Zero means none.
	WriteTimeout time.Duration
	// KeepAlive is the TCP keepalive period; zero uses DefaultKeepAlive.
	KeepAlive time.Duration
}

func (s *Session) logger() *logger.Logger {
	if s.Log == nil {
		return logger.Discard()
	}
	return s.Log
}

func (s *Session) keepAlive(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	period := s.KeepAlive
	if period <= 0 {
		period = DefaultKeepAlive
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(period)
}

// peer builds a Peer for conn with a fresh subscription.
func (s *Session) peer(conn net.Conn, remote net.Addr, log *logger.Logger) *tunnel.Peer {
	return &tunnel.Peer{
		Conn:         conn,
		Frames:       s.Source.Subscribe(),
		Injector:     s.Injector,
		Remote:       remote,
		Log:          log,
		Metrics:      s.Metrics,
		Recorder:     s.Recorder,
		WriteTimeout: s.WriteTimeout,
	}
}

// Server accepts tunnel connections and runs one peer per connection.
type Server struct {
	Session

	// Allow restricts which remote addresses may connect. Empty allows all.
	Allow []netip.Prefix
}

// Serve accepts connections on ln until ctx is cancelled or Accept fails,
// then closes ln, stops every peer and waits for them to finish. A cancelled ctx is a
// clean shutdown and returns nil.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log := s.logger()
	ctx, cancel := context.WithCancel(ctx)
	var peers errgroup.Group
	defer func() {
		cancel()
		peers.Wait()
	}()
	context.AfterFunc(ctx, func() { ln.Close() })

	log.Info("REMOTE: Listening for connections on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accepting connection: %w", err)
		}

		remote := conn.RemoteAddr()
		if !s.allowed(remote) {
			log.Info("Refusing connection from %s - not in allowed list", remote)
			conn.Close()
			continue
		}

		id := uuid.New()
		plog := log.With("session", id.String())
		plog.Info("REMOTE: Accepted connection from %s", remote)
		s.keepAlive(conn)

		p := s.peer(conn, remote, plog)
		peers.Go(func() error {
			p.Run(ctx)
			return nil
		})
	}
}

func (s *Server) allowed(addr net.Addr) bool {
	if len(s.Allow) == 0 {
		return true
	}
	ip, ok := addrIP(addr)
	if !ok {
		return false
	}
	for _, p := range s.Allow {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

func addrIP(addr net.Addr) (netip.Addr, bool) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.AddrPort().Addr().Unmap(), true
	case nil:
		return netip.Addr{}, false
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.Addr{}, false
	}
	return ap.Addr().Unmap(), true
}

// ParseAllow parses allow-list entries, each an address or a CIDR prefix.
func ParseAllow(entries []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("invalid allow entry %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("invalid allow entry %q: %w", e, err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}
