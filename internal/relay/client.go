package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mojo333/mdns-tunnel/internal/tunnel"
)

// DefaultDialTimeout bounds a single connection attempt.
const DefaultDialTimeout = 5 * time.Second

// ErrConnect marks a failed connection attempt that ended Run.
var ErrConnect = errors.New("cannot connect to remote")

// Client holds one outbound tunnel connection.
type Client struct {
	Session

	Addr string

	// Retry is the wait before redialling after a failed connect or a closed
	// peer. Zero disables retrying: the first failure ends Run.
	Retry time.Duration
	// DialTimeout bounds each connect; zero uses DefaultDialTimeout.
	DialTimeout time.Duration
}

// Run connects to Addr and relays until the peer closes. With Retry set it
// keeps reconnecting until ctx is cancelled or the frame source is gone.
func (c *Client) Run(ctx context.Context) error {
	log := c.logger()
	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialer := net.Dialer{Timeout: timeout, KeepAlive: -1}

	for {
		log.Info("REMOTE: Connecting to remote %s", c.Addr)
		conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			err = fmt.Errorf("%w %s: %w", ErrConnect, c.Addr, err)
			if c.Retry <= 0 {
				return err
			}
			log.Info("REMOTE: Failed to connect to %s: %s", c.Addr, err)
		} else {
			log.Info("REMOTE: Connection to %s established", c.Addr)
			c.keepAlive(conn)
			err = c.peer(conn, nil, log).Run(ctx)
			if c.Retry <= 0 || ctx.Err() != nil || errors.Is(err, tunnel.ErrSourceClosed) {
				return err
			}
		}

		t := time.NewTimer(c.Retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
