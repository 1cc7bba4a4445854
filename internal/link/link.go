// Package link captures and injects raw ethernet frames on one network interface.
package link

import (
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed Endpoint.
var ErrClosed = errors.New("link endpoint closed")

const (
	// DefaultSnapLen is the receive buffer size and the largest frame captured.
	DefaultSnapLen = 65536
	// DefaultFilterPort restricts kernel-side capture to mDNS traffic.
	DefaultFilterPort = 5353
)

var (
	_ Receiver = (*Endpoint)(nil)
	_ Injector = (*Endpoint)(nil)
	_ Injector = (*SharedInjector)(nil)
)

// Receiver is the receive half of a link endpoint.
type Receiver interface {
	// ReceiveNext blocks until the next frame arrives on the interface and
	// returns a freshly allocated copy of it.
	ReceiveNext() ([]byte, error)
}

// Injector is the send half of a link endpoint.
type Injector interface {
	// Inject transmits frame onto the interface. Delivery is best effort.
	Inject(frame []byte) error
}

// Options tune Open.
type Options struct {
	// Promiscuous puts the interface in promiscuous mode for the life of the
	// endpoint so multicast frames are seen regardless of group membership.
	Promiscuous bool
	// FilterPort attaches a kernel filter accepting only IPv4 UDP frames to
	// this destination port. Zero captures every frame.
	FilterPort uint16
	// SnapLen is the receive buffer size. Zero means DefaultSnapLen.
	SnapLen int
}

// DefaultOptions returns the options used by the relay.
func DefaultOptions() Options {
	return Options{
		Promiscuous: true,
		FilterPort:  DefaultFilterPort,
		SnapLen:     DefaultSnapLen,
	}
}

func (o Options) snapLen() int {
	if o.SnapLen <= 0 {
		return DefaultSnapLen
	}
	return o.SnapLen
}

// SharedInjector serializes injection from many peer sessions onto one
// Injector. The lock is held for exactly one Inject call.
type SharedInjector struct {
	mu   sync.Mutex
	inj  Injector
	echo *EchoCache
}

// NewSharedInjector wraps inj. When echo is non-nil every injected frame is
// remembered there before it reaches the wire, so the capture side can
// recognise it if the interface hands it back.
func NewSharedInjector(inj Injector, echo *EchoCache) *SharedInjector {
	return &SharedInjector{inj: inj, echo: echo}
}

// Inject implements Injector.
func (s *SharedInjector) Inject(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.echo.Remember(frame)
	if err := s.inj.Inject(frame); err != nil {
		s.echo.Forget(frame)
		return err
	}
	return nil
}
