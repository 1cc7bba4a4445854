//go:build !linux

package link

import (
	"fmt"
	"runtime"

	"github.com/mojo333/mdns-tunnel/internal/netifaces"
)

// Endpoint would capture and inject raw frames, but this dummy implementation
// fails. The real implementation is in endpoint_linux.go.
type Endpoint struct{}

// Open always fails on this platform.
func Open(iface *netifaces.Interface, opts Options) (*Endpoint, error) {
	return nil, fmt.Errorf("raw link endpoints not supported on %s", runtime.GOOS)
}

// Interface returns the zero Interface.
func (e *Endpoint) Interface() netifaces.Interface { return netifaces.Interface{} }

// ReceiveNext always reports ErrClosed.
func (e *Endpoint) ReceiveNext() ([]byte, error) { return nil, ErrClosed }

// Inject always reports ErrClosed.
func (e *Endpoint) Inject(frame []byte) error { return ErrClosed }

// Close does nothing.
func (e *Endpoint) Close() error { return nil }
