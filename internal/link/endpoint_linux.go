//go:build linux

package link

import (
	"encoding/binary"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"github.com/mojo333/mdns-tunnel/internal/netifaces"
)

// pollInterval bounds how long ReceiveNext waits before rechecking Close.
const pollInterval = 1000 // milliseconds

// Endpoint is an AF_PACKET socket bound to one interface. Its receive half
// blocks the calling thread and is meant to be driven from a dedicated
// goroutine; its send half never blocks.
type Endpoint struct {
	iface netifaces.Interface
	opts  Options

	// mu is held shared by ReceiveNext and Inject and exclusively by Close,
	// so the descriptor is never closed under a pending syscall.
	mu     sync.RWMutex
	fd     int
	closed bool
	buf    []byte
}

// Open creates an endpoint on iface.
func Open(iface *netifaces.Interface, opts Options) (*Endpoint, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("cannot create packet socket for %s: %w", iface.Name, err)
	}

	// The filter goes on before bind so no unfiltered frame is ever queued.
	if opts.FilterPort != 0 {
		if err := attachFilter(fd, FilterProgram(opts.FilterPort, opts.snapLen())); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("cannot attach capture filter on %s: %w", iface.Name, err)
		}
	}

	sa := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("cannot bind packet socket to %s: %w", iface.Name, err)
	}

	if opts.Promiscuous {
		mreq := &unix.PacketMreq{Ifindex: int32(iface.Index), Type: unix.PACKET_MR_PROMISC}
		if err := unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, mreq); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("cannot enable promiscuous mode on %s: %w", iface.Name, err)
		}
	}

	return &Endpoint{
		iface: *iface,
		opts:  opts,
		fd:    fd,
		buf:   make([]byte, opts.snapLen()),
	}, nil
}

// Interface returns the interface the endpoint is bound to.
func (e *Endpoint) Interface() netifaces.Interface {
	return e.iface
}

// ReceiveNext implements Receiver. It has no timeout; it returns ErrClosed once
// Close has been called.
func (e *Endpoint) ReceiveNext() ([]byte, error) {
	for {
		frame, err := e.receiveOnce()
		if err != nil || frame != nil {
			return frame, err
		}
	}
}

// receiveOnce polls for one interval. It returns (nil, nil) when nothing arrived.
func (e *Endpoint) receiveOnce() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	fds := []unix.PollFd{{Fd: int32(e.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, pollInterval)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("poll on %s: %w", e.iface.Name, err)
	}
	if n == 0 || fds[0].Revents&unix.POLLIN == 0 {
		if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return nil, fmt.Errorf("poll on %s: revents %#x", e.iface.Name, fds[0].Revents)
		}
		return nil, nil
	}

	nread, _, err := unix.Recvfrom(e.fd, e.buf, unix.MSG_DONTWAIT)
	if err != nil {
		if err == unix.EINTR || err == unix.EAGAIN {
			return nil, nil
		}
		return nil, fmt.Errorf("receiving on %s: %w", e.iface.Name, err)
	}

	frame := make([]byte, nread)
	copy(frame, e.buf[:nread])
	return frame, nil
}

// Inject implements Injector. A full socket buffer is reported as an error
// rather than waited out.
func (e *Endpoint) Inject(frame []byte) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	if err := unix.Send(e.fd, frame, unix.MSG_DONTWAIT); err != nil {
		return fmt.Errorf("injecting %d bytes on %s: %w", len(frame), e.iface.Name, err)
	}
	return nil
}

// Close leaves promiscuous mode and closes the socket. A ReceiveNext in
// progress returns ErrClosed within one poll interval.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var err error
	if e.opts.Promiscuous {
		mreq := &unix.PacketMreq{Ifindex: int32(e.iface.Index), Type: unix.PACKET_MR_PROMISC}
		err = multierr.Append(err, unix.SetsockoptPacketMreq(e.fd, unix.SOL_PACKET, unix.PACKET_DROP_MEMBERSHIP, mreq))
	}
	err = multierr.Append(err, unix.Close(e.fd))
	if err != nil {
		return fmt.Errorf("closing endpoint on %s: %w", e.iface.Name, err)
	}
	return nil
}

func attachFilter(fd int, prog []bpf.Instruction) error {
	raw, err := bpf.Assemble(prog)
	if err != nil {
		return err
	}
	filter := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		filter[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	fprog := &unix.SockFprog{Len: uint16(len(filter)), Filter: &filter[0]}
	return unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, fprog)
}

func htons(v uint16) uint16 {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return binary.LittleEndian.Uint16(b)
}
