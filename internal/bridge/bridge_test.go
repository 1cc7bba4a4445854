package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mojo333/mdns-tunnel/internal/link"
	"github.com/mojo333/mdns-tunnel/internal/metrics"
)

// chanReceiver hands out frames from a channel; a closed channel ends capture
// with err (link.ErrClosed when err is nil).
type chanReceiver struct {
	frames chan []byte
	err    error
}

func newChanReceiver() *chanReceiver {
	return &chanReceiver{frames: make(chan []byte, 64)}
}

func (r *chanReceiver) ReceiveNext() ([]byte, error) {
	f, ok := <-r.frames
	if !ok {
		if r.err != nil {
			return nil, r.err
		}
		return nil, link.ErrClosed
	}
	return f, nil
}

func acceptAll([]byte) bool { return true }

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("capture loop did not stop")
		return nil
	}
}

func TestBridgeOrderPerSubscriber(t *testing.T) {
	src := newChanReceiver()
	b := New(src, acceptAll)
	subs := []*Subscription{b.Subscribe(), b.Subscribe()}
	done := b.Start()

	const n = 50
	for i := 0; i < n; i++ {
		src.frames <- []byte(fmt.Sprintf("f%02d", i))
	}

	for _, s := range subs {
		for i := 0; i < n; i++ {
			f, err := nextWithin(t, s, 2*time.Second)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if want := fmt.Sprintf("f%02d", i); string(f) != want {
				t.Fatalf("got %q, want %q", f, want)
			}
		}
	}

	close(src.frames)
	if err := waitDone(t, done); err != nil {
		t.Errorf("loop error = %v, want nil on link close", err)
	}
}

func TestBridgeFilterAndEcho(t *testing.T) {
	src := newChanReceiver()
	echo := link.NewEchoCache(time.Minute)
	m := metrics.New()
	accept := func(f []byte) bool { return bytes.HasPrefix(f, []byte("mdns")) }

	b := New(src, accept, WithEchoCache(echo), WithMetrics(m))
	s := b.Subscribe()
	done := b.Start()

	echo.Remember([]byte("mdns-injected"))
	src.frames <- []byte("arp")
	src.frames <- []byte("mdns-injected")
	src.frames <- []byte("mdns-local")
	close(src.frames)
	waitDone(t, done)

	f, err := nextWithin(t, s, time.Second)
	if err != nil || string(f) != "mdns-local" {
		t.Fatalf("Next = %q, %v; want only the local mdns frame", f, err)
	}
	if _, err := nextWithin(t, s, time.Second); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after capture ended, got %v", err)
	}

	if got := testutil.ToFloat64(m.FramesCaptured); got != 3 {
		t.Errorf("captured = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.FramesEchoDropped); got != 1 {
		t.Errorf("echo dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FramesMatched); got != 1 {
		t.Errorf("matched = %v, want 1", got)
	}
}

func TestBridgeReceiveError(t *testing.T) {
	src := newChanReceiver()
	src.err = errors.New("network is down")
	b := New(src, acceptAll)
	s := b.Subscribe()
	done := b.Start()

	src.frames <- []byte("last")
	close(src.frames)

	err := waitDone(t, done)
	if err == nil || !errors.Is(err, src.err) {
		t.Fatalf("loop error = %v, want wrapped receive error", err)
	}
	if _, ok := <-done; ok {
		t.Error("done channel should be closed after the error")
	}

	f, err := nextWithin(t, s, time.Second)
	if err != nil || string(f) != "last" {
		t.Fatalf("Next = %q, %v; want queued frame", f, err)
	}
	if _, err := nextWithin(t, s, time.Second); !errors.Is(err, ErrClosed) {
		t.Errorf("Next = %v, want ErrClosed", err)
	}
}

func TestBridgeCloseStopsLoop(t *testing.T) {
	src := newChanReceiver()
	b := New(src, acceptAll)
	s := b.Subscribe()
	done := b.Start()
	if b.Start() != done {
		t.Error("Start should be idempotent")
	}

	b.Close()
	src.frames <- []byte("after close")

	if err := waitDone(t, done); err != nil {
		t.Errorf("loop error = %v, want nil", err)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Next = %v, want ErrClosed", err)
	}
}

func TestBridgeRecorder(t *testing.T) {
	var buf bytes.Buffer
	rec, err := link.NewRecorder(&buf)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	headerLen := buf.Len()

	src := newChanReceiver()
	b := New(src, acceptAll, WithRecorder(rec))
	b.Subscribe()
	done := b.Start()

	src.frames <- []byte("recorded")
	close(src.frames)
	waitDone(t, done)

	if buf.Len() != headerLen+16+len("recorded") {
		t.Errorf("pcap size = %d, want one record", buf.Len())
	}
}
