package link

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// byteWriter appends frames one byte at a time so interleaved calls would be
// visible in the log.
type byteWriter struct {
	mu       sync.Mutex
	log      []byte
	inFlight atomic.Int32
	overlap  atomic.Bool
	fail     func([]byte) bool
}

func (w *byteWriter) Inject(frame []byte) error {
	if w.inFlight.Add(1) > 1 {
		w.overlap.Store(true)
	}
	defer w.inFlight.Add(-1)

	if w.fail != nil && w.fail(frame) {
		return errors.New("device not configured")
	}
	for _, b := range frame {
		w.mu.Lock()
		w.log = append(w.log, b)
		w.mu.Unlock()
		time.Sleep(time.Microsecond)
	}
	return nil
}

func TestSharedInjectorMutualExclusion(t *testing.T) {
	w := &byteWriter{}
	shared := NewSharedInjector(w, nil)

	const peers, frames, size = 4, 20, 16
	var wg sync.WaitGroup
	for p := 0; p < peers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			frame := bytes.Repeat([]byte{byte('a' + p)}, size)
			for i := 0; i < frames; i++ {
				if err := shared.Inject(frame); err != nil {
					t.Errorf("Inject: %v", err)
				}
			}
		}(p)
	}
	wg.Wait()

	if w.overlap.Load() {
		t.Fatal("injections overlapped")
	}
	if len(w.log) != peers*frames*size {
		t.Fatalf("log length = %d, want %d", len(w.log), peers*frames*size)
	}
	for i := 0; i < len(w.log); i += size {
		unit := w.log[i : i+size]
		if !bytes.Equal(unit, bytes.Repeat(unit[:1], size)) {
			t.Fatalf("interleaved write at offset %d: %q", i, unit)
		}
	}
}

func TestSharedInjectorEcho(t *testing.T) {
	w := &byteWriter{fail: func(f []byte) bool { return f[0] == 'x' }}
	echo := NewEchoCache(time.Minute)
	shared := NewSharedInjector(w, echo)

	if err := shared.Inject([]byte("ok")); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if !echo.Seen([]byte("ok")) {
		t.Error("successful injection not remembered")
	}

	if err := shared.Inject([]byte("xfail")); err == nil {
		t.Fatal("expected injection error")
	}
	if echo.Seen([]byte("xfail")) {
		t.Error("failed injection should be forgotten")
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if !opts.Promiscuous || opts.FilterPort != 5353 || opts.snapLen() != DefaultSnapLen {
		t.Errorf("unexpected defaults %+v", opts)
	}
	if (Options{}).snapLen() != DefaultSnapLen {
		t.Error("zero SnapLen should fall back to default")
	}
}
