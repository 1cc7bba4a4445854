package link

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

func TestRecorderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewRecorder(&buf)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return stamp }

	frames := [][]byte{[]byte("first frame"), {}, bytes.Repeat([]byte{0xab}, 1500)}
	for _, f := range frames {
		if err := r.Record(f); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	pr, err := pcapgo.NewReader(&buf)
	if err != nil {
		t.Fatalf("pcapgo.NewReader: %v", err)
	}
	if pr.LinkType() != layers.LinkTypeEthernet {
		t.Errorf("link type = %v, want ethernet", pr.LinkType())
	}
	for i, want := range frames {
		data, ci, err := pr.ReadPacketData()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(data, want) {
			t.Errorf("frame %d differs", i)
		}
		if !ci.Timestamp.Equal(stamp) {
			t.Errorf("frame %d timestamp = %v", i, ci.Timestamp)
		}
	}
	if _, _, err := pr.ReadPacketData(); err != io.EOF {
		t.Errorf("expected EOF after recorded frames, got %v", err)
	}
}

func TestCreateRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunnel.pcap")
	r, err := CreateRecorder(path)
	if err != nil {
		t.Fatalf("CreateRecorder: %v", err)
	}
	if err := r.Record([]byte("frame")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Record([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Record after Close = %v, want ErrClosed", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	// 24-byte file header, 16-byte record header, 5-byte frame.
	if info.Size() != 45 {
		t.Errorf("file size = %d, want 45", info.Size())
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	if err := r.Record([]byte("x")); err != nil {
		t.Errorf("nil Record: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("nil Close: %v", err)
	}
}
