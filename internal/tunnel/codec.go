package tunnel

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

const (
	headerLen = 4

	// DefaultMaxFrameSize bounds the length a Decoder accepts.
	DefaultMaxFrameSize = 8 << 20
)

// ErrFrameTooLarge is returned for a unit whose length exceeds the maximum.
var ErrFrameTooLarge = errors.New("tunnel: frame too large")

// Encoder writes length-prefixed units: a 4-byte big-endian length followed
// by the frame bytes.
type Encoder struct {
	w       io.Writer
	buf     []byte
	MaxSize int
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, MaxSize: DefaultMaxFrameSize}
}

// Encode writes frame as one unit with a single Write call.
func (e *Encoder) Encode(frame []byte) error {
	if len(frame) > e.MaxSize {
		return ErrFrameTooLarge
	}
	n := headerLen + len(frame)
	if cap(e.buf) < n {
		e.buf = make([]byte, n)
	}
	buf := e.buf[:n]
	binary.BigEndian.PutUint32(buf, uint32(len(frame)))
	copy(buf[headerLen:], frame)
	_, err := e.w.Write(buf)
	return err
}

// Decoder reads units written by an Encoder, independent of how the stream
// was segmented in transit.
type Decoder struct {
	r       *bufio.Reader
	hdr     [headerLen]byte
	MaxSize int
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r), MaxSize: DefaultMaxFrameSize}
}

// Decode returns the next unit's payload in a freshly allocated slice.
// io.EOF means the stream ended cleanly between units; io.ErrUnexpectedEOF
// means it ended inside one.
func (d *Decoder) Decode() ([]byte, error) {
	if _, err := io.ReadFull(d.r, d.hdr[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(d.hdr[:])
	if uint64(size) > uint64(d.MaxSize) {
		return nil, ErrFrameTooLarge
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(d.r, frame); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}
