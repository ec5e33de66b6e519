package wire

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

// DefaultMaxFrameBytes bounds how much unterminated input a FrameReader will
// buffer before giving up on a connection. The codec itself has no notion
// of a size header or a maximum frame size; this cap exists so
// a peer that never sends the delimiter cannot grow a connection's buffer
// without bound.
const DefaultMaxFrameBytes = 16 << 20 // 16 MiB

// ErrFrameTooLarge is returned by FrameReader.ReadFrame when the buffered,
// still-incomplete frame exceeds MaxFrameBytes. Callers should treat this as
// a connection-error: the connection must be torn down, not resynchronized.
var ErrFrameTooLarge = fmt.Errorf("wire: frame exceeds maximum buffered size")

// FrameReader reads NUL-delimited frames from a byte stream, buffering
// partial frames across reads: split on the first 0x00, emit the
// completed chunk, retain the tail.
type FrameReader struct {
	r            *bufio.Reader
	maxFrameSize int
}

// NewFrameReader wraps r with a frame reader. maxFrameSize <= 0 selects
// DefaultMaxFrameBytes.
func NewFrameReader(r io.Reader, maxFrameSize int) *FrameReader {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameBytes
	}
	return &FrameReader{r: bufio.NewReader(r), maxFrameSize: maxFrameSize}
}

// ReadFrame returns the next complete frame payload, with the delimiter
// stripped. It blocks until a full frame has arrived, the underlying reader
// errors, or the buffered prefix exceeds maxFrameSize.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	var frame []byte
	for {
		chunk, err := fr.r.ReadSlice(0x00)
		frame = append(frame, chunk...)
		if len(frame) > fr.maxFrameSize {
			return nil, ErrFrameTooLarge
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			if len(frame) > 0 && err == io.EOF {
				// Trailing bytes with no delimiter: an incomplete frame, not a
				// frame at all.
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		return frame[:len(frame)-1], nil
	}
}

// FrameWriter serializes one JSON object per Write call and appends the NUL
// delimiter, guaranteeing a frame is never interleaved with another on the
// same stream.
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewFrameWriter wraps w with a frame writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes payload followed by the delimiter as a single write
// under the writer's lock.
func (fw *FrameWriter) WriteFrame(payload []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	framed := make([]byte, 0, len(payload)+1)
	framed = append(framed, payload...)
	framed = append(framed, 0x00)

	_, err := fw.w.Write(framed)
	return err
}
