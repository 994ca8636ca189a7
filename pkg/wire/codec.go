package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync"
)

// Default framing limits, used when a Limits field is zero.
const (
	DefaultMaxHeaderBytes  = 64 * 1024
	DefaultMaxPayloadBytes = 1024 * 1024
)

// Limits bounds how much a single frame may ask the codec to buffer. Both
// limits exist to keep a malicious or broken peer from growing memory without
// bound.
type Limits struct {
	// MaxHeaderBytes bounds the newline-terminated header line, including
	// the terminator.
	MaxHeaderBytes int

	// MaxPayloadBytes bounds the declared binary payload length.
	MaxPayloadBytes int
}

func (l Limits) withDefaults() Limits {
	if l.MaxHeaderBytes <= 0 {
		l.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if l.MaxPayloadBytes <= 0 {
		l.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	return l
}

// Reader decodes events from a byte stream. It is not safe for concurrent
// use; a session owns exactly one Reader per direction.
type Reader struct {
	br     *bufio.Reader
	limits Limits
}

// NewReader creates a Reader over r with the given limits.
func NewReader(r io.Reader, limits Limits) *Reader {
	return &Reader{
		br:     bufio.NewReaderSize(r, 8192),
		limits: limits.withDefaults(),
	}
}

// ReadEvent decodes the next event from the stream.
//
// It returns io.EOF on a clean close between events, and a *FramingError on a
// malformed header, a declared payload length outside limits, or a stream
// that ends mid-frame. On success the returned event's Payload holds exactly
// PayloadLength bytes.
func (r *Reader) ReadEvent() (*Event, error) {
	line, err := r.readHeaderLine()
	if err != nil {
		return nil, err
	}

	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, framingErr(err, "malformed event header")
	}
	if ev.Type == "" {
		return nil, framingErr(nil, "event header missing type")
	}
	if ev.PayloadLength < 0 {
		return nil, framingErr(nil, "negative payload length %d", ev.PayloadLength)
	}
	if ev.PayloadLength > r.limits.MaxPayloadBytes {
		return nil, framingErr(nil, "declared payload length %d exceeds limit %d",
			ev.PayloadLength, r.limits.MaxPayloadBytes)
	}

	if ev.PayloadLength > 0 {
		ev.Payload = make([]byte, ev.PayloadLength)
		if n, err := io.ReadFull(r.br, ev.Payload); err != nil {
			return nil, framingErr(err, "stream ended %d bytes into a %d byte payload",
				n, ev.PayloadLength)
		}
	}
	return &ev, nil
}

// readHeaderLine reads up to and including the next newline, enforcing
// MaxHeaderBytes. io.EOF is returned untouched only when no header bytes were
// read at all.
func (r *Reader) readHeaderLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.br.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > r.limits.MaxHeaderBytes {
			return nil, framingErr(nil, "header exceeds %d bytes", r.limits.MaxHeaderBytes)
		}
		switch {
		case err == nil:
			trimmed := bytes.TrimRight(line, "\r\n")
			if len(trimmed) == 0 {
				return nil, framingErr(nil, "empty event header")
			}
			return trimmed, nil
		case errors.Is(err, bufio.ErrBufferFull):
			// Header spans the buffer; keep accumulating until the limit
			// check above trips or the newline arrives.
		case errors.Is(err, io.EOF):
			if len(line) == 0 {
				return nil, io.EOF
			}
			return nil, framingErr(io.ErrUnexpectedEOF, "stream ended mid-header")
		default:
			return nil, err
		}
	}
}

// Writer encodes events onto a byte stream. WriteEvent is atomic with respect
// to other WriteEvent calls, so the relay and the session's error path can
// share one Writer.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteEvent encodes ev as a header line plus payload. The header's declared
// payload length is always derived from len(ev.Payload), so an event decoded
// by ReadEvent re-encodes byte-identically.
func (w *Writer) WriteEvent(ev *Event) error {
	header := *ev
	header.PayloadLength = len(ev.Payload)

	line, err := json.Marshal(&header)
	if err != nil {
		return framingErr(err, "encode event header")
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(line); err != nil {
		return err
	}
	if len(ev.Payload) > 0 {
		if _, err := w.w.Write(ev.Payload); err != nil {
			return err
		}
	}
	return nil
}
