package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

const (
	initialBufferSize = 16 * 1024

	// maxBufferSize bounds how much unparsed input a Reader holds: one
	// maximal bulk payload plus room for its framing.
	maxBufferSize = MaxBulkSize + maxLineLength
)

// Reader is a streaming RESP reader built on Decode. Values returned by
// ReadNext alias the reader's buffer and stay valid until the next call.
type Reader struct {
	rd       io.Reader
	buf      []byte
	start    int
	end      int
	consumed int64
}

// NewReader creates a new streaming RESP reader
func NewReader(r io.Reader) *Reader {
	return &Reader{
		rd:  r,
		buf: make([]byte, initialBufferSize),
	}
}

// ReadNext reads the next RESP value from the stream. A *FrameError means
// the stream is unusable; io errors are passed through.
func (r *Reader) ReadNext() (Value, error) {
	for {
		if r.end > r.start {
			v, n, err := Decode(r.buf[r.start:r.end])
			if err == nil {
				r.start += n
				r.consumed += int64(n)
				return v, nil
			}
			if !errors.Is(err, ErrIncomplete) {
				return Value{}, err
			}
		}
		if err := r.fill(); err != nil {
			return Value{}, err
		}
	}
}

// Buffered returns the number of unread bytes already held by the reader.
// The server uses it to delay flushing replies while pipelined requests wait.
func (r *Reader) Buffered() int {
	return r.end - r.start
}

// Consumed returns the number of bytes occupied by the values returned so
// far. Log replay uses it to locate the end of the last complete record.
func (r *Reader) Consumed() int64 {
	return r.consumed
}

// ReadPayload reads a "$<len>\r\n" header followed by exactly len raw bytes
// with no trailing CRLF, the framing a master uses for a full sync payload.
// fn receives the payload in chunks that are only valid during the call.
func (r *Reader) ReadPayload(fn func(chunk []byte) error) error {
	var line []byte
	for {
		idx := bytes.IndexByte(r.buf[r.start:r.end], '\n')
		if idx >= 0 {
			line = r.buf[r.start : r.start+idx+1]
			r.start += idx + 1
			break
		}
		if r.end-r.start > maxLineLength {
			return &FrameError{Reason: "payload header too long"}
		}
		if err := r.fill(); err != nil {
			return err
		}
	}

	if len(line) < 3 || line[0] != byte(TypeBulkString) || !bytes.HasSuffix(line, []byte(CRLF)) {
		return &FrameError{Reason: fmt.Sprintf("expected payload header, got %q", line)}
	}
	length, err := parseInt(line[1 : len(line)-2])
	if err != nil || length < 0 {
		return &FrameError{Reason: fmt.Sprintf("invalid payload length %q", line[1:len(line)-2])}
	}

	remaining := length
	for remaining > 0 {
		if r.end == r.start {
			if err := r.fill(); err != nil {
				return err
			}
		}
		n := int64(r.end - r.start)
		if n > remaining {
			n = remaining
		}
		chunk := r.buf[r.start : r.start+int(n)]
		r.start += int(n)
		remaining -= n
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return nil
}

// fill reads more input, compacting or growing the buffer first.
func (r *Reader) fill() error {
	if r.start > 0 {
		copy(r.buf, r.buf[r.start:r.end])
		r.end -= r.start
		r.start = 0
	}
	if r.end == len(r.buf) {
		if len(r.buf) >= maxBufferSize {
			return &FrameError{Reason: "frame exceeds maximum size"}
		}
		size := len(r.buf) * 2
		if size > maxBufferSize {
			size = maxBufferSize
		}
		grown := make([]byte, size)
		copy(grown, r.buf[:r.end])
		r.buf = grown
	}

	for {
		n, err := r.rd.Read(r.buf[r.end:])
		r.end += n
		if n > 0 {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) && r.end > r.start {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
}
