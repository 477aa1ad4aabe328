package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

const (
	// CRLF is the RESP line terminator
	CRLF = "\r\n"

	// MaxBulkSize caps a single bulk payload (64 MiB).
	MaxBulkSize = 64 << 20

	// maxArraySize caps the element count of one array.
	maxArraySize = 1024 * 1024

	// maxLineLength caps a header or simple line that has not seen its CRLF yet.
	maxLineLength = 64 * 1024

	maxDepth = 32
)

// ErrIncomplete is returned by Decode when buf holds a prefix of a valid
// frame. Nothing is consumed; call again once more bytes have arrived.
var ErrIncomplete = errors.New("protocol: incomplete frame")

// FrameError reports input that can never become a valid frame. The
// connection that produced it must be closed.
type FrameError struct {
	Offset int
	Reason string
}

func (e *FrameError) Error() string {
	if e.Offset > 0 {
		return fmt.Sprintf("protocol error: %s (offset %d)", e.Reason, e.Offset)
	}
	return "protocol error: " + e.Reason
}

// IsFrameError reports whether err is (or wraps) a *FrameError.
func IsFrameError(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe)
}

// Decode decodes one value from the start of buf. On success it returns the
// value and the number of bytes it occupies. Bulk payloads alias buf.
func Decode(buf []byte) (Value, int, error) {
	v, n, err := decodeAt(buf, 0, 0)
	if err != nil {
		return Value{}, 0, err
	}
	return v, n, nil
}

func decodeAt(buf []byte, pos, depth int) (Value, int, error) {
	if pos >= len(buf) {
		return Value{}, 0, ErrIncomplete
	}

	typ := ValueType(buf[pos])
	line, next, err := readLine(buf, pos+1)
	if err != nil {
		return Value{}, 0, err
	}

	switch typ {
	case TypeSimpleString, TypeError:
		return Value{Type: typ, Data: line}, next, nil

	case TypeInteger:
		n, err := parseInt(line)
		if err != nil {
			return Value{}, 0, &FrameError{Offset: pos, Reason: fmt.Sprintf("invalid integer %q", line)}
		}
		return Value{Type: TypeInteger, Integer: n}, next, nil

	case TypeBulkString:
		length, err := parseInt(line)
		if err != nil {
			return Value{}, 0, &FrameError{Offset: pos, Reason: fmt.Sprintf("invalid bulk length %q", line)}
		}
		if length == -1 {
			return Value{Type: TypeBulkString, IsNull: true}, next, nil
		}
		if length < 0 || length > MaxBulkSize {
			return Value{}, 0, &FrameError{Offset: pos, Reason: fmt.Sprintf("invalid bulk length %d", length)}
		}
		end := next + int(length)
		if end+2 > len(buf) {
			return Value{}, 0, ErrIncomplete
		}
		if buf[end] != '\r' || buf[end+1] != '\n' {
			return Value{}, 0, &FrameError{Offset: end, Reason: "bulk payload not terminated by CRLF"}
		}
		return Value{Type: TypeBulkString, Data: buf[next:end:end]}, end + 2, nil

	case TypeArray:
		count, err := parseInt(line)
		if err != nil {
			return Value{}, 0, &FrameError{Offset: pos, Reason: fmt.Sprintf("invalid array length %q", line)}
		}
		if count == -1 {
			return Value{Type: TypeArray, IsNull: true}, next, nil
		}
		if count < 0 || count > maxArraySize {
			return Value{}, 0, &FrameError{Offset: pos, Reason: fmt.Sprintf("invalid array length %d", count)}
		}
		if depth >= maxDepth {
			return Value{}, 0, &FrameError{Offset: pos, Reason: "arrays nested too deeply"}
		}
		// Every element needs at least 3 bytes, so a short buffer cannot hold them.
		if int64(len(buf)-next) < count*3 {
			return Value{}, 0, ErrIncomplete
		}
		items := make([]Value, count)
		for i := range items {
			items[i], next, err = decodeAt(buf, next, depth+1)
			if err != nil {
				return Value{}, 0, err
			}
		}
		return Value{Type: TypeArray, Array: items}, next, nil

	default:
		return Value{}, 0, &FrameError{Offset: pos, Reason: fmt.Sprintf("unknown type byte 0x%02x", byte(typ))}
	}
}

// readLine returns the bytes between start and the next CRLF plus the offset
// just past the CRLF.
func readLine(buf []byte, start int) ([]byte, int, error) {
	if start > len(buf) {
		return nil, 0, ErrIncomplete
	}
	idx := bytes.IndexByte(buf[start:], '\n')
	if idx < 0 {
		if len(buf)-start > maxLineLength {
			return nil, 0, &FrameError{Offset: start, Reason: "line too long"}
		}
		return nil, 0, ErrIncomplete
	}
	end := start + idx
	if idx == 0 || buf[end-1] != '\r' {
		return nil, 0, &FrameError{Offset: end, Reason: "line not terminated by CRLF"}
	}
	return buf[start : end-1 : end-1], end + 1, nil
}

// parseInt parses a base-10 signed integer without allocating.
func parseInt(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, strconv.ErrSyntax
	}

	neg := false
	i := 0
	switch b[0] {
	case '-':
		neg = true
		i = 1
	case '+':
		i = 1
	}
	if i >= len(b) {
		return 0, strconv.ErrSyntax
	}

	var n int64
	for ; i < len(b); i++ {
		c := b[i]
		if c < '0' || c > '9' {
			return 0, strconv.ErrSyntax
		}
		if n > (1<<63-1)/10 {
			return 0, strconv.ErrRange
		}
		n = n*10 + int64(c-'0')
		if n < 0 {
			return 0, strconv.ErrRange
		}
	}

	if neg {
		return -n, nil
	}
	return n, nil
}
