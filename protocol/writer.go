package protocol

import (
	"bufio"
	"io"
)

// Writer provides buffered writing of RESP values. Nothing reaches the
// underlying writer until Flush or the buffer fills.
type Writer struct {
	bw      *bufio.Writer
	scratch []byte
}

// NewWriter creates a new RESP protocol writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		bw:      bufio.NewWriter(w),
		scratch: make([]byte, 0, 512),
	}
}

// WriteValue writes a RESP value to the output stream
func (w *Writer) WriteValue(v Value) error {
	w.scratch = AppendValue(w.scratch[:0], v)
	_, err := w.bw.Write(w.scratch)
	return err
}

// WriteSimpleString writes a simple string
func (w *Writer) WriteSimpleString(s string) error {
	return w.WriteValue(SimpleString(s))
}

// WriteError writes an error message
func (w *Writer) WriteError(msg string) error {
	return w.WriteValue(ErrorValue(msg))
}

// WriteInteger writes an integer
func (w *Writer) WriteInteger(n int64) error {
	return w.WriteValue(Integer(n))
}

// WriteBulkString writes a bulk string
func (w *Writer) WriteBulkString(data []byte) error {
	w.scratch = appendBulk(w.scratch[:0], data)
	_, err := w.bw.Write(w.scratch)
	return err
}

// WriteNullBulkString writes a null bulk string
func (w *Writer) WriteNullBulkString() error {
	_, err := w.bw.WriteString("$-1\r\n")
	return err
}

// WriteCommand writes a command as a RESP array of bulk strings
func (w *Writer) WriteCommand(cmd string, args ...string) error {
	argv := make([]string, 0, len(args)+1)
	argv = append(argv, cmd)
	w.scratch = append(w.scratch[:0], EncodeCommand(append(argv, args...)...)...)
	_, err := w.bw.Write(w.scratch)
	return err
}

// WriteRaw writes bytes that are already RESP encoded.
func (w *Writer) WriteRaw(frame []byte) error {
	_, err := w.bw.Write(frame)
	return err
}

// WriteOK writes a simple "OK" response
func (w *Writer) WriteOK() error {
	return w.WriteSimpleString("OK")
}

// Flush flushes any buffered data to the underlying writer
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

// Buffered returns the number of bytes waiting for Flush.
func (w *Writer) Buffered() int {
	return w.bw.Buffered()
}

// Reset resets the writer to write to a new underlying writer
func (w *Writer) Reset(writer io.Writer) {
	w.bw.Reset(writer)
}
