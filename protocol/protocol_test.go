package protocol_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/raniellyferreira/stormdb/protocol"
)

func TestReaderReadNext(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected protocol.Value
	}{
		{
			name:     "simple string",
			input:    "+OK\r\n",
			expected: protocol.Value{Type: protocol.TypeSimpleString, Data: []byte("OK")},
		},
		{
			name:     "error",
			input:    "-ERR unknown command\r\n",
			expected: protocol.Value{Type: protocol.TypeError, Data: []byte("ERR unknown command")},
		},
		{
			name:     "integer",
			input:    ":42\r\n",
			expected: protocol.Value{Type: protocol.TypeInteger, Integer: 42},
		},
		{
			name:     "negative integer",
			input:    ":-7\r\n",
			expected: protocol.Value{Type: protocol.TypeInteger, Integer: -7},
		},
		{
			name:     "bulk string",
			input:    "$5\r\nhello\r\n",
			expected: protocol.Value{Type: protocol.TypeBulkString, Data: []byte("hello")},
		},
		{
			name:     "binary bulk string",
			input:    "$4\r\na\r\nb\r\n",
			expected: protocol.Value{Type: protocol.TypeBulkString, Data: []byte("a\r\nb")},
		},
		{
			name:     "null bulk string",
			input:    "$-1\r\n",
			expected: protocol.Value{Type: protocol.TypeBulkString, IsNull: true},
		},
		{
			name:     "empty bulk string",
			input:    "$0\r\n\r\n",
			expected: protocol.Value{Type: protocol.TypeBulkString, Data: []byte("")},
		},
		{
			name:     "null array",
			input:    "*-1\r\n",
			expected: protocol.Value{Type: protocol.TypeArray, IsNull: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// One byte per Read exercises the incomplete path for every prefix.
			reader := protocol.NewReader(iotest.OneByteReader(strings.NewReader(tt.input)))
			value, err := reader.ReadNext()
			if err != nil {
				t.Fatalf("ReadNext() error = %v", err)
			}

			if value.Type != tt.expected.Type {
				t.Errorf("Type = %v, want %v", value.Type, tt.expected.Type)
			}
			if !bytes.Equal(value.Data, tt.expected.Data) {
				t.Errorf("Data = %q, want %q", value.Data, tt.expected.Data)
			}
			if value.Integer != tt.expected.Integer {
				t.Errorf("Integer = %v, want %v", value.Integer, tt.expected.Integer)
			}
			if value.IsNull != tt.expected.IsNull {
				t.Errorf("IsNull = %v, want %v", value.IsNull, tt.expected.IsNull)
			}
		})
	}
}

func TestReaderPipelined(t *testing.T) {
	input := "*1\r\n$4\r\nPING\r\n*2\r\n$4\r\nECHO\r\n$2\r\nhi\r\n"
	reader := protocol.NewReader(strings.NewReader(input))

	first, err := reader.ReadNext()
	if err != nil {
		t.Fatalf("ReadNext() error = %v", err)
	}
	if reader.Buffered() == 0 {
		t.Error("expected the second request to be buffered")
	}
	cmd, err := protocol.ParseCommand(first)
	if err != nil || cmd.Name != "PING" {
		t.Fatalf("first command = %v, %v", cmd, err)
	}

	second, err := reader.ReadNext()
	if err != nil {
		t.Fatalf("ReadNext() error = %v", err)
	}
	cmd, err = protocol.ParseCommand(second)
	if err != nil {
		t.Fatalf("ParseCommand() error = %v", err)
	}
	if cmd.Name != "ECHO" || string(cmd.Args[0]) != "hi" {
		t.Errorf("second command = %s", cmd)
	}

	if _, err := reader.ReadNext(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestReaderTruncatedStream(t *testing.T) {
	reader := protocol.NewReader(strings.NewReader("*2\r\n$3\r\nGET\r\n$3\r\nke"))
	if _, err := reader.ReadNext(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReaderLargeBulk(t *testing.T) {
	payload := strings.Repeat("x", 100*1024)
	input := string(protocol.EncodeCommand("SET", "big", payload))

	reader := protocol.NewReader(strings.NewReader(input))
	value, err := reader.ReadNext()
	if err != nil {
		t.Fatalf("ReadNext() error = %v", err)
	}
	if got := len(value.Array[2].Data); got != len(payload) {
		t.Errorf("payload length = %d, want %d", got, len(payload))
	}
}

func TestReaderMalformed(t *testing.T) {
	reader := protocol.NewReader(strings.NewReader("$-2\r\n"))
	_, err := reader.ReadNext()
	if !protocol.IsFrameError(err) {
		t.Errorf("expected frame error, got %v", err)
	}
}

func TestReadPayload(t *testing.T) {
	body := "*1\r\n$4\r\nPING\r\n"
	input := "$" + "14" + "\r\n" + body + "+next\r\n"
	reader := protocol.NewReader(iotest.HalfReader(strings.NewReader(input)))

	var got []byte
	err := reader.ReadPayload(func(chunk []byte) error {
		got = append(got, chunk...)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadPayload() error = %v", err)
	}
	if string(got) != body {
		t.Errorf("payload = %q, want %q", got, body)
	}

	next, err := reader.ReadNext()
	if err != nil {
		t.Fatalf("ReadNext() after payload error = %v", err)
	}
	if next.String() != "next" {
		t.Errorf("value after payload = %q, want next", next.String())
	}
}

func TestWriter(t *testing.T) {
	tests := []struct {
		name     string
		write    func(w *protocol.Writer) error
		expected string
	}{
		{"simple string", func(w *protocol.Writer) error { return w.WriteSimpleString("OK") }, "+OK\r\n"},
		{"error", func(w *protocol.Writer) error { return w.WriteError("ERR bad\r\nthing") }, "-ERR bad  thing\r\n"},
		{"integer", func(w *protocol.Writer) error { return w.WriteInteger(42) }, ":42\r\n"},
		{"bulk", func(w *protocol.Writer) error { return w.WriteBulkString([]byte("hello")) }, "$5\r\nhello\r\n"},
		{"null bulk", func(w *protocol.Writer) error { return w.WriteNullBulkString() }, "$-1\r\n"},
		{"command", func(w *protocol.Writer) error { return w.WriteCommand("SET", "key", "value") }, "*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$5\r\nvalue\r\n"},
		{"null array", func(w *protocol.Writer) error { return w.WriteValue(protocol.NullArray()) }, "*-1\r\n"},
		{
			"nested array",
			func(w *protocol.Writer) error {
				return w.WriteValue(protocol.Array(protocol.BulkString("a"), protocol.Integer(1), protocol.NullBulk()))
			},
			"*3\r\n$1\r\na\r\n:1\r\n$-1\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			writer := protocol.NewWriter(&buf)
			if err := tt.write(writer); err != nil {
				t.Fatalf("write error = %v", err)
			}
			if buf.Len() != 0 {
				t.Error("writer flushed before Flush()")
			}
			if err := writer.Flush(); err != nil {
				t.Fatalf("Flush() error = %v", err)
			}
			if buf.String() != tt.expected {
				t.Errorf("got %q, want %q", buf.String(), tt.expected)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	value := protocol.Array(
		protocol.BulkString("set"),
		protocol.BulkString("key"),
		protocol.BulkString("value"),
	)

	cmd, err := protocol.ParseCommand(value)
	if err != nil {
		t.Fatalf("ParseCommand() error = %v", err)
	}
	if cmd.Name != "SET" {
		t.Errorf("Command name = %s, want SET", cmd.Name)
	}
	if len(cmd.Args) != 2 || string(cmd.Args[0]) != "key" || string(cmd.Args[1]) != "value" {
		t.Errorf("Args = %q", cmd.Args)
	}
	if cmd.String() != "SET key value" {
		t.Errorf("String() = %q", cmd.String())
	}
}

func TestParseCommandRejectsNonBulk(t *testing.T) {
	tests := []struct {
		name  string
		value protocol.Value
	}{
		{"integer", protocol.Integer(1)},
		{"empty array", protocol.Array()},
		{"null array", protocol.NullArray()},
		{"integer element", protocol.Array(protocol.BulkString("GET"), protocol.Integer(1))},
		{"null element", protocol.Array(protocol.BulkString("GET"), protocol.NullBulk())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := protocol.ParseCommand(tt.value); !protocol.IsFrameError(err) {
				t.Errorf("expected frame error, got %v", err)
			}
		})
	}
}

func TestValueString(t *testing.T) {
	tests := []struct {
		value    protocol.Value
		expected string
	}{
		{protocol.SimpleString("OK"), "OK"},
		{protocol.Integer(-3), "-3"},
		{protocol.NullBulk(), "(nil)"},
		{protocol.Array(protocol.BulkString("a"), protocol.BulkString("b")), "[a, b]"},
	}

	for _, tt := range tests {
		if got := tt.value.String(); got != tt.expected {
			t.Errorf("String() = %q, want %q", got, tt.expected)
		}
	}
}

func BenchmarkReaderCommand(b *testing.B) {
	input := protocol.EncodeCommand("SET", "key", "value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reader := protocol.NewReader(bytes.NewReader(input))
		if _, err := reader.ReadNext(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkWriterBulkString(b *testing.B) {
	var buf bytes.Buffer
	writer := protocol.NewWriter(&buf)
	data := []byte("hello world")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		writer.Reset(&buf)
		if err := writer.WriteBulkString(data); err != nil {
			b.Fatal(err)
		}
		writer.Flush()
	}
}
