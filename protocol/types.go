package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueType represents the type of a RESP value
type ValueType byte

const (
	// RESP value types
	TypeSimpleString ValueType = '+'
	TypeError        ValueType = '-'
	TypeInteger      ValueType = ':'
	TypeBulkString   ValueType = '$'
	TypeArray        ValueType = '*'
)

// Value represents a parsed RESP value
type Value struct {
	Type    ValueType
	Data    []byte
	Integer int64
	Array   []Value
	IsNull  bool
}

// SimpleString returns a status reply.
func SimpleString(s string) Value {
	return Value{Type: TypeSimpleString, Data: []byte(s)}
}

// ErrorValue returns an error reply. CR and LF are replaced so the message
// cannot break framing.
func ErrorValue(msg string) Value {
	msg = strings.NewReplacer("\r", " ", "\n", " ").Replace(msg)
	return Value{Type: TypeError, Data: []byte(msg)}
}

// Errorf is ErrorValue with formatting.
func Errorf(format string, args ...interface{}) Value {
	return ErrorValue(fmt.Sprintf(format, args...))
}

// Integer returns an integer reply.
func Integer(n int64) Value {
	return Value{Type: TypeInteger, Integer: n}
}

// Bulk returns a bulk string reply.
func Bulk(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{Type: TypeBulkString, Data: b}
}

// BulkString returns a bulk string reply from s.
func BulkString(s string) Value {
	return Value{Type: TypeBulkString, Data: []byte(s)}
}

// NullBulk returns the null bulk string ($-1).
func NullBulk() Value {
	return Value{Type: TypeBulkString, IsNull: true}
}

// Array returns an array reply.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{Type: TypeArray, Array: items}
}

// BulkArray returns an array of bulk strings.
func BulkArray(items [][]byte) Value {
	values := make([]Value, len(items))
	for i, item := range items {
		values[i] = Bulk(item)
	}
	return Value{Type: TypeArray, Array: values}
}

// NullArray returns the null array (*-1).
func NullArray() Value {
	return Value{Type: TypeArray, IsNull: true}
}

// OK is the canonical +OK reply.
var OK = SimpleString("OK")

// String returns a string representation of the value
func (v Value) String() string {
	switch v.Type {
	case TypeSimpleString, TypeError:
		return string(v.Data)
	case TypeInteger:
		return strconv.FormatInt(v.Integer, 10)
	case TypeBulkString:
		if v.IsNull {
			return "(nil)"
		}
		return string(v.Data)
	case TypeArray:
		if v.IsNull {
			return "(nil)"
		}
		parts := make([]string, len(v.Array))
		for i, item := range v.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("unknown type %c", v.Type)
	}
}

// Bytes returns the byte representation of the value
func (v Value) Bytes() []byte {
	return v.Data
}

// Int returns the integer value, or 0 if not an integer
func (v Value) Int() int64 {
	return v.Integer
}

// IsError returns true if this is an error value
func (v Value) IsError() bool {
	return v.Type == TypeError
}

// Error returns the error message if this is an error value
func (v Value) Error() string {
	if v.Type == TypeError {
		return string(v.Data)
	}
	return ""
}

// Command represents a request parsed from a RESP array of bulk strings.
// Name is upper-cased; Args excludes the name.
type Command struct {
	Name string
	Args [][]byte
}

// ParseCommand parses a RESP array value into a Command
func ParseCommand(v Value) (*Command, error) {
	if v.Type != TypeArray || v.IsNull || len(v.Array) == 0 {
		return nil, &FrameError{Reason: "expected a non-empty array of bulk strings"}
	}

	cmd := &Command{
		Args: make([][]byte, len(v.Array)-1),
	}

	for i, item := range v.Array {
		if item.Type != TypeBulkString || item.IsNull {
			return nil, &FrameError{Reason: "request elements must be bulk strings"}
		}
		if i == 0 {
			cmd.Name = strings.ToUpper(string(item.Data))
			continue
		}
		cmd.Args[i-1] = item.Data
	}

	return cmd, nil
}

// Argv returns the name followed by the arguments.
func (c *Command) Argv() [][]byte {
	argv := make([][]byte, 0, len(c.Args)+1)
	argv = append(argv, []byte(c.Name))
	return append(argv, c.Args...)
}

// String returns a string representation of the command
func (c *Command) String() string {
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = string(arg)
	}
	if len(args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(args, " ")
}
