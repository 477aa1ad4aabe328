package storage

import "time"

// ValueType represents the type of a stored value
type ValueType int

const (
	ValueTypeNone ValueType = iota
	ValueTypeString
	ValueTypeList
)

// String returns the type name reported by TYPE
func (vt ValueType) String() string {
	switch vt {
	case ValueTypeString:
		return "string"
	case ValueTypeList:
		return "list"
	default:
		return "none"
	}
}

// Value is one keyspace entry: a typed payload plus an optional absolute
// expiry. Data is *StringValue or *ListValue depending on Type.
type Value struct {
	Type   ValueType
	Data   interface{}
	Expiry *time.Time
}

// IsExpired reports whether the entry's expiry has passed at now.
func (v *Value) IsExpired(now time.Time) bool {
	return v.Expiry != nil && !now.Before(*v.Expiry)
}

func (v *Value) str() *StringValue {
	s, _ := v.Data.(*StringValue)
	return s
}

func (v *Value) list() *ListValue {
	l, _ := v.Data.(*ListValue)
	return l
}

// StringValue represents a string value
type StringValue struct {
	Data []byte
}

// ListValue is a double-ended list. Elements pushed on the left live in
// front in reverse order; elements pushed on the right live in back.
type ListValue struct {
	front [][]byte
	back  [][]byte
}

// NewListValue returns a list holding elements in order.
func NewListValue(elements ...[]byte) *ListValue {
	l := &ListValue{}
	for _, e := range elements {
		l.PushRight(e)
	}
	return l
}

// Len returns the number of elements.
func (l *ListValue) Len() int {
	return len(l.front) + len(l.back)
}

// Index returns element i, 0 <= i < Len().
func (l *ListValue) Index(i int) []byte {
	if i < len(l.front) {
		return l.front[len(l.front)-1-i]
	}
	return l.back[i-len(l.front)]
}

// PushLeft inserts e at the head.
func (l *ListValue) PushLeft(e []byte) {
	l.front = append(l.front, e)
}

// PushRight appends e at the tail.
func (l *ListValue) PushRight(e []byte) {
	l.back = append(l.back, e)
}

// PopLeft removes and returns the head. The list must not be empty.
func (l *ListValue) PopLeft() []byte {
	if n := len(l.front); n > 0 {
		e := l.front[n-1]
		l.front[n-1] = nil
		l.front = l.front[:n-1]
		return e
	}
	e := l.back[0]
	l.back[0] = nil
	l.back = l.back[1:]
	return e
}

// PopRight removes and returns the tail. The list must not be empty.
func (l *ListValue) PopRight() []byte {
	if n := len(l.back); n > 0 {
		e := l.back[n-1]
		l.back[n-1] = nil
		l.back = l.back[:n-1]
		return e
	}
	e := l.front[0]
	l.front[0] = nil
	l.front = l.front[1:]
	return e
}

// Elements returns a copy of the list in order.
func (l *ListValue) Elements() [][]byte {
	out := make([][]byte, l.Len())
	for i := range out {
		out[i] = l.Index(i)
	}
	return out
}
