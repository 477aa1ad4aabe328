package storage

import (
	"errors"
	"strings"
	"testing"
)

func joinElements(elements [][]byte) string {
	parts := make([]string, len(elements))
	for i, e := range elements {
		parts[i] = string(e)
	}
	return strings.Join(parts, ",")
}

func TestPushOrdering(t *testing.T) {
	stor := newTestStorage(t)

	stor.Push("a", Left, []byte("x"))
	stor.Push("a", Left, []byte("y"))
	got, err := stor.Range("a", 0, -1)
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if joinElements(got) != "y,x" {
		t.Errorf("LPUSH a x; LPUSH a y -> %q, want y,x", joinElements(got))
	}

	n, _ := stor.Push("b", Left, []byte("1"), []byte("2"), []byte("3"))
	if n != 3 {
		t.Errorf("Push() = %d, want 3", n)
	}
	stor.Push("b", Right, []byte("4"), []byte("5"))
	got, _ = stor.Range("b", 0, -1)
	if joinElements(got) != "3,2,1,4,5" {
		t.Errorf("mixed push -> %q, want 3,2,1,4,5", joinElements(got))
	}
}

func TestRange(t *testing.T) {
	stor := newTestStorage(t)
	stor.Push("l", Right, []byte("a"), []byte("b"), []byte("c"), []byte("d"), []byte("e"))

	tests := []struct {
		start, stop int64
		want        string
	}{
		{0, -1, "a,b,c,d,e"},
		{1, 2, "b,c"},
		{-2, -1, "d,e"},
		{-100, 1, "a,b"},
		{3, 100, "d,e"},
		{4, 2, ""},
		{10, 20, ""},
		{-1, -3, ""},
	}

	for _, tt := range tests {
		got, err := stor.Range("l", tt.start, tt.stop)
		if err != nil {
			t.Fatalf("Range(%d, %d) error = %v", tt.start, tt.stop, err)
		}
		if joinElements(got) != tt.want {
			t.Errorf("Range(%d, %d) = %q, want %q", tt.start, tt.stop, joinElements(got), tt.want)
		}
	}

	got, err := stor.Range("missing", 0, -1)
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("Range() on missing key = %v, %v; want empty", got, err)
	}
}

func TestPop(t *testing.T) {
	rec := &captureRecorder{}
	stor := newTestStorage(t)
	stor.SetRecorder(rec)
	stor.Push("l", Right, []byte("a"), []byte("b"), []byte("c"))

	got, ok, err := stor.Pop("l", Left, 1)
	if err != nil || !ok || joinElements(got) != "a" {
		t.Fatalf("Pop(left, 1) = %q, %v, %v", joinElements(got), ok, err)
	}

	got, ok, _ = stor.Pop("l", Right, 5)
	if !ok || joinElements(got) != "c,b" {
		t.Errorf("Pop(right, 5) = %q, want c,b", joinElements(got))
	}

	if stor.Exists("l") != 0 {
		t.Error("emptied list still exists")
	}

	got, ok, err = stor.Pop("l", Left, 1)
	if err != nil || ok || got != nil {
		t.Errorf("Pop() on missing key = %v, %v, %v; want nil, false, nil", got, ok, err)
	}

	records := rec.all()
	want := []string{"RPUSH l a b c", "LPOP l 1", "RPOP l 2"}
	if strings.Join(records, "|") != strings.Join(want, "|") {
		t.Errorf("records = %q, want %q", records, want)
	}
}

func TestPopZeroCount(t *testing.T) {
	stor := newTestStorage(t)
	stor.Push("l", Right, []byte("a"))

	got, ok, err := stor.Pop("l", Left, 0)
	if err != nil || !ok || len(got) != 0 {
		t.Errorf("Pop(0) = %v, %v, %v", got, ok, err)
	}
	if n, _ := stor.Len("l"); n != 1 {
		t.Errorf("Len() after Pop(0) = %d, want 1", n)
	}
}

func TestListWrongType(t *testing.T) {
	stor := newTestStorage(t)
	stor.Set("s", []byte("v"), SetOptions{})

	if _, err := stor.Push("s", Left, []byte("x")); !errors.Is(err, ErrWrongType) {
		t.Errorf("Push() error = %v", err)
	}
	if _, _, err := stor.Pop("s", Left, 1); !errors.Is(err, ErrWrongType) {
		t.Errorf("Pop() error = %v", err)
	}
	if _, err := stor.Range("s", 0, -1); !errors.Is(err, ErrWrongType) {
		t.Errorf("Range() error = %v", err)
	}
	if _, err := stor.Len("s"); !errors.Is(err, ErrWrongType) {
		t.Errorf("Len() error = %v", err)
	}

	value, _, _ := stor.Get("s")
	if string(value) != "v" {
		t.Errorf("string changed after failed list ops: %q", value)
	}
}

func TestListValueDeque(t *testing.T) {
	l := NewListValue([]byte("2"), []byte("3"))
	l.PushLeft([]byte("1"))
	l.PushRight([]byte("4"))

	if joinElements(l.Elements()) != "1,2,3,4" {
		t.Fatalf("Elements() = %q", joinElements(l.Elements()))
	}

	// Drain from the right past the boundary between the two halves.
	var popped []string
	for l.Len() > 0 {
		popped = append(popped, string(l.PopRight()))
	}
	if strings.Join(popped, ",") != "4,3,2,1" {
		t.Errorf("PopRight order = %v", popped)
	}

	l = NewListValue([]byte("b"))
	l.PushLeft([]byte("a"))
	if string(l.PopLeft()) != "a" || string(l.PopLeft()) != "b" || l.Len() != 0 {
		t.Error("PopLeft order wrong")
	}
}
