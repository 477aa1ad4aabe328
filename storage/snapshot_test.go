package storage

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestSnapshotCommandsRebuildKeyspace(t *testing.T) {
	clock := newFakeClock()
	src := newTestStorage(t, WithClock(clock.Now))

	at := clock.Now().Add(time.Hour)
	gone := clock.Now().Add(time.Millisecond)
	src.Set("plain", []byte("v"), SetOptions{})
	src.Set("ttl", []byte("t"), SetOptions{ExpireAt: &at})
	src.Set("gone", []byte("x"), SetOptions{ExpireAt: &gone})
	for i := 0; i < rewriteChunk+10; i++ {
		src.Push("big", Right, []byte(fmt.Sprint(i)))
	}
	src.Push("tl", Left, []byte("b"), []byte("a"))
	src.ExpireAt("tl", at)
	clock.Advance(time.Second)

	var commands [][][]byte
	err := src.Snapshot(func(view *View) error {
		return view.Commands(func(args [][]byte) error {
			commands = append(commands, args)
			return nil
		})
	})
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	dst := newTestStorage(t, WithClock(clock.Now))
	for _, args := range commands {
		applyForTest(t, dst, args)
	}

	if dst.Exists("gone") != 0 {
		t.Error("expired key was emitted")
	}
	if v, _, _ := dst.Get("plain"); string(v) != "v" {
		t.Errorf("plain = %q", v)
	}
	if ttl := dst.TTL("ttl"); ttl != time.Hour-time.Second {
		t.Errorf("ttl TTL = %v", ttl)
	}
	if n, _ := dst.Len("big"); n != rewriteChunk+10 {
		t.Errorf("big length = %d", n)
	}
	src1, _ := src.Range("big", 0, -1)
	dst1, _ := dst.Range("big", 0, -1)
	if joinElements(src1) != joinElements(dst1) {
		t.Error("list order differs after rebuild")
	}
	if got, _ := dst.Range("tl", 0, -1); joinElements(got) != "a,b" {
		t.Errorf("tl = %q", joinElements(got))
	}
	if dst.TTL("tl") <= 0 {
		t.Error("list expiry not rebuilt")
	}
}

// applyForTest interprets the subset of commands View.Commands emits.
func applyForTest(t *testing.T, s *MemoryStorage, args [][]byte) {
	t.Helper()
	switch strings.ToUpper(string(args[0])) {
	case "SET":
		opts := SetOptions{}
		if len(args) == 5 {
			var ms int64
			fmt.Sscan(string(args[4]), &ms)
			at := time.UnixMilli(ms)
			opts.ExpireAt = &at
		}
		s.Set(string(args[1]), args[2], opts)
	case "RPUSH":
		s.Push(string(args[1]), Right, args[2:]...)
	case "PEXPIREAT":
		var ms int64
		fmt.Sscan(string(args[2]), &ms)
		s.ExpireAt(string(args[1]), time.UnixMilli(ms))
	default:
		t.Fatalf("unexpected command %s", args[0])
	}
}
