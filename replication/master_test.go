package replication

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/raniellyferreira/stormdb/protocol"
)

func TestMasterFullSyncAndStream(t *testing.T) {
	m := NewMaster()

	m.Feed(protocol.EncodeCommand("SET", "before", "1"))
	r, offset := m.Attach("127.0.0.1:5000", 5000)
	if offset != m.Offset() {
		t.Fatalf("attach offset = %d, want %d", offset, m.Offset())
	}

	payload := protocol.EncodeCommand("SET", "before", "1")
	m.Feed(protocol.EncodeCommand("SET", "after", "2"))

	server, client := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- m.Serve(ctx, server, r, offset, payload) }()

	rd := protocol.NewReader(client)
	header, err := rd.ReadNext()
	if err != nil {
		t.Fatal(err)
	}
	if want := "FULLRESYNC " + m.ReplID() + " "; !strings.HasPrefix(header.String(), want) {
		t.Fatalf("header = %q, want prefix %q", header.String(), want)
	}

	var got []byte
	if err := rd.ReadPayload(func(chunk []byte) error {
		got = append(got, chunk...)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}

	v, err := rd.ReadNext()
	if err != nil {
		t.Fatal(err)
	}
	cmd, _ := protocol.ParseCommand(v)
	if cmd.String() != "SET after 2" {
		t.Errorf("streamed %q, want SET after 2", cmd.String())
	}

	if n := len(m.Replicas()); n != 1 {
		t.Errorf("Replicas() = %d, want 1", n)
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want context.Canceled", err)
	}
	if n := len(m.Replicas()); n != 0 {
		t.Errorf("Replicas() after Serve = %d, want 0", n)
	}
}

func TestMasterOverflowDisconnects(t *testing.T) {
	m := NewMaster(WithBacklog(2))
	r, offset := m.Attach("slow", 0)

	for i := 0; i < 3; i++ {
		m.Feed(protocol.EncodeCommand("SET", "k", "v"))
	}

	if n := len(m.Replicas()); n != 0 {
		t.Fatalf("overflowed replica still attached (%d)", n)
	}

	err := m.Serve(context.Background(), io.Discard, r, offset, nil)
	if !errors.Is(err, ErrReplicaOverflow) {
		t.Errorf("Serve() error = %v, want ErrReplicaOverflow", err)
	}
	if got := m.Stats()["replica_overflows"].(int64); got != 1 {
		t.Errorf("replica_overflows = %d, want 1", got)
	}
}

func TestMasterHeartbeat(t *testing.T) {
	m := NewMaster(WithHeartbeat(20 * time.Millisecond))
	r, offset := m.Attach("idle", 0)

	server, client := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Serve(ctx, server, r, offset, nil)

	rd := protocol.NewReader(client)
	if _, err := rd.ReadNext(); err != nil {
		t.Fatal(err)
	}
	if err := rd.ReadPayload(func([]byte) error { return nil }); err != nil {
		t.Fatal(err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	v, err := rd.ReadNext()
	if err != nil {
		t.Fatalf("no heartbeat: %v", err)
	}
	cmd, _ := protocol.ParseCommand(v)
	if cmd.Name != "PING" {
		t.Errorf("heartbeat = %q, want PING", cmd.String())
	}
}

func TestMasterOffsetCountsBytes(t *testing.T) {
	m := NewMaster()
	frame := protocol.EncodeCommand("DEL", "a")
	m.Feed(frame)
	m.Feed(frame)

	if got, want := m.Offset(), int64(2*len(frame)); got != want {
		t.Errorf("Offset() = %d, want %d", got, want)
	}
	if len(m.ReplID()) != 40 {
		t.Errorf("ReplID() = %q, want 40 hex chars", m.ReplID())
	}
}

func TestMasterStreamSkipsFullSync(t *testing.T) {
	m := NewMaster()
	m.Feed(protocol.EncodeCommand("SET", "before", "1"))
	r, _ := m.Attach("127.0.0.1:5001", 0)

	server, client := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- m.Stream(ctx, server, r) }()

	m.Feed(protocol.EncodeCommand("DEL", "before"))

	rd := protocol.NewReader(client)
	v, err := rd.ReadNext()
	if err != nil {
		t.Fatal(err)
	}
	cmd, err := protocol.ParseCommand(v)
	if err != nil {
		t.Fatalf("first frame %q is not a command: %v", v.String(), err)
	}
	if cmd.String() != "DEL before" {
		t.Errorf("first frame = %q, want DEL before", cmd.String())
	}

	if got := m.Stats()["sync_full"].(int64); got != 0 {
		t.Errorf("sync_full = %d, want 0", got)
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Stream() error = %v, want context.Canceled", err)
	}
	if n := len(m.Replicas()); n != 0 {
		t.Errorf("Replicas() after Stream = %d, want 0", n)
	}
}
