package server

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/raniellyferreira/stormdb/protocol"
)

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func followMaster(t *testing.T, replica *Server, c *testClient, master *Server) {
	t.Helper()
	host, port, err := net.SplitHostPort(master.Addr())
	if err != nil {
		t.Fatal(err)
	}
	expect(t, c, "OK", "REPLICAOF", host, port)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := replica.WaitForSync(ctx); err != nil {
		t.Fatalf("WaitForSync() error = %v", err)
	}
}

func TestServer_PSyncFullResync(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv.Addr())
	expect(t, c, "OK", "SET", "k", "v")
	expect(t, c, "2", "RPUSH", "l", "a", "b")

	r := newTestClient(t, srv.Addr())
	expect(t, r, "OK", "REPLCONF", "listening-port", "6380")

	header := r.do("PSYNC", "?", "-1")
	fields := strings.Fields(header)
	if len(fields) != 3 || fields[0] != "FULLRESYNC" || len(fields[1]) != 40 {
		t.Fatalf("PSYNC reply = %q", header)
	}
	if offset, err := strconv.ParseInt(fields[2], 10, 64); err != nil || offset != srv.master.Offset() {
		t.Errorf("sync offset = %q, master at %d", fields[2], srv.master.Offset())
	}

	var payload []byte
	if err := r.reader.ReadPayload(func(chunk []byte) error {
		payload = append(payload, chunk...)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	var got []string
	for len(payload) > 0 {
		v, n, err := protocol.Decode(payload)
		if err != nil || n == 0 {
			t.Fatalf("payload decode: n=%d err=%v", n, err)
		}
		got = append(got, render(v))
		payload = payload[n:]
	}
	if len(got) != 2 {
		t.Fatalf("payload commands = %v", got)
	}

	// Writes after the sync point stream to the replica.
	expect(t, c, "1", "DEL", "k")
	if live := r.read(); live != "[DEL, k]" {
		t.Errorf("streamed %q, want [DEL, k]", live)
	}

	eventually(t, "replica registration", func() bool {
		return len(srv.master.Replicas()) == 1
	})
	if role := c.do("ROLE"); !strings.Contains(role, "6380") {
		t.Errorf("ROLE = %q", role)
	}
}

func TestServer_ReplicaConvergesAndIsReadOnly(t *testing.T) {
	master, _ := newTestServer(t)
	replica, replicaStore := newTestServer(t)

	mc := newTestClient(t, master.Addr())
	rc := newTestClient(t, replica.Addr())

	expect(t, mc, "OK", "SET", "before", "1")
	expect(t, rc, "OK", "SET", "stale", "x")

	followMaster(t, replica, rc, master)

	// The full sync replaces the replica's own data.
	expect(t, rc, "0", "EXISTS", "stale")
	expect(t, rc, "1", "GET", "before")

	expect(t, mc, "3", "RPUSH", "l", "a", "b", "c")
	expect(t, mc, "a", "LPOP", "l")
	expect(t, mc, "5", "INCRBY", "n", "5")
	expect(t, mc, "1", "EXPIRE", "n", "100")
	eventually(t, "replicated writes", func() bool {
		v, _, _ := replicaStore.Get("n")
		return string(v) == "5" && replicaStore.TTL("n") > 0
	})
	expect(t, rc, "[b, c]", "LRANGE", "l", "0", "-1")

	expect(t, rc, "-READONLY You can't write against a read only replica.", "SET", "k", "v")
	expect(t, rc, "-READONLY You can't write against a read only replica.", "EVAL", "return redis.call('SET', 'k', 'v')", "0")
	expect(t, rc, "1", "GET", "before")

	info := rc.do("INFO", "replication")
	for _, want := range []string{"role:slave", "master_link_status:up"} {
		if !strings.Contains(info, want) {
			t.Errorf("replica INFO lacks %q:\n%s", want, info)
		}
	}
	if !strings.Contains(mc.do("INFO", "replication"), "connected_slaves:1") {
		t.Error("master does not report the replica")
	}

	expect(t, rc, "OK", "REPLICAOF", "NO", "ONE")
	expect(t, rc, "OK", "SET", "k", "v")
	if role := rc.do("ROLE"); !strings.HasPrefix(role, "[master") {
		t.Errorf("ROLE after promotion = %q", role)
	}
}

func TestServer_ReplicaReceivesPublish(t *testing.T) {
	master, _ := newTestServer(t)
	replica, _ := newTestServer(t)

	rc := newTestClient(t, replica.Addr())
	followMaster(t, replica, rc, master)

	sub := newTestClient(t, replica.Addr())
	sub.send("SUBSCRIBE", "events")
	if got := sub.read(); got != "[subscribe, events, 1]" {
		t.Fatalf("confirmation = %q", got)
	}

	mc := newTestClient(t, master.Addr())
	// The master has no local subscribers.
	expect(t, mc, "0", "PUBLISH", "events", "hello")
	if got := sub.read(); got != "[message, events, hello]" {
		t.Errorf("replica subscriber got %q", got)
	}
}

func TestServer_ReplicaOfErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv.Addr())

	expect(t, c, "-ERR Invalid master port", "REPLICAOF", "localhost", "notaport")
	expect(t, c, "OK", "REPLICAOF", "NO", "ONE")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.WaitForSync(ctx); err == nil {
		t.Error("WaitForSync() on a master succeeded")
	}
}
