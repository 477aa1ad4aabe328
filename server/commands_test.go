package server

import (
	"strings"
	"testing"

	"github.com/raniellyferreira/stormdb/protocol"
	"github.com/raniellyferreira/stormdb/storage"
)

func argv(args ...string) [][]byte {
	out := make([][]byte, len(args))
	for i, a := range args {
		out[i] = []byte(a)
	}
	return out
}

func TestCommandTable(t *testing.T) {
	for name, cmd := range commandTable {
		if name != cmd.name {
			t.Errorf("%s registered under %q", cmd.name, name)
		}
		if cmd.arity == 0 || cmd.handler == nil {
			t.Errorf("%s: arity %d, handler set %v", name, cmd.arity, cmd.handler != nil)
		}
		if cmd.flags&flagWrite != 0 && cmd.flags&flagMayWrite != 0 {
			t.Errorf("%s is both a write and a may-write command", name)
		}
	}

	if lookupCommand([]byte("gEt")) == nil {
		t.Error("lookup is case-sensitive")
	}
	if lookupCommand([]byte("nosuch")) != nil {
		t.Error("lookup found an unknown command")
	}
}

func TestDispatchOrigins(t *testing.T) {
	store := storage.NewMemory()
	defer store.Close()
	srv := NewServer("127.0.0.1:0", store)

	tests := []struct {
		name string
		from origin
		args []string
		want string
	}{
		{"unknown before arity", originScript, []string{"NOSUCH"}, "ERR unknown command 'NOSUCH'"},
		{"arity", originScript, []string{"SET", "k"}, "ERR wrong number of arguments for 'set' command"},
		{"minimum arity", originMaster, []string{"DEL"}, "ERR wrong number of arguments for 'del' command"},
		{"script cannot subscribe", originScript, []string{"SUBSCRIBE", "ch"}, "ERR This Redis command is not allowed from script"},
		{"script cannot nest", originScript, []string{"EVAL", "return 1", "0"}, "ERR This Redis command is not allowed from script"},
		{"master cannot psync", originMaster, []string{"PSYNC", "?", "-1"}, "ERR 'PSYNC' cannot be replicated"},
		{"script write", originScript, []string{"SET", "k", "v"}, "OK"},
		{"master write", originMaster, []string{"INCR", "n"}, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := render(srv.dispatch(nil, tt.from, argv(tt.args...)))
			got = strings.TrimPrefix(got, "-")
			if got != tt.want {
				t.Errorf("dispatch(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestDispatchReadOnlyReplica(t *testing.T) {
	store := storage.NewMemory()
	defer store.Close()
	srv := NewServer("127.0.0.1:0", store)
	srv.isReplica.Store(true)

	if got := srv.dispatch(nil, originScript, argv("SET", "k", "v")); got.Error() != errReadOnly.Error() {
		t.Errorf("script write on replica = %v", got)
	}
	if got := srv.dispatch(nil, originMaster, argv("SET", "k", "v")); got.IsError() {
		t.Errorf("master write on replica = %v", got)
	}
	if got := srv.dispatch(nil, originScript, argv("GET", "k")); got.String() != "v" {
		t.Errorf("read on replica = %v", got)
	}
}

func TestApplyReturnsErrorReplies(t *testing.T) {
	store := storage.NewMemory()
	defer store.Close()
	srv := NewServer("127.0.0.1:0", store)

	if err := srv.Apply(mustCommand(t, "RPUSH", "l", "a")); err != nil {
		t.Fatal(err)
	}
	err := srv.Apply(mustCommand(t, "INCR", "l"))
	if err == nil || !strings.HasPrefix(err.Error(), "WRONGTYPE") {
		t.Errorf("Apply(INCR list) = %v", err)
	}
}

func mustCommand(t *testing.T, args ...string) *protocol.Command {
	t.Helper()
	cmd, err := protocol.ParseCommand(protocol.BulkArray(argv(args...)))
	if err != nil {
		t.Fatal(err)
	}
	return cmd
}
