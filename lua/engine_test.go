package lua

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raniellyferreira/stormdb/protocol"
)

// mapExecutor is a tiny GET/SET/DEL/INCR backend for scripts.
type mapExecutor struct {
	mu    sync.Mutex
	data  map[string]string
	calls []string
}

func newMapExecutor() *mapExecutor {
	return &mapExecutor{data: make(map[string]string)}
}

func (m *mapExecutor) Exec(args [][]byte) protocol.Value {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := strings.ToUpper(string(args[0]))
	m.calls = append(m.calls, name)
	switch name {
	case "GET":
		v, ok := m.data[string(args[1])]
		if !ok {
			return protocol.NullBulk()
		}
		return protocol.BulkString(v)
	case "SET":
		m.data[string(args[1])] = string(args[2])
		return protocol.OK
	case "DEL":
		n := int64(0)
		for _, k := range args[1:] {
			if _, ok := m.data[string(k)]; ok {
				delete(m.data, string(k))
				n++
			}
		}
		return protocol.Integer(n)
	case "LRANGE":
		return protocol.BulkArray([][]byte{[]byte("a"), []byte("b")})
	case "INCR":
		return protocol.ErrorValue("ERR value is not an integer or out of range")
	default:
		return protocol.Errorf("ERR unknown command '%s'", args[0])
	}
}

func b(items ...string) [][]byte {
	out := make([][]byte, len(items))
	for i, s := range items {
		out[i] = []byte(s)
	}
	return out
}

func TestEvalConversions(t *testing.T) {
	engine := NewEngine(newMapExecutor())

	tests := []struct {
		name   string
		script string
		keys   [][]byte
		args   [][]byte
		want   string
	}{
		{"string", "return 'hello'", nil, nil, "hello"},
		{"integer", "return 42", nil, nil, "42"},
		{"float truncates", "return 3.99", nil, nil, "3"},
		{"true", "return true", nil, nil, "1"},
		{"false", "return false", nil, nil, "(nil)"},
		{"nil", "return nil", nil, nil, "(nil)"},
		{"keys and argv", "return KEYS[1] .. ':' .. ARGV[1]", b("user"), b("123"), "user:123"},
		{"array", "return {1, 'two', {3}}", nil, nil, "[1, two, [3]]"},
		{"array stops at nil", "return {1, nil, 3}", nil, nil, "[1]"},
		{"status table", "return {ok='FINE'}", nil, nil, "FINE"},
		{"status helper", "return redis.status_reply('DONE')", nil, nil, "DONE"},
		{"error helper", "return redis.error_reply('ERR custom')", nil, nil, "ERR custom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Eval(tt.script, tt.keys, tt.args)
			if got.String() != tt.want {
				t.Errorf("Eval(%q) = %q, want %q", tt.script, got.String(), tt.want)
			}
		})
	}
}

func TestRedisCall(t *testing.T) {
	exec := newMapExecutor()
	engine := NewEngine(exec)

	got := engine.Eval("redis.call('SET', KEYS[1], ARGV[1]); return redis.call('GET', KEYS[1])", b("k"), b("v"))
	if got.String() != "v" {
		t.Errorf("result = %q, want v", got.String())
	}
	if exec.data["k"] != "v" {
		t.Errorf("SET not applied through executor")
	}

	got = engine.Eval("return redis.call('GET', 'missing')", nil, nil)
	if !got.IsNull {
		t.Errorf("GET missing = %v, want null", got)
	}

	got = engine.Eval("return redis.call('GET', 'missing') == false", nil, nil)
	if got.Int() != 1 {
		t.Errorf("nil reply should be false in Lua, got %v", got)
	}

	got = engine.Eval("return redis.call('LRANGE', 'l', 0, -1)", nil, nil)
	if got.String() != "[a, b]" {
		t.Errorf("LRANGE = %q", got.String())
	}

	got = engine.Eval("return redis.call('SET', 'n', 10)", nil, nil)
	if got.String() != "OK" || exec.data["n"] != "10" {
		t.Errorf("numeric argument: reply %q, stored %q", got.String(), exec.data["n"])
	}
}

func TestRedisCallErrors(t *testing.T) {
	engine := NewEngine(newMapExecutor())

	got := engine.Eval("return redis.call('INCR', 'k')", nil, nil)
	if !got.IsError() || got.Error() != "ERR value is not an integer or out of range" {
		t.Errorf("call error = %q", got.String())
	}

	got = engine.Eval("local r = redis.pcall('INCR', 'k'); return r.err", nil, nil)
	if got.String() != "ERR value is not an integer or out of range" {
		t.Errorf("pcall error = %q", got.String())
	}

	got = engine.Eval("return redis.call()", nil, nil)
	if !got.IsError() || !strings.Contains(got.Error(), "at least one argument") {
		t.Errorf("empty call = %q", got.String())
	}

	got = engine.Eval("return redis.call('GET', {})", nil, nil)
	if !got.IsError() || !strings.Contains(got.Error(), "must be strings or integers") {
		t.Errorf("table argument = %q", got.String())
	}
}

func TestScriptErrors(t *testing.T) {
	engine := NewEngine(newMapExecutor())

	got := engine.Eval("return (", nil, nil)
	if !got.IsError() || !strings.HasPrefix(got.Error(), "ERR Error compiling script") {
		t.Errorf("syntax error = %q", got.String())
	}

	got = engine.Eval("error('boom')", nil, nil)
	if !got.IsError() || !strings.HasPrefix(got.Error(), "ERR Error running script") {
		t.Errorf("runtime error = %q", got.String())
	}
	if strings.ContainsAny(got.Error(), "\r\n") {
		t.Errorf("error reply contains line breaks: %q", got.Error())
	}

	got = engine.Eval("return dofile('/etc/passwd')", nil, nil)
	if !got.IsError() {
		t.Errorf("dofile should be unavailable, got %q", got.String())
	}
}

func TestScriptTimeout(t *testing.T) {
	engine := NewEngine(newMapExecutor())
	engine.SetTimeout(50 * time.Millisecond)

	start := time.Now()
	got := engine.Eval("while true do end", nil, nil)
	if !got.IsError() {
		t.Fatalf("endless script returned %q", got.String())
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout not enforced, took %v", time.Since(start))
	}
}

func TestScriptCache(t *testing.T) {
	engine := NewEngine(newMapExecutor())

	sha := engine.LoadScript("return 'cached'")
	if len(sha) != 40 {
		t.Fatalf("sha = %q", sha)
	}

	if got := engine.EvalSHA(sha, nil, nil); got.String() != "cached" {
		t.Errorf("EvalSHA = %q", got.String())
	}
	if got := engine.EvalSHA(strings.ToUpper(sha), nil, nil); got.String() != "cached" {
		t.Errorf("EvalSHA upper-case = %q", got.String())
	}

	exists := engine.ScriptExists([]string{sha, "0000000000000000000000000000000000000000"})
	if !exists[0] || exists[1] {
		t.Errorf("ScriptExists = %v", exists)
	}

	// EVAL caches as well.
	engine.Eval("return 1", nil, nil)
	evalSHA := engine.LoadScript("return 1")
	if !engine.ScriptExists([]string{evalSHA})[0] {
		t.Error("EVAL did not cache script")
	}

	engine.ScriptFlush()
	got := engine.EvalSHA(sha, nil, nil)
	if !got.IsError() || !strings.HasPrefix(got.Error(), "NOSCRIPT") {
		t.Errorf("EvalSHA after flush = %q", got.String())
	}
}
