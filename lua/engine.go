package lua

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/raniellyferreira/stormdb/protocol"
	lua "github.com/yuin/gopher-lua"
)

// DefaultTimeout bounds the run time of a single script.
const DefaultTimeout = 5 * time.Second

// Executor runs one command on behalf of a script and returns its reply.
type Executor interface {
	Exec(args [][]byte) protocol.Value
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(args [][]byte) protocol.Value

// Exec calls f(args)
func (f ExecutorFunc) Exec(args [][]byte) protocol.Value {
	return f(args)
}

// Engine runs scripts and caches them by SHA1.
type Engine struct {
	exec    Executor
	timeout time.Duration
	scripts sync.Map // SHA1 hex -> script source
}

// NewEngine creates a scripting engine whose redis.call goes to exec
func NewEngine(exec Executor) *Engine {
	return &Engine{
		exec:    exec,
		timeout: DefaultTimeout,
	}
}

// SetTimeout changes the per-script time limit. Zero disables it.
func (e *Engine) SetTimeout(d time.Duration) {
	e.timeout = d
}

// Eval runs script and returns its result as a reply. The script is cached
// so a later EVALSHA finds it.
func (e *Engine) Eval(script string, keys, args [][]byte) protocol.Value {
	e.LoadScript(script)
	return e.run(script, keys, args)
}

// EvalSHA runs a previously loaded script
func (e *Engine) EvalSHA(sha string, keys, args [][]byte) protocol.Value {
	script, ok := e.scripts.Load(strings.ToLower(sha))
	if !ok {
		return protocol.ErrorValue("NOSCRIPT No matching script. Please use EVAL.")
	}
	return e.run(script.(string), keys, args)
}

// LoadScript caches script and returns its SHA1 hex digest
func (e *Engine) LoadScript(script string) string {
	sum := sha1.Sum([]byte(script))
	hash := hex.EncodeToString(sum[:])
	e.scripts.Store(hash, script)
	return hash
}

// ScriptExists reports which of hashes are cached
func (e *Engine) ScriptExists(hashes []string) []bool {
	results := make([]bool, len(hashes))
	for i, hash := range hashes {
		_, results[i] = e.scripts.Load(strings.ToLower(hash))
	}
	return results
}

// ScriptFlush removes all cached scripts
func (e *Engine) ScriptFlush() {
	e.scripts.Range(func(key, _ interface{}) bool {
		e.scripts.Delete(key)
		return true
	})
}

func (e *Engine) run(script string, keys, args [][]byte) protocol.Value {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	openLibs(L)

	if e.timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		L.SetContext(ctx)
	}

	L.SetGlobal("KEYS", stringTable(L, keys))
	L.SetGlobal("ARGV", stringTable(L, args))

	redis := L.NewTable()
	L.SetFuncs(redis, map[string]lua.LGFunction{
		"call":         e.redisCall,
		"pcall":        e.redisPCall,
		"status_reply": statusReply,
		"error_reply":  errorReply,
	})
	L.SetGlobal("redis", redis)

	fn, err := L.LoadString(script)
	if err != nil {
		return protocol.ErrorValue("ERR Error compiling script: " + err.Error())
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		msg := err.Error()
		if apiErr, ok := err.(*lua.ApiError); ok {
			msg = apiErr.Object.String()
		}
		if isReplyError(msg) {
			return protocol.ErrorValue(msg)
		}
		return protocol.ErrorValue("ERR Error running script: " + msg)
	}
	return toReply(L.Get(-1))
}

func openLibs(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	// Scripts must not reach the filesystem through the base library.
	for _, name := range []string{"dofile", "loadfile"} {
		L.SetGlobal(name, lua.LNil)
	}
}

func stringTable(L *lua.LState, items [][]byte) *lua.LTable {
	t := L.CreateTable(len(items), 0)
	for i, item := range items {
		t.RawSetInt(i+1, lua.LString(item))
	}
	return t
}

// redisCall raises script errors for error replies
func (e *Engine) redisCall(L *lua.LState) int {
	reply, ok := e.call(L)
	if !ok {
		return 0
	}
	if reply.IsError() {
		L.Error(lua.LString(reply.Error()), 0)
		return 0
	}
	L.Push(toLua(L, reply))
	return 1
}

// redisPCall returns error replies as {err=...} tables
func (e *Engine) redisPCall(L *lua.LState) int {
	reply, ok := e.call(L)
	if !ok {
		return 0
	}
	L.Push(toLua(L, reply))
	return 1
}

func (e *Engine) call(L *lua.LState) (protocol.Value, bool) {
	argc := L.GetTop()
	if argc == 0 {
		L.RaiseError("Please specify at least one argument for this redis lib call")
		return protocol.Value{}, false
	}

	args := make([][]byte, argc)
	for i := 1; i <= argc; i++ {
		switch v := L.Get(i).(type) {
		case lua.LString:
			args[i-1] = []byte(v)
		case lua.LNumber:
			args[i-1] = []byte(v.String())
		default:
			L.RaiseError("Lua redis lib command arguments must be strings or integers")
			return protocol.Value{}, false
		}
	}
	return e.exec.Exec(args), true
}

func statusReply(L *lua.LState) int {
	t := L.NewTable()
	t.RawSetString("ok", lua.LString(L.CheckString(1)))
	L.Push(t)
	return 1
}

func errorReply(L *lua.LState) int {
	t := L.NewTable()
	t.RawSetString("err", lua.LString(L.CheckString(1)))
	L.Push(t)
	return 1
}

// toLua converts a reply into the Lua value a script sees.
func toLua(L *lua.LState, v protocol.Value) lua.LValue {
	switch v.Type {
	case protocol.TypeInteger:
		return lua.LNumber(v.Integer)
	case protocol.TypeSimpleString:
		t := L.NewTable()
		t.RawSetString("ok", lua.LString(v.Data))
		return t
	case protocol.TypeError:
		t := L.NewTable()
		t.RawSetString("err", lua.LString(v.Data))
		return t
	case protocol.TypeArray:
		if v.IsNull {
			return lua.LFalse
		}
		t := L.CreateTable(len(v.Array), 0)
		for i, item := range v.Array {
			t.RawSetInt(i+1, toLua(L, item))
		}
		return t
	default:
		if v.IsNull {
			return lua.LFalse
		}
		return lua.LString(v.Data)
	}
}

// toReply converts a script result into a reply.
func toReply(lv lua.LValue) protocol.Value {
	switch v := lv.(type) {
	case lua.LString:
		return protocol.BulkString(string(v))
	case lua.LNumber:
		return protocol.Integer(int64(v))
	case lua.LBool:
		if v {
			return protocol.Integer(1)
		}
		return protocol.NullBulk()
	case *lua.LTable:
		if errMsg, ok := v.RawGetString("err").(lua.LString); ok {
			return protocol.ErrorValue(string(errMsg))
		}
		if status, ok := v.RawGetString("ok").(lua.LString); ok {
			return protocol.SimpleString(string(status))
		}
		// Arrays end at the first nil.
		var items []protocol.Value
		for i := 1; ; i++ {
			item := v.RawGetInt(i)
			if item == lua.LNil {
				break
			}
			items = append(items, toReply(item))
		}
		return protocol.Array(items...)
	default:
		return protocol.NullBulk()
	}
}

// isReplyError reports whether msg already carries an error code such as
// "WRONGTYPE" or "ERR", as redis.call failures do.
func isReplyError(msg string) bool {
	code, _, _ := strings.Cut(msg, " ")
	if code == "" {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
