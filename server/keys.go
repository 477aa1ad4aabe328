package server

import (
	"bytes"
	"math"
	"strconv"
	"time"

	"github.com/raniellyferreira/stormdb/protocol"
)

func keyStrings(args [][]byte) []string {
	keys := make([]string, len(args))
	for i, arg := range args {
		keys[i] = string(arg)
	}
	return keys
}

func cmdDel(s *Server, _ *Client, args [][]byte) protocol.Value {
	return protocol.Integer(s.store.Del(keyStrings(args[1:])...))
}

func cmdExists(s *Server, _ *Client, args [][]byte) protocol.Value {
	return protocol.Integer(s.store.Exists(keyStrings(args[1:])...))
}

func cmdType(s *Server, _ *Client, args [][]byte) protocol.Value {
	return protocol.SimpleString(s.store.Type(string(args[1])).String())
}

func cmdKeys(s *Server, _ *Client, args [][]byte) protocol.Value {
	keys := s.store.Keys(string(args[1]))
	items := make([]protocol.Value, len(keys))
	for i, key := range keys {
		items[i] = protocol.BulkString(key)
	}
	return protocol.Array(items...)
}

func cmdDBSize(s *Server, _ *Client, _ [][]byte) protocol.Value {
	return protocol.Integer(s.store.KeyCount())
}

func cmdTTL(s *Server, _ *Client, args [][]byte) protocol.Value {
	ttl := s.store.TTL(string(args[1]))
	if ttl < 0 {
		return protocol.Integer(int64(ttl))
	}
	return protocol.Integer(int64((ttl + 500*time.Millisecond) / time.Second))
}

func cmdPTTL(s *Server, _ *Client, args [][]byte) protocol.Value {
	ttl := s.store.TTL(string(args[1]))
	if ttl < 0 {
		return protocol.Integer(int64(ttl))
	}
	return protocol.Integer(ttl.Milliseconds())
}

func cmdExpire(s *Server, _ *Client, args [][]byte) protocol.Value {
	return expire(s, args, func(n int64) time.Time { return time.Now().Add(time.Duration(n) * time.Second) }, int64(time.Second))
}

func cmdPExpire(s *Server, _ *Client, args [][]byte) protocol.Value {
	return expire(s, args, func(n int64) time.Time { return time.Now().Add(time.Duration(n) * time.Millisecond) }, int64(time.Millisecond))
}

func cmdExpireAt(s *Server, _ *Client, args [][]byte) protocol.Value {
	return expire(s, args, func(n int64) time.Time { return time.Unix(n, 0) }, 1000)
}

func cmdPExpireAt(s *Server, _ *Client, args [][]byte) protocol.Value {
	return expire(s, args, time.UnixMilli, 1)
}

// expire parses the time argument, scaled by unit for the overflow check,
// and applies it. A time in the past deletes the key.
func expire(s *Server, args [][]byte, at func(int64) time.Time, unit int64) protocol.Value {
	n, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil {
		return errNotInteger
	}
	if n > math.MaxInt64/unit || n < -math.MaxInt64/unit {
		return protocol.Errorf("ERR invalid expire time in '%s' command", bytes.ToLower(args[0]))
	}
	if s.store.ExpireAt(string(args[1]), at(n)) {
		return protocol.Integer(1)
	}
	return protocol.Integer(0)
}

func cmdPersist(s *Server, _ *Client, args [][]byte) protocol.Value {
	if s.store.Persist(string(args[1])) {
		return protocol.Integer(1)
	}
	return protocol.Integer(0)
}

// cmdFlushAll accepts and ignores the ASYNC and SYNC modifiers
func cmdFlushAll(s *Server, _ *Client, args [][]byte) protocol.Value {
	if len(args) > 2 {
		return errSyntax
	}
	if len(args) == 2 {
		mode := string(bytes.ToUpper(args[1]))
		if mode != "ASYNC" && mode != "SYNC" {
			return errSyntax
		}
	}
	s.store.FlushAll()
	return protocol.OK
}
