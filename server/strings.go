package server

import (
	"bytes"
	"math"
	"strconv"
	"time"

	"github.com/raniellyferreira/stormdb/protocol"
	"github.com/raniellyferreira/stormdb/storage"
)

func cmdGet(s *Server, _ *Client, args [][]byte) protocol.Value {
	value, ok, err := s.store.Get(string(args[1]))
	if err != nil {
		return errorReply(err)
	}
	if !ok {
		return protocol.NullBulk()
	}
	return protocol.Bulk(value)
}

// cmdSet implements SET key value [NX|XX] [EX s|PX ms|EXAT s|PXAT ms]
func cmdSet(s *Server, _ *Client, args [][]byte) protocol.Value {
	opts, reply, ok := parseSetOptions(args[3:], time.Now())
	if !ok {
		return reply
	}
	if !s.store.Set(string(args[1]), args[2], opts) {
		return protocol.NullBulk()
	}
	return protocol.OK
}

func parseSetOptions(options [][]byte, now time.Time) (storage.SetOptions, protocol.Value, bool) {
	var (
		opts      storage.SetOptions
		condition bool
	)

	for i := 0; i < len(options); i++ {
		switch opt := string(bytes.ToUpper(options[i])); opt {
		case "NX", "XX":
			if condition {
				return opts, errSyntax, false
			}
			condition = true
			opts.Condition = storage.IfAbsent
			if opt == "XX" {
				opts.Condition = storage.IfPresent
			}

		case "EX", "PX", "EXAT", "PXAT":
			if opts.ExpireAt != nil || i+1 >= len(options) {
				return opts, errSyntax, false
			}
			i++
			n, err := strconv.ParseInt(string(options[i]), 10, 64)
			if err != nil {
				return opts, errNotInteger, false
			}
			at, ok := expiryTime(opt, n, now)
			if !ok {
				return opts, protocol.ErrorValue("ERR invalid expire time in 'set' command"), false
			}
			opts.ExpireAt = &at

		default:
			return opts, errSyntax, false
		}
	}
	return opts, protocol.Value{}, true
}

// expiryTime converts a relative or absolute expiry argument to a time.
// SET rejects non-positive values.
func expiryTime(unit string, n int64, now time.Time) (time.Time, bool) {
	if n <= 0 {
		return time.Time{}, false
	}
	switch unit {
	case "EX":
		if n > math.MaxInt64/int64(time.Second) {
			return time.Time{}, false
		}
		return now.Add(time.Duration(n) * time.Second), true
	case "PX":
		if n > math.MaxInt64/int64(time.Millisecond) {
			return time.Time{}, false
		}
		return now.Add(time.Duration(n) * time.Millisecond), true
	case "EXAT":
		if n > math.MaxInt64/1000 {
			return time.Time{}, false
		}
		return time.UnixMilli(n * 1000), true
	default:
		return time.UnixMilli(n), true
	}
}

func cmdIncr(s *Server, _ *Client, args [][]byte) protocol.Value {
	return incrBy(s, args[1], 1)
}

func cmdDecr(s *Server, _ *Client, args [][]byte) protocol.Value {
	return incrBy(s, args[1], -1)
}

func cmdIncrBy(s *Server, _ *Client, args [][]byte) protocol.Value {
	delta, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil {
		return errNotInteger
	}
	return incrBy(s, args[1], delta)
}

func cmdDecrBy(s *Server, _ *Client, args [][]byte) protocol.Value {
	delta, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil {
		return errNotInteger
	}
	if delta == math.MinInt64 {
		return protocol.ErrorValue("ERR decrement would overflow")
	}
	return incrBy(s, args[1], -delta)
}

func incrBy(s *Server, key []byte, delta int64) protocol.Value {
	n, err := s.store.IncrBy(string(key), delta)
	if err != nil {
		return errorReply(err)
	}
	return protocol.Integer(n)
}
