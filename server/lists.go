package server

import (
	"strconv"

	"github.com/raniellyferreira/stormdb/protocol"
	"github.com/raniellyferreira/stormdb/storage"
)

func cmdLPush(s *Server, _ *Client, args [][]byte) protocol.Value {
	return push(s, storage.Left, args)
}

func cmdRPush(s *Server, _ *Client, args [][]byte) protocol.Value {
	return push(s, storage.Right, args)
}

func push(s *Server, side storage.Side, args [][]byte) protocol.Value {
	n, err := s.store.Push(string(args[1]), side, args[2:]...)
	if err != nil {
		return errorReply(err)
	}
	return protocol.Integer(n)
}

func cmdLPop(s *Server, _ *Client, args [][]byte) protocol.Value {
	return pop(s, storage.Left, args)
}

func cmdRPop(s *Server, _ *Client, args [][]byte) protocol.Value {
	return pop(s, storage.Right, args)
}

// pop implements LPOP/RPOP key [count]. Without a count the reply is a
// single bulk string; with one it is an array, null when the key is absent.
func pop(s *Server, side storage.Side, args [][]byte) protocol.Value {
	if len(args) > 3 {
		return protocol.Errorf("ERR wrong number of arguments for '%s' command", lower(args[0]))
	}

	count, withCount := 1, len(args) == 3
	if withCount {
		n, err := strconv.Atoi(string(args[2]))
		if err != nil || n < 0 {
			return protocol.ErrorValue("ERR value is out of range, must be positive")
		}
		count = n
	}

	items, exists, err := s.store.Pop(string(args[1]), side, count)
	if err != nil {
		return errorReply(err)
	}

	if !withCount {
		if !exists || len(items) == 0 {
			return protocol.NullBulk()
		}
		return protocol.Bulk(items[0])
	}
	if !exists {
		return protocol.NullArray()
	}
	return protocol.BulkArray(items)
}

func cmdLRange(s *Server, _ *Client, args [][]byte) protocol.Value {
	start, err1 := strconv.ParseInt(string(args[2]), 10, 64)
	stop, err2 := strconv.ParseInt(string(args[3]), 10, 64)
	if err1 != nil || err2 != nil {
		return errNotInteger
	}

	items, err := s.store.Range(string(args[1]), start, stop)
	if err != nil {
		return errorReply(err)
	}
	return protocol.BulkArray(items)
}

func cmdLLen(s *Server, _ *Client, args [][]byte) protocol.Value {
	n, err := s.store.Len(string(args[1]))
	if err != nil {
		return errorReply(err)
	}
	return protocol.Integer(n)
}
