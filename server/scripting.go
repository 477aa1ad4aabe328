package server

import (
	"bytes"
	"strconv"

	"github.com/raniellyferreira/stormdb/protocol"
)

// scriptArgs splits EVAL-style arguments into keys and argv
func scriptArgs(args [][]byte) (keys, argv [][]byte, reply protocol.Value, ok bool) {
	numKeys, err := strconv.Atoi(string(args[2]))
	if err != nil {
		return nil, nil, errNotInteger, false
	}
	if numKeys < 0 {
		return nil, nil, protocol.ErrorValue("ERR Number of keys can't be negative"), false
	}
	if numKeys > len(args)-3 {
		return nil, nil, protocol.ErrorValue("ERR Number of keys can't be greater than number of args"), false
	}
	return args[3 : 3+numKeys], args[3+numKeys:], protocol.Value{}, true
}

func cmdEval(s *Server, _ *Client, args [][]byte) protocol.Value {
	keys, argv, reply, ok := scriptArgs(args)
	if !ok {
		return reply
	}
	return s.lua.Eval(string(args[1]), keys, argv)
}

func cmdEvalSHA(s *Server, _ *Client, args [][]byte) protocol.Value {
	keys, argv, reply, ok := scriptArgs(args)
	if !ok {
		return reply
	}
	return s.lua.EvalSHA(string(args[1]), keys, argv)
}

// cmdScript implements SCRIPT LOAD, EXISTS and FLUSH
func cmdScript(s *Server, _ *Client, args [][]byte) protocol.Value {
	switch sub := string(bytes.ToUpper(args[1])); sub {
	case "LOAD":
		if len(args) != 3 {
			return protocol.ErrorValue("ERR wrong number of arguments for 'script|load' command")
		}
		return protocol.BulkString(s.lua.LoadScript(string(args[2])))

	case "EXISTS":
		if len(args) < 3 {
			return protocol.ErrorValue("ERR wrong number of arguments for 'script|exists' command")
		}
		results := s.lua.ScriptExists(keyStrings(args[2:]))
		items := make([]protocol.Value, len(results))
		for i, exists := range results {
			if exists {
				items[i] = protocol.Integer(1)
			} else {
				items[i] = protocol.Integer(0)
			}
		}
		return protocol.Array(items...)

	case "FLUSH":
		s.lua.ScriptFlush()
		return protocol.OK

	default:
		return protocol.Errorf("ERR unknown subcommand '%s'. Try SCRIPT HELP.", args[1])
	}
}
