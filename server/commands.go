package server

import (
	"bytes"
	"strings"

	"github.com/raniellyferreira/stormdb/protocol"
)

type origin int

const (
	originClient origin = iota
	originScript
	// originMaster covers the replica link and log replay.
	originMaster
)

type cmdFlags uint

const (
	flagWrite    cmdFlags = 1 << iota // mutates the keyspace
	flagMayWrite                      // runs other commands that may write
	flagNoAuth                        // allowed before AUTH
	flagPubSub                        // allowed in subscribe mode
	flagSession                       // needs a client connection
)

type handlerFunc func(s *Server, c *Client, args [][]byte) protocol.Value

type command struct {
	name    string
	arity   int // exact count including the name; negative means at least -arity
	flags   cmdFlags
	handler handlerFunc
}

var commandTable map[string]*command

func init() {
	commands := []*command{
		// connection
		{"PING", -1, flagPubSub, cmdPing},
		{"ECHO", 2, 0, cmdEcho},
		{"QUIT", -1, flagNoAuth | flagPubSub | flagSession, cmdQuit},
		{"AUTH", -2, flagNoAuth | flagSession, cmdAuth},
		{"SELECT", 2, 0, cmdSelect},
		{"CLIENT", -2, flagSession, cmdClient},
		{"COMMAND", -1, 0, cmdCommand},

		// strings
		{"GET", 2, 0, cmdGet},
		{"SET", -3, flagWrite, cmdSet},
		{"INCR", 2, flagWrite, cmdIncr},
		{"DECR", 2, flagWrite, cmdDecr},
		{"INCRBY", 3, flagWrite, cmdIncrBy},
		{"DECRBY", 3, flagWrite, cmdDecrBy},

		// keys
		{"DEL", -2, flagWrite, cmdDel},
		{"EXISTS", -2, 0, cmdExists},
		{"TYPE", 2, 0, cmdType},
		{"KEYS", 2, 0, cmdKeys},
		{"DBSIZE", 1, 0, cmdDBSize},
		{"TTL", 2, 0, cmdTTL},
		{"PTTL", 2, 0, cmdPTTL},
		{"EXPIRE", 3, flagWrite, cmdExpire},
		{"PEXPIRE", 3, flagWrite, cmdPExpire},
		{"EXPIREAT", 3, flagWrite, cmdExpireAt},
		{"PEXPIREAT", 3, flagWrite, cmdPExpireAt},
		{"PERSIST", 2, flagWrite, cmdPersist},
		{"FLUSHALL", -1, flagWrite, cmdFlushAll},
		{"FLUSHDB", -1, flagWrite, cmdFlushAll},

		// lists
		{"LPUSH", -3, flagWrite, cmdLPush},
		{"RPUSH", -3, flagWrite, cmdRPush},
		{"LPOP", -2, flagWrite, cmdLPop},
		{"RPOP", -2, flagWrite, cmdRPop},
		{"LRANGE", 4, 0, cmdLRange},
		{"LLEN", 2, 0, cmdLLen},

		// pub/sub
		{"SUBSCRIBE", -2, flagPubSub | flagSession, cmdSubscribe},
		{"UNSUBSCRIBE", -1, flagPubSub | flagSession, cmdUnsubscribe},
		{"PUBLISH", 3, 0, cmdPublish},

		// server
		{"INFO", -1, 0, cmdInfo},
		{"ROLE", 1, 0, cmdRole},
		{"BGREWRITEAOF", 1, flagSession, cmdBGRewriteAOF},

		// replication
		{"REPLICAOF", 3, flagSession, cmdReplicaOf},
		{"SLAVEOF", 3, flagSession, cmdReplicaOf},
		{"REPLCONF", -1, flagSession, cmdReplConf},
		{"PSYNC", 3, flagSession, cmdPSync},
		{"SYNC", 1, flagSession, cmdPSync},

		// scripting
		{"EVAL", -3, flagMayWrite | flagSession, cmdEval},
		{"EVALSHA", -3, flagMayWrite | flagSession, cmdEvalSHA},
		{"SCRIPT", -2, flagSession, cmdScript},
	}

	commandTable = make(map[string]*command, len(commands))
	for _, cmd := range commands {
		commandTable[cmd.name] = cmd
	}
}

func lookupCommand(name []byte) *command {
	if cmd, ok := commandTable[string(name)]; ok {
		return cmd
	}
	return commandTable[string(bytes.ToUpper(name))]
}

// noReply tells the session that the handler wrote its own replies.
var noReply protocol.Value

// Reply texts shared by several handlers
var (
	errSyntax       = protocol.ErrorValue("ERR syntax error")
	errNotInteger   = protocol.ErrorValue("ERR value is not an integer or out of range")
	errNoAuth       = protocol.ErrorValue("NOAUTH Authentication required.")
	errReadOnly     = protocol.ErrorValue("READONLY You can't write against a read only replica.")
	errSubscribed   = protocol.ErrorValue("ERR only SUBSCRIBE / UNSUBSCRIBE / PING / QUIT are allowed in this context")
	errScriptDenied = protocol.ErrorValue("ERR This Redis command is not allowed from script")
)

func misconfReply(err error) protocol.Value {
	return protocol.ErrorValue("MISCONF Errors writing to the AOF file: " + err.Error())
}

func errorReply(err error) protocol.Value {
	return protocol.ErrorValue(err.Error())
}

// dispatch resolves and runs one command. It always returns exactly one
// reply, except noReply from handlers that wrote to the session directly.
func (s *Server) dispatch(c *Client, from origin, args [][]byte) protocol.Value {
	s.commandCount.Add(1)
	reply := s.call(c, from, args)
	if reply.IsError() {
		s.errorCount.Add(1)
	}
	return reply
}

func (s *Server) call(c *Client, from origin, args [][]byte) protocol.Value {
	if len(args) == 0 {
		return protocol.ErrorValue("ERR empty command")
	}

	cmd := lookupCommand(args[0])
	if cmd == nil {
		return protocol.Errorf("ERR unknown command '%s'", args[0])
	}
	if (cmd.arity > 0 && len(args) != cmd.arity) || (cmd.arity < 0 && len(args) < -cmd.arity) {
		return protocol.Errorf("ERR wrong number of arguments for '%s' command", strings.ToLower(cmd.name))
	}

	switch from {
	case originClient:
		if !c.authenticated && cmd.flags&flagNoAuth == 0 {
			return errNoAuth
		}
		if c.subscribed() && cmd.flags&flagPubSub == 0 {
			return errSubscribed
		}
	case originScript:
		if cmd.flags&flagSession != 0 {
			return errScriptDenied
		}
	case originMaster:
		if cmd.flags&flagSession != 0 {
			return protocol.Errorf("ERR '%s' cannot be replicated", cmd.name)
		}
	}

	if cmd.flags&flagWrite != 0 && from != originMaster {
		if s.IsReplica() {
			return errReadOnly
		}
		if s.log != nil {
			if err := s.log.Err(); err != nil {
				return misconfReply(err)
			}
		}
	}

	return cmd.handler(s, c, args)
}

func lower(name []byte) string {
	return strings.ToLower(string(name))
}
