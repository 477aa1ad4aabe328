package server

import (
	"bytes"
	"crypto/subtle"
	"strconv"

	"github.com/raniellyferreira/stormdb/protocol"
)

// replicaHandshake is the PING payload by which a replica asks for the live
// write stream without a full sync.
var replicaHandshake = []byte("REPLICA_HANDSHAKE")

func cmdPing(s *Server, c *Client, args [][]byte) protocol.Value {
	if len(args) > 2 {
		return protocol.ErrorValue("ERR wrong number of arguments for 'ping' command")
	}
	if c != nil && !c.subscribed() && len(args) == 2 && bytes.Equal(args[1], replicaHandshake) {
		r, offset := s.master.Attach(c.addr, c.listeningPort)
		c.handoff = &replicaHandoff{replica: r, offset: offset, live: true}
		return noReply
	}
	if c != nil && c.subscribed() {
		msg := []byte{}
		if len(args) == 2 {
			msg = args[1]
		}
		return protocol.Array(protocol.BulkString("pong"), protocol.Bulk(msg))
	}
	if len(args) == 2 {
		return protocol.Bulk(args[1])
	}
	return protocol.SimpleString("PONG")
}

func cmdEcho(_ *Server, _ *Client, args [][]byte) protocol.Value {
	return protocol.Bulk(args[1])
}

func cmdQuit(_ *Server, c *Client, _ [][]byte) protocol.Value {
	c.quit = true
	return protocol.OK
}

// cmdAuth accepts AUTH password and AUTH default password
func cmdAuth(s *Server, c *Client, args [][]byte) protocol.Value {
	if len(args) > 3 {
		return errSyntax
	}
	if s.password == "" {
		return protocol.ErrorValue("ERR Client sent AUTH, but no password is set")
	}

	password := args[len(args)-1]
	if len(args) == 3 && string(args[1]) != "default" {
		return protocol.ErrorValue("WRONGPASS invalid username-password pair or user is disabled.")
	}
	if subtle.ConstantTimeCompare(password, []byte(s.password)) != 1 {
		return protocol.ErrorValue("ERR invalid password")
	}
	c.authenticated = true
	return protocol.OK
}

// cmdSelect only knows database 0
func cmdSelect(_ *Server, _ *Client, args [][]byte) protocol.Value {
	db, err := strconv.Atoi(string(args[1]))
	if err != nil {
		return errNotInteger
	}
	if db != 0 {
		return protocol.ErrorValue("ERR DB index is out of range")
	}
	return protocol.OK
}

func cmdClient(_ *Server, c *Client, args [][]byte) protocol.Value {
	switch sub := string(bytes.ToUpper(args[1])); sub {
	case "ID":
		return protocol.Integer(int64(c.id))
	case "SETNAME":
		if len(args) != 3 {
			return protocol.ErrorValue("ERR wrong number of arguments for 'client|setname' command")
		}
		if bytes.ContainsAny(args[2], " \r\n") {
			return protocol.ErrorValue("ERR Client names cannot contain spaces, newlines or special characters.")
		}
		c.name = string(args[2])
		return protocol.OK
	case "GETNAME":
		if c.name == "" {
			return protocol.NullBulk()
		}
		return protocol.BulkString(c.name)
	case "SETINFO":
		return protocol.OK
	default:
		return protocol.Errorf("ERR unknown subcommand '%s'. Try CLIENT HELP.", args[1])
	}
}

// cmdCommand returns no command metadata; client libraries only need a
// well-formed reply.
func cmdCommand(_ *Server, _ *Client, args [][]byte) protocol.Value {
	if len(args) > 1 && string(bytes.ToUpper(args[1])) == "COUNT" {
		return protocol.Integer(int64(len(commandTable)))
	}
	return protocol.Array()
}

func cmdBGRewriteAOF(s *Server, _ *Client, _ [][]byte) protocol.Value {
	if s.log == nil {
		return protocol.ErrorValue("ERR Append only file is disabled")
	}
	if err := s.RewriteAOF(); err != nil {
		return protocol.ErrorValue("ERR " + err.Error())
	}
	return protocol.SimpleString("Background append only file rewriting started")
}
