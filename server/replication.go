package server

import (
	"bytes"
	"errors"
	"net"
	"strconv"

	"github.com/raniellyferreira/stormdb/protocol"
	"github.com/raniellyferreira/stormdb/storage"
)

// cmdReplicaOf implements REPLICAOF host port and REPLICAOF NO ONE
func cmdReplicaOf(s *Server, _ *Client, args [][]byte) protocol.Value {
	if bytes.EqualFold(args[1], []byte("NO")) && bytes.EqualFold(args[2], []byte("ONE")) {
		if err := s.ReplicaOf(""); err != nil {
			return protocol.ErrorValue("ERR " + err.Error())
		}
		return protocol.OK
	}

	port, err := strconv.Atoi(string(args[2]))
	if err != nil || port <= 0 || port > 65535 {
		return protocol.ErrorValue("ERR Invalid master port")
	}
	if err := s.ReplicaOf(net.JoinHostPort(string(args[1]), strconv.Itoa(port))); err != nil {
		return protocol.ErrorValue("ERR " + err.Error())
	}
	return protocol.OK
}

// cmdReplConf records the replica's listening port. ACKs get no reply.
func cmdReplConf(_ *Server, c *Client, args [][]byte) protocol.Value {
	if len(args)%2 == 0 {
		return errSyntax
	}
	for i := 1; i < len(args); i += 2 {
		switch string(bytes.ToLower(args[i])) {
		case "listening-port":
			port, err := strconv.Atoi(string(args[i+1]))
			if err != nil {
				return errNotInteger
			}
			c.listeningPort = port
		case "ack":
			return noReply
		}
	}
	return protocol.OK
}

// cmdPSync registers the session as a replica. The replica queue is
// attached under the same consistent view the payload is built from, so
// the live stream continues exactly where the payload ends.
func cmdPSync(s *Server, c *Client, _ [][]byte) protocol.Value {
	h := &replicaHandoff{}
	err := s.store.Snapshot(func(view *storage.View) error {
		h.replica, h.offset = s.master.Attach(c.addr, c.listeningPort)
		return view.Commands(func(args [][]byte) error {
			h.payload = protocol.AppendCommand(h.payload, args...)
			return nil
		})
	})
	if err != nil {
		if h.replica != nil {
			s.master.Detach(h.replica)
		}
		return protocol.ErrorValue("ERR " + err.Error())
	}

	c.handoff = h
	return noReply
}

// RewriteAOF compacts the log to the current keyspace. The snapshot is
// taken synchronously; the writer replaces the file in the background.
func (s *Server) RewriteAOF() error {
	if s.log == nil {
		return errors.New("append only file is disabled")
	}
	if !s.rewriting.CompareAndSwap(false, true) {
		return errors.New("Background append only file rewriting already in progress")
	}

	var (
		result <-chan error
		size   int
	)
	err := s.store.Snapshot(func(view *storage.View) error {
		var buf []byte
		err := view.Commands(func(args [][]byte) error {
			buf = protocol.AppendCommand(buf, args...)
			return nil
		})
		if err != nil {
			return err
		}
		size = len(buf)
		result = s.log.Rewrite(buf)
		return nil
	})
	if err != nil {
		s.rewriting.Store(false)
		return err
	}

	go func() {
		defer s.rewriting.Store(false)
		if err := <-result; err != nil {
			s.logger.Error("aof rewrite failed", "error", err)
			return
		}
		s.logger.Info("aof rewrite finished", "bytes", size)
	}()
	return nil
}
