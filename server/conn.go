package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raniellyferreira/stormdb/protocol"
	"github.com/raniellyferreira/stormdb/pubsub"
	"github.com/raniellyferreira/stormdb/replication"
)

// Client is one connected session
type Client struct {
	id     uint64
	server *Server
	conn   net.Conn
	addr   string
	reader *protocol.Reader

	// wmu serializes the reply path and the pub/sub relay.
	wmu    sync.Mutex
	writer *protocol.Writer

	// Session state, owned by the session goroutine
	authenticated bool
	name          string
	listeningPort int
	quit          bool
	handoff       *replicaHandoff

	sub atomic.Pointer[pubsub.Subscriber]

	createdAt time.Time
	lastCmd   atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// replicaHandoff carries a PSYNC result out of the dispatcher; the session
// stops serving commands and streams to the replica instead.
type replicaHandoff struct {
	replica *replication.Replica
	offset  int64
	payload []byte
	// live skips the full sync and sends only frames fed after attach.
	live bool
}

func newClient(s *Server, conn net.Conn) *Client {
	ctx, cancel := context.WithCancel(s.ctx)
	now := time.Now()
	c := &Client{
		id:            s.nextID.Add(1),
		server:        s,
		conn:          conn,
		addr:          conn.RemoteAddr().String(),
		reader:        protocol.NewReader(conn),
		writer:        protocol.NewWriter(conn),
		authenticated: s.password == "",
		createdAt:     now,
		ctx:           ctx,
		cancel:        cancel,
	}
	c.lastCmd.Store(now.UnixNano())
	return c
}

// Close closes the connection and drops its subscriptions
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.conn.Close()
		if sub := c.sub.Load(); sub != nil {
			sub.Close()
		}
		c.server.removeClient(c)
	})
}

// serve is the session loop
func (c *Client) serve() {
	defer c.Close()

	for {
		v, err := c.reader.ReadNext()
		if err != nil {
			c.readFailed(err)
			return
		}

		cmd, err := protocol.ParseCommand(v)
		if err != nil {
			c.readFailed(err)
			return
		}
		c.lastCmd.Store(time.Now().UnixNano())

		reply := c.execute(cmd.Argv())
		if reply.Type != 0 {
			c.write(reply)
		}

		switch {
		case c.quit:
			c.flush()
			return
		case c.handoff != nil:
			c.flush()
			c.serveReplica(c.handoff)
			return
		case c.reader.Buffered() == 0:
			// Pipelined requests share one flush.
			if err := c.flush(); err != nil {
				return
			}
		}
	}
}

func (c *Client) readFailed(err error) {
	var fe *protocol.FrameError
	if errors.As(err, &fe) {
		c.server.logger.Debug("protocol error, closing connection", "remote", c.addr, "error", fe.Error())
		c.write(protocol.ErrorValue("ERR Protocol error: " + fe.Reason))
		c.flush()
	}
}

// execute dispatches one request and, for writes, waits until the log
// writer has taken every effect it produced.
func (c *Client) execute(args [][]byte) protocol.Value {
	s := c.server
	reply := s.dispatch(c, originClient, args)

	cmd := lookupCommand(args[0])
	if cmd == nil || cmd.flags&(flagWrite|flagMayWrite) == 0 || s.log == nil {
		return reply
	}
	if err := s.log.Barrier(c.ctx); err != nil {
		if c.ctx.Err() != nil {
			return reply
		}
		return misconfReply(err)
	}
	return reply
}

func (c *Client) write(v protocol.Value) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.writer.WriteValue(v)
}

func (c *Client) flush() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.writer.Flush()
}

// subscriber returns the session's subscriber, creating it and its relay
// goroutine on first use.
func (c *Client) subscriber() *pubsub.Subscriber {
	if sub := c.sub.Load(); sub != nil {
		return sub
	}
	sub := c.server.broker.NewSubscriber()
	c.sub.Store(sub)

	c.server.wg.Add(1)
	go func() {
		defer c.server.wg.Done()
		c.relay(sub)
	}()
	return sub
}

// subscribed reports whether the session is in subscribe mode
func (c *Client) subscribed() bool {
	sub := c.sub.Load()
	return sub != nil && sub.Count() > 0
}

// relay writes published messages to the connection
func (c *Client) relay(sub *pubsub.Subscriber) {
	messageKind := protocol.BulkString("message")
	for {
		select {
		case msg := <-sub.Messages():
			c.wmu.Lock()
			for {
				c.writer.WriteValue(protocol.Array(messageKind, protocol.BulkString(msg.Channel), protocol.Bulk(msg.Payload)))
				select {
				case msg = <-sub.Messages():
					continue
				default:
				}
				break
			}
			err := c.writer.Flush()
			c.wmu.Unlock()
			if err != nil {
				c.Close()
				return
			}

		case <-sub.Done():
			// Closed by the broker on overflow, or by Close.
			if c.ctx.Err() == nil {
				c.server.logger.Info("subscriber too slow, disconnecting", "remote", c.addr)
			}
			c.Close()
			return

		case <-c.ctx.Done():
			return
		}
	}
}

// serveReplica turns the connection into a replication stream. Input from
// the replica is read and discarded only to notice the disconnect.
func (c *Client) serveReplica(h *replicaHandoff) {
	go func() {
		for {
			if _, err := c.reader.ReadNext(); err != nil {
				c.cancel()
				return
			}
		}
	}()

	var err error
	if h.live {
		err = c.server.master.Stream(c.ctx, c.conn, h.replica)
	} else {
		err = c.server.master.Serve(c.ctx, c.conn, h.replica, h.offset, h.payload)
	}
	if err != nil && c.ctx.Err() == nil {
		c.server.logger.Error("replica stream ended", "remote", c.addr, "error", err)
	}
}
