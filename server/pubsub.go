package server

import (
	"github.com/raniellyferreira/stormdb/protocol"
)

func subscriptionReply(kind string, channel protocol.Value, count int) protocol.Value {
	return protocol.Array(protocol.BulkString(kind), channel, protocol.Integer(int64(count)))
}

// cmdSubscribe writes one confirmation per channel and leaves the session
// in subscribe mode. The write lock is held from registration until the
// confirmation is buffered, so the relay cannot send a message first.
func cmdSubscribe(s *Server, c *Client, args [][]byte) protocol.Value {
	sub := c.subscriber()
	for _, name := range args[1:] {
		c.wmu.Lock()
		count := s.broker.Subscribe(sub, string(name))
		c.writer.WriteValue(subscriptionReply("subscribe", protocol.BulkString(string(name)), count))
		c.wmu.Unlock()
	}
	return noReply
}

// cmdUnsubscribe without arguments leaves every channel.
func cmdUnsubscribe(s *Server, c *Client, args [][]byte) protocol.Value {
	sub := c.sub.Load()

	var names []string
	if len(args) > 1 {
		names = keyStrings(args[1:])
	} else if sub != nil {
		names = sub.Channels()
	}

	if len(names) == 0 {
		return subscriptionReply("unsubscribe", protocol.NullBulk(), 0)
	}

	for _, name := range names {
		count := 0
		if sub != nil {
			count = s.broker.Unsubscribe(sub, name)
		}
		c.write(subscriptionReply("unsubscribe", protocol.BulkString(name), count))
	}
	return noReply
}

func cmdPublish(s *Server, _ *Client, args [][]byte) protocol.Value {
	n := s.prop.publish(args, func() int64 {
		return s.broker.Publish(string(args[1]), args[2])
	})
	return protocol.Integer(n)
}
