// Package replication implements both ends of master/replica replication.
//
// On the master, a Master fans the ordered stream of applied effects out to
// every attached replica through a bounded per-replica queue. A replica
// that falls too far behind is disconnected rather than allowed to stall
// the writers; it reconnects and resynchronizes.
//
// On the replica, a Client connects to the master, performs the handshake,
// loads the full sync payload and then applies the live command stream,
// reconnecting with exponential backoff when the link drops.
//
// Wire flow:
//
//	replica -> PING, [AUTH], REPLCONF listening-port <port>, PSYNC ? -1
//	master  -> +FULLRESYNC <replid> <offset>
//	master  -> $<len>\r\n<keyspace as RESP commands>   (no trailing CRLF)
//	master  -> live commands, PING on idle links
//
// Basic usage on the replica side:
//
//	client := replication.NewClient("localhost:6399", applier)
//	client.Start(ctx)
//	defer client.Stop()
package replication

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
