// Package server accepts client connections and executes commands against
// the keyspace, the pub/sub broker and the replication master.
//
// Each connection runs its own session goroutine that reads RESP requests,
// dispatches them through the command table and writes exactly one reply
// per request (subscribe mode aside). Replies are flushed only when no
// further pipelined request is buffered.
//
// Every mutation reaches the append-only log and the replicas through the
// storage Recorder installed with Recorder(); writes are acknowledged only
// once the log writer has taken them.
//
// The server is compatible with clients such as github.com/redis/go-redis.
package server
