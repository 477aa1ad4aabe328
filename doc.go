// Package stormdb provides an in-memory key-value server that speaks the
// Redis serialization protocol (RESP).
//
// A Node holds a sharded keyspace of strings and lists with per-key expiry,
// serves it over TCP, fans published messages out to subscribers, and can
// persist every write to an append-only file. Nodes replicate: a replica
// loads a full copy of its master's keyspace, then applies the live stream
// of writes and refuses writes from its own clients.
//
// Basic usage:
//
//	node, err := stormdb.New(
//		stormdb.WithAddr(":6399"),
//		stormdb.WithAOF("appendonly.aof"),
//		stormdb.WithFsyncPolicy(aof.FsyncEverySec),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer node.Close()
//
//	if err := node.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
// Following a master:
//
//	replica, err := stormdb.New(
//		stormdb.WithAddr(":6400"),
//		stormdb.WithReplicaOf("localhost:6399"),
//	)
//	...
//	if err := replica.WaitForSync(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// Any Redis client library can talk to a node. The supported commands
// cover strings (GET, SET, INCR, ...), lists (LPUSH, LPOP, LRANGE, ...),
// expiry, pub/sub, Lua scripting and replication (REPLICAOF, PSYNC).
package stormdb
