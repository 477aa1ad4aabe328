// Package storage implements the keyspace: a fixed set of shards, each a
// map guarded by its own RWMutex, holding string and list values with
// optional absolute expiry.
//
// Basic usage:
//
//	store := storage.NewMemory()
//	defer store.Close()
//
//	store.Set("key", []byte("value"), storage.SetOptions{})
//	value, ok, err := store.Get("key")
//
// Expired entries behave as absent on every path and are removed either
// on access or by a background reaper that samples each shard. Every
// mutation, including expiry removals, is reported to an optional
// Recorder while the key's shard is locked; the append-only log and the
// replication stream are built from those reports.
package storage
