package storage

import "time"

// Storage is the keyspace as seen by the command layer.
type Storage interface {
	// String operations
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte, opts SetOptions) bool
	IncrBy(key string, delta int64) (int64, error)

	// List operations
	Push(key string, side Side, values ...[]byte) (int64, error)
	Pop(key string, side Side, count int) ([][]byte, bool, error)
	Range(key string, start, stop int64) ([][]byte, error)
	Len(key string) (int64, error)

	// Generic key operations
	Del(keys ...string) int64
	Exists(keys ...string) int64
	Type(key string) ValueType
	Keys(pattern string) []string
	KeyCount() int64
	FlushAll()

	// Expiration operations
	ExpireAt(key string, at time.Time) bool
	Persist(key string) bool
	TTL(key string) time.Duration

	// Consistent view used by full sync and log rewrite
	Snapshot(fn func(view *View) error) error

	// Info and stats
	Info() map[string]interface{}

	// Shutdown
	Close() error
}

// Recorder receives the effect of every applied mutation as a command
// argument vector (for example SET k v PXAT ms, or DEL k). Calls for a key
// are made while that key's shard is locked, so they arrive in the order
// the mutations were applied. Record must not call back into the storage.
type Recorder interface {
	Record(args [][]byte)
}

// Condition restricts when Set writes.
type Condition int

const (
	// Always writes unconditionally.
	Always Condition = iota
	// IfAbsent writes only when the key does not exist (NX).
	IfAbsent
	// IfPresent writes only when the key exists (XX).
	IfPresent
)

// SetOptions controls Set.
type SetOptions struct {
	Condition Condition
	// ExpireAt is the absolute expiry; nil stores the key without one.
	ExpireAt *time.Time
}

// Side selects the end of a list.
type Side int

const (
	Left Side = iota
	Right
)

// TTL results for keys without a remaining lifetime.
const (
	TTLKeyMissing time.Duration = -2
	TTLNoExpiry   time.Duration = -1
)

// CleanupConfig holds configuration for incremental expiry cleanup
type CleanupConfig struct {
	// SampleSize is the number of keys to sample per round
	SampleSize int
	// MaxRounds is the maximum number of rounds per cleanup cycle
	MaxRounds int
	// BatchSize is the number of keys to delete in each batch
	BatchSize int
	// ExpiredThreshold continues cleanup if this fraction of sampled keys are expired
	ExpiredThreshold float64
}

// CleanupConfigDefault provides balanced performance for most use cases
var CleanupConfigDefault = CleanupConfig{
	SampleSize:       20,
	MaxRounds:        4,
	BatchSize:        10,
	ExpiredThreshold: 0.25,
}

// CleanupConfigSmallDataset suits keyspaces below ~10k keys.
var CleanupConfigSmallDataset = CleanupConfig{
	SampleSize:       10,
	MaxRounds:        2,
	BatchSize:        5,
	ExpiredThreshold: 0.5,
}

// CleanupConfigLargeDataset reclaims more aggressively for keyspaces above ~100k keys.
var CleanupConfigLargeDataset = CleanupConfig{
	SampleSize:       50,
	MaxRounds:        8,
	BatchSize:        25,
	ExpiredThreshold: 0.15,
}

// CleanupConfigLowLatency keeps each locked section short.
var CleanupConfigLowLatency = CleanupConfig{
	SampleSize:       15,
	MaxRounds:        3,
	BatchSize:        8,
	ExpiredThreshold: 0.4,
}

// Validate reports whether every field is usable.
func (c CleanupConfig) Validate() bool {
	return c.SampleSize > 0 && c.MaxRounds > 0 && c.BatchSize > 0 &&
		c.ExpiredThreshold >= 0 && c.ExpiredThreshold <= 1
}
