package storage

import (
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Command names used when reporting effects to the Recorder.
var (
	cmdSet       = []byte("SET")
	cmdDel       = []byte("DEL")
	cmdLPush     = []byte("LPUSH")
	cmdRPush     = []byte("RPUSH")
	cmdLPop      = []byte("LPOP")
	cmdRPop      = []byte("RPOP")
	cmdPExpireAt = []byte("PEXPIREAT")
	cmdPersist   = []byte("PERSIST")
	cmdFlushAll  = []byte("FLUSHALL")
	argPXAT      = []byte("PXAT")
)

// shard represents a single shard of data with its own lock
type shard struct {
	mu   sync.RWMutex
	data map[string]*Value
}

// MemoryStorage is the sharded in-memory keyspace. Byte slices it returns
// are shared with the store and must not be modified.
type MemoryStorage struct {
	shards    []shard
	shardMask uint64

	recorder atomic.Pointer[recorderRef]
	now      func() time.Time

	// Background cleanup
	cleanupMu       sync.RWMutex
	cleanupConfig   CleanupConfig
	cleanupInterval time.Duration
	cleanupStop     chan struct{}
	cleanupDone     chan struct{}
	closeOnce       sync.Once

	// reapMu serialises cleanup passes.
	reapMu      sync.Mutex
	sampledKeys atomic.Int64

	expiredKeys atomic.Int64
}

type recorderRef struct {
	r Recorder
}

// MemoryOption is a function that configures a MemoryStorage instance
type MemoryOption func(*MemoryStorage)

// WithShardCount sets the number of shards, rounded up to a power of 2.
func WithShardCount(count int) MemoryOption {
	return func(s *MemoryStorage) {
		if count > 0 {
			n := nextPowerOf2(count)
			s.shards = make([]shard, n)
			s.shardMask = uint64(n - 1)
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStorage) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCleanupConfig sets the sampling parameters of the expiry reaper.
func WithCleanupConfig(config CleanupConfig) MemoryOption {
	return func(s *MemoryStorage) {
		if config.Validate() {
			s.cleanupConfig = config
		}
	}
}

// WithCleanupInterval sets how often the expiry reaper runs.
func WithCleanupInterval(interval time.Duration) MemoryOption {
	return func(s *MemoryStorage) {
		if interval > 0 {
			s.cleanupInterval = interval
		}
	}
}

// NewMemory creates a keyspace with 64 shards and starts its expiry reaper.
func NewMemory(opts ...MemoryOption) *MemoryStorage {
	s := &MemoryStorage{
		shards:          make([]shard, 64),
		shardMask:       63,
		now:             time.Now,
		cleanupConfig:   CleanupConfigDefault,
		cleanupInterval: 100 * time.Millisecond,
		cleanupStop:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	for i := range s.shards {
		s.shards[i].data = make(map[string]*Value)
	}

	go s.cleanupExpiredKeys()

	return s
}

// nextPowerOf2 returns the next power of 2 >= n
func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// keyHash computes the hash for a key and returns the shard index
func (s *MemoryStorage) keyHash(key string) uint64 {
	return xxhash.Sum64String(key) & s.shardMask
}

func (s *MemoryStorage) shardFor(key string) *shard {
	return &s.shards[s.keyHash(key)]
}

// SetRecorder installs the sink for mutation effects. Passing nil stops
// recording, which is how log replay avoids re-appending what it reads.
func (s *MemoryStorage) SetRecorder(r Recorder) {
	if r == nil {
		s.recorder.Store(nil)
		return
	}
	s.recorder.Store(&recorderRef{r: r})
}

func (s *MemoryStorage) record(args ...[]byte) {
	if ref := s.recorder.Load(); ref != nil {
		ref.r.Record(args)
	}
}

func (s *MemoryStorage) recordSet(key string, data []byte, expiry *time.Time) {
	if expiry == nil {
		s.record(cmdSet, []byte(key), data)
		return
	}
	s.record(cmdSet, []byte(key), data, argPXAT, strconv.AppendInt(nil, expiry.UnixMilli(), 10))
}

// liveLocked returns the entry for key, removing it first if it has
// expired. The caller holds sh.mu for writing.
func (s *MemoryStorage) liveLocked(sh *shard, key string, now time.Time) *Value {
	v, ok := sh.data[key]
	if !ok {
		return nil
	}
	if v.IsExpired(now) {
		delete(sh.data, key)
		s.expiredKeys.Add(1)
		s.record(cmdDel, []byte(key))
		return nil
	}
	return v
}

// readLive returns the entry for key under a read lock, resolving lazy
// expiry. fn runs with the shard read-locked.
func (s *MemoryStorage) readLive(key string, fn func(v *Value)) {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.RLock()
	v, ok := sh.data[key]
	if ok && v.IsExpired(now) {
		sh.mu.RUnlock()
		s.deleteExpiredKey(key)
		fn(nil)
		return
	}
	fn(v)
	sh.mu.RUnlock()
}

// Get returns the string stored at key.
func (s *MemoryStorage) Get(key string) ([]byte, bool, error) {
	var (
		data   []byte
		exists bool
		err    error
	)
	s.readLive(key, func(v *Value) {
		switch {
		case v == nil:
		case v.Type != ValueTypeString:
			err = ErrWrongType
		default:
			data, exists = v.str().Data, true
		}
	})
	return data, exists, err
}

// Set stores a string at key, replacing any value of any type. It returns
// false when the condition in opts refused the write.
func (s *MemoryStorage) Set(key string, value []byte, opts SetOptions) bool {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	existing := s.liveLocked(sh, key, now)
	switch opts.Condition {
	case IfAbsent:
		if existing != nil {
			return false
		}
	case IfPresent:
		if existing == nil {
			return false
		}
	}

	entry := &Value{
		Type: ValueTypeString,
		Data: &StringValue{Data: append([]byte(nil), value...)},
	}
	if opts.ExpireAt != nil {
		at := *opts.ExpireAt
		entry.Expiry = &at
	}
	sh.data[key] = entry
	s.recordSet(key, entry.str().Data, entry.Expiry)
	return true
}

// IncrBy adds delta to the integer stored at key, treating a missing key
// as 0. The key keeps its expiry.
func (s *MemoryStorage) IncrBy(key string, delta int64) (int64, error) {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	var (
		current int64
		expiry  *time.Time
	)
	if existing := s.liveLocked(sh, key, now); existing != nil {
		if existing.Type != ValueTypeString {
			return 0, ErrWrongType
		}
		n, err := parseCounter(existing.str().Data)
		if err != nil {
			return 0, ErrNotInteger
		}
		current, expiry = n, existing.Expiry
	}

	if (delta > 0 && current > math.MaxInt64-delta) || (delta < 0 && current < math.MinInt64-delta) {
		return 0, ErrNotInteger
	}
	next := current + delta

	data := strconv.AppendInt(nil, next, 10)
	sh.data[key] = &Value{Type: ValueTypeString, Data: &StringValue{Data: data}, Expiry: expiry}
	s.recordSet(key, data, expiry)
	return next, nil
}

// parseCounter accepts only canonical base-10 integers: no sign prefix
// other than '-', no spaces.
func parseCounter(b []byte) (int64, error) {
	if len(b) == 0 || len(b) > 20 || b[0] == '+' || b[0] == ' ' {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(string(b), 10, 64)
}

// Del removes keys and returns how many of them existed.
func (s *MemoryStorage) Del(keys ...string) int64 {
	now := s.now()
	deleted := int64(0)

	// Group keys by shard so each shard is locked once and reported as one DEL.
	keysByShard := make(map[uint64][]string)
	for _, key := range keys {
		idx := s.keyHash(key)
		keysByShard[idx] = append(keysByShard[idx], key)
	}

	for idx, shardKeys := range keysByShard {
		sh := &s.shards[idx]
		sh.mu.Lock()
		args := [][]byte{cmdDel}
		for _, key := range shardKeys {
			v, ok := sh.data[key]
			if !ok {
				continue
			}
			delete(sh.data, key)
			if v.IsExpired(now) {
				s.expiredKeys.Add(1)
			} else {
				deleted++
			}
			args = append(args, []byte(key))
		}
		if len(args) > 1 {
			s.record(args...)
		}
		sh.mu.Unlock()
	}

	return deleted
}

// Exists counts the keys that exist; a key named twice counts twice.
func (s *MemoryStorage) Exists(keys ...string) int64 {
	now := s.now()
	count := int64(0)

	keysByShard := make(map[uint64][]string)
	for _, key := range keys {
		idx := s.keyHash(key)
		keysByShard[idx] = append(keysByShard[idx], key)
	}

	for idx, shardKeys := range keysByShard {
		sh := &s.shards[idx]
		sh.mu.RLock()
		for _, key := range shardKeys {
			if v, ok := sh.data[key]; ok && !v.IsExpired(now) {
				count++
			}
		}
		sh.mu.RUnlock()
	}

	return count
}

// Type returns the type of the value at key, ValueTypeNone if absent.
func (s *MemoryStorage) Type(key string) ValueType {
	t := ValueTypeNone
	s.readLive(key, func(v *Value) {
		if v != nil {
			t = v.Type
		}
	})
	return t
}

// Keys returns all live keys matching a glob pattern.
func (s *MemoryStorage) Keys(pattern string) []string {
	now := s.now()
	keys := make([]string, 0)
	matchAll := pattern == "*"

	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for key, v := range sh.data {
			if v.IsExpired(now) {
				continue
			}
			if matchAll || MatchPattern(pattern, key) {
				keys = append(keys, key)
			}
		}
		sh.mu.RUnlock()
	}
	return keys
}

// KeyCount returns the number of stored keys, including expired keys the
// reaper has not removed yet.
func (s *MemoryStorage) KeyCount() int64 {
	count := int64(0)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		count += int64(len(sh.data))
		sh.mu.RUnlock()
	}
	return count
}

// FlushAll removes every key. All shards are locked for the duration so
// the flush is ordered against every other recorded mutation.
func (s *MemoryStorage) FlushAll() {
	for i := range s.shards {
		s.shards[i].mu.Lock()
	}
	for i := range s.shards {
		s.shards[i].data = make(map[string]*Value)
	}
	s.record(cmdFlushAll)
	for i := range s.shards {
		s.shards[i].mu.Unlock()
	}
}

// ExpireAt sets an absolute expiry on an existing key. A time that has
// already passed deletes the key.
func (s *MemoryStorage) ExpireAt(key string, at time.Time) bool {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	v := s.liveLocked(sh, key, now)
	if v == nil {
		return false
	}
	if !at.After(now) {
		delete(sh.data, key)
		s.record(cmdDel, []byte(key))
		return true
	}
	v.Expiry = &at
	s.record(cmdPExpireAt, []byte(key), strconv.AppendInt(nil, at.UnixMilli(), 10))
	return true
}

// Persist removes the expiry of key. It returns false if the key is
// missing or had no expiry.
func (s *MemoryStorage) Persist(key string) bool {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	v := s.liveLocked(sh, key, now)
	if v == nil || v.Expiry == nil {
		return false
	}
	v.Expiry = nil
	s.record(cmdPersist, []byte(key))
	return true
}

// TTL returns the remaining lifetime of key, or TTLKeyMissing /
// TTLNoExpiry.
func (s *MemoryStorage) TTL(key string) time.Duration {
	ttl := TTLKeyMissing
	now := s.now()
	s.readLive(key, func(v *Value) {
		switch {
		case v == nil:
		case v.Expiry == nil:
			ttl = TTLNoExpiry
		default:
			ttl = v.Expiry.Sub(now)
			if ttl < 0 {
				ttl = 0
			}
		}
	})
	return ttl
}

// Info returns storage information
func (s *MemoryStorage) Info() map[string]interface{} {
	now := s.now()
	keys, expires := int64(0), int64(0)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		keys += int64(len(sh.data))
		for _, v := range sh.data {
			if v.Expiry != nil && !v.IsExpired(now) {
				expires++
			}
		}
		sh.mu.RUnlock()
	}

	return map[string]interface{}{
		"keys":         keys,
		"expires":      expires,
		"expired_keys": s.expiredKeys.Load(),
		"shards":       len(s.shards),
	}
}

// Close stops the expiry reaper.
func (s *MemoryStorage) Close() error {
	s.closeOnce.Do(func() {
		close(s.cleanupStop)
		<-s.cleanupDone
	})
	return nil
}

// deleteExpiredKey removes key if it is still expired once the write lock
// is held.
func (s *MemoryStorage) deleteExpiredKey(key string) {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if v, ok := sh.data[key]; ok && v.IsExpired(now) {
		delete(sh.data, key)
		s.expiredKeys.Add(1)
		s.record(cmdDel, []byte(key))
	}
}
