package storage

import (
	"runtime"
	"time"
)

// SetCleanupConfig updates the cleanup configuration
func (s *MemoryStorage) SetCleanupConfig(config CleanupConfig) {
	if !config.Validate() {
		return
	}
	s.cleanupMu.Lock()
	defer s.cleanupMu.Unlock()
	s.cleanupConfig = config
}

// GetCleanupConfig returns the current cleanup configuration
func (s *MemoryStorage) GetCleanupConfig() CleanupConfig {
	s.cleanupMu.RLock()
	defer s.cleanupMu.RUnlock()
	return s.cleanupConfig
}

// cleanupExpiredKeys runs in background to clean up expired keys
func (s *MemoryStorage) cleanupExpiredKeys() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cleanupStop:
			return
		case <-ticker.C:
			s.ReapExpired()
		}
	}
}

// ReapExpired runs one sampled cleanup pass over every shard and returns
// the number of keys removed. Each removal is reported to the Recorder as
// a DEL, exactly like a client delete.
func (s *MemoryStorage) ReapExpired() int {
	s.reapMu.Lock()
	defer s.reapMu.Unlock()

	config := s.GetCleanupConfig()
	removed := 0
	for i := range s.shards {
		removed += s.cleanupShard(&s.shards[i], config)
	}
	return removed
}

// cleanupShard performs incremental cleanup on a single shard
func (s *MemoryStorage) cleanupShard(sh *shard, config CleanupConfig) int {
	removed := 0
	for round := 0; round < config.MaxRounds; round++ {
		expiredKeys := s.sampleExpired(sh, config.SampleSize)
		if len(expiredKeys) == 0 {
			break
		}

		for i := 0; i < len(expiredKeys); i += config.BatchSize {
			end := min(i+config.BatchSize, len(expiredKeys))
			removed += s.deleteKeyBatch(sh, expiredKeys[i:end])
			if end < len(expiredKeys) {
				runtime.Gosched()
			}
		}

		// Keep going only while the sample suggests many keys are expired.
		if float64(len(expiredKeys))/float64(config.SampleSize) < config.ExpiredThreshold {
			break
		}
		runtime.Gosched()
	}
	return removed
}

// sampleExpired looks at the first sampleSize keys of a shard and returns
// the expired ones. Map iteration order is already random, so the walk
// stops as soon as the sample is full.
func (s *MemoryStorage) sampleExpired(sh *shard, sampleSize int) []string {
	now := s.now()

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	var expired []string
	visited := 0
	for key, v := range sh.data {
		if visited == sampleSize {
			break
		}
		visited++
		if v.IsExpired(now) {
			expired = append(expired, key)
		}
	}
	s.sampledKeys.Add(int64(visited))
	return expired
}

// deleteKeyBatch deletes keys that are still expired under the write lock
// and reports them as one DEL.
func (s *MemoryStorage) deleteKeyBatch(sh *shard, keys []string) int {
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	args := [][]byte{cmdDel}
	for _, key := range keys {
		if v, ok := sh.data[key]; ok && v.IsExpired(now) {
			delete(sh.data, key)
			args = append(args, []byte(key))
		}
	}
	if n := len(args) - 1; n > 0 {
		s.expiredKeys.Add(int64(n))
		s.record(args...)
		return n
	}
	return 0
}
