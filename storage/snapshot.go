package storage

import (
	"strconv"
	"time"
)

// rewriteChunk bounds the elements per RPUSH when a list is rebuilt.
const rewriteChunk = 1024

// View is a read-only, consistent image of the keyspace, valid only inside
// the Snapshot callback.
type View struct {
	s   *MemoryStorage
	now time.Time
}

// Snapshot read-locks every shard, in index order, and calls fn. No
// mutation can be applied or recorded while fn runs, so whatever fn does
// (such as registering a replica) is ordered exactly between two recorded
// effects. fn must not call back into the storage.
func (s *MemoryStorage) Snapshot(fn func(view *View) error) error {
	for i := range s.shards {
		s.shards[i].mu.RLock()
	}
	defer func() {
		for i := range s.shards {
			s.shards[i].mu.RUnlock()
		}
	}()

	return fn(&View{s: s, now: s.now()})
}

// ForEach calls fn for each live entry.
func (v *View) ForEach(fn func(key string, value *Value) error) error {
	for i := range v.s.shards {
		for key, value := range v.s.shards[i].data {
			if value.IsExpired(v.now) {
				continue
			}
			if err := fn(key, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Commands emits the commands that rebuild the live keyspace from empty,
// in the same form the Recorder receives.
func (v *View) Commands(fn func(args [][]byte) error) error {
	return v.ForEach(func(key string, value *Value) error {
		switch value.Type {
		case ValueTypeString:
			args := [][]byte{cmdSet, []byte(key), value.str().Data}
			if value.Expiry != nil {
				args = append(args, argPXAT, strconv.AppendInt(nil, value.Expiry.UnixMilli(), 10))
			}
			return fn(args)

		case ValueTypeList:
			elements := value.list().Elements()
			for start := 0; start < len(elements); start += rewriteChunk {
				end := min(start+rewriteChunk, len(elements))
				args := make([][]byte, 0, end-start+2)
				args = append(args, cmdRPush, []byte(key))
				args = append(args, elements[start:end]...)
				if err := fn(args); err != nil {
					return err
				}
			}
			if value.Expiry != nil {
				return fn([][]byte{cmdPExpireAt, []byte(key), strconv.AppendInt(nil, value.Expiry.UnixMilli(), 10)})
			}
		}
		return nil
	})
}
