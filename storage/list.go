package storage

import "strconv"

// Push inserts values at one end of the list at key, creating it if
// needed, and returns the new length. LPUSH a x y leaves [y x].
func (s *MemoryStorage) Push(key string, side Side, values ...[]byte) (int64, error) {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	var l *ListValue
	switch existing := s.liveLocked(sh, key, now); {
	case existing == nil:
		if len(values) == 0 {
			return 0, nil
		}
		l = &ListValue{}
		sh.data[key] = &Value{Type: ValueTypeList, Data: l}
	case existing.Type != ValueTypeList:
		return 0, ErrWrongType
	default:
		l = existing.list()
	}

	name := cmdRPush
	if side == Left {
		name = cmdLPush
	}
	args := make([][]byte, 0, len(values)+2)
	args = append(args, name, []byte(key))
	for _, v := range values {
		e := append([]byte(nil), v...)
		if side == Left {
			l.PushLeft(e)
		} else {
			l.PushRight(e)
		}
		args = append(args, e)
	}
	if len(values) > 0 {
		s.record(args...)
	}

	return int64(l.Len()), nil
}

// Pop removes up to count elements from one end of the list at key. The
// bool is false when the key does not exist. An emptied list is deleted.
func (s *MemoryStorage) Pop(key string, side Side, count int) ([][]byte, bool, error) {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	existing := s.liveLocked(sh, key, now)
	if existing == nil {
		return nil, false, nil
	}
	if existing.Type != ValueTypeList {
		return nil, false, ErrWrongType
	}

	l := existing.list()
	if count > l.Len() {
		count = l.Len()
	}
	if count <= 0 {
		return [][]byte{}, true, nil
	}

	out := make([][]byte, count)
	for i := range out {
		if side == Left {
			out[i] = l.PopLeft()
		} else {
			out[i] = l.PopRight()
		}
	}
	if l.Len() == 0 {
		delete(sh.data, key)
	}

	name := cmdRPop
	if side == Left {
		name = cmdLPop
	}
	s.record(name, []byte(key), strconv.AppendInt(nil, int64(count), 10))

	return out, true, nil
}

// Range returns the elements between start and stop inclusive. Negative
// indexes count from the tail; out-of-range bounds are clamped.
func (s *MemoryStorage) Range(key string, start, stop int64) ([][]byte, error) {
	var (
		res [][]byte
		err error
	)
	s.readLive(key, func(v *Value) {
		if v == nil {
			return
		}
		if v.Type != ValueTypeList {
			err = ErrWrongType
			return
		}
		l := v.list()
		lo, hi, ok := normalizeRange(start, stop, int64(l.Len()))
		if !ok {
			return
		}
		res = make([][]byte, 0, hi-lo+1)
		for i := lo; i <= hi; i++ {
			res = append(res, l.Index(int(i)))
		}
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = [][]byte{}
	}
	return res, nil
}

// Len returns the length of the list at key, 0 if absent.
func (s *MemoryStorage) Len(key string) (int64, error) {
	var (
		n   int64
		err error
	)
	s.readLive(key, func(v *Value) {
		switch {
		case v == nil:
		case v.Type != ValueTypeList:
			err = ErrWrongType
		default:
			n = int64(v.list().Len())
		}
	})
	return n, err
}

func normalizeRange(start, stop, n int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}
