package aof

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/raniellyferreira/stormdb/protocol"
)

// Applier executes one replayed command against the keyspace.
type Applier interface {
	Apply(cmd *protocol.Command) error
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(cmd *protocol.Command) error

// Apply calls f(cmd)
func (f ApplierFunc) Apply(cmd *protocol.Command) error {
	return f(cmd)
}

// ReplayResult summarizes a replay.
type ReplayResult struct {
	Commands  int
	Bytes     int64
	Truncated int64 // bytes of partial trailing record removed
}

// Replay feeds every record of the log at path to app in order. A missing
// file is an empty log. A partial record at the end of the file, the trace
// of a crash mid-append, is truncated away; anything else unreadable stops
// replay with a *ReplayError.
func Replay(path string, app Applier) (ReplayResult, error) {
	var res ReplayResult

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("aof: open %s: %w", path, err)
	}
	defer f.Close()

	rd := protocol.NewReader(f)
	for {
		offset := rd.Consumed()
		v, err := rd.ReadNext()
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			res.Truncated, err = truncateTail(path, offset)
			if err != nil {
				return res, err
			}
			break
		}
		if err != nil {
			return res, &ReplayError{Offset: offset, Err: err}
		}

		cmd, err := protocol.ParseCommand(v)
		if err != nil {
			return res, &ReplayError{Offset: offset, Err: err}
		}
		if err := app.Apply(cmd); err != nil {
			return res, &ReplayError{Offset: offset, Err: fmt.Errorf("%s: %w", cmd.Name, err)}
		}
		res.Commands++
	}

	res.Bytes = rd.Consumed()
	return res, nil
}

func truncateTail(path string, size int64) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("aof: stat %s: %w", path, err)
	}
	if err := os.Truncate(path, size); err != nil {
		return 0, fmt.Errorf("aof: truncate %s: %w", path, err)
	}
	return info.Size() - size, nil
}
