// Package aof implements the append-only log: every applied write is
// appended as a RESP-encoded command by a single writer goroutine, and the
// log is replayed into an empty keyspace at startup.
//
// Records use exactly the framing clients send on the wire, so a log can be
// inspected with any RESP tool and replayed through the normal command path.
package aof

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FsyncPolicy controls when appended data is forced to stable storage.
type FsyncPolicy int

const (
	// FsyncAlways fsyncs before a write is acknowledged.
	FsyncAlways FsyncPolicy = iota
	// FsyncEveryN fsyncs after every N appended records.
	FsyncEveryN
	// FsyncEverySec fsyncs once per interval from the writer goroutine.
	FsyncEverySec
	// FsyncNo leaves flushing to the operating system.
	FsyncNo
)

// String returns the configuration name of the policy
func (p FsyncPolicy) String() string {
	switch p {
	case FsyncAlways:
		return "always"
	case FsyncEveryN:
		return "everyn"
	case FsyncEverySec:
		return "everysec"
	case FsyncNo:
		return "no"
	default:
		return "unknown"
	}
}

// ParseFsyncPolicy parses "always", "everysec", "no" or "everyn".
func ParseFsyncPolicy(s string) (FsyncPolicy, error) {
	switch strings.ToLower(s) {
	case "always":
		return FsyncAlways, nil
	case "everysec":
		return FsyncEverySec, nil
	case "no":
		return FsyncNo, nil
	case "everyn":
		return FsyncEveryN, nil
	default:
		return 0, fmt.Errorf("unknown fsync policy %q (want always, everysec, everyn or no)", s)
	}
}

// ErrClosed is returned for appends after Close.
var ErrClosed = errors.New("aof: writer closed")

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

// Config configures a Writer.
type Config struct {
	// Path of the log file. It is created if missing.
	Path string

	Policy FsyncPolicy

	// EveryN is the record count between fsyncs under FsyncEveryN.
	EveryN int

	// Interval is the fsync period under FsyncEverySec.
	Interval time.Duration

	// QueueSize bounds records waiting for the writer goroutine.
	QueueSize int

	Logger Logger
}

func (c *Config) applyDefaults() {
	if c.EveryN <= 0 {
		c.EveryN = 100
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.Logger == nil {
		c.Logger = nopLogger{}
	}
}

// ReplayError reports a log that is corrupt before its final record.
type ReplayError struct {
	Offset int64
	Err    error
}

// Error implements the error interface
func (e *ReplayError) Error() string {
	return "aof replay failed at offset " + strconv.FormatInt(e.Offset, 10) + ": " + e.Err.Error()
}

// Unwrap returns the wrapped error
func (e *ReplayError) Unwrap() error {
	return e.Err
}
