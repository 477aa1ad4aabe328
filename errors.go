package stormdb

import (
	"errors"
	"fmt"

	"github.com/raniellyferreira/stormdb/aof"
	"github.com/raniellyferreira/stormdb/replication"
)

// Error types for specific failure scenarios
var (
	// ErrInvalidConfig indicates invalid configuration options
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrClosed indicates the node has been closed
	ErrClosed = errors.New("node is closed")

	// ErrNotStarted indicates an operation that needs a running node
	ErrNotStarted = errors.New("node is not started")

	// ErrNotReplica indicates a replica-only operation on a master
	ErrNotReplica = errors.New("node is not a replica")
)

// ReplayError reports an append-only file that cannot be loaded. Offset
// is the byte position of the first record that failed.
type ReplayError = aof.ReplayError

// SyncError represents a synchronization error with the phase it failed in
type SyncError = replication.SyncError

// ConnectionError represents a connection-related error
type ConnectionError struct {
	Addr string
	Err  error
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error to %s: %v", e.Addr, e.Err)
}

// Unwrap returns the wrapped error
func (e *ConnectionError) Unwrap() error {
	return e.Err
}
