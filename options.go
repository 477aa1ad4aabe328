package stormdb

import (
	"time"

	"github.com/raniellyferreira/stormdb/aof"
	"github.com/raniellyferreira/stormdb/pubsub"
	"github.com/raniellyferreira/stormdb/replication"
	"github.com/raniellyferreira/stormdb/server"
	"github.com/raniellyferreira/stormdb/storage"
)

// config holds the configuration for a Node
type config struct {
	// Listener settings
	addr       string
	password   string
	maxClients int

	// Persistence
	aofPath     string
	fsyncPolicy aof.FsyncPolicy
	fsyncEvery  int

	// Replication
	replicaOf         string
	masterAuth        string
	replicaBacklog    int
	heartbeatInterval time.Duration
	backoffMin        time.Duration
	backoffMax        time.Duration
	replicaTimeout    time.Duration

	// Keyspace
	shardCount     int
	cleanup        storage.CleanupConfig
	reaperInterval time.Duration

	// Pub/Sub
	pubsubBuffer   int
	pubsubOverflow pubsub.OverflowPolicy

	// Observability
	logger Logger
}

// defaultConfig returns a configuration with sensible defaults
func defaultConfig() *config {
	return &config{
		addr:              "127.0.0.1:6399",
		maxClients:        server.DefaultMaxClients,
		fsyncPolicy:       aof.FsyncEverySec,
		fsyncEvery:        100,
		replicaBacklog:    replication.DefaultBacklog,
		heartbeatInterval: replication.DefaultHeartbeat,
		backoffMin:        time.Second,
		backoffMax:        30 * time.Second,
		cleanup:           storage.CleanupConfigDefault,
		reaperInterval:    100 * time.Millisecond,
		pubsubBuffer:      pubsub.DefaultBufferSize,
		pubsubOverflow:    pubsub.DropOldest,
		logger:            &defaultLogger{},
	}
}

// Option represents a configuration option for a Node
type Option func(*config) error

// WithAddr sets the TCP address the node listens on
//
// Example:
//
//	WithAddr("127.0.0.1:6399")
//	WithAddr(":0") // pick a free port
func WithAddr(addr string) Option {
	return func(c *config) error {
		if addr == "" {
			return ErrInvalidConfig
		}
		c.addr = addr
		return nil
	}
}

// WithPassword requires clients to AUTH before issuing commands
func WithPassword(password string) Option {
	return func(c *config) error {
		c.password = password
		return nil
	}
}

// WithMaxClients limits the number of simultaneous client connections
func WithMaxClients(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return ErrInvalidConfig
		}
		c.maxClients = n
		return nil
	}
}

// WithAOF enables the append-only file at path. The log is replayed at
// startup before the node accepts connections.
//
// Example:
//
//	WithAOF("/var/lib/stormdb/appendonly.aof")
func WithAOF(path string) Option {
	return func(c *config) error {
		if path == "" {
			return ErrInvalidConfig
		}
		c.aofPath = path
		return nil
	}
}

// WithFsyncPolicy sets when the append-only file is fsynced
//
// Example:
//
//	WithFsyncPolicy(aof.FsyncAlways)
func WithFsyncPolicy(policy aof.FsyncPolicy) Option {
	return func(c *config) error {
		switch policy {
		case aof.FsyncAlways, aof.FsyncEveryN, aof.FsyncEverySec, aof.FsyncNo:
			c.fsyncPolicy = policy
			return nil
		}
		return ErrInvalidConfig
	}
}

// WithFsyncEvery sets N for the every-N-records fsync policy
func WithFsyncEvery(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return ErrInvalidConfig
		}
		c.fsyncEvery = n
		return nil
	}
}

// WithReplicaOf makes the node follow the master at addr ("host:port")
// once started. The node refuses client writes while it is a replica.
func WithReplicaOf(addr string) Option {
	return func(c *config) error {
		if addr == "" {
			return &ConnectionError{Addr: addr, Err: ErrInvalidConfig}
		}
		c.replicaOf = addr
		return nil
	}
}

// WithMasterAuth sets the password sent to the master during the handshake
func WithMasterAuth(password string) Option {
	return func(c *config) error {
		c.masterAuth = password
		return nil
	}
}

// WithReplicaBacklog bounds the number of frames queued per replica. A
// replica that falls further behind is disconnected and resyncs.
func WithReplicaBacklog(frames int) Option {
	return func(c *config) error {
		if frames <= 0 {
			return ErrInvalidConfig
		}
		c.replicaBacklog = frames
		return nil
	}
}

// WithHeartbeatInterval sets how often the master pings idle replicas
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(c *config) error {
		if interval <= 0 {
			return ErrInvalidConfig
		}
		c.heartbeatInterval = interval
		return nil
	}
}

// WithReconnectBackoff sets the replica link's reconnect delay bounds. The
// delay doubles after each failure up to limit.
//
// Example:
//
//	WithReconnectBackoff(500*time.Millisecond, 10*time.Second)
func WithReconnectBackoff(initial, limit time.Duration) Option {
	return func(c *config) error {
		if initial <= 0 || limit < initial {
			return ErrInvalidConfig
		}
		c.backoffMin = initial
		c.backoffMax = limit
		return nil
	}
}

// WithReplicaReadTimeout sets how long the replica link waits for data
// from the master before reconnecting. It should exceed the master's
// heartbeat interval.
func WithReplicaReadTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.replicaTimeout = timeout
		return nil
	}
}

// WithShardCount sets the number of keyspace shards, rounded up to a power of 2
func WithShardCount(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return ErrInvalidConfig
		}
		c.shardCount = n
		return nil
	}
}

// WithCleanupConfig sets the expiry reaper's sampling parameters
//
// Example:
//
//	WithCleanupConfig(storage.CleanupConfigLargeDataset)
func WithCleanupConfig(cfg storage.CleanupConfig) Option {
	return func(c *config) error {
		if !cfg.Validate() {
			return ErrInvalidConfig
		}
		c.cleanup = cfg
		return nil
	}
}

// WithReaperInterval sets how often the expiry reaper runs
func WithReaperInterval(interval time.Duration) Option {
	return func(c *config) error {
		if interval <= 0 {
			return ErrInvalidConfig
		}
		c.reaperInterval = interval
		return nil
	}
}

// WithPubSubBuffer sets the per-subscriber message queue size
func WithPubSubBuffer(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return ErrInvalidConfig
		}
		c.pubsubBuffer = n
		return nil
	}
}

// WithPubSubOverflow sets what happens when a subscriber queue is full
func WithPubSubOverflow(policy pubsub.OverflowPolicy) Option {
	return func(c *config) error {
		switch policy {
		case pubsub.DropOldest, pubsub.Disconnect:
			c.pubsubOverflow = policy
			return nil
		}
		return ErrInvalidConfig
	}
}

// WithLogger sets a custom logger for the node
//
// Example:
//
//	WithLogger(myCustomLogger)
func WithLogger(logger Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return ErrInvalidConfig
		}
		c.logger = logger
		return nil
	}
}
