package stormdb

import (
	"context"
	"errors"
	"sync"

	"github.com/raniellyferreira/stormdb/aof"
	"github.com/raniellyferreira/stormdb/pubsub"
	"github.com/raniellyferreira/stormdb/replication"
	"github.com/raniellyferreira/stormdb/server"
	"github.com/raniellyferreira/stormdb/storage"
)

// Node is a stormdb server: the keyspace, its TCP listener and, when
// configured, its append-only file and replica link.
type Node struct {
	// Configuration
	config *config

	// Components
	store  *storage.MemoryStorage
	broker *pubsub.Broker
	master *replication.Master
	server *server.Server
	log    *aof.Writer

	// State
	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates a Node with the given options
//
// The node is created but not started. Use Start() to load the append-only
// file and begin serving.
//
// Example:
//
//	node, err := stormdb.New(
//		stormdb.WithAddr(":6399"),
//		stormdb.WithAOF("appendonly.aof"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
func New(opts ...Option) (*Node, error) {
	cfg := defaultConfig()

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := &loggerAdapter{logger: cfg.logger}

	storeOpts := []storage.MemoryOption{
		storage.WithCleanupConfig(cfg.cleanup),
		storage.WithCleanupInterval(cfg.reaperInterval),
	}
	if cfg.shardCount > 0 {
		storeOpts = append(storeOpts, storage.WithShardCount(cfg.shardCount))
	}
	store := storage.NewMemory(storeOpts...)

	broker := pubsub.NewBroker(
		pubsub.WithBufferSize(cfg.pubsubBuffer),
		pubsub.WithOverflowPolicy(cfg.pubsubOverflow),
	)
	master := replication.NewMaster(
		replication.WithBacklog(cfg.replicaBacklog),
		replication.WithHeartbeat(cfg.heartbeatInterval),
		replication.WithLogger(logger),
	)

	srv := server.NewServer(cfg.addr, store)
	srv.SetBroker(broker)
	srv.SetMaster(master)
	srv.SetLogger(logger)
	srv.SetPassword(cfg.password)
	srv.SetMasterAuth(cfg.masterAuth)
	srv.SetMaxClients(cfg.maxClients)
	srv.SetVersion(Version)
	srv.SetReplicaOptions(cfg.backoffMin, cfg.backoffMax, cfg.replicaTimeout)

	return &Node{
		config: cfg,
		store:  store,
		broker: broker,
		master: master,
		server: srv,
	}, nil
}

// Start loads the append-only file, if any, then listens for clients and
// follows the configured master.
//
// A log that cannot be loaded yields a *ReplayError and a listener that
// cannot bind a *ConnectionError. Nothing is served in either case.
//
// Example:
//
//	if err := node.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if n.started {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if n.config.aofPath != "" {
		if err := n.loadAOF(); err != nil {
			return err
		}
	}

	// Effects are only recorded once the log has been replayed, so replay
	// does not append to the file it is reading.
	n.store.SetRecorder(n.server.Recorder())

	if err := n.server.Start(); err != nil {
		n.config.logger.Error("Failed to start server", Field{Key: "error", Value: err}, Field{Key: "addr", Value: n.config.addr})
		return &ConnectionError{Addr: n.config.addr, Err: err}
	}

	if n.config.replicaOf != "" {
		if err := n.server.ReplicaOf(n.config.replicaOf); err != nil {
			n.server.Stop()
			return &ConnectionError{Addr: n.config.replicaOf, Err: err}
		}
	}

	n.started = true
	return nil
}

func (n *Node) loadAOF() error {
	res, err := aof.Replay(n.config.aofPath, n.server)
	if err != nil {
		n.config.logger.Error("Failed to load append only file", Field{Key: "path", Value: n.config.aofPath}, Field{Key: "error", Value: err})
		return err
	}
	if res.Truncated > 0 {
		n.config.logger.Info("Truncated partial record at end of append only file",
			Field{Key: "path", Value: n.config.aofPath}, Field{Key: "bytes", Value: res.Truncated})
	}
	n.config.logger.Info("Append only file loaded",
		Field{Key: "commands", Value: res.Commands}, Field{Key: "bytes", Value: res.Bytes})

	w, err := aof.Open(aof.Config{
		Path:   n.config.aofPath,
		Policy: n.config.fsyncPolicy,
		EveryN: n.config.fsyncEvery,
		Logger: &loggerAdapter{logger: n.config.logger},
	})
	if err != nil {
		return err
	}
	n.log = w
	n.server.SetAOF(w)
	return nil
}

// Close gracefully shuts down the node
//
// Client connections and the replica link are closed first, then the
// append-only file is flushed and synced.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	var errs []error
	if err := n.server.Stop(); err != nil {
		n.config.logger.Error("Error stopping server", Field{Key: "error", Value: err})
		errs = append(errs, err)
	}
	if n.log != nil {
		if err := n.log.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := n.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Addr returns the address the node listens on. After Start it is the
// bound address, so a ":0" configuration reports the chosen port.
func (n *Node) Addr() string {
	return n.server.Addr()
}

// Storage returns the underlying keyspace for direct access
//
// Writes made through it are logged and replicated like client writes.
func (n *Node) Storage() storage.Storage {
	return n.store
}

// ReplicaOf follows the master at addr, replacing any current link. An
// empty addr promotes the node back to a writable master.
func (n *Node) ReplicaOf(addr string) error {
	if !n.isStarted() {
		return ErrNotStarted
	}
	return n.server.ReplicaOf(addr)
}

// IsReplica reports whether the node currently follows a master
func (n *Node) IsReplica() bool {
	return n.server.IsReplica()
}

// WaitForSync blocks until the replica link has loaded its first full
// sync or ctx is done.
func (n *Node) WaitForSync(ctx context.Context) error {
	if !n.isStarted() {
		return ErrNotStarted
	}
	if !n.server.IsReplica() {
		return ErrNotReplica
	}
	return n.server.WaitForSync(ctx)
}

// SyncStatus returns the state of the replica link. The zero value is
// returned for a master.
func (n *Node) SyncStatus() SyncStatus {
	stats, ok := n.server.ReplicationStats()
	if !ok {
		return SyncStatus{}
	}
	return SyncStatus{
		InitialSyncCompleted: stats.InitialSyncCompleted,
		Connected:            stats.Connected,
		MasterHost:           stats.MasterAddr,
		MasterReplID:         stats.MasterReplID,
		ReplicationOffset:    stats.ReplicationOffset,
		LastSyncTime:         stats.LastSyncTime,
		BytesReceived:        stats.BytesReceived,
		CommandsProcessed:    stats.CommandsProcessed,
		ReconnectCount:       stats.ReconnectCount,
		LastError:            stats.LastError,
	}
}

// Info returns keyspace, server, persistence and replication statistics
//
// Example:
//
//	info := node.Info()
//	fmt.Printf("Key count: %v\n", info["keys"])
func (n *Node) Info() map[string]interface{} {
	info := n.store.Info()
	for k, v := range n.server.Stats() {
		info[k] = v
	}
	for k, v := range n.master.Stats() {
		info[k] = v
	}
	for k, v := range n.broker.Stats() {
		info[k] = v
	}
	if n.log != nil {
		for k, v := range n.log.Stats() {
			info[k] = v
		}
	} else {
		info["aof_enabled"] = 0
	}
	info["role"] = "master"
	if n.server.IsReplica() {
		info["role"] = "slave"
	}
	info["version"] = VersionInfo()
	return info
}

func (n *Node) isStarted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started && !n.closed
}
