package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raniellyferreira/stormdb/aof"
	"github.com/raniellyferreira/stormdb/lua"
	"github.com/raniellyferreira/stormdb/protocol"
	"github.com/raniellyferreira/stormdb/pubsub"
	"github.com/raniellyferreira/stormdb/replication"
	"github.com/raniellyferreira/stormdb/storage"
)

// DefaultMaxClients is the connection limit when none is configured.
const DefaultMaxClients = 1024

// ErrServerClosed is returned by Start after Stop.
var ErrServerClosed = errors.New("server closed")

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

// Server provides the RESP front end of a node
type Server struct {
	store  storage.Storage
	broker *pubsub.Broker
	log    *aof.Writer
	master *replication.Master
	lua    *lua.Engine
	prop   *propagator

	// Server configuration
	addr       string
	password   string
	masterAuth string
	maxClients int
	version    string
	logger     Logger

	replicaBackoffMin time.Duration
	replicaBackoffMax time.Duration
	replicaTimeout    time.Duration

	// Connection management
	listener net.Listener
	clients  sync.Map // map[uint64]*Client
	nextID   atomic.Uint64
	numConns atomic.Int64

	// Replica link, nil while this node is a master
	linkMu    sync.Mutex
	link      *replication.Client
	isReplica atomic.Bool

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time

	// Metrics
	connCount     atomic.Int64
	rejectedCount atomic.Int64
	commandCount  atomic.Int64
	errorCount    atomic.Int64
	rewriting     atomic.Bool
}

// NewServer creates a server for store. The log writer is optional.
func NewServer(addr string, store storage.Storage) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		store:             store,
		broker:            pubsub.NewBroker(),
		master:            replication.NewMaster(),
		addr:              addr,
		maxClients:        DefaultMaxClients,
		version:           "dev",
		logger:            nopLogger{},
		replicaBackoffMin: time.Second,
		replicaBackoffMax: 30 * time.Second,
		ctx:               ctx,
		cancel:            cancel,
		started:           time.Now(),
	}
	s.prop = &propagator{master: s.master}
	s.lua = lua.NewEngine(lua.ExecutorFunc(func(args [][]byte) protocol.Value {
		return s.dispatch(nil, originScript, args)
	}))
	return s
}

// SetPassword enables AUTH for clients
func (s *Server) SetPassword(password string) {
	s.password = password
}

// SetMasterAuth sets the password used when following a master
func (s *Server) SetMasterAuth(password string) {
	s.masterAuth = password
}

// SetMaxClients sets the connection limit
func (s *Server) SetMaxClients(n int) {
	if n > 0 {
		s.maxClients = n
	}
}

// SetBroker replaces the pub/sub broker
func (s *Server) SetBroker(b *pubsub.Broker) {
	s.broker = b
}

// SetMaster replaces the replication master
func (s *Server) SetMaster(m *replication.Master) {
	s.master = m
	s.prop.master = m
}

// SetAOF enables the append-only log
func (s *Server) SetAOF(w *aof.Writer) {
	s.log = w
	s.prop.log = w
}

// SetLogger sets the logger
func (s *Server) SetLogger(l Logger) {
	if l != nil {
		s.logger = l
	}
}

// SetVersion sets the version reported by INFO
func (s *Server) SetVersion(v string) {
	s.version = v
}

// SetReplicaOptions configures the link used after REPLICAOF
func (s *Server) SetReplicaOptions(backoffMin, backoffMax, readTimeout time.Duration) {
	s.replicaBackoffMin = backoffMin
	s.replicaBackoffMax = backoffMax
	s.replicaTimeout = readTimeout
}

// Recorder returns the sink that propagates storage effects to the log
// and the replicas.
func (s *Server) Recorder() storage.Recorder {
	return s.prop
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	if s.ctx.Err() != nil {
		return ErrServerClosed
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.logger.Info("server listening", "addr", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptConnections()
	return nil
}

// Stop closes the listener, every client and the replica link
func (s *Server) Stop() error {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.clients.Range(func(_, value interface{}) bool {
		value.(*Client).Close()
		return true
	})

	var err error
	s.linkMu.Lock()
	if s.link != nil {
		err = s.link.Stop()
		s.link = nil
		s.isReplica.Store(false)
	}
	s.linkMu.Unlock()

	s.wg.Wait()
	s.logger.Info("server stopped")
	return err
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Apply executes a command from the log or the master. It bypasses
// authentication and the read-only check, and fails on error replies.
func (s *Server) Apply(cmd *protocol.Command) error {
	reply := s.dispatch(nil, originMaster, cmd.Argv())
	if reply.IsError() {
		return errors.New(reply.Error())
	}
	return nil
}

// IsReplica reports whether the node follows a master
func (s *Server) IsReplica() bool {
	return s.isReplica.Load()
}

// ReplicaOf makes the node follow the master at addr. An empty addr
// promotes it back to master.
func (s *Server) ReplicaOf(addr string) error {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	if s.link != nil {
		if s.link.MasterAddr() == addr {
			return nil
		}
		if err := s.link.Stop(); err != nil {
			s.logger.Error("failed to stop replica link", "error", err)
		}
		s.link = nil
		s.isReplica.Store(false)
	}
	if addr == "" {
		s.logger.Info("promoted to master")
		return nil
	}

	link := replication.NewClient(addr, replicaApplier{s})
	link.SetAuth(s.masterAuth)
	link.SetLogger(s.logger)
	link.SetBackoff(s.replicaBackoffMin, s.replicaBackoffMax)
	if s.replicaTimeout > 0 {
		link.SetReadTimeout(s.replicaTimeout)
	}
	if tcp, ok := s.listenerAddr().(*net.TCPAddr); ok {
		link.SetListeningPort(tcp.Port)
	}
	if err := link.Start(s.ctx); err != nil {
		return err
	}
	s.link = link
	s.isReplica.Store(true)
	s.logger.Info("following master", "addr", addr)
	return nil
}

// WaitForSync waits until the replica link has loaded a full sync
func (s *Server) WaitForSync(ctx context.Context) error {
	s.linkMu.Lock()
	link := s.link
	s.linkMu.Unlock()

	if link == nil {
		return errors.New("not a replica")
	}
	return link.WaitForSync(ctx)
}

// ReplicationStats returns the replica link statistics, if any
func (s *Server) ReplicationStats() (replication.ReplicationStats, bool) {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()
	if s.link == nil {
		return replication.ReplicationStats{}, false
	}
	return s.link.Stats(), true
}

// Stats returns server statistics
func (s *Server) Stats() map[string]interface{} {
	return map[string]interface{}{
		"connected_clients":          s.numConns.Load(),
		"total_connections_received": s.connCount.Load(),
		"rejected_connections":       s.rejectedCount.Load(),
		"total_commands_processed":   s.commandCount.Load(),
		"total_error_replies":        s.errorCount.Load(),
	}
}

func (s *Server) listenerAddr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// acceptConnections accepts new client connections
func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.logger.Error("accept failed", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s.connCount.Add(1)
		if s.numConns.Load() >= int64(s.maxClients) {
			s.rejectedCount.Add(1)
			s.logger.Info("connection rejected, max clients reached", "remote", conn.RemoteAddr().String())
			conn.Write([]byte("-ERR max number of clients reached\r\n"))
			conn.Close()
			continue
		}

		s.handleNewClient(conn)
	}
}

// handleNewClient registers conn and starts its session goroutine
func (s *Server) handleNewClient(conn net.Conn) {
	client := newClient(s, conn)
	s.clients.Store(client.id, client)
	s.numConns.Add(1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		client.serve()
	}()
}

func (s *Server) removeClient(c *Client) {
	if _, loaded := s.clients.LoadAndDelete(c.id); loaded {
		s.numConns.Add(-1)
	}
}

// replicaApplier feeds the replica link into the keyspace.
type replicaApplier struct {
	s *Server
}

func (a replicaApplier) Reset() error {
	a.s.store.FlushAll()
	return nil
}

func (a replicaApplier) Apply(cmd *protocol.Command) error {
	return a.s.Apply(cmd)
}
