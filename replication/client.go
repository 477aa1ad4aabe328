package replication

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raniellyferreira/stormdb/protocol"
)

// Applier receives the replicated keyspace.
type Applier interface {
	// Reset empties the local keyspace before a full sync is loaded.
	Reset() error

	// Apply executes one replicated command.
	Apply(cmd *protocol.Command) error
}

// SyncError describes a failed attempt to reach or follow the master.
type SyncError struct {
	Phase   string // "connect", "handshake", "fullsync", "streaming"
	Err     error
	Retries int
}

// Error implements the error interface
func (e *SyncError) Error() string {
	return fmt.Sprintf("sync error in phase %s after %d retries: %v", e.Phase, e.Retries, e.Err)
}

// Unwrap returns the wrapped error
func (e *SyncError) Unwrap() error {
	return e.Err
}

// ReplicationStats tracks replica-side statistics
type ReplicationStats struct {
	Connected            bool
	MasterAddr           string
	MasterReplID         string
	ReplicationOffset    int64
	LastSyncTime         time.Time
	LastIOTime           time.Time
	BytesReceived        int64
	CommandsProcessed    int64
	ReconnectCount       int64
	FullSyncCount        int64
	InitialSyncCompleted bool
	LastError            string
}

// Client follows a master: it connects, loads a full sync and applies the
// live stream, reconnecting with exponential backoff.
type Client struct {
	masterAddr     string
	masterPassword string
	listeningPort  int
	applier        Applier

	connectTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	minBackoff     time.Duration
	maxBackoff     time.Duration
	logger         Logger

	mu   sync.Mutex
	conn net.Conn

	statsMu sync.RWMutex
	stats   ReplicationStats

	callbacksMu    sync.Mutex
	onSyncComplete []func()

	cancel   context.CancelFunc
	synced   chan struct{}
	syncOnce sync.Once
	doneChan chan struct{}
	started  atomic.Bool
	stopped  atomic.Bool
}

// NewClient creates a replication client for masterAddr.
func NewClient(masterAddr string, applier Applier) *Client {
	return &Client{
		masterAddr:     masterAddr,
		applier:        applier,
		connectTimeout: 5 * time.Second,
		readTimeout:    60 * time.Second,
		writeTimeout:   10 * time.Second,
		minBackoff:     time.Second,
		maxBackoff:     30 * time.Second,
		logger:         nopLogger{},
		stats:          ReplicationStats{MasterAddr: masterAddr},
		synced:         make(chan struct{}),
		doneChan:       make(chan struct{}),
	}
}

// SetAuth configures the password sent with AUTH
func (c *Client) SetAuth(password string) {
	c.masterPassword = password
}

// SetListeningPort sets the port announced with REPLCONF listening-port
func (c *Client) SetListeningPort(port int) {
	c.listeningPort = port
}

// SetLogger sets the logger
func (c *Client) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetConnectTimeout sets the dial timeout
func (c *Client) SetConnectTimeout(timeout time.Duration) {
	c.connectTimeout = timeout
}

// SetReadTimeout sets how long the link may stay silent before it is
// considered dead. It should exceed the master's heartbeat interval.
func (c *Client) SetReadTimeout(timeout time.Duration) {
	c.readTimeout = timeout
}

// SetWriteTimeout sets the write timeout for handshake commands
func (c *Client) SetWriteTimeout(timeout time.Duration) {
	c.writeTimeout = timeout
}

// SetBackoff sets the reconnect delay range. The delay doubles after each
// failed attempt and resets once a sync succeeds.
func (c *Client) SetBackoff(initial, limit time.Duration) {
	if initial > 0 {
		c.minBackoff = initial
	}
	if limit >= c.minBackoff {
		c.maxBackoff = limit
	}
}

// OnSyncComplete registers a callback run after every completed full sync
func (c *Client) OnSyncComplete(fn func()) {
	c.callbacksMu.Lock()
	defer c.callbacksMu.Unlock()
	c.onSyncComplete = append(c.onSyncComplete, fn)
}

// Start launches the replication loop. It returns immediately; use
// WaitForSync to wait for the first full sync.
func (c *Client) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("replication client already started")
	}
	if err := c.validateTimeouts(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.logger.Info("starting replication", "master", c.masterAddr)
	go c.run(ctx)
	return nil
}

// Stop ends replication and waits for the loop to exit
func (c *Client) Stop() error {
	if !c.started.Load() || !c.stopped.CompareAndSwap(false, true) {
		return nil
	}

	c.logger.Info("stopping replication", "master", c.masterAddr)
	c.cancel()
	c.closeConn()

	select {
	case <-c.doneChan:
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("replication stop timeout")
	}
}

// WaitForSync blocks until the first full sync has been loaded
func (c *Client) WaitForSync(ctx context.Context) error {
	select {
	case <-c.synced:
		return nil
	case <-c.doneChan:
		return errors.New("replication stopped before sync completed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a copy of the current statistics
func (c *Client) Stats() ReplicationStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}

// MasterAddr returns the address this client follows
func (c *Client) MasterAddr() string {
	return c.masterAddr
}

func (c *Client) run(ctx context.Context) {
	defer close(c.doneChan)

	backoff := c.minBackoff
	retries := 0

	for ctx.Err() == nil {
		err := c.session(ctx)
		c.closeConn()
		c.updateStats(func(s *ReplicationStats) { s.Connected = false })

		if ctx.Err() != nil {
			return
		}

		var syncErr *SyncError
		if errors.As(err, &syncErr) {
			if syncErr.Phase == "streaming" {
				// The link worked; start over from the shortest delay.
				backoff = c.minBackoff
				retries = 0
			}
			syncErr.Retries = retries
		}
		retries++
		c.updateStats(func(s *ReplicationStats) {
			s.ReconnectCount++
			s.LastError = err.Error()
		})
		c.logger.Error("replication link down", "master", c.masterAddr, "error", err, "retry_in", backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// session runs one connection: handshake, full sync, stream.
func (c *Client) session(ctx context.Context) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return &SyncError{Phase: "connect", Err: err}
	}

	rd := protocol.NewReader(conn)
	wr := protocol.NewWriter(conn)

	if err := c.handshake(conn, rd, wr); err != nil {
		return &SyncError{Phase: "handshake", Err: err}
	}
	if err := c.fullSync(conn, rd); err != nil {
		return &SyncError{Phase: "fullsync", Err: err}
	}
	return &SyncError{Phase: "streaming", Err: c.stream(conn, rd)}
}

func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	c.logger.Debug("connecting to master", "addr", c.masterAddr)

	dialer := &net.Dialer{Timeout: c.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.masterAddr)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	// Stop may have raced with the dial.
	if ctx.Err() != nil {
		conn.Close()
		return nil, ctx.Err()
	}

	c.updateStats(func(s *ReplicationStats) {
		s.Connected = true
		s.LastIOTime = time.Now()
	})
	c.logger.Info("connected to master", "addr", c.masterAddr)
	return conn, nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

// handshake sends PING, AUTH, REPLCONF and PSYNC and checks each reply
// except the last, which belongs to fullSync.
func (c *Client) handshake(conn net.Conn, rd *protocol.Reader, wr *protocol.Writer) error {
	if err := c.roundTrip(conn, rd, wr, "PING"); err != nil {
		return err
	}
	if c.masterPassword != "" {
		if err := c.roundTrip(conn, rd, wr, "AUTH", c.masterPassword); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}
	if c.listeningPort > 0 {
		if err := c.roundTrip(conn, rd, wr, "REPLCONF", "listening-port", strconv.Itoa(c.listeningPort)); err != nil {
			return err
		}
	}

	c.setDeadlines(conn)
	if err := wr.WriteCommand("PSYNC", "?", "-1"); err != nil {
		return err
	}
	return wr.Flush()
}

func (c *Client) roundTrip(conn net.Conn, rd *protocol.Reader, wr *protocol.Writer, cmd string, args ...string) error {
	c.setDeadlines(conn)
	if err := wr.WriteCommand(cmd, args...); err != nil {
		return err
	}
	if err := wr.Flush(); err != nil {
		return err
	}

	reply, err := rd.ReadNext()
	if err != nil {
		if err == io.EOF {
			return fmt.Errorf("%s: connection closed by master", cmd)
		}
		return fmt.Errorf("%s: %w", cmd, err)
	}
	if reply.IsError() {
		// A master with a password answers PING before AUTH with NOAUTH,
		// which still proves the link works.
		if cmd == "PING" && strings.HasPrefix(reply.Error(), "NOAUTH") {
			return nil
		}
		return fmt.Errorf("%s: %s", cmd, reply.Error())
	}
	return nil
}

// fullSync reads +FULLRESYNC and the payload, then replaces the local
// keyspace with it.
func (c *Client) fullSync(conn net.Conn, rd *protocol.Reader) error {
	start := time.Now()

	reply, err := rd.ReadNext()
	if err != nil {
		return fmt.Errorf("PSYNC response failed: %w", err)
	}
	if reply.IsError() {
		return fmt.Errorf("PSYNC error: %s", reply.Error())
	}

	parts := strings.Fields(reply.String())
	if len(parts) != 3 || parts[0] != "FULLRESYNC" {
		return fmt.Errorf("unsupported PSYNC response: %s", reply.String())
	}
	offset, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid offset: %s", parts[2])
	}

	var payload bytes.Buffer
	c.setDeadlines(conn)
	err = rd.ReadPayload(func(chunk []byte) error {
		payload.Write(chunk)
		c.setDeadlines(conn)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read sync payload: %w", err)
	}

	if err := c.applier.Reset(); err != nil {
		return fmt.Errorf("reset keyspace: %w", err)
	}

	buf := payload.Bytes()
	applied := 0
	for len(buf) > 0 {
		v, n, err := protocol.Decode(buf)
		if err != nil {
			return fmt.Errorf("corrupt sync payload after %d commands: %w", applied, err)
		}
		buf = buf[n:]

		cmd, err := protocol.ParseCommand(v)
		if err != nil {
			return fmt.Errorf("corrupt sync payload: %w", err)
		}
		if err := c.applier.Apply(cmd); err != nil {
			return fmt.Errorf("apply %s: %w", cmd.Name, err)
		}
		applied++
	}

	now := time.Now()
	c.updateStats(func(s *ReplicationStats) {
		s.MasterReplID = parts[1]
		s.ReplicationOffset = offset
		s.BytesReceived += int64(payload.Len())
		s.FullSyncCount++
		s.InitialSyncCompleted = true
		s.LastSyncTime = now
		s.LastIOTime = now
	})

	c.logger.Info("full sync completed", "replid", parts[1], "offset", offset,
		"commands", applied, "bytes", payload.Len(), "duration", time.Since(start))

	c.syncOnce.Do(func() { close(c.synced) })

	c.callbacksMu.Lock()
	callbacks := append([]func(){}, c.onSyncComplete...)
	c.callbacksMu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
	return nil
}

// stream applies the live command stream until the link fails.
func (c *Client) stream(conn net.Conn, rd *protocol.Reader) error {
	for {
		c.setDeadlines(conn)
		before := rd.Consumed()

		v, err := rd.ReadNext()
		if err != nil {
			if err == io.EOF {
				return errors.New("connection closed by master")
			}
			return fmt.Errorf("read command failed: %w", err)
		}
		size := rd.Consumed() - before

		cmd, err := protocol.ParseCommand(v)
		if err != nil {
			return fmt.Errorf("parse command failed: %w", err)
		}

		switch cmd.Name {
		case "PING", "REPLCONF", "SELECT":
		default:
			if err := c.applier.Apply(cmd); err != nil {
				// The master already applied it; keep the stream aligned.
				c.logger.Error("replicated command failed", "command", cmd.Name, "error", err)
			}
		}

		c.updateStats(func(s *ReplicationStats) {
			// Heartbeats are not part of the replicated stream.
			if cmd.Name != "PING" {
				s.ReplicationOffset += size
			}
			s.BytesReceived += size
			s.CommandsProcessed++
			s.LastIOTime = time.Now()
		})
	}
}

func (c *Client) setDeadlines(conn net.Conn) {
	now := time.Now()
	if c.readTimeout > 0 {
		_ = conn.SetReadDeadline(now.Add(c.readTimeout))
	}
	if c.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(now.Add(c.writeTimeout))
	}
}

func (c *Client) updateStats(fn func(*ReplicationStats)) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	fn(&c.stats)
}

// validateTimeouts checks the configured timeouts
func (c *Client) validateTimeouts() error {
	if c.connectTimeout > 0 && c.connectTimeout < 100*time.Millisecond {
		return fmt.Errorf("connect timeout too small: %v (minimum: 100ms)", c.connectTimeout)
	}
	if c.readTimeout > 0 && c.readTimeout < time.Millisecond {
		return fmt.Errorf("read timeout too small: %v (minimum: 1ms)", c.readTimeout)
	}
	if c.writeTimeout > 0 && c.writeTimeout < time.Millisecond {
		return fmt.Errorf("write timeout too small: %v (minimum: 1ms)", c.writeTimeout)
	}
	if c.maxBackoff < c.minBackoff {
		return fmt.Errorf("max backoff %v below min backoff %v", c.maxBackoff, c.minBackoff)
	}
	return nil
}
