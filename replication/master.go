package replication

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raniellyferreira/stormdb/protocol"
)

const (
	// DefaultBacklog is the number of frames a replica may lag behind
	// before it is disconnected.
	DefaultBacklog = 10000

	// DefaultHeartbeat is how often an idle link carries a PING.
	DefaultHeartbeat = 10 * time.Second
)

// ErrReplicaOverflow is returned by Serve when the replica's queue filled up.
var ErrReplicaOverflow = errors.New("replica output queue overflow")

var pingFrame = protocol.EncodeCommand("PING")

// Master distributes the effect stream to attached replicas. Feed must be
// called in application order; every replica sees a suffix of that order
// without gaps.
type Master struct {
	mu       sync.Mutex
	replID   string
	offset   int64
	replicas map[uint64]*Replica
	nextID   uint64

	backlog   int
	heartbeat time.Duration
	logger    Logger

	fullSyncs  atomic.Int64
	overflows  atomic.Int64
	framesSent atomic.Int64
}

// MasterOption configures a Master.
type MasterOption func(*Master)

// WithBacklog sets the per-replica queue length.
func WithBacklog(n int) MasterOption {
	return func(m *Master) {
		if n > 0 {
			m.backlog = n
		}
	}
}

// WithHeartbeat sets the idle-link PING interval.
func WithHeartbeat(d time.Duration) MasterOption {
	return func(m *Master) {
		if d > 0 {
			m.heartbeat = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) MasterOption {
	return func(m *Master) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMaster creates a Master with a fresh replication ID.
func NewMaster(opts ...MasterOption) *Master {
	m := &Master{
		replID:    newReplID(),
		replicas:  make(map[uint64]*Replica),
		backlog:   DefaultBacklog,
		heartbeat: DefaultHeartbeat,
		logger:    nopLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Replica is an attached replica link.
type Replica struct {
	id         uint64
	addr       string
	port       int
	queue      chan []byte
	done       chan struct{}
	once       sync.Once
	overflow   atomic.Bool
	attachedAt time.Time
	sent       atomic.Int64
}

// Addr returns the remote address of the replica.
func (r *Replica) Addr() string { return r.addr }

func (r *Replica) close(overflow bool) {
	r.once.Do(func() {
		if overflow {
			r.overflow.Store(true)
		}
		close(r.done)
	})
}

// Attach registers a replica and returns it with the stream offset it
// starts from. The caller must hold whatever lock orders effects (the
// keyspace snapshot) so the payload it builds matches that offset exactly.
func (m *Master) Attach(addr string, listeningPort int) (*Replica, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	r := &Replica{
		id:         m.nextID,
		addr:       addr,
		port:       listeningPort,
		queue:      make(chan []byte, m.backlog),
		done:       make(chan struct{}),
		attachedAt: time.Now(),
	}
	m.replicas[r.id] = r
	return r, m.offset
}

// Detach removes a replica from the fan-out set.
func (m *Master) Detach(r *Replica) {
	m.mu.Lock()
	delete(m.replicas, r.id)
	m.mu.Unlock()
	r.close(false)
}

// Feed queues an encoded frame to every replica. It never blocks; a replica
// whose queue is full is dropped.
func (m *Master) Feed(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.offset += int64(len(frame))
	for id, r := range m.replicas {
		select {
		case r.queue <- frame:
		default:
			delete(m.replicas, id)
			r.close(true)
			m.overflows.Add(1)
			m.logger.Error("replica too slow, disconnecting", "addr", r.addr, "backlog", m.backlog)
		}
	}
}

// Serve writes the full sync header and payload, then streams queued frames
// to w until ctx ends, the replica is detached or a write fails. Serve
// detaches the replica before returning.
func (m *Master) Serve(ctx context.Context, w io.Writer, r *Replica, offset int64, payload []byte) error {
	defer m.Detach(r)

	m.fullSyncs.Add(1)
	m.logger.Info("replica attached", "addr", r.addr, "offset", offset, "payload_bytes", len(payload))
	defer m.logger.Info("replica detached", "addr", r.addr)

	pw := protocol.NewWriter(w)
	if err := pw.WriteSimpleString("FULLRESYNC " + m.replID + " " + strconv.FormatInt(offset, 10)); err != nil {
		return err
	}
	if err := pw.WriteRaw([]byte("$" + strconv.Itoa(len(payload)) + protocol.CRLF)); err != nil {
		return err
	}
	if err := pw.WriteRaw(payload); err != nil {
		return err
	}
	if err := pw.Flush(); err != nil {
		return err
	}
	return m.stream(ctx, pw, r)
}

// Stream sends only the live frames queued for r, with no sync header or
// payload, for replicas that start from the stream. Stream detaches the
// replica before returning.
func (m *Master) Stream(ctx context.Context, w io.Writer, r *Replica) error {
	defer m.Detach(r)

	m.logger.Info("replica attached for live stream", "addr", r.addr)
	defer m.logger.Info("replica detached", "addr", r.addr)

	return m.stream(ctx, protocol.NewWriter(w), r)
}

func (m *Master) stream(ctx context.Context, pw *protocol.Writer, r *Replica) error {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()
	idle := true

	for {
		select {
		case frame := <-r.queue:
			if err := m.send(pw, r, frame); err != nil {
				return err
			}
			idle = false
		case <-ticker.C:
			if idle {
				if err := pw.WriteRaw(pingFrame); err != nil {
					return err
				}
				if err := pw.Flush(); err != nil {
					return err
				}
			}
			idle = true
		case <-r.done:
			if r.overflow.Load() {
				return ErrReplicaOverflow
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// send writes frame plus whatever else is already queued, then flushes.
func (m *Master) send(pw *protocol.Writer, r *Replica, frame []byte) error {
	n := 0
	for {
		if err := pw.WriteRaw(frame); err != nil {
			return err
		}
		n++
		select {
		case frame = <-r.queue:
			continue
		default:
		}
		break
	}
	r.sent.Add(int64(n))
	m.framesSent.Add(int64(n))
	return pw.Flush()
}

// ReplID returns the replication ID of this master.
func (m *Master) ReplID() string {
	return m.replID
}

// Offset returns the number of stream bytes fed so far.
func (m *Master) Offset() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offset
}

// ReplicaInfo describes one attached replica.
type ReplicaInfo struct {
	Addr          string
	ListeningPort int
	Lag           int
	Sent          int64
	AttachedAt    time.Time
}

// Replicas lists attached replicas.
func (m *Master) Replicas() []ReplicaInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ReplicaInfo, 0, len(m.replicas))
	for _, r := range m.replicas {
		out = append(out, ReplicaInfo{
			Addr:          r.addr,
			ListeningPort: r.port,
			Lag:           len(r.queue),
			Sent:          r.sent.Load(),
			AttachedAt:    r.attachedAt,
		})
	}
	return out
}

// Stats returns master-side counters.
func (m *Master) Stats() map[string]interface{} {
	m.mu.Lock()
	connected := len(m.replicas)
	offset := m.offset
	m.mu.Unlock()

	return map[string]interface{}{
		"connected_slaves":    connected,
		"master_replid":       m.replID,
		"master_repl_offset":  offset,
		"sync_full":           m.fullSyncs.Load(),
		"replica_overflows":   m.overflows.Load(),
		"replica_frames_sent": m.framesSent.Load(),
	}
}

func newReplID() string {
	var b [20]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%040x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
