package aof

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// maxBatch bounds how many queued records one flush covers.
const maxBatch = 256

type request struct {
	seq     uint64
	frame   []byte
	rewrite *rewriteRequest
}

type rewriteRequest struct {
	snapshot []byte
	result   chan error
}

// Writer is the single serialization point for log appends. Append only
// queues; the writer goroutine batches, writes, flushes and fsyncs, and
// Barrier lets a caller wait until its records are in the file.
type Writer struct {
	cfg Config

	// Owned by the writer goroutine.
	file      *os.File
	bw        *bufio.Writer
	sinceSync int
	dirty     bool
	failure   error

	appendMu sync.Mutex
	seq      atomic.Uint64
	closed   bool
	requests chan request

	stateMu  sync.Mutex
	done     uint64
	err      error
	progress chan struct{}

	stop     chan struct{}
	finished chan struct{}
	once     sync.Once

	records  atomic.Int64
	bytes    atomic.Int64
	fsyncs   atomic.Int64
	rewrites atomic.Int64
}

// Open opens (or creates) the log for appending and starts the writer
// goroutine.
func Open(cfg Config) (*Writer, error) {
	cfg.applyDefaults()
	if cfg.Path == "" {
		return nil, fmt.Errorf("aof: empty path")
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("aof: open %s: %w", cfg.Path, err)
	}

	w := &Writer{
		cfg:      cfg,
		file:     f,
		bw:       bufio.NewWriterSize(f, 64*1024),
		requests: make(chan request, cfg.QueueSize),
		progress: make(chan struct{}),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go w.run()

	cfg.Logger.Info("aof opened", "path", cfg.Path, "fsync", cfg.Policy.String())
	return w, nil
}

// Append queues one encoded record. Records are written in the order
// Append is called; it blocks only while the queue is full. The frame must
// not be modified afterwards.
func (w *Writer) Append(frame []byte) {
	w.appendMu.Lock()
	defer w.appendMu.Unlock()

	if w.closed {
		return
	}
	seq := w.seq.Add(1)
	w.requests <- request{seq: seq, frame: frame}
}

// Rewrite queues a compaction: the log is replaced by snapshot, and every
// record appended after this call lands in the new file. The caller must
// make sure snapshot reflects exactly the records appended before it.
func (w *Writer) Rewrite(snapshot []byte) <-chan error {
	result := make(chan error, 1)

	w.appendMu.Lock()
	defer w.appendMu.Unlock()

	if w.closed {
		result <- ErrClosed
		return result
	}
	w.requests <- request{rewrite: &rewriteRequest{snapshot: snapshot, result: result}}
	return result
}

// Barrier waits until every record appended before the call has been
// written (and fsynced when the policy is FsyncAlways). It returns the
// writer's error if the log has failed.
func (w *Writer) Barrier(ctx context.Context) error {
	target := w.seq.Load()
	for {
		w.stateMu.Lock()
		if w.err != nil {
			err := w.err
			w.stateMu.Unlock()
			return err
		}
		if w.done >= target {
			w.stateMu.Unlock()
			return nil
		}
		wait := w.progress
		w.stateMu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Err returns the sticky write error, if any. Once the log fails every
// later write is refused until restart.
func (w *Writer) Err() error {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.err
}

// Close drains queued records, flushes, fsyncs and closes the file.
func (w *Writer) Close() error {
	w.once.Do(func() {
		w.appendMu.Lock()
		w.closed = true
		w.appendMu.Unlock()

		close(w.stop)
		<-w.finished
	})

	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	if w.err == ErrClosed {
		return nil
	}
	return w.err
}

// Stats returns writer counters.
func (w *Writer) Stats() map[string]interface{} {
	return map[string]interface{}{
		"aof_enabled":       1,
		"aof_fsync":         w.cfg.Policy.String(),
		"aof_records":       w.records.Load(),
		"aof_bytes":         w.bytes.Load(),
		"aof_fsyncs":        w.fsyncs.Load(),
		"aof_rewrites":      w.rewrites.Load(),
		"aof_last_write_ok": w.Err() == nil,
	}
}

func (w *Writer) run() {
	defer close(w.finished)

	var tick <-chan time.Time
	if w.cfg.Policy == FsyncEverySec {
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case req := <-w.requests:
			w.handle(req)
		case <-tick:
			if w.dirty && w.failure == nil {
				w.sync()
			}
		case <-w.stop:
			for {
				select {
				case req := <-w.requests:
					w.handle(req)
				default:
					w.shutdown()
					return
				}
			}
		}
	}
}

// handle processes req plus whatever else is already queued, then commits
// the batch with one flush.
func (w *Writer) handle(first request) {
	batch := []request{first}
collect:
	for len(batch) < maxBatch {
		select {
		case req := <-w.requests:
			batch = append(batch, req)
		default:
			break collect
		}
	}

	var last uint64
	for _, req := range batch {
		if req.rewrite != nil {
			w.commit(last)
			req.rewrite.result <- w.rewrite(req.rewrite.snapshot)
			continue
		}
		if w.failure == nil {
			if _, err := w.bw.Write(req.frame); err != nil {
				w.fail(err)
			} else {
				w.records.Add(1)
				w.bytes.Add(int64(len(req.frame)))
				w.sinceSync++
			}
		}
		last = req.seq
	}
	w.commit(last)
}

// commit flushes buffered records, applies the fsync policy and releases
// Barrier waiters up to seq.
func (w *Writer) commit(seq uint64) {
	if seq == 0 {
		return
	}
	if w.failure == nil {
		if err := w.bw.Flush(); err != nil {
			w.fail(err)
		} else {
			switch w.cfg.Policy {
			case FsyncAlways:
				w.sync()
			case FsyncEveryN:
				if w.sinceSync >= w.cfg.EveryN {
					w.sync()
				}
			case FsyncEverySec:
				w.dirty = true
			}
		}
	}
	w.publish(seq)
}

func (w *Writer) sync() {
	if err := w.file.Sync(); err != nil {
		w.fail(err)
		return
	}
	w.fsyncs.Add(1)
	w.sinceSync = 0
	w.dirty = false
}

func (w *Writer) fail(err error) {
	if w.failure != nil {
		return
	}
	w.failure = fmt.Errorf("aof write: %w", err)
	w.cfg.Logger.Error("aof write failed, refusing further writes", "path", w.cfg.Path, "error", err)

	w.stateMu.Lock()
	w.err = w.failure
	w.stateMu.Unlock()
}

func (w *Writer) publish(seq uint64) {
	w.stateMu.Lock()
	if seq > w.done {
		w.done = seq
	}
	close(w.progress)
	w.progress = make(chan struct{})
	w.stateMu.Unlock()
}

// rewrite replaces the log with snapshot. A failure before the rename
// leaves the old log in place and is not fatal.
func (w *Writer) rewrite(snapshot []byte) error {
	if w.failure != nil {
		return w.failure
	}
	if err := w.bw.Flush(); err != nil {
		w.fail(err)
		return w.failure
	}

	tmp := w.cfg.Path + ".rewrite"
	if err := writeFileSync(tmp, snapshot); err != nil {
		_ = os.Remove(tmp)
		w.cfg.Logger.Error("aof rewrite failed", "error", err)
		return fmt.Errorf("aof rewrite: %w", err)
	}
	if err := os.Rename(tmp, w.cfg.Path); err != nil {
		_ = os.Remove(tmp)
		w.cfg.Logger.Error("aof rewrite failed", "error", err)
		return fmt.Errorf("aof rewrite: %w", err)
	}

	f, err := os.OpenFile(w.cfg.Path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		w.fail(err)
		return w.failure
	}
	_ = w.file.Close()
	w.file = f
	w.bw.Reset(f)
	w.sinceSync = 0
	w.dirty = false
	w.rewrites.Add(1)

	w.cfg.Logger.Info("aof rewritten", "path", w.cfg.Path, "bytes", len(snapshot))
	return nil
}

func (w *Writer) shutdown() {
	if w.failure == nil {
		if err := w.bw.Flush(); err != nil {
			w.fail(err)
		} else if w.cfg.Policy != FsyncNo {
			w.sync()
		}
	}
	if err := w.file.Close(); err != nil && w.failure == nil {
		w.fail(err)
	}

	w.stateMu.Lock()
	if w.err == nil {
		w.err = ErrClosed
	}
	close(w.progress)
	w.progress = make(chan struct{})
	w.stateMu.Unlock()
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
