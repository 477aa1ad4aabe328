package server

import (
	"sync"

	"github.com/raniellyferreira/stormdb/aof"
	"github.com/raniellyferreira/stormdb/protocol"
	"github.com/raniellyferreira/stormdb/replication"
)

// propagator turns storage effects into RESP frames and hands each frame
// to the log and the replica fan-out in one critical section, so both see
// the same order.
type propagator struct {
	mu     sync.Mutex
	log    *aof.Writer
	master *replication.Master
}

// Record implements storage.Recorder. It runs with the key's shard lock
// held.
func (p *propagator) Record(args [][]byte) {
	frame := protocol.AppendCommand(nil, args...)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.log != nil {
		p.log.Append(frame)
	}
	p.master.Feed(frame)
}

// publish orders a PUBLISH against writes. It goes to replicas only;
// messages are not state and are never logged.
func (p *propagator) publish(args [][]byte, deliver func() int64) int64 {
	frame := protocol.AppendCommand(nil, args...)

	p.mu.Lock()
	defer p.mu.Unlock()

	n := deliver()
	p.master.Feed(frame)
	return n
}
