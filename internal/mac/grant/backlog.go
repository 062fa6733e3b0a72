package grant

import (
	"sync"

	"github.com/signalsfoundry/nredf-scheduler/model"
)

type queued struct {
	pkt       model.Packet
	remaining int
}

// Backlog holds the packets waiting for transmission on every connection.
// It is shared by the issuers of all carriers so that a connection assigned
// to several carriers drains a single queue.
type Backlog struct {
	mu     sync.Mutex
	queues map[model.ConnectionID][]*queued
	bytes  map[model.ConnectionID]int
}

// NewBacklog returns an empty backlog.
func NewBacklog() *Backlog {
	return &Backlog{
		queues: make(map[model.ConnectionID][]*queued),
		bytes:  make(map[model.ConnectionID]int),
	}
}

// Enqueue appends pkt to its connection's queue. Empty packets are ignored.
func (b *Backlog) Enqueue(pkt model.Packet) {
	if pkt.Size <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[pkt.CID] = append(b.queues[pkt.CID], &queued{pkt: pkt, remaining: pkt.Size})
	b.bytes[pkt.CID] += pkt.Size
}

// Bytes returns the bytes waiting on cid.
func (b *Backlog) Bytes(cid model.ConnectionID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes[cid]
}

// Packets returns the number of packets waiting across all connections.
func (b *Backlog) Packets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, q := range b.queues {
		n += len(q)
	}
	return n
}

// Drop discards every queued packet of node and returns them.
func (b *Backlog) Drop(node model.NodeID) []model.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()
	var lost []model.Packet
	for cid, q := range b.queues {
		if cid.Node() != node {
			continue
		}
		for _, e := range q {
			lost = append(lost, e.pkt)
		}
		delete(b.queues, cid)
		delete(b.bytes, cid)
	}
	return lost
}

// take consumes up to n bytes from the head of cid's queue. It returns the
// bytes actually taken, the packets completed by them, and the bytes left.
// A partially sent packet stays at the head.
func (b *Backlog) take(cid model.ConnectionID, n int) (taken int, done []model.Packet, left int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queues[cid]
	for n > 0 && len(q) > 0 {
		head := q[0]
		step := min(n, head.remaining)
		head.remaining -= step
		n -= step
		taken += step
		if head.remaining == 0 {
			done = append(done, head.pkt)
			q[0] = nil
			q = q[1:]
		}
	}
	if len(q) == 0 {
		delete(b.queues, cid)
		delete(b.bytes, cid)
		return taken, done, 0
	}
	b.queues[cid] = q
	b.bytes[cid] -= taken
	return taken, done, b.bytes[cid]
}
