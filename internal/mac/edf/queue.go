package edf

import (
	"container/heap"

	"github.com/signalsfoundry/nredf-scheduler/model"
	"github.com/signalsfoundry/nredf-scheduler/qos"
)

// ScoredEntry is one connection's banded score for the current round.
type ScoredEntry struct {
	CID          model.ConnectionID
	Score        float64
	ResourceType qos.ResourceType
}

// ScoreQueue orders entries by descending score; equal scores go to the
// lower connection id first.
type ScoreQueue struct {
	h entryHeap
}

// NewScoreQueue returns an empty queue with room for n entries.
func NewScoreQueue(n int) *ScoreQueue {
	return &ScoreQueue{h: make(entryHeap, 0, n)}
}

// Push inserts an entry.
func (q *ScoreQueue) Push(e ScoredEntry) { heap.Push(&q.h, e) }

// Peek returns the highest entry without removing it.
func (q *ScoreQueue) Peek() (ScoredEntry, bool) {
	if len(q.h) == 0 {
		return ScoredEntry{}, false
	}
	return q.h[0], true
}

// Pop removes and returns the highest entry.
func (q *ScoreQueue) Pop() (ScoredEntry, bool) {
	if len(q.h) == 0 {
		return ScoredEntry{}, false
	}
	return heap.Pop(&q.h).(ScoredEntry), true
}

// Len returns the number of queued entries.
func (q *ScoreQueue) Len() int { return len(q.h) }

// Empty reports whether the queue has no entries.
func (q *ScoreQueue) Empty() bool { return len(q.h) == 0 }

// Entries returns the entries in pop order without draining the queue.
func (q *ScoreQueue) Entries() []ScoredEntry {
	cp := make(entryHeap, len(q.h))
	copy(cp, q.h)
	out := make([]ScoredEntry, 0, len(cp))
	for len(cp) > 0 {
		out = append(out, heap.Pop(&cp).(ScoredEntry))
	}
	return out
}

type entryHeap []ScoredEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score > h[j].Score
	}
	return h[i].CID < h[j].CID
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(ScoredEntry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
