package edf

import (
	"testing"

	"github.com/signalsfoundry/nredf-scheduler/model"
)

func TestScoreQueueOrdersByScoreThenID(t *testing.T) {
	q := NewScoreQueue(4)
	a := model.NewConnectionID(1025, 1)
	b := model.NewConnectionID(1026, 1)
	c := model.NewConnectionID(1027, 1)
	d := model.NewConnectionID(1028, 1)

	q.Push(ScoredEntry{CID: c, Score: 50})
	q.Push(ScoredEntry{CID: d, Score: 90})
	q.Push(ScoredEntry{CID: b, Score: 50})
	q.Push(ScoredEntry{CID: a, Score: 10})

	if top, ok := q.Peek(); !ok || top.CID != d {
		t.Fatalf("Peek = %+v, want %s", top, d)
	}
	if q.Len() != 4 {
		t.Fatalf("Peek must not remove entries")
	}

	entries := q.Entries()
	want := []model.ConnectionID{d, b, c, a}
	for i, e := range entries {
		if e.CID != want[i] {
			t.Fatalf("Entries()[%d] = %s, want %s", i, e.CID, want[i])
		}
	}
	if q.Len() != 4 {
		t.Fatalf("Entries must not drain the queue")
	}

	for i := range want {
		e, ok := q.Pop()
		if !ok || e.CID != want[i] {
			t.Fatalf("Pop %d = %+v, want %s", i, e, want[i])
		}
	}
	if !q.Empty() {
		t.Fatalf("queue should be empty")
	}
	if _, ok := q.Pop(); ok {
		t.Fatalf("Pop on empty queue should fail")
	}
	if _, ok := q.Peek(); ok {
		t.Fatalf("Peek on empty queue should fail")
	}
}
