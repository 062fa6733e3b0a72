package grant

import (
	"testing"
	"time"

	"github.com/signalsfoundry/nredf-scheduler/model"
)

type stubClock struct{ elapsed time.Duration }

func (c stubClock) Now() time.Time          { return time.Unix(0, 0).Add(c.elapsed) }
func (c stubClock) Elapsed() time.Duration { return c.elapsed }

type delivery struct {
	pkt model.Packet
	at  time.Duration
}

func newTestIssuer(cfg Config) (*Issuer, *Backlog, *[]delivery) {
	var got []delivery
	sink := SinkFunc(func(pkt model.Packet, at time.Duration) {
		got = append(got, delivery{pkt: pkt, at: at})
	})
	backlog := NewBacklog()
	return NewIssuer(0, cfg, backlog, stubClock{elapsed: 7 * time.Millisecond}, sink), backlog, &got
}

func packet(cid model.ConnectionID, seq uint64, size int) model.Packet {
	return model.Packet{CID: cid, Seq: seq, Size: size, FiveQI: 82}
}

func TestRequestGrantEmptyBacklogIsInactive(t *testing.T) {
	iss, _, _ := newTestIssuer(Config{BytesPerTTI: 1000})
	g := iss.RequestGrant(model.NewConnectionID(1025, 1), 500)
	if g.Bytes != 0 || g.Active || !g.Eligible || g.Terminate {
		t.Fatalf("grant = %+v, want inactive eligible", g)
	}
}

func TestRequestGrantDrainsFIFOAndDelivers(t *testing.T) {
	iss, backlog, got := newTestIssuer(Config{BytesPerTTI: 1000})
	cid := model.NewConnectionID(1025, 1)
	backlog.Enqueue(packet(cid, 1, 100))
	backlog.Enqueue(packet(cid, 2, 100))
	backlog.Enqueue(packet(cid, 3, 100))

	g := iss.RequestGrant(cid, 150)
	if g.Bytes != 150 || !g.Active || !g.Eligible || g.Terminate {
		t.Fatalf("first grant = %+v", g)
	}
	if len(*got) != 1 || (*got)[0].pkt.Seq != 1 || (*got)[0].at != 7*time.Millisecond {
		t.Fatalf("deliveries = %+v, want packet 1", *got)
	}
	if backlog.Bytes(cid) != 150 || backlog.Packets() != 2 {
		t.Fatalf("backlog = %d bytes in %d packets, want 150 in 2", backlog.Bytes(cid), backlog.Packets())
	}

	g = iss.RequestGrant(cid, 1000)
	if g.Bytes != 150 || g.Active {
		t.Fatalf("second grant = %+v, want 150 bytes and inactive", g)
	}
	if len(*got) != 3 || (*got)[1].pkt.Seq != 2 || (*got)[2].pkt.Seq != 3 {
		t.Fatalf("deliveries = %+v", *got)
	}
	if iss.Budget() != 700 {
		t.Fatalf("budget = %d, want 700", iss.Budget())
	}
}

func TestRequestGrantTerminatesWhenBudgetExhausted(t *testing.T) {
	iss, backlog, _ := newTestIssuer(Config{BytesPerTTI: 120})
	a := model.NewConnectionID(1025, 1)
	b := model.NewConnectionID(1026, 1)
	backlog.Enqueue(packet(a, 1, 200))
	backlog.Enqueue(packet(b, 1, 50))

	g := iss.RequestGrant(a, ^uint32(0))
	if g.Bytes != 120 || !g.Terminate || !g.Active {
		t.Fatalf("grant = %+v, want 120 bytes with terminate", g)
	}
	g = iss.RequestGrant(b, ^uint32(0))
	if g.Bytes != 0 || !g.Terminate || !g.Active {
		t.Fatalf("grant after exhaustion = %+v", g)
	}

	iss.Reset()
	g = iss.RequestGrant(a, ^uint32(0))
	if g.Bytes != 80 || g.Active || g.Terminate {
		t.Fatalf("grant after reset = %+v, want the remaining 80 bytes", g)
	}
}

func TestRequestGrantPerNodeCap(t *testing.T) {
	iss, backlog, _ := newTestIssuer(Config{BytesPerTTI: 1000, MaxGrantsPerNode: 1})
	first := model.NewConnectionID(1025, 1)
	second := model.NewConnectionID(1025, 2)
	other := model.NewConnectionID(1026, 1)
	backlog.Enqueue(packet(first, 1, 10))
	backlog.Enqueue(packet(second, 1, 10))
	backlog.Enqueue(packet(other, 1, 10))

	if g := iss.RequestGrant(first, 100); g.Bytes != 10 {
		t.Fatalf("first grant = %+v", g)
	}
	if g := iss.RequestGrant(second, 100); g.Eligible || !g.Active || g.Bytes != 0 {
		t.Fatalf("capped grant = %+v, want ineligible", g)
	}
	if g := iss.RequestGrant(other, 100); g.Bytes != 10 {
		t.Fatalf("other node grant = %+v", g)
	}

	iss.Reset()
	if g := iss.RequestGrant(second, 100); !g.Eligible || g.Bytes != 10 {
		t.Fatalf("grant after reset = %+v", g)
	}
}

func TestIssuersShareBacklog(t *testing.T) {
	backlog := NewBacklog()
	clock := stubClock{}
	c0 := NewIssuer(0, Config{BytesPerTTI: 60}, backlog, clock, nil)
	c1 := NewIssuer(1, Config{BytesPerTTI: 60}, backlog, clock, nil)
	cid := model.NewConnectionID(1025, 1)
	backlog.Enqueue(packet(cid, 1, 100))

	if g := c0.RequestGrant(cid, ^uint32(0)); g.Bytes != 60 || !g.Active {
		t.Fatalf("carrier 0 grant = %+v", g)
	}
	if g := c1.RequestGrant(cid, ^uint32(0)); g.Bytes != 40 || g.Active {
		t.Fatalf("carrier 1 grant = %+v, want the remaining 40 bytes", g)
	}
	if c1.Budget() != 20 {
		t.Fatalf("carrier 1 budget = %d, want 20", c1.Budget())
	}
}

func TestBacklogDropDiscardsNode(t *testing.T) {
	backlog := NewBacklog()
	a := model.NewConnectionID(1025, 1)
	b := model.NewConnectionID(1025, 2)
	c := model.NewConnectionID(1026, 1)
	backlog.Enqueue(packet(a, 1, 10))
	backlog.Enqueue(packet(a, 2, 10))
	backlog.Enqueue(packet(b, 1, 10))
	backlog.Enqueue(packet(c, 1, 10))
	backlog.Enqueue(packet(c, 2, 0))

	if lost := backlog.Drop(1025); len(lost) != 3 {
		t.Fatalf("Drop returned %d packets, want 3", len(lost))
	}
	if backlog.Bytes(a) != 0 || backlog.Bytes(b) != 0 || backlog.Bytes(c) != 10 {
		t.Fatalf("backlogs after drop: %d %d %d", backlog.Bytes(a), backlog.Bytes(b), backlog.Bytes(c))
	}
}
