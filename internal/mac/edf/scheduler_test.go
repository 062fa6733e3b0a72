package edf

import (
	"context"
	"errors"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/signalsfoundry/nredf-scheduler/internal/sim/state"
	"github.com/signalsfoundry/nredf-scheduler/model"
	"github.com/signalsfoundry/nredf-scheduler/qos"
)

type fakeClock struct {
	elapsed time.Duration
}

func (c *fakeClock) Now() time.Time          { return time.Unix(0, 0).Add(c.elapsed) }
func (c *fakeClock) Elapsed() time.Duration { return c.elapsed }

type resolverMap map[model.NodeID]bool

func (r resolverMap) Resolve(node model.NodeID) (uint64, bool) {
	if r[node] {
		return uint64(node), true
	}
	return 0, false
}

type fakeMetrics struct {
	rounds     int
	terminated int
	grants     map[string]uint64
	pruned     map[string]int
	invalid    int
	background int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{grants: map[string]uint64{}, pruned: map[string]int{}}
}

func (m *fakeMetrics) RecordRound(_ int, _ time.Duration, _ int, terminated bool) {
	m.rounds++
	if terminated {
		m.terminated++
	}
}
func (m *fakeMetrics) RecordGrant(rt string, bytes uint64) { m.grants[rt] += bytes }
func (m *fakeMetrics) RecordPruned(reason string, n int)   { m.pruned[reason] += n }
func (m *fakeMetrics) RecordInvalidQoS(n int)              { m.invalid += n }
func (m *fakeMetrics) RecordBackgroundSkipped(n int)       { m.background += n }

var (
	gbrCID  = model.NewConnectionID(1025, 1) // 5QI 1
	dcCID   = model.NewConnectionID(1026, 1) // 5QI 82
	ngbrCID = model.NewConnectionID(1027, 1) // 5QI 5
)

func mixedConnections(t *testing.T) *state.Connections {
	t.Helper()
	conns := state.NewConnections(nil)
	for _, md := range []model.PacketMetadata{
		{CID: gbrCID, FiveQI: 1},
		{CID: dcCID, FiveQI: 82},
		{CID: ngbrCID, FiveQI: 5},
	} {
		if err := conns.Arrive(md); err != nil {
			t.Fatalf("Arrive: %v", err)
		}
	}
	return conns
}

func allPresent() resolverMap {
	return resolverMap{1025: true, 1026: true, 1027: true, 1028: true}
}

// drainOnce gives every connection one grant and reports it as finished.
func drainOnce(seq *[]model.ConnectionID) Granter {
	return GranterFunc(func(cid model.ConnectionID, _ uint32) Grant {
		*seq = append(*seq, cid)
		return Grant{Bytes: 100, Active: false, Eligible: true}
	})
}

func TestScheduleMixedQoSNearDeadline(t *testing.T) {
	conns := mixedConnections(t)
	clock := &fakeClock{elapsed: 9 * time.Millisecond}
	var seq []model.ConnectionID

	s, err := NewScheduler(0, conns, drainOnce(&seq), allPresent(), clock)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	report, err := s.Schedule(context.Background())
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if len(report.Scored) != 3 {
		t.Fatalf("scored %d connections, want 3", len(report.Scored))
	}
	top := report.Scored[0]
	if top.CID != dcCID || top.Score < 67 || top.Score > 100 {
		t.Fatalf("top entry = %+v, want 5QI 82 in [67,100]", top)
	}
	if !approx(top.Score, 96.7) {
		t.Fatalf("5QI 82 score = %v, want 96.7", top.Score)
	}
	if len(seq) == 0 || seq[0] != dcCID {
		t.Fatalf("first grant went to %v, want %s", seq, dcCID)
	}
	want := []model.ConnectionID{dcCID, gbrCID, ngbrCID}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("grant order = %v, want %v", seq, want)
		}
	}

	snap := conns.Snapshot()
	if len(snap.Active) != 0 || len(snap.Metadata) != 0 {
		t.Fatalf("drained connections still present: %+v", snap)
	}
	if conns.Phase() != state.PhaseIdle {
		t.Fatalf("phase = %s, want idle after commit", conns.Phase())
	}
}

func TestScheduleEarlyDeadlineStillOutranksLowerClasses(t *testing.T) {
	conns := mixedConnections(t)
	clock := &fakeClock{elapsed: 500 * time.Microsecond}
	var seq []model.ConnectionID

	s, err := NewScheduler(0, conns, drainOnce(&seq), allPresent(), clock)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	report, err := s.Schedule(context.Background())
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	scores := map[model.ConnectionID]float64{}
	for _, e := range report.Scored {
		scores[e.CID] = e.Score
	}
	if !approx(scores[dcCID], 68.65) {
		t.Fatalf("5QI 82 score = %v, want 68.65", scores[dcCID])
	}
	if scores[dcCID] <= scores[gbrCID] || scores[dcCID] <= scores[ngbrCID] {
		t.Fatalf("delay-critical entry does not lead: %v", scores)
	}
	if seq[0] != dcCID {
		t.Fatalf("first grant = %s, want %s", seq[0], dcCID)
	}
}

func TestScheduleTerminateLimitsToOneGrant(t *testing.T) {
	conns := mixedConnections(t)
	calls := 0
	g := GranterFunc(func(model.ConnectionID, uint32) Grant {
		calls++
		return Grant{Bytes: 10, Terminate: true, Active: true, Eligible: true}
	})
	s, err := NewScheduler(0, conns, g, allPresent(), &fakeClock{elapsed: time.Millisecond})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	report, err := s.Schedule(context.Background())
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if calls != 1 || !report.Allocation.Terminated {
		t.Fatalf("calls = %d terminated = %v", calls, report.Allocation.Terminated)
	}
	if got := len(conns.Snapshot().Active); got != 3 {
		t.Fatalf("active after terminate = %d, want 3", got)
	}
}

func TestScheduleInactivePrunesAllMetadata(t *testing.T) {
	conns := state.NewConnections(nil)
	for i := 0; i < 4; i++ {
		if err := conns.Arrive(model.PacketMetadata{CID: gbrCID, FiveQI: 1, ArrivalTime: time.Duration(i) * time.Millisecond}); err != nil {
			t.Fatalf("Arrive: %v", err)
		}
	}
	if err := conns.Arrive(model.PacketMetadata{CID: ngbrCID, FiveQI: 9}); err != nil {
		t.Fatalf("Arrive: %v", err)
	}

	g := GranterFunc(func(cid model.ConnectionID, _ uint32) Grant {
		if cid == gbrCID {
			return Grant{Bytes: 10, Active: false, Eligible: true}
		}
		return Grant{Active: true, Eligible: false}
	})
	s, err := NewScheduler(0, conns, g, allPresent(), &fakeClock{elapsed: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if _, err := s.Schedule(context.Background()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if conns.IsActive(gbrCID) || conns.MetadataCount(gbrCID) != 0 {
		t.Fatalf("drained connection left residue: active=%v metadata=%d", conns.IsActive(gbrCID), conns.MetadataCount(gbrCID))
	}
	if !conns.IsActive(ngbrCID) || conns.MetadataCount(ngbrCID) != 1 {
		t.Fatalf("ineligible connection must be kept")
	}
}

func TestScheduleEvictsDepartedDevice(t *testing.T) {
	conns := mixedConnections(t)
	resolver := allPresent()
	delete(resolver, 1027)

	var seq []model.ConnectionID
	m := newFakeMetrics()
	s, err := NewScheduler(0, conns, drainOnce(&seq), resolver, &fakeClock{elapsed: time.Millisecond}, WithMetrics(m))
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	report, err := s.Schedule(context.Background())
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(report.Evicted) != 1 || report.Evicted[0] != ngbrCID {
		t.Fatalf("evicted = %v, want [%s]", report.Evicted, ngbrCID)
	}
	for _, cid := range seq {
		if cid == ngbrCID {
			t.Fatalf("departed device received a grant")
		}
	}
	if conns.IsActive(ngbrCID) || conns.MetadataCount(ngbrCID) != 0 {
		t.Fatalf("departed device still in canonical state")
	}
	if m.pruned["departed"] != 1 || m.pruned["inactive"] != 2 {
		t.Fatalf("pruned = %v", m.pruned)
	}
}

func TestScheduleUnknownQoSNotQueued(t *testing.T) {
	conns := state.NewConnections(nil)
	bad := model.NewConnectionID(1028, 1)
	if err := conns.Arrive(model.PacketMetadata{CID: bad, FiveQI: 9999}); err != nil {
		t.Fatalf("Arrive: %v", err)
	}
	g := GranterFunc(func(model.ConnectionID, uint32) Grant {
		t.Fatalf("unknown QoS connection must not be granted")
		return Grant{}
	})
	m := newFakeMetrics()
	s, err := NewScheduler(0, conns, g, allPresent(), &fakeClock{}, WithMetrics(m))
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	report, err := s.Schedule(context.Background())
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(report.Scored) != 0 || len(report.Invalid) != 1 || m.invalid != 1 {
		t.Fatalf("report = %+v invalid metric = %d", report, m.invalid)
	}
	if !conns.IsActive(bad) {
		t.Fatalf("unknown QoS connection should stay active")
	}
}

func TestScheduleOldestSelection(t *testing.T) {
	conns := state.NewConnections(nil)
	for _, at := range []time.Duration{0, 8 * time.Millisecond} {
		if err := conns.Arrive(model.PacketMetadata{CID: dcCID, FiveQI: 82, ArrivalTime: at}); err != nil {
			t.Fatalf("Arrive: %v", err)
		}
	}
	g := GranterFunc(func(model.ConnectionID, uint32) Grant { return Grant{Eligible: false, Active: true} })
	clock := &fakeClock{elapsed: 9 * time.Millisecond}

	latest, err := NewScheduler(0, conns, g, allPresent(), clock)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	rl, err := latest.Schedule(context.Background())
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	oldest, err := NewScheduler(0, conns, g, allPresent(), clock, WithPacketSelection(SelectOldest))
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	ro, err := oldest.Schedule(context.Background())
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	// latest: 9/(8+10); oldest: 9/(0+10)
	if !approx(rl.Scored[0].Score, 67+33*0.5) {
		t.Fatalf("latest score = %v", rl.Scored[0].Score)
	}
	if !approx(ro.Scored[0].Score, 67+33*0.9) {
		t.Fatalf("oldest score = %v", ro.Scored[0].Score)
	}
}

func TestScheduleCarrierAssignment(t *testing.T) {
	conns := mixedConnections(t)
	conns.Assign(dcCID, 1)

	var seq []model.ConnectionID
	s, err := NewScheduler(0, conns, drainOnce(&seq), allPresent(), &fakeClock{elapsed: time.Millisecond})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if _, err := s.Schedule(context.Background()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	for _, cid := range seq {
		if cid == dcCID {
			t.Fatalf("connection assigned to carrier 1 scheduled on carrier 0")
		}
	}
	if !conns.IsActive(dcCID) {
		t.Fatalf("connection on other carrier should remain active")
	}
}

func TestScheduleRejectsConcurrentRound(t *testing.T) {
	conns := mixedConnections(t)
	round, err := conns.Begin(0)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer round.Abort()

	s, err := NewScheduler(0, conns, drainOnce(new([]model.ConnectionID)), allPresent(), &fakeClock{})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if _, err := s.Schedule(context.Background()); !errors.Is(err, state.ErrRoundInProgress) {
		t.Fatalf("Schedule error = %v, want ErrRoundInProgress", err)
	}
}

func TestScheduleEmitsSpanAndMetrics(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	conns := mixedConnections(t)
	m := newFakeMetrics()
	var seq []model.ConnectionID
	s, err := NewScheduler(2, conns, drainOnce(&seq), allPresent(), &fakeClock{elapsed: 3 * time.Millisecond},
		WithTracerProvider(tp), WithMetrics(m))
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	report, err := s.Schedule(context.Background())
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if report.RoundID == "" {
		t.Fatalf("round id missing from report")
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "edf.schedule" {
		t.Fatalf("spans = %+v", spans)
	}
	attrs := map[string]int64{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInt64()
	}
	if attrs["carrier"] != 2 || attrs["scored"] != 3 || attrs["granted_bytes"] != 300 {
		t.Fatalf("span attributes = %v", attrs)
	}

	if m.rounds != 1 {
		t.Fatalf("rounds recorded = %d", m.rounds)
	}
	if m.grants[qos.ResourceDCGBR.String()] != 100 || m.grants[qos.ResourceGBR.String()] != 100 || m.grants[qos.ResourceNGBR.String()] != 100 {
		t.Fatalf("grants = %v", m.grants)
	}
}

func TestNewSchedulerRejectsInvalidBands(t *testing.T) {
	bad := Bands{ngbr: Band{0, 50}, gbr: Band{40, 66}, dcgbr: Band{67, 100}}
	_, err := NewScheduler(0, state.NewConnections(nil), drainOnce(new([]model.ConnectionID)), allPresent(), &fakeClock{}, WithBands(bad))
	if !errors.Is(err, ErrInvalidBands) {
		t.Fatalf("NewScheduler error = %v, want ErrInvalidBands", err)
	}
}

func TestParsePacketSelection(t *testing.T) {
	for in, want := range map[string]PacketSelection{"": SelectLatest, "latest": SelectLatest, "oldest": SelectOldest} {
		got, err := ParsePacketSelection(in)
		if err != nil || got != want {
			t.Fatalf("ParsePacketSelection(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePacketSelection("random"); err == nil {
		t.Fatalf("expected error for unknown selection")
	}
}
