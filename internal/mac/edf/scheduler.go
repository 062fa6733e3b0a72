package edf

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/nredf-scheduler/internal/logging"
	"github.com/signalsfoundry/nredf-scheduler/internal/sim/state"
	"github.com/signalsfoundry/nredf-scheduler/model"
	"github.com/signalsfoundry/nredf-scheduler/qos"
	"github.com/signalsfoundry/nredf-scheduler/timectrl"
)

const tracerName = "github.com/signalsfoundry/nredf-scheduler/internal/mac/edf"

// Resolver maps a device to its live simulation id; ok is false once the
// device has left.
type Resolver interface {
	Resolve(node model.NodeID) (simID uint64, ok bool)
}

// PacketSelection chooses which metadata record represents a connection.
type PacketSelection int

const (
	// SelectLatest scores the most recently arrived packet.
	SelectLatest PacketSelection = iota
	// SelectOldest scores the earliest arrived packet still recorded.
	SelectOldest
)

func (p PacketSelection) String() string {
	if p == SelectOldest {
		return "oldest"
	}
	return "latest"
}

// ParsePacketSelection accepts "latest" (or empty) and "oldest".
func ParsePacketSelection(s string) (PacketSelection, error) {
	switch s {
	case "", "latest":
		return SelectLatest, nil
	case "oldest":
		return SelectOldest, nil
	default:
		return SelectLatest, fmt.Errorf("unknown packet selection %q", s)
	}
}

// MetricsRecorder receives per-round scheduler measurements.
type MetricsRecorder interface {
	RecordRound(carrier int, duration time.Duration, scored int, terminated bool)
	RecordGrant(resourceType string, bytes uint64)
	RecordPruned(reason string, n int)
	RecordInvalidQoS(n int)
	RecordBackgroundSkipped(n int)
}

// RoundReport describes what one Schedule call did.
type RoundReport struct {
	Carrier model.CarrierID
	RoundID string
	// Time is the simulation time the round was scored at.
	Time time.Duration
	// Scored lists the queued entries in allocation order.
	Scored []ScoredEntry
	// Evicted lists connections of departed devices.
	Evicted []model.ConnectionID
	// Invalid lists connections whose 5QI is not in the catalog.
	Invalid []model.ConnectionID
	// Unscored lists carrier-active connections without metadata.
	Unscored   []model.ConnectionID
	Allocation Allocation
}

// Scheduler runs one EDF scheduling round per call on one carrier.
type Scheduler struct {
	carrier   model.CarrierID
	scorer    *Scorer
	bands     Bands
	conns     *state.Connections
	resolver  Resolver
	granter   Granter
	clock     timectrl.SimClock
	selection PacketSelection

	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer
}

// Option customises Scheduler construction.
type Option func(*Scheduler)

// WithCatalog scores against catalog instead of the standard 5QI table.
func WithCatalog(c *qos.Catalog) Option {
	return func(s *Scheduler) { s.scorer = NewScorer(c) }
}

// WithBands replaces the default band layout.
func WithBands(b Bands) Option {
	return func(s *Scheduler) { s.bands = b }
}

// WithPacketSelection picks the representative packet policy.
func WithPacketSelection(p PacketSelection) Option {
	return func(s *Scheduler) { s.selection = p }
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithTracerProvider uses tp instead of the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Scheduler) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewScheduler wires a scheduler for carrier. The band layout is validated
// here so that a misconfiguration cannot silently invert precedence.
func NewScheduler(carrier model.CarrierID, conns *state.Connections, g Granter, r Resolver, clock timectrl.SimClock, opts ...Option) (*Scheduler, error) {
	if conns == nil || g == nil || r == nil || clock == nil {
		return nil, fmt.Errorf("new scheduler: connections, granter, resolver and clock are required")
	}
	s := &Scheduler{
		carrier:  carrier,
		scorer:   NewScorer(nil),
		bands:    DefaultBands(),
		conns:    conns,
		resolver: r,
		granter:  g,
		clock:    clock,
		log:      logging.Noop(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := NewBands(s.bands.ngbr, s.bands.gbr, s.bands.dcgbr); err != nil {
		return nil, fmt.Errorf("new scheduler: %w", err)
	}
	s.log = s.log.With(logging.Int("carrier", int(carrier)))
	return s, nil
}

// Carrier returns the carrier this scheduler serves.
func (s *Scheduler) Carrier() model.CarrierID { return s.carrier }

// Schedule runs one round: snapshot the connection state, score every
// carrier-active connection, allocate, and commit the working copies. It
// fails only when another round is still in progress.
func (s *Scheduler) Schedule(ctx context.Context) (RoundReport, error) {
	round, err := s.conns.Begin(s.carrier)
	if err != nil {
		return RoundReport{}, fmt.Errorf("carrier %d: %w", s.carrier, err)
	}

	start := time.Now()
	ctx, log := logging.WithRoundLogger(ctx, s.log)

	ctx, span := s.tracer.Start(ctx, "edf.schedule", trace.WithAttributes(
		attribute.Int("carrier", int(s.carrier)),
	))
	defer span.End()

	now := s.clock.Elapsed()
	report := RoundReport{
		Carrier: s.carrier,
		RoundID: logging.RoundIDFromContext(ctx),
		Time:    now,
	}

	queue := s.buildQueue(ctx, log, round, now, &report)
	report.Scored = queue.Entries()

	report.Allocation = NewAllocator(s.granter, log).Allocate(ctx, queue, round)

	if err := round.Commit(); err != nil {
		// Only reachable if someone else committed or aborted our round.
		log.Error(ctx, "commit failed", logging.Error(err))
		return report, fmt.Errorf("carrier %d: commit: %w", s.carrier, err)
	}

	span.SetAttributes(
		attribute.Int("scored", len(report.Scored)),
		attribute.Int("evicted", len(report.Evicted)),
		attribute.Int64("granted_bytes", int64(report.Allocation.TotalBytes())),
		attribute.Bool("terminated", report.Allocation.Terminated),
	)
	s.record(report, time.Since(start))
	return report, nil
}

func (s *Scheduler) buildQueue(ctx context.Context, log logging.Logger, round *state.Round, now time.Duration, report *RoundReport) *ScoreQueue {
	cids := round.CarrierActive()
	queue := NewScoreQueue(len(cids))

	for _, cid := range cids {
		if _, ok := s.resolver.Resolve(cid.Node()); !ok {
			round.Evict(cid)
			report.Evicted = append(report.Evicted, cid)
			log.Info(ctx, "device left the simulation; connection removed", logging.String("cid", cid.String()))
			continue
		}

		md, ok := s.representative(round, cid)
		if !ok {
			report.Unscored = append(report.Unscored, cid)
			log.Debug(ctx, "no packet metadata", logging.String("cid", cid.String()))
			continue
		}

		tb := TransportBlock{
			FiveQI:         md.FiveQI,
			ArrivalTime:    md.ArrivalTime,
			SchedulingTime: now,
		}
		cls, priority := s.scorer.Evaluate(tb)
		if !cls.Valid() {
			report.Invalid = append(report.Invalid, cid)
			log.Warn(ctx, "invalid QoS id; connection not queued",
				logging.String("cid", cid.String()),
				logging.Int("five_qi", md.FiveQI),
			)
			continue
		}
		banded, _ := s.bands.Map(cls.ResourceType, priority)

		log.Debug(ctx, "scored",
			logging.String("cid", cid.String()),
			logging.Int("five_qi", md.FiveQI),
			logging.String("resource_type", cls.ResourceType.String()),
			logging.Float("priority", priority),
			logging.Float("score", banded),
		)
		queue.Push(ScoredEntry{CID: cid, Score: banded, ResourceType: cls.ResourceType})
	}
	return queue
}

func (s *Scheduler) representative(round *state.Round, cid model.ConnectionID) (model.PacketMetadata, bool) {
	if s.selection == SelectOldest {
		return round.Oldest(cid)
	}
	return round.Latest(cid)
}

func (s *Scheduler) record(report RoundReport, d time.Duration) {
	if s.metrics == nil {
		return
	}
	alloc := report.Allocation
	s.metrics.RecordRound(int(s.carrier), d, len(report.Scored), alloc.Terminated)

	types := make(map[model.ConnectionID]qos.ResourceType, len(report.Scored))
	for _, e := range report.Scored {
		types[e.CID] = e.ResourceType
	}
	for _, cid := range alloc.Order {
		s.metrics.RecordGrant(types[cid].String(), alloc.Granted[cid])
	}
	s.metrics.RecordPruned("inactive", len(alloc.Deactivated))
	s.metrics.RecordPruned("departed", len(report.Evicted))
	s.metrics.RecordInvalidQoS(len(report.Invalid))
	s.metrics.RecordBackgroundSkipped(alloc.BackgroundSkipped)
}
