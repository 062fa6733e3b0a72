package traffic

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/signalsfoundry/nredf-scheduler/internal/logging"
	"github.com/signalsfoundry/nredf-scheduler/internal/sim/events"
	"github.com/signalsfoundry/nredf-scheduler/model"
)

// Flow describes the traffic one connection generates.
type Flow struct {
	CID        model.ConnectionID
	FiveQI     int
	PacketSize int
	Period     time.Duration
	Start      time.Duration
	// Stop is the last generation time; zero means no end.
	Stop time.Duration
	// Sporadic adds a random gap drawn from Law to every period.
	Sporadic   bool
	Law        Law
	JitterMean time.Duration
}

// Validate reports configuration errors of f.
func (f Flow) Validate() error {
	var errs []error
	if f.CID.Node() == model.NodeIDNone {
		errs = append(errs, errors.New("node id must be set"))
	}
	if f.PacketSize <= 0 {
		errs = append(errs, fmt.Errorf("packet size %d must be positive", f.PacketSize))
	}
	if f.Period <= 0 {
		errs = append(errs, fmt.Errorf("period %v must be positive", f.Period))
	}
	if f.Start < 0 {
		errs = append(errs, fmt.Errorf("start %v must not be negative", f.Start))
	}
	if f.Stop != 0 && f.Stop < f.Start {
		errs = append(errs, fmt.Errorf("stop %v before start %v", f.Stop, f.Start))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("flow %s: %w", f.CID, err)
	}
	return nil
}

// Feed is the data-arrival entry point of the scheduler state.
type Feed interface {
	Arrive(md model.PacketMetadata) error
}

// Queue accepts packets waiting for a grant.
type Queue interface {
	Enqueue(pkt model.Packet)
}

// SentRecorder counts generated packets per flow.
type SentRecorder interface {
	Sent(pkt model.Packet)
}

// Sender generates the packets of one flow on the event scheduler.
type Sender struct {
	flow   Flow
	sched  events.Scheduler
	feed   Feed
	queue  Queue
	record SentRecorder
	rng    *rand.Rand
	log    logging.Logger

	mu      sync.Mutex
	seq     uint64
	pending string
	stopped bool
}

// NewSender wires a sender. record may be nil.
func NewSender(flow Flow, sched events.Scheduler, feed Feed, queue Queue, record SentRecorder, rng *rand.Rand, log logging.Logger) (*Sender, error) {
	if err := flow.Validate(); err != nil {
		return nil, err
	}
	if sched == nil || feed == nil || queue == nil || rng == nil {
		return nil, fmt.Errorf("flow %s: scheduler, feed, queue and rng are required", flow.CID)
	}
	if flow.JitterMean <= 0 {
		flow.JitterMean = DefaultJitterMean
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Sender{
		flow:   flow,
		sched:  sched,
		feed:   feed,
		queue:  queue,
		record: record,
		rng:    rng,
		log:    log.With(logging.String("cid", flow.CID.String()), logging.Int("five_qi", flow.FiveQI)),
	}, nil
}

// Flow returns the flow description.
func (s *Sender) Flow() Flow { return s.flow }

// Sent returns the number of packets generated so far.
func (s *Sender) Sent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Start schedules the first packet at the flow start time.
func (s *Sender) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.pending = s.sched.Schedule(s.flow.Start, s.fire)
}

// Stop cancels any pending generation. A stopped sender stays stopped.
func (s *Sender) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.pending != "" {
		s.sched.Cancel(s.pending)
		s.pending = ""
	}
}

func (s *Sender) fire() {
	now := s.sched.Now()

	s.mu.Lock()
	s.pending = ""
	if s.stopped || (s.flow.Stop != 0 && now > s.flow.Stop) {
		s.mu.Unlock()
		return
	}
	s.seq++
	pkt := model.Packet{
		CID:       s.flow.CID,
		Seq:       s.seq,
		Size:      s.flow.PacketSize,
		FiveQI:    s.flow.FiveQI,
		CreatedAt: now,
	}
	next := now + s.interval()
	s.pending = s.sched.Schedule(next, s.fire)
	s.mu.Unlock()

	s.queue.Enqueue(pkt)
	if s.record != nil {
		s.record.Sent(pkt)
	}
	if err := s.feed.Arrive(pkt.Metadata()); err != nil {
		s.log.Warn(context.Background(), "arrival rejected", logging.Error(err))
	}
}

func (s *Sender) interval() time.Duration {
	if !s.flow.Sporadic {
		return s.flow.Period
	}
	return s.flow.Period + Jitter(s.rng, s.flow.JitterMean, s.flow.Law)
}
