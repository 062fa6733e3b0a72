package traffic

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/nredf-scheduler/internal/logging"
	"github.com/signalsfoundry/nredf-scheduler/model"
	"github.com/signalsfoundry/nredf-scheduler/qos"
)

// DeadlineCheckedMinFiveQI is the lowest 5QI whose packets are checked
// against the packet delay budget on reception.
const DeadlineCheckedMinFiveQI = 82

// MetricsRecorder receives per-packet traffic measurements.
type MetricsRecorder interface {
	PacketSent(fiveQI int)
	PacketReceived(fiveQI int, resourceType string, delay time.Duration, deadlineMissed bool)
}

// FlowStats accumulates the measurements of one connection.
type FlowStats struct {
	CID           model.ConnectionID
	FiveQI        int
	Sent          uint64
	Received      uint64
	BytesReceived uint64

	DelayMin time.Duration
	DelayMax time.Duration
	delaySum time.Duration

	jitterSum time.Duration
	lastDelay time.Duration

	DeadlineChecks uint64
	DeadlineMisses uint64
}

// MeanDelay returns the average one-way delay of received packets.
func (f FlowStats) MeanDelay() time.Duration {
	if f.Received == 0 {
		return 0
	}
	return f.delaySum / time.Duration(f.Received)
}

// Jitter returns the mean absolute difference between consecutive delays.
func (f FlowStats) Jitter() time.Duration {
	if f.Received < 2 {
		return 0
	}
	return f.jitterSum / time.Duration(f.Received-1)
}

// LossRate is the share of sent packets that were not received.
func (f FlowStats) LossRate() float64 {
	if f.Sent == 0 {
		return 0
	}
	return math.Max(0, 1-float64(f.Received)/float64(f.Sent))
}

// MissRate is the share of deadline-checked packets that missed.
func (f FlowStats) MissRate() float64 {
	if f.DeadlineChecks == 0 {
		return 0
	}
	return float64(f.DeadlineMisses) / float64(f.DeadlineChecks)
}

// Throughput returns received bytes per second over elapsed.
func (f FlowStats) Throughput(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(f.BytesReceived) / elapsed.Seconds()
}

// ClassSummary aggregates flows of one 5QI.
type ClassSummary struct {
	FiveQI         int
	ResourceType   qos.ResourceType
	Flows          int
	Sent           uint64
	Received       uint64
	BytesReceived  uint64
	MeanDelay      time.Duration
	MaxDelay       time.Duration
	DeadlineChecks uint64
	DeadlineMisses uint64
}

// LossRate is the share of sent packets that were not received.
func (c ClassSummary) LossRate() float64 {
	if c.Sent == 0 {
		return 0
	}
	return math.Max(0, 1-float64(c.Received)/float64(c.Sent))
}

// Receiver is the measurement endpoint for delivered packets. It implements
// the grant package's Sink and the sender's SentRecorder.
type Receiver struct {
	catalog *qos.Catalog
	log     logging.Logger
	metrics MetricsRecorder

	mu    sync.Mutex
	flows map[model.ConnectionID]*FlowStats
}

// NewReceiver returns a receiver checking deadlines against catalog. A nil
// catalog means the standard table.
func NewReceiver(catalog *qos.Catalog, log logging.Logger, metrics MetricsRecorder) *Receiver {
	if catalog == nil {
		catalog = qos.Default()
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Receiver{
		catalog: catalog,
		log:     log,
		metrics: metrics,
		flows:   make(map[model.ConnectionID]*FlowStats),
	}
}

func (r *Receiver) flowLocked(cid model.ConnectionID, fiveQI int) *FlowStats {
	f, ok := r.flows[cid]
	if !ok {
		f = &FlowStats{CID: cid, FiveQI: fiveQI}
		r.flows[cid] = f
	}
	return f
}

// Sent counts a generated packet.
func (r *Receiver) Sent(pkt model.Packet) {
	r.mu.Lock()
	r.flowLocked(pkt.CID, pkt.FiveQI).Sent++
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.PacketSent(pkt.FiveQI)
	}
}

// Deliver records a packet received at simulation time at.
func (r *Receiver) Deliver(pkt model.Packet, at time.Duration) {
	ctx := context.Background()
	delay := at - pkt.CreatedAt
	cls := r.catalog.Lookup(pkt.FiveQI)

	missed := false
	checked := false
	if !cls.Valid() {
		r.log.Error(ctx, "invalid QoS id on received packet",
			logging.String("cid", pkt.CID.String()),
			logging.Int("five_qi", pkt.FiveQI),
		)
	} else if cls.FiveQI >= DeadlineCheckedMinFiveQI {
		checked = true
		missed = delay > cls.PacketDelayBudget
		if missed {
			r.log.Debug(ctx, "deadline missed",
				logging.String("cid", pkt.CID.String()),
				logging.Int("five_qi", pkt.FiveQI),
				logging.Duration("delay", delay),
				logging.Duration("budget", cls.PacketDelayBudget),
			)
		}
	}

	r.mu.Lock()
	f := r.flowLocked(pkt.CID, pkt.FiveQI)
	if f.Received == 0 || delay < f.DelayMin {
		f.DelayMin = delay
	}
	if delay > f.DelayMax {
		f.DelayMax = delay
	}
	if f.Received > 0 {
		diff := delay - f.lastDelay
		if diff < 0 {
			diff = -diff
		}
		f.jitterSum += diff
	}
	f.lastDelay = delay
	f.delaySum += delay
	f.Received++
	f.BytesReceived += uint64(pkt.Size)
	if checked {
		f.DeadlineChecks++
		if missed {
			f.DeadlineMisses++
		}
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.PacketReceived(pkt.FiveQI, cls.ResourceType.String(), delay, missed)
	}
}

// Flow returns a copy of the statistics of cid.
func (r *Receiver) Flow(cid model.ConnectionID) (FlowStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flows[cid]
	if !ok {
		return FlowStats{}, false
	}
	return *f, true
}

// Flows returns copies of all flow statistics ordered by connection id.
func (r *Receiver) Flows() []FlowStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FlowStats, 0, len(r.flows))
	for _, f := range r.flows {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CID < out[j].CID })
	return out
}

// Summary aggregates all flows by 5QI, ordered by 5QI.
func (r *Receiver) Summary() []ClassSummary {
	byQI := make(map[int]*ClassSummary)
	delaySums := make(map[int]time.Duration)
	for _, f := range r.Flows() {
		c, ok := byQI[f.FiveQI]
		if !ok {
			c = &ClassSummary{
				FiveQI:       f.FiveQI,
				ResourceType: r.catalog.Lookup(f.FiveQI).ResourceType,
			}
			byQI[f.FiveQI] = c
		}
		c.Flows++
		c.Sent += f.Sent
		c.Received += f.Received
		c.BytesReceived += f.BytesReceived
		c.DeadlineChecks += f.DeadlineChecks
		c.DeadlineMisses += f.DeadlineMisses
		if f.DelayMax > c.MaxDelay {
			c.MaxDelay = f.DelayMax
		}
		delaySums[f.FiveQI] += f.delaySum
	}

	out := make([]ClassSummary, 0, len(byQI))
	for qi, c := range byQI {
		if c.Received > 0 {
			c.MeanDelay = delaySums[qi] / time.Duration(c.Received)
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiveQI < out[j].FiveQI })
	return out
}
