// Package engine runs a scenario: it drives the TTI clock, generates
// traffic, and runs one EDF round per carrier every TTI.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/nredf-scheduler/internal/config"
	"github.com/signalsfoundry/nredf-scheduler/internal/logging"
	"github.com/signalsfoundry/nredf-scheduler/internal/mac/edf"
	"github.com/signalsfoundry/nredf-scheduler/internal/mac/grant"
	"github.com/signalsfoundry/nredf-scheduler/internal/observability"
	"github.com/signalsfoundry/nredf-scheduler/internal/sim/events"
	"github.com/signalsfoundry/nredf-scheduler/internal/sim/state"
	"github.com/signalsfoundry/nredf-scheduler/internal/traffic"
	"github.com/signalsfoundry/nredf-scheduler/kb"
	"github.com/signalsfoundry/nredf-scheduler/model"
	"github.com/signalsfoundry/nredf-scheduler/timectrl"
)

// ErrAlreadyStarted is returned when Run or Start is called twice.
var ErrAlreadyStarted = errors.New("engine already started")

// epoch is the wall-clock origin of simulation time. Only elapsed time is
// meaningful.
var epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

type carrierUnit struct {
	id     model.CarrierID
	issuer *grant.Issuer
	sched  *edf.Scheduler
}

// Engine owns every component of one simulation run.
type Engine struct {
	scenario config.Scenario
	log      logging.Logger

	clock    *timectrl.TimeController
	events   events.Scheduler
	registry *kb.Registry
	conns    *state.Connections
	backlog  *grant.Backlog
	receiver *traffic.Receiver
	carriers []carrierUnit
	senders  []*traffic.Sender
	byNode   map[model.NodeID][]*traffic.Sender

	service *observability.ServiceCollector

	mu      sync.Mutex
	started bool
	ttis    uint64
	rounds  uint64
	granted uint64
	term    uint64
	evicted int
	failed  int
	last    map[model.CarrierID]edf.RoundReport
}

type options struct {
	log      logging.Logger
	reg      prometheus.Registerer
	tracer   trace.TracerProvider
	mode     timectrl.Mode
	observer func(edf.RoundReport)
}

// Option customises engine construction.
type Option func(*options)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRegisterer registers the scheduler, traffic and service metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// WithTracerProvider traces scheduling rounds on tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp }
}

// WithMode selects real-time or accelerated stepping for Start.
func WithMode(m timectrl.Mode) Option {
	return func(o *options) { o.mode = m }
}

// WithRoundObserver is called with the report of every round.
func WithRoundObserver(fn func(edf.RoundReport)) Option {
	return func(o *options) { o.observer = fn }
}

// New builds an engine for scenario s. s must be valid.
func New(s config.Scenario, opts ...Option) (*Engine, error) {
	o := options{mode: timectrl.Accelerated}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Noop()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	catalog, err := s.Catalog()
	if err != nil {
		return nil, fmt.Errorf("load qos table: %w", err)
	}
	bands, err := s.BandLayout()
	if err != nil {
		return nil, err
	}

	var (
		schedMetrics   *observability.SchedulerCollector
		trafficMetrics *observability.TrafficCollector
		service        *observability.ServiceCollector
	)
	if o.reg != nil {
		if schedMetrics, err = observability.NewSchedulerCollector(o.reg); err != nil {
			return nil, fmt.Errorf("scheduler metrics: %w", err)
		}
		if trafficMetrics, err = observability.NewTrafficCollector(o.reg); err != nil {
			return nil, fmt.Errorf("traffic metrics: %w", err)
		}
		if service, err = observability.NewServiceCollector(o.reg); err != nil {
			return nil, fmt.Errorf("service metrics: %w", err)
		}
	}

	clock := timectrl.NewTimeController(epoch, s.TTI, o.mode)
	e := &Engine{
		scenario: s,
		log:      o.log,
		clock:    clock,
		events:   events.NewScheduler(clock),
		registry: kb.NewRegistry(),
		backlog:  grant.NewBacklog(),
		byNode:   make(map[model.NodeID][]*traffic.Sender),
		service:  service,
		last:     make(map[model.CarrierID]edf.RoundReport),
	}

	var connOpts []state.Option
	if service != nil {
		connOpts = append(connOpts, state.WithMetricsRecorder(service))
	}
	e.conns = state.NewConnections(o.log, connOpts...)

	var trafficRec traffic.MetricsRecorder
	if trafficMetrics != nil {
		trafficRec = trafficMetrics
	}
	e.receiver = traffic.NewReceiver(catalog, o.log, trafficRec)

	schedOpts := []edf.Option{
		edf.WithCatalog(catalog),
		edf.WithBands(bands),
		edf.WithPacketSelection(s.Selection()),
		edf.WithLogger(o.log),
		edf.WithTracerProvider(o.tracer),
	}
	if schedMetrics != nil {
		schedOpts = append(schedOpts, edf.WithMetrics(schedMetrics))
	}
	for _, c := range s.Carriers {
		id := model.CarrierID(c.ID)
		issuer := grant.NewIssuer(id, grant.Config{
			BytesPerTTI:      c.BytesPerTTI,
			MaxGrantsPerNode: c.MaxGrantsPerNode,
		}, e.backlog, clock, e.receiver)
		sched, err := edf.NewScheduler(id, e.conns, issuer, e.registry, clock, schedOpts...)
		if err != nil {
			return nil, err
		}
		e.carriers = append(e.carriers, carrierUnit{id: id, issuer: issuer, sched: sched})
	}

	e.registry.Subscribe(e.onRegistryEvent)
	for _, d := range s.Devices {
		dev, err := e.registry.Attach(model.NodeID(d.Node), d.Name)
		if err != nil {
			return nil, err
		}
		if dev.Background() {
			e.log.Info(context.Background(), "background device attached; its flows are never granted",
				logging.Int("node", int(dev.Node)), logging.String("name", dev.Name))
		}
		if d.LeaveAt > 0 {
			node := model.NodeID(d.Node)
			e.events.Schedule(d.LeaveAt, func() { e.depart(node) })
		}
	}

	for _, f := range s.Flows {
		tf, err := f.Traffic()
		if err != nil {
			return nil, err
		}
		carriers := make([]model.CarrierID, 0, len(f.Carriers))
		for _, id := range f.Carriers {
			carriers = append(carriers, model.CarrierID(id))
		}
		e.conns.Assign(tf.CID, carriers...)

		rng := rand.New(rand.NewPCG(s.Seed, uint64(tf.CID)))
		sender, err := traffic.NewSender(tf, e.events, e.conns, e.backlog, e.receiver, rng, o.log)
		if err != nil {
			return nil, err
		}
		e.senders = append(e.senders, sender)
		e.byNode[tf.CID.Node()] = append(e.byNode[tf.CID.Node()], sender)
	}

	observer := o.observer
	clock.AddListener(func(time.Time) { e.tick(observer) })
	return e, nil
}

// Clock returns the simulation clock.
func (e *Engine) Clock() timectrl.SimClock { return e.clock }

// Registry returns the device registry.
func (e *Engine) Registry() *kb.Registry { return e.registry }

// Connections returns the canonical connection state.
func (e *Engine) Connections() *state.Connections { return e.conns }

// Receiver returns the measurement endpoint.
func (e *Engine) Receiver() *traffic.Receiver { return e.receiver }

// LastRound returns the most recent report of carrier.
func (e *Engine) LastRound(carrier model.CarrierID) (edf.RoundReport, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.last[carrier]
	return r, ok
}

// Run executes the whole scenario synchronously, as fast as possible, and
// returns its summary. Cancelling ctx stops the run early.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	if err := e.begin(ctx); err != nil {
		return Summary{}, err
	}
	e.clock.Run(ctx, e.scenario.Duration)
	e.finish(ctx)
	return e.Summary(), ctx.Err()
}

// Start runs the scenario in the background in the configured mode. The
// returned channel closes when the scenario ends or ctx is done.
func (e *Engine) Start(ctx context.Context) (<-chan struct{}, error) {
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	ctl := e.clock.Start(ctx, e.scenario.Duration)
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctl
		e.finish(ctx)
	}()
	return done, nil
}

func (e *Engine) begin(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.mu.Unlock()

	e.log.Info(ctx, "simulation starting",
		logging.String("scenario", e.scenario.Name),
		logging.Duration("duration", e.scenario.Duration),
		logging.Duration("tti", e.scenario.TTI),
		logging.Int("carriers", len(e.carriers)),
		logging.Int("flows", len(e.senders)),
		logging.String("mode", e.clock.Mode.String()),
	)
	for _, s := range e.senders {
		s.Start()
	}
	// Arrivals at time zero are served from the first TTI on.
	e.events.RunDue()
	return nil
}

func (e *Engine) finish(ctx context.Context) {
	for _, s := range e.senders {
		s.Stop()
	}
	sum := e.Summary()
	e.log.Info(ctx, "simulation finished",
		logging.Duration("elapsed", sum.Elapsed),
		logging.Uint("ttis", sum.TTIs),
		logging.Uint("rounds", sum.Rounds),
		logging.Uint("granted_bytes", sum.GrantedBytes),
		logging.Int("backlog_packets", sum.BacklogPackets),
	)
}

// tick runs on every clock step: one round per carrier at the new time,
// then the events due now. Data arriving at t is served from t+TTI.
// Rounds are never interrupted, so they run on a background context.
func (e *Engine) tick(observer func(edf.RoundReport)) {
	ctx := context.Background()
	for _, c := range e.carriers {
		c.issuer.Reset()
		report, err := c.sched.Schedule(ctx)
		e.mu.Lock()
		if err != nil {
			e.failed++
			e.mu.Unlock()
			e.log.Error(ctx, "scheduling round failed", logging.Int("carrier", int(c.id)), logging.Error(err))
			continue
		}
		e.rounds++
		e.granted += report.Allocation.TotalBytes()
		if report.Allocation.Terminated {
			e.term++
		}
		e.evicted += len(report.Evicted)
		e.last[c.id] = report
		e.mu.Unlock()
		if observer != nil {
			observer(report)
		}
	}
	e.events.RunDue()

	e.mu.Lock()
	e.ttis++
	e.mu.Unlock()
	e.service.SetDevices(e.registry.Len())
	e.service.SetBacklogPackets(e.backlog.Packets())
}

func (e *Engine) depart(node model.NodeID) {
	if err := e.registry.Detach(node); err != nil {
		e.log.Warn(context.Background(), "departure of unknown device", logging.Int("node", int(node)), logging.Error(err))
	}
}

func (e *Engine) onRegistryEvent(ev kb.Event) {
	if ev.Type != kb.EventDeviceDetached {
		return
	}
	node := ev.Device.Node
	for _, s := range e.byNode[node] {
		s.Stop()
	}
	dropped := e.backlog.Drop(node)
	e.log.Info(context.Background(), "device left",
		logging.Int("node", int(node)),
		logging.String("name", ev.Device.Name),
		logging.Int("dropped_packets", len(dropped)),
	)
}

// Summary is the outcome of a run.
type Summary struct {
	Name    string
	Seed    uint64
	TTI     time.Duration
	Elapsed time.Duration

	TTIs         uint64
	Rounds       uint64
	FailedRounds int
	Terminated   uint64
	GrantedBytes uint64
	Evicted      int

	BacklogPackets    int
	Devices           int
	BackgroundDevices int

	Flows   []traffic.FlowStats
	Classes []traffic.ClassSummary
}

// Sent returns the packets generated by all flows.
func (s Summary) Sent() uint64 {
	var n uint64
	for _, f := range s.Flows {
		n += f.Sent
	}
	return n
}

// Received returns the packets delivered on all flows.
func (s Summary) Received() uint64 {
	var n uint64
	for _, f := range s.Flows {
		n += f.Received
	}
	return n
}

// DeadlineMisses returns the delay-critical packets that missed their budget.
func (s Summary) DeadlineMisses() uint64 {
	var n uint64
	for _, f := range s.Flows {
		n += f.DeadlineMisses
	}
	return n
}

// Summary returns the current measurements.
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	sum := Summary{
		Name:         e.scenario.Name,
		Seed:         e.scenario.Seed,
		TTI:          e.scenario.TTI,
		TTIs:         e.ttis,
		Rounds:       e.rounds,
		FailedRounds: e.failed,
		Terminated:   e.term,
		GrantedBytes: e.granted,
		Evicted:      e.evicted,
	}
	e.mu.Unlock()

	sum.Elapsed = e.clock.Elapsed()
	sum.BacklogPackets = e.backlog.Packets()
	for _, d := range e.registry.List() {
		sum.Devices++
		if d.Background() {
			sum.BackgroundDevices++
		}
	}
	sum.Flows = e.receiver.Flows()
	sum.Classes = e.receiver.Summary()
	return sum
}
