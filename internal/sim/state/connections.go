// Package state owns the canonical connection sets shared by the MAC
// scheduling disciplines and the working copies used during a round.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/nredf-scheduler/internal/logging"
	"github.com/signalsfoundry/nredf-scheduler/model"
)

var (
	// ErrRoundInProgress indicates a round is already Preparing.
	ErrRoundInProgress = errors.New("scheduling round already in progress")
	// ErrNoRound indicates the round being committed is not the current one.
	ErrNoRound = errors.New("no such scheduling round in progress")
)

// Phase is the round lifecycle of a Connections store.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePreparing
	PhaseCommitted
)

func (p Phase) String() string {
	switch p {
	case PhasePreparing:
		return "preparing"
	case PhaseCommitted:
		return "committed"
	default:
		return "idle"
	}
}

// MetricsRecorder receives size updates of the canonical sets.
type MetricsRecorder interface {
	SetConnectionCounts(active, metadata int)
}

// Snapshot is a copy of the canonical state.
type Snapshot struct {
	Active   []model.ConnectionID
	Metadata []model.PacketMetadata
}

// Connections holds the canonical active connection set, the append-ordered
// packet metadata collection, and the carrier assignment of each connection.
//
// Lock ordering: callers never hold a Round while taking c.mu from another
// goroutine; rounds are single-threaded by contract.
type Connections struct {
	mu sync.Mutex

	active   map[model.ConnectionID]struct{}
	metadata []model.PacketMetadata
	carriers map[model.ConnectionID]map[model.CarrierID]struct{}

	phase Phase
	round *Round

	log     logging.Logger
	metrics MetricsRecorder
}

// Option customises Connections construction.
type Option func(*Connections)

// WithMetricsRecorder attaches an optional metrics recorder for set sizes.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(c *Connections) {
		c.metrics = m
	}
}

// NewConnections returns an empty store.
func NewConnections(log logging.Logger, opts ...Option) *Connections {
	if log == nil {
		log = logging.Noop()
	}
	c := &Connections{
		active:   make(map[model.ConnectionID]struct{}),
		carriers: make(map[model.ConnectionID]map[model.CarrierID]struct{}),
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.publishLocked()
	return c
}

// Assign restricts a connection to the given carriers. A connection with
// no assignment is considered by every carrier.
func (c *Connections) Assign(cid model.ConnectionID, carriers ...model.CarrierID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(carriers) == 0 {
		delete(c.carriers, cid)
		return
	}
	set := make(map[model.CarrierID]struct{}, len(carriers))
	for _, id := range carriers {
		set[id] = struct{}{}
	}
	c.carriers[cid] = set
}

// Arrive is the data-arrival feed: it activates the connection and appends
// the metadata record. Arrivals are rejected while a round is Preparing.
func (c *Connections) Arrive(md model.PacketMetadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhasePreparing {
		return fmt.Errorf("arrival for %s: %w", md.CID, ErrRoundInProgress)
	}
	c.active[md.CID] = struct{}{}
	c.metadata = append(c.metadata, md)
	c.publishLocked()
	return nil
}

// Phase returns the current round phase.
func (c *Connections) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// IsActive reports whether cid is in the canonical active set.
func (c *Connections) IsActive(cid model.ConnectionID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[cid]
	return ok
}

// MetadataCount returns the number of canonical metadata records for cid.
func (c *Connections) MetadataCount(cid model.ConnectionID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, md := range c.metadata {
		if md.CID == cid {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of the canonical state with the active set sorted.
func (c *Connections) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Active:   sortedIDs(c.active),
		Metadata: append([]model.PacketMetadata(nil), c.metadata...),
	}
}

// Begin moves the store from Idle to Preparing and returns the round's
// working copies for the given carrier.
func (c *Connections) Begin(carrier model.CarrierID) (*Round, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhasePreparing {
		return nil, ErrRoundInProgress
	}

	r := &Round{
		owner:         c,
		carrier:       carrier,
		active:        make(map[model.ConnectionID]struct{}, len(c.active)),
		metadata:      append([]model.PacketMetadata(nil), c.metadata...),
		carrierActive: make(map[model.ConnectionID]struct{}),
	}
	for cid := range c.active {
		r.active[cid] = struct{}{}
		if c.servesLocked(cid, carrier) {
			r.carrierActive[cid] = struct{}{}
		}
	}

	c.phase = PhasePreparing
	c.round = r
	return r, nil
}

func (c *Connections) servesLocked(cid model.ConnectionID, carrier model.CarrierID) bool {
	set, ok := c.carriers[cid]
	if !ok {
		return true
	}
	_, ok = set[carrier]
	return ok
}

func (c *Connections) commit(r *Round) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.round != r || c.phase != PhasePreparing {
		return ErrNoRound
	}
	c.phase = PhaseCommitted
	c.active = r.active
	c.metadata = r.metadata
	r.done = true
	c.round = nil
	c.phase = PhaseIdle
	c.publishLocked()
	c.log.Debug(context.Background(), "round committed",
		logging.Int("carrier", int(r.carrier)),
		logging.Int("active", len(c.active)),
		logging.Int("metadata", len(c.metadata)),
	)
	return nil
}

func (c *Connections) abort(r *Round) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.round != r || c.phase != PhasePreparing {
		return ErrNoRound
	}
	r.done = true
	c.round = nil
	c.phase = PhaseIdle
	return nil
}

// evictCanonical removes a departed connection from the canonical state
// while a round is Preparing.
func (c *Connections) evictCanonical(cid model.ConnectionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := len(c.metadata)
	delete(c.active, cid)
	c.metadata = purge(c.metadata, cid)
	c.publishLocked()
	c.log.Info(context.Background(), "evicted connection of departed device",
		logging.String("cid", cid.String()),
		logging.Int("purged_metadata", before-len(c.metadata)),
	)
}

func (c *Connections) publishLocked() {
	if c.metrics == nil {
		return
	}
	c.metrics.SetConnectionCounts(len(c.active), len(c.metadata))
}

func purge(mds []model.PacketMetadata, cid model.ConnectionID) []model.PacketMetadata {
	out := mds[:0]
	for _, md := range mds {
		if md.CID != cid {
			out = append(out, md)
		}
	}
	clear(mds[len(out):])
	return out
}

func sortedIDs(set map[model.ConnectionID]struct{}) []model.ConnectionID {
	ids := make([]model.ConnectionID, 0, len(set))
	for cid := range set {
		ids = append(ids, cid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
