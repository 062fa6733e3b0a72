// Package grant implements the per-TTI radio resource grant issuer used by
// the simulation. Each carrier owns one Issuer with a byte budget that is
// refilled every TTI; all issuers drain one shared Backlog.
package grant

import (
	"sync"
	"time"

	"github.com/signalsfoundry/nredf-scheduler/internal/mac/edf"
	"github.com/signalsfoundry/nredf-scheduler/model"
	"github.com/signalsfoundry/nredf-scheduler/timectrl"
)

// Sink receives packets once all of their bytes have been granted.
type Sink interface {
	Deliver(pkt model.Packet, at time.Duration)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(pkt model.Packet, at time.Duration)

func (f SinkFunc) Deliver(pkt model.Packet, at time.Duration) { f(pkt, at) }

// Config sizes an Issuer.
type Config struct {
	// BytesPerTTI is the carrier capacity refilled by Reset.
	BytesPerTTI uint32
	// MaxGrantsPerNode caps how many grants one device receives per TTI.
	// Zero means unlimited.
	MaxGrantsPerNode int
}

// Issuer hands out bytes from a carrier budget. It implements edf.Granter.
type Issuer struct {
	mu sync.Mutex

	carrier model.CarrierID
	cfg     Config
	backlog *Backlog
	clock   timectrl.SimClock
	sink    Sink

	budget uint32
	served map[model.NodeID]int
}

var _ edf.Granter = (*Issuer)(nil)

// NewIssuer returns an issuer for carrier with a full budget. sink may be nil.
func NewIssuer(carrier model.CarrierID, cfg Config, backlog *Backlog, clock timectrl.SimClock, sink Sink) *Issuer {
	return &Issuer{
		carrier: carrier,
		cfg:     cfg,
		backlog: backlog,
		clock:   clock,
		sink:    sink,
		budget:  cfg.BytesPerTTI,
		served:  make(map[model.NodeID]int),
	}
}

// Carrier returns the carrier the issuer serves.
func (i *Issuer) Carrier() model.CarrierID { return i.carrier }

// Reset refills the budget and clears the per-node grant counts. Call once
// per TTI before the scheduling round.
func (i *Issuer) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.budget = i.cfg.BytesPerTTI
	clear(i.served)
}

// Budget returns the bytes left this TTI.
func (i *Issuer) Budget() uint32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.budget
}

// RequestGrant grants up to maxBytes to cid from the remaining budget.
func (i *Issuer) RequestGrant(cid model.ConnectionID, maxBytes uint32) edf.Grant {
	pending := i.backlog.Bytes(cid)

	i.mu.Lock()
	if i.budget == 0 {
		i.mu.Unlock()
		return edf.Grant{Terminate: true, Active: pending > 0, Eligible: true}
	}
	if pending == 0 {
		i.mu.Unlock()
		return edf.Grant{Active: false, Eligible: true}
	}
	node := cid.Node()
	if i.cfg.MaxGrantsPerNode > 0 && i.served[node] >= i.cfg.MaxGrantsPerNode {
		i.mu.Unlock()
		return edf.Grant{Active: true, Eligible: false}
	}

	want := min(uint64(maxBytes), uint64(i.budget), uint64(pending))
	taken, delivered, left := i.backlog.take(cid, int(want))
	i.budget -= uint32(taken)
	i.served[node]++
	terminate := i.budget == 0
	i.mu.Unlock()

	if i.sink != nil && len(delivered) > 0 {
		now := i.clock.Elapsed()
		for _, pkt := range delivered {
			i.sink.Deliver(pkt, now)
		}
	}
	return edf.Grant{
		Bytes:     uint32(taken),
		Terminate: terminate,
		Active:    left > 0,
		Eligible:  true,
	}
}
