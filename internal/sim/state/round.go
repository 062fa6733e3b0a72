package state

import (
	"github.com/signalsfoundry/nredf-scheduler/model"
)

// Round holds the working copies owned by one scheduling round. It is not
// safe for concurrent use.
type Round struct {
	owner   *Connections
	carrier model.CarrierID
	done    bool

	active        map[model.ConnectionID]struct{}
	metadata      []model.PacketMetadata
	carrierActive map[model.ConnectionID]struct{}
}

// Carrier returns the carrier this round schedules.
func (r *Round) Carrier() model.CarrierID { return r.carrier }

// CarrierActive returns the carrier-active connections in ascending id order.
func (r *Round) CarrierActive() []model.ConnectionID {
	return sortedIDs(r.carrierActive)
}

// IsCarrierActive reports whether cid is still carrier-active this round.
func (r *Round) IsCarrierActive(cid model.ConnectionID) bool {
	_, ok := r.carrierActive[cid]
	return ok
}

// IsActive reports whether cid is in the working active set.
func (r *Round) IsActive(cid model.ConnectionID) bool {
	_, ok := r.active[cid]
	return ok
}

// Active returns the working active set in ascending id order.
func (r *Round) Active() []model.ConnectionID {
	return sortedIDs(r.active)
}

// Metadata returns a copy of the working metadata collection.
func (r *Round) Metadata() []model.PacketMetadata {
	return append([]model.PacketMetadata(nil), r.metadata...)
}

// Latest returns the most recently appended working metadata record for cid.
func (r *Round) Latest(cid model.ConnectionID) (model.PacketMetadata, bool) {
	for i := len(r.metadata) - 1; i >= 0; i-- {
		if r.metadata[i].CID == cid {
			return r.metadata[i], true
		}
	}
	return model.PacketMetadata{}, false
}

// Oldest returns the earliest appended working metadata record for cid.
func (r *Round) Oldest(cid model.ConnectionID) (model.PacketMetadata, bool) {
	for _, md := range r.metadata {
		if md.CID == cid {
			return md, true
		}
	}
	return model.PacketMetadata{}, false
}

// Deactivate drops a connection that has no more data: it leaves the
// carrier-active set and the working active set, and all of its working
// metadata is purged. Canonical state changes only on Commit.
func (r *Round) Deactivate(cid model.ConnectionID) {
	delete(r.carrierActive, cid)
	delete(r.active, cid)
	r.metadata = purge(r.metadata, cid)
}

// Evict removes a connection whose device has left the simulation. Unlike
// Deactivate it also mutates the canonical state immediately, so the
// connection stays gone even if this round is aborted.
func (r *Round) Evict(cid model.ConnectionID) {
	delete(r.carrierActive, cid)
	delete(r.active, cid)
	r.metadata = purge(r.metadata, cid)
	r.owner.evictCanonical(cid)
}

// Commit replaces the canonical sets with the working copies and returns
// the store to Idle.
func (r *Round) Commit() error {
	if r.done {
		return ErrNoRound
	}
	return r.owner.commit(r)
}

// Abort discards the working copies. Evictions already applied stay.
func (r *Round) Abort() error {
	if r.done {
		return ErrNoRound
	}
	return r.owner.abort(r)
}
