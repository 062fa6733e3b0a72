package edf

import (
	"context"
	"math"

	"github.com/signalsfoundry/nredf-scheduler/internal/logging"
	"github.com/signalsfoundry/nredf-scheduler/model"
)

// MaxGrantBytes is requested on every grant; the grant issuer decides how
// much of it the connection actually gets.
const MaxGrantBytes = math.MaxUint32

// Grant is the answer of the per-TTI grant issuer.
type Grant struct {
	Bytes uint32
	// Terminate means no more resources are available this round.
	Terminate bool
	// Active means the connection still has data after this grant.
	Active bool
	// Eligible means the connection may receive resources right now.
	Eligible bool
}

// Granter issues per-TTI radio resource grants.
type Granter interface {
	RequestGrant(cid model.ConnectionID, maxBytes uint32) Grant
}

// GranterFunc adapts a function to Granter.
type GranterFunc func(cid model.ConnectionID, maxBytes uint32) Grant

func (f GranterFunc) RequestGrant(cid model.ConnectionID, maxBytes uint32) Grant {
	return f(cid, maxBytes)
}

// WorkingSet is the part of a round's working state the allocator prunes.
type WorkingSet interface {
	Deactivate(cid model.ConnectionID)
}

// Allocation summarises one run of the allocation loop.
type Allocation struct {
	// Granted holds the bytes granted per connection.
	Granted map[model.ConnectionID]uint64
	// Order lists connections in the order they first received bytes.
	Order []model.ConnectionID
	// Requests counts grant requests issued.
	Requests int
	// Terminated is set when the issuer ran out of resources.
	Terminated bool
	// Deactivated lists connections pruned because they ran out of data.
	Deactivated []model.ConnectionID
	// Ineligible lists connections skipped this round but kept active.
	Ineligible []model.ConnectionID
	// BackgroundSkipped counts background-traffic entries dropped from the queue.
	BackgroundSkipped int
	// Stalled lists connections dropped after an empty grant that claimed
	// both activity and eligibility.
	Stalled []model.ConnectionID
}

// TotalBytes returns the bytes granted across all connections.
func (a Allocation) TotalBytes() uint64 {
	var total uint64
	for _, b := range a.Granted {
		total += b
	}
	return total
}

// Allocator drains a score queue against a Granter.
type Allocator struct {
	granter Granter
	log     logging.Logger
}

// NewAllocator returns an allocator issuing grants through g.
func NewAllocator(g Granter, log logging.Logger) *Allocator {
	if log == nil {
		log = logging.Noop()
	}
	return &Allocator{granter: g, log: log}
}

// Allocate keeps granting to the highest-scored connection until it runs
// out of data or becomes ineligible, then moves on to the next one. It stops
// as soon as the granter reports Terminate.
func (a *Allocator) Allocate(ctx context.Context, q *ScoreQueue, ws WorkingSet) Allocation {
	out := Allocation{Granted: make(map[model.ConnectionID]uint64)}

	for !q.Empty() {
		current, _ := q.Peek()

		if current.CID.IsBackground() {
			q.Pop()
			out.BackgroundSkipped++
			continue
		}

		g := a.granter.RequestGrant(current.CID, MaxGrantBytes)
		out.Requests++
		a.log.Debug(ctx, "granted",
			logging.String("cid", current.CID.String()),
			logging.Uint("bytes", uint64(g.Bytes)),
		)

		if g.Bytes > 0 {
			if _, seen := out.Granted[current.CID]; !seen {
				out.Order = append(out.Order, current.CID)
			}
			out.Granted[current.CID] += uint64(g.Bytes)
		}

		if g.Terminate {
			a.log.Debug(ctx, "terminate", logging.Int("queued", q.Len()))
			out.Terminated = true
			break
		}

		if !g.Active || !g.Eligible {
			q.Pop()
			if !g.Eligible {
				a.log.Debug(ctx, "not eligible", logging.String("cid", current.CID.String()))
				out.Ineligible = append(out.Ineligible, current.CID)
			} else {
				a.log.Debug(ctx, "not active", logging.String("cid", current.CID.String()))
				ws.Deactivate(current.CID)
				out.Deactivated = append(out.Deactivated, current.CID)
			}
			continue
		}

		if g.Bytes == 0 {
			// An empty grant that is neither terminal nor final would repeat forever.
			q.Pop()
			a.log.Warn(ctx, "empty grant for active eligible connection", logging.String("cid", current.CID.String()))
			out.Stalled = append(out.Stalled, current.CID)
		}
	}
	return out
}
