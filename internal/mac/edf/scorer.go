// Package edf implements the deadline- and QoS-class-aware NR scheduling
// discipline: per-class priority scoring, precedence bands, and a greedy
// fill-first allocation loop over a per-round score queue.
package edf

import (
	"time"

	"github.com/signalsfoundry/nredf-scheduler/qos"
)

// InvalidPriority is returned for transport blocks whose 5QI is unknown.
const InvalidPriority = -1.0

// TransportBlock is the unit scored for one connection in one round,
// annotated with its representative packet.
type TransportBlock struct {
	FiveQI         int
	ArrivalTime    time.Duration
	SchedulingTime time.Duration
	// WCTT is the worst-case transmission time. Not used by the scorer yet.
	WCTT time.Duration
}

// Priority computes the class-specific priority of tb. DCGBR values grow
// past 1 once the deadline has been missed; the band mapper clamps them.
func Priority(cls qos.Class, tb TransportBlock) float64 {
	if !cls.Valid() {
		return InvalidPriority
	}
	switch cls.ResourceType {
	case qos.ResourceDCGBR:
		return deadlineUrgency(cls, tb)
	case qos.ResourceGBR:
		return reliabilityPriority(cls)
	case qos.ResourceNGBR:
		return levelPriority(cls)
	default:
		return InvalidPriority
	}
}

// deadlineUrgency is t / (A + PDB): it reaches 1 at the absolute deadline.
func deadlineUrgency(cls qos.Class, tb TransportBlock) float64 {
	return millis(tb.SchedulingTime) / millis(cls.Deadline(tb.ArrivalTime))
}

// reliabilityPriority favours classes with a lower packet error rate.
func reliabilityPriority(cls qos.Class) float64 {
	return revNormalize(qos.MaxGBRLogPER, qos.MinGBRLogPER, float64(cls.PacketErrorRateExp))
}

// levelPriority favours classes with a lower (more important) priority level.
func levelPriority(cls qos.Class) float64 {
	return revNormalize(qos.MaxNGBRPriorityLevel, qos.MinNGBRPriorityLevel, cls.DefaultPriorityLevel)
}

func revNormalize(max, min, x float64) float64 {
	return (max - x) / (max - min)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Scorer resolves a transport block's class through the catalog and scores it.
type Scorer struct {
	catalog *qos.Catalog
}

// NewScorer returns a scorer backed by catalog, or by the standard table
// when catalog is nil.
func NewScorer(catalog *qos.Catalog) *Scorer {
	if catalog == nil {
		catalog = qos.Default()
	}
	return &Scorer{catalog: catalog}
}

// Evaluate returns the resolved class and the priority of tb. The class is
// the lookup sentinel and the priority InvalidPriority for unknown 5QIs.
func (s *Scorer) Evaluate(tb TransportBlock) (qos.Class, float64) {
	cls := s.catalog.Lookup(tb.FiveQI)
	if !cls.Valid() {
		return cls, InvalidPriority
	}
	return cls, Priority(cls, tb)
}

// Score returns the priority of tb in [0,1], values above 1 for missed
// DCGBR deadlines, or InvalidPriority.
func (s *Scorer) Score(tb TransportBlock) float64 {
	_, p := s.Evaluate(tb)
	return p
}
