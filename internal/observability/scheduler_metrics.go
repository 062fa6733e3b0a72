package observability

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerCollector exposes EDF scheduler Prometheus metrics. It implements
// edf.MetricsRecorder.
type SchedulerCollector struct {
	gatherer prometheus.Gatherer

	RoundsTotal       *prometheus.CounterVec
	RoundDuration     prometheus.Histogram
	ScoredConnections *prometheus.GaugeVec
	GrantedBytes      *prometheus.CounterVec
	GrantsTotal       prometheus.Counter
	PrunedTotal       *prometheus.CounterVec
	InvalidQoSTotal   prometheus.Counter
	TerminatedRounds  prometheus.Counter
	BackgroundSkipped prometheus.Counter
}

// NewSchedulerCollector registers scheduler metrics against the provided registerer.
func NewSchedulerCollector(reg prometheus.Registerer) (*SchedulerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	rounds, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edf_rounds_total",
		Help: "Scheduling rounds run, labeled by carrier.",
	}, []string{"carrier"}), "edf_rounds_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "edf_round_duration_seconds",
		Help:    "Wall-clock duration of one scheduling round.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
	}), "edf_round_duration_seconds")
	if err != nil {
		return nil, err
	}

	scored, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "edf_scored_connections",
		Help: "Connections queued in the last round, labeled by carrier.",
	}, []string{"carrier"}), "edf_scored_connections")
	if err != nil {
		return nil, err
	}

	granted, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edf_granted_bytes_total",
		Help: "Bytes granted, labeled by resource type.",
	}, []string{"resource_type"}), "edf_granted_bytes_total")
	if err != nil {
		return nil, err
	}

	grants, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "edf_grants_total",
		Help: "Connections that received bytes in a round.",
	}), "edf_grants_total")
	if err != nil {
		return nil, err
	}

	pruned, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edf_pruned_connections_total",
		Help: "Connections removed from the active set, labeled by reason (inactive, departed).",
	}, []string{"reason"}), "edf_pruned_connections_total")
	if err != nil {
		return nil, err
	}

	invalid, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "edf_invalid_qos_total",
		Help: "Connections not queued because their 5QI is unknown.",
	}), "edf_invalid_qos_total")
	if err != nil {
		return nil, err
	}

	terminated, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "edf_terminated_rounds_total",
		Help: "Rounds that ended because the carrier ran out of resources.",
	}), "edf_terminated_rounds_total")
	if err != nil {
		return nil, err
	}

	background, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "edf_background_skipped_total",
		Help: "Background-traffic entries dropped from the score queue.",
	}), "edf_background_skipped_total")
	if err != nil {
		return nil, err
	}

	return &SchedulerCollector{
		gatherer:          gatherer,
		RoundsTotal:       rounds,
		RoundDuration:     duration,
		ScoredConnections: scored,
		GrantedBytes:      granted,
		GrantsTotal:       grants,
		PrunedTotal:       pruned,
		InvalidQoSTotal:   invalid,
		TerminatedRounds:  terminated,
		BackgroundSkipped: background,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedulerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// RecordRound counts one round and its duration.
func (c *SchedulerCollector) RecordRound(carrier int, d time.Duration, scored int, terminated bool) {
	if c == nil {
		return
	}
	label := strconv.Itoa(carrier)
	c.RoundsTotal.WithLabelValues(label).Inc()
	c.RoundDuration.Observe(d.Seconds())
	c.ScoredConnections.WithLabelValues(label).Set(float64(scored))
	if terminated {
		c.TerminatedRounds.Inc()
	}
}

// RecordGrant adds the bytes one connection received in a round.
func (c *SchedulerCollector) RecordGrant(resourceType string, bytes uint64) {
	if c == nil {
		return
	}
	c.GrantsTotal.Inc()
	c.GrantedBytes.WithLabelValues(resourceType).Add(float64(bytes))
}

// RecordPruned counts connections removed for reason.
func (c *SchedulerCollector) RecordPruned(reason string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.PrunedTotal.WithLabelValues(reason).Add(float64(n))
}

// RecordInvalidQoS counts connections with an unknown 5QI.
func (c *SchedulerCollector) RecordInvalidQoS(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.InvalidQoSTotal.Add(float64(n))
}

// RecordBackgroundSkipped counts background entries dropped from the queue.
func (c *SchedulerCollector) RecordBackgroundSkipped(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.BackgroundSkipped.Add(float64(n))
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
