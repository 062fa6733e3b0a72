package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TrafficCollector exposes sender and receiver metrics. It implements
// traffic.MetricsRecorder.
type TrafficCollector struct {
	PacketsSent     *prometheus.CounterVec
	PacketsReceived *prometheus.CounterVec
	DeadlineMisses  *prometheus.CounterVec
	PacketDelay     *prometheus.HistogramVec
}

// NewTrafficCollector registers traffic metrics against the provided registerer.
func NewTrafficCollector(reg prometheus.Registerer) (*TrafficCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	sent, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_packets_sent_total",
		Help: "Packets generated by traffic senders, labeled by 5QI.",
	}, []string{"five_qi"}), "traffic_packets_sent_total")
	if err != nil {
		return nil, err
	}

	received, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_packets_received_total",
		Help: "Packets fully delivered to receivers, labeled by 5QI.",
	}, []string{"five_qi"}), "traffic_packets_received_total")
	if err != nil {
		return nil, err
	}

	misses, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_deadline_misses_total",
		Help: "Delay-critical packets received after their packet delay budget, labeled by 5QI.",
	}, []string{"five_qi"}), "traffic_deadline_misses_total")
	if err != nil {
		return nil, err
	}

	delay, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "traffic_packet_delay_seconds",
		Help:    "One-way packet delay, labeled by resource type.",
		Buckets: []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.3, 1},
	}, []string{"resource_type"}), "traffic_packet_delay_seconds")
	if err != nil {
		return nil, err
	}

	return &TrafficCollector{
		PacketsSent:     sent,
		PacketsReceived: received,
		DeadlineMisses:  misses,
		PacketDelay:     delay,
	}, nil
}

// PacketSent counts one generated packet.
func (c *TrafficCollector) PacketSent(fiveQI int) {
	if c == nil {
		return
	}
	c.PacketsSent.WithLabelValues(strconv.Itoa(fiveQI)).Inc()
}

// PacketReceived records one delivered packet.
func (c *TrafficCollector) PacketReceived(fiveQI int, resourceType string, delay time.Duration, deadlineMissed bool) {
	if c == nil {
		return
	}
	qi := strconv.Itoa(fiveQI)
	c.PacketsReceived.WithLabelValues(qi).Inc()
	c.PacketDelay.WithLabelValues(resourceType).Observe(delay.Seconds())
	if deadlineMissed {
		c.DeadlineMisses.WithLabelValues(qi).Inc()
	}
}
