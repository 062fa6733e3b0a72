package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// ServiceCollector bundles Prometheus metrics for the gRPC surface of serve
// mode and the size of the simulation state, and provides helpers to wire
// them into gRPC servers and HTTP handlers.
type ServiceCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	ActiveConnections prometheus.Gauge
	PacketMetadata    prometheus.Gauge
	Devices           prometheus.Gauge
	BacklogPackets    prometheus.Gauge
}

// NewServiceCollector registers service Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when nil.
func NewServiceCollector(reg prometheus.Registerer) (*ServiceCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of handled gRPC requests, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"})
	requests, err := registerCounterVec(reg, requests, "grpc_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grpc_request_duration_seconds",
		Help:    "gRPC request latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"service", "method"})
	durations, err = registerHistogramVec(reg, durations, "grpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_active_connections",
		Help: "Current size of the canonical active connection set.",
	}), "sim_active_connections")
	if err != nil {
		return nil, err
	}
	metadata, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_packet_metadata",
		Help: "Current number of packet metadata records held for scheduling.",
	}), "sim_packet_metadata")
	if err != nil {
		return nil, err
	}
	devices, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_devices",
		Help: "Current number of devices attached to the simulation.",
	}), "sim_devices")
	if err != nil {
		return nil, err
	}
	backlog, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_backlog_packets",
		Help: "Packets waiting for a grant across all connections.",
	}), "sim_backlog_packets")
	if err != nil {
		return nil, err
	}

	return &ServiceCollector{
		gatherer:          gatherer,
		RPCRequests:       requests,
		RPCDurations:      durations,
		ActiveConnections: active,
		PacketMetadata:    metadata,
		Devices:           devices,
		BacklogPackets:    backlog,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *ServiceCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ServiceCollector) Handler() http.Handler {
	return HandlerFor(c.gatherer)
}

// HandlerFor exposes gatherer on /metrics, defaulting to the global registry.
func HandlerFor(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetConnectionCounts satisfies state.MetricsRecorder so the connection
// store can drive gauge values directly from its mutators.
func (c *ServiceCollector) SetConnectionCounts(active, metadata int) {
	if c == nil {
		return
	}
	if c.ActiveConnections != nil {
		c.ActiveConnections.Set(float64(active))
	}
	if c.PacketMetadata != nil {
		c.PacketMetadata.Set(float64(metadata))
	}
}

// SetDevices updates the attached device gauge.
func (c *ServiceCollector) SetDevices(n int) {
	if c == nil || c.Devices == nil {
		return
	}
	c.Devices.Set(float64(n))
}

// SetBacklogPackets updates the backlog depth gauge.
func (c *ServiceCollector) SetBacklogPackets(n int) {
	if c == nil || c.BacklogPackets == nil {
		return
	}
	c.BacklogPackets.Set(float64(n))
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
