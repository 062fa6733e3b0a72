// Package config loads and validates simulation scenarios.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/nredf-scheduler/internal/mac/edf"
	"github.com/signalsfoundry/nredf-scheduler/internal/traffic"
	"github.com/signalsfoundry/nredf-scheduler/model"
	"github.com/signalsfoundry/nredf-scheduler/qos"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Scenario describes one simulation run.
type Scenario struct {
	Name     string        `yaml:"name,omitempty"`
	Duration time.Duration `yaml:"duration"`
	TTI      time.Duration `yaml:"tti"`
	Seed     uint64        `yaml:"seed"`

	Carriers []Carrier `yaml:"carriers"`
	Devices  []Device  `yaml:"devices"`
	Flows    []Flow    `yaml:"flows"`

	// QoSTable is an optional path to a YAML 5QI table replacing the
	// standard one.
	QoSTable        string  `yaml:"qos_table,omitempty"`
	PacketSelection string  `yaml:"packet_selection,omitempty"`
	Bands           *Bands  `yaml:"bands,omitempty"`
	Logging         Logging `yaml:"logging"`

	MetricsAddr string  `yaml:"metrics_addr,omitempty"`
	GRPCAddr    string  `yaml:"grpc_addr,omitempty"`
	Tracing     Tracing `yaml:"tracing"`
	DBPath      string  `yaml:"db_path,omitempty"`
	Kafka       Kafka   `yaml:"kafka,omitempty"`
}

// Carrier sizes one radio carrier.
type Carrier struct {
	ID               int    `yaml:"id"`
	BytesPerTTI      uint32 `yaml:"bytes_per_tti"`
	MaxGrantsPerNode int    `yaml:"max_grants_per_node,omitempty"`
}

// Device is one UE attached at the start of the run.
type Device struct {
	Node uint16 `yaml:"node"`
	Name string `yaml:"name,omitempty"`
	// LeaveAt detaches the device at this simulation time; zero keeps it.
	LeaveAt time.Duration `yaml:"leave_at,omitempty"`
}

// Flow is the traffic of one connection.
type Flow struct {
	Node       uint16        `yaml:"node"`
	LCID       uint16        `yaml:"lcid"`
	FiveQI     int           `yaml:"five_qi"`
	Carriers   []int         `yaml:"carriers,omitempty"`
	PacketSize int           `yaml:"packet_size"`
	Period     time.Duration `yaml:"period"`
	Start      time.Duration `yaml:"start,omitempty"`
	Stop       time.Duration `yaml:"stop,omitempty"`
	Sporadic   bool          `yaml:"sporadic,omitempty"`
	Law        string        `yaml:"law,omitempty"`
	JitterMean time.Duration `yaml:"jitter_mean,omitempty"`
}

// ConnectionID returns the connection the flow feeds.
func (f Flow) ConnectionID() model.ConnectionID {
	return model.NewConnectionID(model.NodeID(f.Node), model.LCID(f.LCID))
}

// Traffic converts f into a sender flow description.
func (f Flow) Traffic() (traffic.Flow, error) {
	law, err := traffic.ParseLaw(f.Law)
	if err != nil {
		return traffic.Flow{}, err
	}
	return traffic.Flow{
		CID:        f.ConnectionID(),
		FiveQI:     f.FiveQI,
		PacketSize: f.PacketSize,
		Period:     f.Period,
		Start:      f.Start,
		Stop:       f.Stop,
		Sporadic:   f.Sporadic,
		Law:        law,
		JitterMean: f.JitterMean,
	}, nil
}

// Bands overrides the score band of each resource type as [min, max].
type Bands struct {
	NGBR  [2]float64 `yaml:"ngbr"`
	GBR   [2]float64 `yaml:"gbr"`
	DCGBR [2]float64 `yaml:"dcgbr"`
}

// Logging selects the log level and format.
type Logging struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Tracing configures OpenTelemetry export.
type Tracing struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter,omitempty"`
	Endpoint    string  `yaml:"endpoint,omitempty"`
	SampleRatio float64 `yaml:"sample_ratio,omitempty"`
}

// Kafka publishes the report of every finished run. Publishing is off
// while Brokers is empty.
type Kafka struct {
	Brokers []string      `yaml:"brokers,omitempty"`
	Topic   string        `yaml:"topic,omitempty"`
	Acks    int           `yaml:"acks,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Enabled reports whether run reports are published.
func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 }

// Default returns a small mixed-QoS scenario on one carrier: a
// delay-critical flow, a GBR flow and a best-effort flow competing for
// a carrier that cannot carry all of them every TTI.
func Default() Scenario {
	return Scenario{
		Name:     "mixed-qos",
		Duration: time.Second,
		TTI:      time.Millisecond,
		Seed:     1,
		Carriers: []Carrier{{ID: 0, BytesPerTTI: 1500}},
		Devices: []Device{
			{Node: 1025, Name: "ue-scada"},
			{Node: 1026, Name: "ue-voice"},
			{Node: 1027, Name: "ue-bulk"},
		},
		Flows: []Flow{
			{Node: 1025, LCID: 1, FiveQI: 82, PacketSize: 200, Period: 5 * time.Millisecond},
			{Node: 1026, LCID: 1, FiveQI: 1, PacketSize: 400, Period: 20 * time.Millisecond},
			{Node: 1027, LCID: 1, FiveQI: 9, PacketSize: 1500, Period: time.Millisecond},
		},
		PacketSelection: edf.SelectLatest.String(),
		Logging:         Logging{Level: "info", Format: "text"},
		GRPCAddr:        ":50051",
		MetricsAddr:     ":9090",
		Tracing:         Tracing{Exporter: "stdout", SampleRatio: 1},
		Kafka:           Kafka{Topic: "nredf.runs", Acks: -1},
	}
}

// Parse decodes a scenario from r on top of Default and validates it.
// Unknown keys are rejected.
func Parse(r io.Reader) (Scenario, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	s := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		// yaml.v3 replaces sequences, so lists in the document override
		// the defaults wholesale.
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil {
			return Scenario{}, fmt.Errorf("decode scenario: %w", err)
		}
	}
	if err := s.Validate(); err != nil {
		return Scenario{}, err
	}
	return s, nil
}

// Load reads and validates the scenario at path.
func Load(path string) (Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()
	s, err := Parse(f)
	if err != nil {
		return Scenario{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Write encodes s as YAML.
func (s Scenario) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode scenario: %w", err)
	}
	return enc.Close()
}

// Validate reports every problem in s, joined and wrapped in ErrInvalidConfig.
func (s Scenario) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if s.Duration <= 0 {
		add("duration must be positive")
	}
	if s.TTI <= 0 {
		add("tti must be positive")
	} else if s.Duration > 0 && s.TTI > s.Duration {
		add("tti %v longer than duration %v", s.TTI, s.Duration)
	}

	carriers := make(map[int]struct{}, len(s.Carriers))
	if len(s.Carriers) == 0 {
		add("at least one carrier is required")
	}
	for i, c := range s.Carriers {
		if _, dup := carriers[c.ID]; dup {
			add("carriers[%d]: duplicate id %d", i, c.ID)
		}
		carriers[c.ID] = struct{}{}
		if c.BytesPerTTI == 0 {
			add("carriers[%d]: bytes_per_tti must be positive", i)
		}
		if c.MaxGrantsPerNode < 0 {
			add("carriers[%d]: max_grants_per_node must not be negative", i)
		}
	}

	devices := make(map[uint16]struct{}, len(s.Devices))
	for i, d := range s.Devices {
		if model.NodeID(d.Node) < model.UEMinID {
			add("devices[%d]: node %d below the UE range (%d)", i, d.Node, model.UEMinID)
		}
		if _, dup := devices[d.Node]; dup {
			add("devices[%d]: duplicate node %d", i, d.Node)
		}
		devices[d.Node] = struct{}{}
		if d.LeaveAt < 0 {
			add("devices[%d]: leave_at must not be negative", i)
		}
	}

	flows := make(map[model.ConnectionID]struct{}, len(s.Flows))
	for i, f := range s.Flows {
		if _, ok := devices[f.Node]; !ok {
			add("flows[%d]: node %d is not a declared device", i, f.Node)
		}
		cid := f.ConnectionID()
		if _, dup := flows[cid]; dup {
			add("flows[%d]: duplicate connection %s", i, cid)
		}
		flows[cid] = struct{}{}
		if f.FiveQI <= 0 {
			add("flows[%d]: five_qi must be positive", i)
		}
		for _, id := range f.Carriers {
			if _, ok := carriers[id]; !ok {
				add("flows[%d]: unknown carrier %d", i, id)
			}
		}
		tf, err := f.Traffic()
		if err != nil {
			add("flows[%d]: %w", i, err)
			continue
		}
		if err := tf.Validate(); err != nil {
			add("flows[%d]: %w", i, err)
		}
	}

	if _, err := edf.ParsePacketSelection(s.PacketSelection); err != nil {
		errs = append(errs, err)
	}
	if s.Bands != nil {
		if _, err := s.BandLayout(); err != nil {
			errs = append(errs, err)
		}
	}
	switch s.Tracing.Exporter {
	case "", "stdout", "otlp", "otlpgrpc":
	default:
		add("tracing: unsupported exporter %q", s.Tracing.Exporter)
	}
	if s.Tracing.SampleRatio < 0 || s.Tracing.SampleRatio > 1 {
		add("tracing: sample_ratio %v outside [0,1]", s.Tracing.SampleRatio)
	}
	if s.Kafka.Enabled() {
		if strings.TrimSpace(s.Kafka.Topic) == "" {
			add("kafka: topic is required when brokers are set")
		}
		if s.Kafka.Acks < -1 {
			add("kafka: acks %d must be -1, 0 or positive", s.Kafka.Acks)
		}
	}
	if s.Kafka.Timeout < 0 {
		add("kafka: timeout must not be negative")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// BandLayout returns the configured score bands, or the defaults.
func (s Scenario) BandLayout() (edf.Bands, error) {
	if s.Bands == nil {
		return edf.DefaultBands(), nil
	}
	b := s.Bands
	return edf.NewBands(
		edf.Band{Min: b.NGBR[0], Max: b.NGBR[1]},
		edf.Band{Min: b.GBR[0], Max: b.GBR[1]},
		edf.Band{Min: b.DCGBR[0], Max: b.DCGBR[1]},
	)
}

// Catalog loads the configured 5QI table, or the standard one.
func (s Scenario) Catalog() (*qos.Catalog, error) {
	if s.QoSTable == "" {
		return qos.Default(), nil
	}
	return qos.LoadCatalogFile(s.QoSTable)
}

// Selection returns the representative packet policy.
func (s Scenario) Selection() edf.PacketSelection {
	sel, _ := edf.ParsePacketSelection(s.PacketSelection)
	return sel
}
