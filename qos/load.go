package qos

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// classRecord is the YAML form of a Class. Durations are in milliseconds
// to match how the 5QI table is published.
type classRecord struct {
	FiveQI             int     `yaml:"five_qi"`
	ResourceType       string  `yaml:"resource_type"`
	PriorityLevel      float64 `yaml:"priority_level"`
	PacketDelayBudget  float64 `yaml:"packet_delay_budget_ms"`
	PacketErrorRateExp int     `yaml:"packet_error_rate_exp"`
	MaxDataBurstVolume *int    `yaml:"max_data_burst_volume,omitempty"`
	AveragingWindow    *int    `yaml:"averaging_window_ms,omitempty"`
	Services           string  `yaml:"services,omitempty"`
}

type tableDocument struct {
	Classes []classRecord `yaml:"classes"`
}

// LoadCatalog decodes a YAML 5QI table and builds a validated catalog.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var doc tableDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode qos table: empty document")
		}
		return nil, fmt.Errorf("decode qos table: %w", err)
	}
	if len(doc.Classes) == 0 {
		return nil, fmt.Errorf("decode qos table: no classes")
	}

	classes := make([]Class, 0, len(doc.Classes))
	for i, rec := range doc.Classes {
		rt, err := ParseResourceType(rec.ResourceType)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d (5QI %d): %w", ErrInvalidClass, i, rec.FiveQI, err)
		}
		cls := Class{
			FiveQI:                    rec.FiveQI,
			ResourceType:              rt,
			DefaultPriorityLevel:      rec.PriorityLevel,
			PacketDelayBudget:         time.Duration(rec.PacketDelayBudget * float64(time.Millisecond)),
			PacketErrorRateExp:        rec.PacketErrorRateExp,
			DefaultMaxDataBurstVolume: -1,
			DefaultAveragingWindow:    -1,
			Services:                  rec.Services,
		}
		if rec.MaxDataBurstVolume != nil {
			cls.DefaultMaxDataBurstVolume = *rec.MaxDataBurstVolume
		}
		if rec.AveragingWindow != nil && *rec.AveragingWindow >= 0 {
			cls.DefaultAveragingWindow = time.Duration(*rec.AveragingWindow) * time.Millisecond
		}
		classes = append(classes, cls)
	}
	return NewCatalog(classes)
}

// LoadCatalogFile reads a YAML 5QI table from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open qos table %q: %w", path, err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// WriteYAML encodes the catalog in the format LoadCatalog accepts.
func WriteYAML(w io.Writer, c *Catalog) error {
	doc := tableDocument{}
	for _, cls := range c.Classes() {
		rec := classRecord{
			FiveQI:             cls.FiveQI,
			ResourceType:       cls.ResourceType.String(),
			PriorityLevel:      cls.DefaultPriorityLevel,
			PacketDelayBudget:  float64(cls.PacketDelayBudget) / float64(time.Millisecond),
			PacketErrorRateExp: cls.PacketErrorRateExp,
			Services:           cls.Services,
		}
		if cls.DefaultMaxDataBurstVolume >= 0 {
			v := cls.DefaultMaxDataBurstVolume
			rec.MaxDataBurstVolume = &v
		}
		if cls.DefaultAveragingWindow >= 0 {
			v := int(cls.DefaultAveragingWindow / time.Millisecond)
			rec.AveragingWindow = &v
		}
		doc.Classes = append(doc.Classes, rec)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode qos table: %w", err)
	}
	return enc.Close()
}
