package qos

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDefaultCatalogLookup(t *testing.T) {
	cat := Default()

	tests := []struct {
		fiveQI int
		rt     ResourceType
		pdb    time.Duration
		level  float64
		perExp int
	}{
		{fiveQI: 1, rt: ResourceGBR, pdb: 100 * time.Millisecond, level: 20, perExp: -2},
		{fiveQI: 5, rt: ResourceNGBR, pdb: 100 * time.Millisecond, level: 10, perExp: -6},
		{fiveQI: 73, rt: ResourceGBR, pdb: 300 * time.Millisecond, level: 56, perExp: -8},
		{fiveQI: 82, rt: ResourceDCGBR, pdb: 10 * time.Millisecond, level: 19, perExp: -4},
		{fiveQI: 90, rt: ResourceDCGBR, pdb: 20 * time.Millisecond, level: 25, perExp: -4},
	}
	for _, tt := range tests {
		got := cat.Lookup(tt.fiveQI)
		if !got.Valid() {
			t.Fatalf("Lookup(%d) returned sentinel", tt.fiveQI)
		}
		if got.FiveQI != tt.fiveQI || got.ResourceType != tt.rt || got.PacketDelayBudget != tt.pdb ||
			got.DefaultPriorityLevel != tt.level || got.PacketErrorRateExp != tt.perExp {
			t.Fatalf("Lookup(%d) = %+v", tt.fiveQI, got)
		}
	}

	if cat.Len() != 31 {
		t.Fatalf("Len() = %d, want 31", cat.Len())
	}
}

func TestLookupUnknownReturnsSentinel(t *testing.T) {
	got := Default().Lookup(9999)
	if got.FiveQI != 0 {
		t.Fatalf("FiveQI = %d, want 0", got.FiveQI)
	}
	if got.ResourceType != ResourceInvalid {
		t.Fatalf("ResourceType = %s, want INVALID", got.ResourceType)
	}
	if got.Valid() {
		t.Fatalf("sentinel reported as valid")
	}

	var nilCatalog *Catalog
	if nilCatalog.Lookup(1).Valid() {
		t.Fatalf("nil catalog lookup should return sentinel")
	}
}

func TestNewCatalogRejectsDuplicates(t *testing.T) {
	rows := []Class{
		{FiveQI: 1, ResourceType: ResourceGBR, PacketDelayBudget: time.Millisecond, PacketErrorRateExp: -2},
		{FiveQI: 1, ResourceType: ResourceNGBR, PacketDelayBudget: time.Millisecond, PacketErrorRateExp: -2},
	}
	if _, err := NewCatalog(rows); !errors.Is(err, ErrDuplicateClass) {
		t.Fatalf("NewCatalog error = %v, want ErrDuplicateClass", err)
	}
}

func TestNewCatalogRejectsInvalidRows(t *testing.T) {
	tests := map[string]Class{
		"zero id":          {FiveQI: 0, ResourceType: ResourceGBR, PacketDelayBudget: time.Millisecond, PacketErrorRateExp: -2},
		"no resource type": {FiveQI: 3, PacketDelayBudget: time.Millisecond, PacketErrorRateExp: -2},
		"no delay budget":  {FiveQI: 3, ResourceType: ResourceGBR, PacketErrorRateExp: -2},
		"positive per exp": {FiveQI: 3, ResourceType: ResourceGBR, PacketDelayBudget: time.Millisecond, PacketErrorRateExp: 1},
	}
	for name, row := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := NewCatalog([]Class{row}); !errors.Is(err, ErrInvalidClass) {
				t.Fatalf("NewCatalog error = %v, want ErrInvalidClass", err)
			}
		})
	}
}

func TestClassesKeepsTableOrder(t *testing.T) {
	classes := Default().Classes()
	std := StandardClasses()
	if len(classes) != len(std) {
		t.Fatalf("len = %d, want %d", len(classes), len(std))
	}
	for i := range std {
		if classes[i].FiveQI != std[i].FiveQI {
			t.Fatalf("row %d = %d, want %d", i, classes[i].FiveQI, std[i].FiveQI)
		}
	}
}

func TestParseResourceType(t *testing.T) {
	for in, want := range map[string]ResourceType{
		"GBR":     ResourceGBR,
		"ngbr":    ResourceNGBR,
		" DCGBR ": ResourceDCGBR,
		"Non-GBR": ResourceNGBR,
	} {
		got, err := ParseResourceType(in)
		if err != nil || got != want {
			t.Fatalf("ParseResourceType(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseResourceType("BEST_EFFORT"); err == nil {
		t.Fatalf("expected error for unknown resource type")
	}
}

func TestLoadCatalog(t *testing.T) {
	doc := `
classes:
  - five_qi: 1
    resource_type: GBR
    priority_level: 20
    packet_delay_budget_ms: 100
    packet_error_rate_exp: -2
    averaging_window_ms: 2000
  - five_qi: 82
    resource_type: DCGBR
    priority_level: 19
    packet_delay_budget_ms: 10
    packet_error_rate_exp: -4
    max_data_burst_volume: 255
    averaging_window_ms: 2000
  - five_qi: 5
    resource_type: NGBR
    priority_level: 10
    packet_delay_budget_ms: 100
    packet_error_rate_exp: -6
`
	cat, err := LoadCatalog(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if cat.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", cat.Len())
	}
	dc := cat.Lookup(82)
	if dc.ResourceType != ResourceDCGBR || dc.PacketDelayBudget != 10*time.Millisecond || dc.DefaultMaxDataBurstVolume != 255 {
		t.Fatalf("Lookup(82) = %+v", dc)
	}
	if ng := cat.Lookup(5); ng.DefaultAveragingWindow != -1 || ng.DefaultMaxDataBurstVolume != -1 {
		t.Fatalf("NGBR defaults = %+v, want -1 window and burst", ng)
	}
}

func TestLoadCatalogErrors(t *testing.T) {
	tests := map[string]string{
		"empty":         "",
		"no classes":    "classes: []\n",
		"unknown field": "classes:\n  - five_qi: 1\n    bogus: 2\n",
		"bad type":      "classes:\n  - five_qi: 1\n    resource_type: XGBR\n    packet_delay_budget_ms: 1\n    packet_error_rate_exp: -2\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadCatalog(strings.NewReader(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestWriteYAMLRoundTripsStandardTable(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteYAML(&buf, Default()); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	cat, err := LoadCatalog(&buf)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	for _, want := range StandardClasses() {
		if got := cat.Lookup(want.FiveQI); got != want {
			t.Fatalf("5QI %d: got %+v, want %+v", want.FiveQI, got, want)
		}
	}
}

func TestPacketErrorRateAndDeadline(t *testing.T) {
	cls := Default().Lookup(82)
	if got := cls.PacketErrorRate(); got != 1e-4 {
		t.Fatalf("PacketErrorRate = %v, want 1e-4", got)
	}
	if got := cls.Deadline(3 * time.Millisecond); got != 13*time.Millisecond {
		t.Fatalf("Deadline = %v, want 13ms", got)
	}
}
