package edf

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/nredf-scheduler/qos"
)

func TestDefaultBandsContainment(t *testing.T) {
	b := DefaultBands()
	want := map[qos.ResourceType]Band{
		qos.ResourceNGBR:  {Min: 0, Max: 32},
		qos.ResourceGBR:   {Min: 33, Max: 66},
		qos.ResourceDCGBR: {Min: 67, Max: 100},
	}
	for rt, band := range want {
		for i := 0; i <= 100; i++ {
			p := float64(i) / 100
			got, ok := b.Map(rt, p)
			if !ok {
				t.Fatalf("Map(%s) not ok", rt)
			}
			if !band.Contains(got) {
				t.Fatalf("Map(%s, %v) = %v outside %+v", rt, p, got, band)
			}
		}
	}
}

func TestBandsMapAffine(t *testing.T) {
	b := DefaultBands()
	tests := []struct {
		rt   qos.ResourceType
		p    float64
		want float64
	}{
		{qos.ResourceNGBR, 0, 0},
		{qos.ResourceNGBR, 1, 32},
		{qos.ResourceGBR, 0.5, 49.5},
		{qos.ResourceDCGBR, 0.05, 68.65},
		{qos.ResourceDCGBR, 0.9, 96.7},
	}
	for _, tt := range tests {
		got, _ := b.Map(tt.rt, tt.p)
		if !approx(got, tt.want) {
			t.Fatalf("Map(%s, %v) = %v, want %v", tt.rt, tt.p, got, tt.want)
		}
	}
}

func TestBandsClampOverdueAndNegative(t *testing.T) {
	b := DefaultBands()
	if got, _ := b.Map(qos.ResourceDCGBR, 3.2); got != 100 {
		t.Fatalf("overdue DCGBR mapped to %v, want 100", got)
	}
	if got, _ := b.Map(qos.ResourceGBR, -0.4); got != 33 {
		t.Fatalf("negative GBR priority mapped to %v, want 33", got)
	}
}

func TestBandsInvalidResourceType(t *testing.T) {
	if _, ok := DefaultBands().Map(qos.ResourceInvalid, 0.5); ok {
		t.Fatalf("Map should refuse ResourceInvalid")
	}
}

func TestClassPrecedenceAcrossPriorities(t *testing.T) {
	b := DefaultBands()
	for i := 0; i <= 20; i++ {
		for j := 0; j <= 20; j++ {
			hi := float64(i) / 20
			lo := float64(j) / 20
			dc, _ := b.Map(qos.ResourceDCGBR, hi)
			gbr, _ := b.Map(qos.ResourceGBR, lo)
			ngbr, _ := b.Map(qos.ResourceNGBR, lo)
			if dc < gbr || dc < ngbr {
				t.Fatalf("DCGBR %v below lower class (gbr %v, ngbr %v)", dc, gbr, ngbr)
			}
			gbrHi, _ := b.Map(qos.ResourceGBR, hi)
			if gbrHi < ngbr {
				t.Fatalf("GBR %v below NGBR %v", gbrHi, ngbr)
			}
		}
	}
}

func TestNewBandsValidation(t *testing.T) {
	tests := map[string][3]Band{
		"inverted":      {{Min: 32, Max: 0}, {Min: 33, Max: 66}, {Min: 67, Max: 100}},
		"overlap":       {{Min: 0, Max: 40}, {Min: 33, Max: 66}, {Min: 67, Max: 100}},
		"out of scale":  {{Min: 0, Max: 32}, {Min: 33, Max: 66}, {Min: 67, Max: 120}},
		"wrong order":   {{Min: 67, Max: 100}, {Min: 33, Max: 66}, {Min: 0, Max: 32}},
		"negative base": {{Min: -5, Max: 32}, {Min: 33, Max: 66}, {Min: 67, Max: 100}},
	}
	for name, layout := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := NewBands(layout[0], layout[1], layout[2]); !errors.Is(err, ErrInvalidBands) {
				t.Fatalf("NewBands error = %v, want ErrInvalidBands", err)
			}
		})
	}

	if _, err := NewBands(Band{0, 10}, Band{20, 30}, Band{40, 100}); err != nil {
		t.Fatalf("valid layout rejected: %v", err)
	}
}
