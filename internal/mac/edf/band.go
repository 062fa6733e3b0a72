package edf

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/nredf-scheduler/qos"
)

// ErrInvalidBands indicates a band layout that would break class precedence.
var ErrInvalidBands = errors.New("invalid priority bands")

// Scale bounds of banded scores.
const (
	ScaleMin = 0.0
	ScaleMax = 100.0
)

// Band is the closed sub-range of the unified scale owned by a resource type.
type Band struct {
	Min, Max float64
}

// Contains reports whether v lies in the band.
func (b Band) Contains(v float64) bool { return v >= b.Min && v <= b.Max }

// Bands assigns disjoint bands in precedence order NGBR < GBR < DCGBR.
type Bands struct {
	ngbr, gbr, dcgbr Band
}

// DefaultBands returns NGBR [0,32], GBR [33,66], DCGBR [67,100].
func DefaultBands() Bands {
	return Bands{
		ngbr:  Band{Min: 0, Max: 32},
		gbr:   Band{Min: 33, Max: 66},
		dcgbr: Band{Min: 67, Max: 100},
	}
}

// NewBands validates and builds a band layout.
func NewBands(ngbr, gbr, dcgbr Band) (Bands, error) {
	layout := []struct {
		name string
		band Band
	}{{"NGBR", ngbr}, {"GBR", gbr}, {"DCGBR", dcgbr}}

	var errs []error
	for i, l := range layout {
		if l.band.Min > l.band.Max {
			errs = append(errs, fmt.Errorf("%s band min %.2f above max %.2f", l.name, l.band.Min, l.band.Max))
		}
		if l.band.Min < ScaleMin || l.band.Max > ScaleMax {
			errs = append(errs, fmt.Errorf("%s band [%.2f,%.2f] outside [%.0f,%.0f]", l.name, l.band.Min, l.band.Max, ScaleMin, ScaleMax))
		}
		if i > 0 && l.band.Min <= layout[i-1].band.Max {
			errs = append(errs, fmt.Errorf("%s band overlaps or precedes %s band", l.name, layout[i-1].name))
		}
	}
	if len(errs) > 0 {
		return Bands{}, fmt.Errorf("%w: %w", ErrInvalidBands, errors.Join(errs...))
	}
	return Bands{ngbr: ngbr, gbr: gbr, dcgbr: dcgbr}, nil
}

// Band returns the band of rt. ok is false for ResourceInvalid.
func (b Bands) Band(rt qos.ResourceType) (Band, bool) {
	switch rt {
	case qos.ResourceNGBR:
		return b.ngbr, true
	case qos.ResourceGBR:
		return b.gbr, true
	case qos.ResourceDCGBR:
		return b.dcgbr, true
	default:
		return Band{}, false
	}
}

// Map places priority inside the band of rt. Priorities are clamped to
// [0,1] first so that an overdue DCGBR packet stays at the top of its band.
func (b Bands) Map(rt qos.ResourceType, priority float64) (float64, bool) {
	band, ok := b.Band(rt)
	if !ok {
		return 0, false
	}
	return mapToRange(band.Min, band.Max, clamp01(priority)), true
}

func mapToRange(min, max, v float64) float64 {
	return min + (max-min)*v
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
