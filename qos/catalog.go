// Package qos holds the standardized 5G QoS characteristics (5QI table)
// used by the MAC scheduler to classify and prioritise traffic.
package qos

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrDuplicateClass indicates two table rows share a 5QI.
	ErrDuplicateClass = errors.New("duplicate 5QI")
	// ErrInvalidClass indicates a table row failed validation.
	ErrInvalidClass = errors.New("invalid QoS class")
)

// ResourceType is the closed set of 5G resource types. The zero value is
// ResourceInvalid and marks the lookup sentinel.
type ResourceType int

const (
	ResourceInvalid ResourceType = iota
	// ResourceNGBR is non-guaranteed bit rate.
	ResourceNGBR
	// ResourceGBR is guaranteed bit rate.
	ResourceGBR
	// ResourceDCGBR is delay-critical guaranteed bit rate.
	ResourceDCGBR
)

// ResourceTypes lists the valid resource types in ascending precedence.
var ResourceTypes = []ResourceType{ResourceNGBR, ResourceGBR, ResourceDCGBR}

func (r ResourceType) String() string {
	switch r {
	case ResourceNGBR:
		return "NGBR"
	case ResourceGBR:
		return "GBR"
	case ResourceDCGBR:
		return "DCGBR"
	default:
		return "INVALID"
	}
}

// Valid reports whether r is one of the three standardized resource types.
func (r ResourceType) Valid() bool {
	return r == ResourceNGBR || r == ResourceGBR || r == ResourceDCGBR
}

// ParseResourceType accepts the TS 23.501 spellings, case-insensitively.
func ParseResourceType(s string) (ResourceType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NGBR", "NON-GBR":
		return ResourceNGBR, nil
	case "GBR":
		return ResourceGBR, nil
	case "DCGBR", "DELAY-CRITICAL GBR":
		return ResourceDCGBR, nil
	default:
		return ResourceInvalid, fmt.Errorf("unknown resource type %q", s)
	}
}

// Class is one row of the 5QI table.
type Class struct {
	FiveQI               int
	ResourceType         ResourceType
	DefaultPriorityLevel float64
	PacketDelayBudget    time.Duration
	// PacketErrorRateExp is the base-10 exponent of the packet error rate.
	PacketErrorRateExp int
	// DefaultMaxDataBurstVolume is in bytes; -1 when not applicable.
	DefaultMaxDataBurstVolume int
	// DefaultAveragingWindow is -1 when not applicable.
	DefaultAveragingWindow time.Duration
	Services               string
}

// Valid reports whether c is a real table row rather than the lookup
// sentinel.
func (c Class) Valid() bool {
	return c.FiveQI != 0 && c.ResourceType.Valid()
}

// PacketErrorRate returns 10^PacketErrorRateExp.
func (c Class) PacketErrorRate() float64 {
	return math.Pow10(c.PacketErrorRateExp)
}

// Deadline returns the absolute deadline of a packet that arrived at the
// given simulation time.
func (c Class) Deadline(arrival time.Duration) time.Duration {
	return arrival + c.PacketDelayBudget
}

func (c Class) validate() error {
	var errs []error
	if c.FiveQI <= 0 {
		errs = append(errs, fmt.Errorf("5QI must be positive, got %d", c.FiveQI))
	}
	if !c.ResourceType.Valid() {
		errs = append(errs, fmt.Errorf("5QI %d: resource type %s", c.FiveQI, c.ResourceType))
	}
	if c.PacketDelayBudget <= 0 {
		errs = append(errs, fmt.Errorf("5QI %d: packet delay budget must be positive", c.FiveQI))
	}
	if c.PacketErrorRateExp >= 0 {
		errs = append(errs, fmt.Errorf("5QI %d: packet error rate exponent must be negative", c.FiveQI))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidClass, errors.Join(errs...))
}

// Catalog is an immutable 5QI lookup table. It is safe for concurrent use.
type Catalog struct {
	byID  map[int]Class
	order []int
}

// NewCatalog validates the rows and builds a catalog keeping table order.
func NewCatalog(classes []Class) (*Catalog, error) {
	c := &Catalog{
		byID:  make(map[int]Class, len(classes)),
		order: make([]int, 0, len(classes)),
	}
	for _, cls := range classes {
		if err := cls.validate(); err != nil {
			return nil, err
		}
		if _, exists := c.byID[cls.FiveQI]; exists {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateClass, cls.FiveQI)
		}
		c.byID[cls.FiveQI] = cls
		c.order = append(c.order, cls.FiveQI)
	}
	return c, nil
}

// Lookup returns the class for fiveQI, or the zero Class (FiveQI 0,
// ResourceInvalid) when the identifier is unknown. Callers must check
// Valid before using the result.
func (c *Catalog) Lookup(fiveQI int) Class {
	if c == nil {
		return Class{}
	}
	return c.byID[fiveQI]
}

// Classes returns a copy of all rows in table order.
func (c *Catalog) Classes() []Class {
	if c == nil {
		return nil
	}
	out := make([]Class, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Len returns the number of rows.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.order)
}
