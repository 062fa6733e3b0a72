package model

import (
	"fmt"
	"time"
)

// NodeID identifies a device served by the base station.
type NodeID uint16

// LCID is a logical channel identifier local to one device.
type LCID uint16

// Node identifier ranges. Background UEs are simulated load that never
// receives grants from the EDF scheduler.
const (
	NodeIDNone        NodeID = 0
	UEMinID           NodeID = 1025
	BackgroundUEMinID NodeID = 4025
)

// ConnectionID identifies one logical data flow of one device. The node id
// lives in the upper 16 bits and the logical channel id in the lower 16.
type ConnectionID uint32

// NewConnectionID packs a node id and a logical channel id.
func NewConnectionID(node NodeID, lcid LCID) ConnectionID {
	return ConnectionID(uint32(node)<<16 | uint32(lcid))
}

// Node returns the owning device of the connection.
func (c ConnectionID) Node() NodeID { return NodeID(uint32(c) >> 16) }

// LCID returns the logical channel of the connection.
func (c ConnectionID) LCID() LCID { return LCID(uint32(c) & 0xffff) }

// IsBackground reports whether the owning device is background traffic.
func (c ConnectionID) IsBackground() bool { return c.Node() >= BackgroundUEMinID }

func (c ConnectionID) String() string {
	return fmt.Sprintf("%d/%d", c.Node(), c.LCID())
}

// CarrierID identifies a radio carrier served by one scheduler instance.
type CarrierID int

// PacketMetadata is appended once per data arrival on a connection.
type PacketMetadata struct {
	CID ConnectionID
	// FiveQI is the QoS class identifier of the arriving data.
	FiveQI int
	// ArrivalTime is the simulation time of the arrival.
	ArrivalTime time.Duration
}
