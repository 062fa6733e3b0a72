package model

import "time"

// Packet is one unit of application data travelling through the MAC.
type Packet struct {
	CID    ConnectionID
	Seq    uint64
	Size   int
	FiveQI int
	// CreatedAt is the simulation time the sender produced the packet.
	CreatedAt time.Duration
}

// Metadata returns the arrival record the scheduler keeps for p.
func (p Packet) Metadata() PacketMetadata {
	return PacketMetadata{CID: p.CID, FiveQI: p.FiveQI, ArrivalTime: p.CreatedAt}
}
