package qos

import (
	"sync"
	"time"
)

// Normalisation bounds used when scoring GBR and NGBR classes.
const (
	MinNGBRPriorityLevel = 5
	MaxNGBRPriorityLevel = 90
	MinGBRLogPER         = -8
	MaxGBRLogPER         = -2
)

// standardTable follows 3GPP TS 23.501 v19.4.0, Table 5.7.4-1. 5QI 75 is
// kept although the release marks it as unsupported.
var standardTable = []Class{
	{FiveQI: 1, ResourceType: ResourceGBR, DefaultPriorityLevel: 20, PacketDelayBudget: 100 * time.Millisecond, PacketErrorRateExp: -2, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "Conversational Voice"},
	{FiveQI: 2, ResourceType: ResourceGBR, DefaultPriorityLevel: 40, PacketDelayBudget: 150 * time.Millisecond, PacketErrorRateExp: -3, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "Conversational Video (Live Streaming)"},
	{FiveQI: 3, ResourceType: ResourceGBR, DefaultPriorityLevel: 30, PacketDelayBudget: 50 * time.Millisecond, PacketErrorRateExp: -3, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "Real Time Gaming, V2X messages, Electricity distribution medium voltage, Process automation monitoring"},
	{FiveQI: 4, ResourceType: ResourceGBR, DefaultPriorityLevel: 50, PacketDelayBudget: 300 * time.Millisecond, PacketErrorRateExp: -6, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "Non-Conversational Video (Buffered Streaming)"},
	{FiveQI: 65, ResourceType: ResourceGBR, DefaultPriorityLevel: 7, PacketDelayBudget: 75 * time.Millisecond, PacketErrorRateExp: -2, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "Mission Critical user plane Push To Talk voice (e.g., MCPTT)"},
	{FiveQI: 66, ResourceType: ResourceGBR, DefaultPriorityLevel: 20, PacketDelayBudget: 100 * time.Millisecond, PacketErrorRateExp: -2, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "Non-Mission-Critical user plane Push To Talk voice"},
	{FiveQI: 67, ResourceType: ResourceGBR, DefaultPriorityLevel: 15, PacketDelayBudget: 100 * time.Millisecond, PacketErrorRateExp: -3, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "Mission Critical Video user plane"},
	{FiveQI: 75, ResourceType: ResourceGBR, DefaultPriorityLevel: 25, PacketDelayBudget: 50 * time.Millisecond, PacketErrorRateExp: -2, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "A2X messages"},
	{FiveQI: 71, ResourceType: ResourceGBR, DefaultPriorityLevel: 56, PacketDelayBudget: 150 * time.Millisecond, PacketErrorRateExp: -6, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "Live Uplink Streaming (e.g. TS 26.238)"},
	{FiveQI: 72, ResourceType: ResourceGBR, DefaultPriorityLevel: 56, PacketDelayBudget: 300 * time.Millisecond, PacketErrorRateExp: -4, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "Live Uplink Streaming (e.g. TS 26.238)"},
	{FiveQI: 73, ResourceType: ResourceGBR, DefaultPriorityLevel: 56, PacketDelayBudget: 300 * time.Millisecond, PacketErrorRateExp: -8, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "Live Uplink Streaming (e.g. TS 26.238)"},
	{FiveQI: 74, ResourceType: ResourceGBR, DefaultPriorityLevel: 56, PacketDelayBudget: 500 * time.Millisecond, PacketErrorRateExp: -8, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "Live Uplink Streaming (e.g. TS 26.238)"},
	{FiveQI: 76, ResourceType: ResourceGBR, DefaultPriorityLevel: 56, PacketDelayBudget: 500 * time.Millisecond, PacketErrorRateExp: -4, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "Live Uplink Streaming (e.g. TS 26.238)"},
	{FiveQI: 5, ResourceType: ResourceNGBR, DefaultPriorityLevel: 10, PacketDelayBudget: 100 * time.Millisecond, PacketErrorRateExp: -6, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: -1, Services: "IMS Signalling"},
	{FiveQI: 6, ResourceType: ResourceNGBR, DefaultPriorityLevel: 60, PacketDelayBudget: 300 * time.Millisecond, PacketErrorRateExp: -6, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: -1, Services: "Video (Buffered Streaming) TCP-based"},
	{FiveQI: 7, ResourceType: ResourceNGBR, DefaultPriorityLevel: 70, PacketDelayBudget: 100 * time.Millisecond, PacketErrorRateExp: -3, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: -1, Services: "Voice, Video (Live Streaming), Interactive Gaming"},
	{FiveQI: 8, ResourceType: ResourceNGBR, DefaultPriorityLevel: 80, PacketDelayBudget: 300 * time.Millisecond, PacketErrorRateExp: -6, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: -1, Services: "Video (Buffered Streaming) TCP-based"},
	{FiveQI: 9, ResourceType: ResourceNGBR, DefaultPriorityLevel: 90, PacketDelayBudget: 300 * time.Millisecond, PacketErrorRateExp: -6, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: -1, Services: "Video (Buffered Streaming) TCP-based"},
	{FiveQI: 69, ResourceType: ResourceNGBR, DefaultPriorityLevel: 5, PacketDelayBudget: 60 * time.Millisecond, PacketErrorRateExp: -6, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: -1, Services: "Mission Critical delay sensitive signalling (e.g., MC-PTT signalling)"},
	{FiveQI: 70, ResourceType: ResourceNGBR, DefaultPriorityLevel: 55, PacketDelayBudget: 200 * time.Millisecond, PacketErrorRateExp: -6, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: -1, Services: "Mission Critical Data"},
	{FiveQI: 79, ResourceType: ResourceNGBR, DefaultPriorityLevel: 65, PacketDelayBudget: 50 * time.Millisecond, PacketErrorRateExp: -2, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: -1, Services: "V2X messages"},
	{FiveQI: 80, ResourceType: ResourceNGBR, DefaultPriorityLevel: 68, PacketDelayBudget: 10 * time.Millisecond, PacketErrorRateExp: -6, DefaultMaxDataBurstVolume: -1, DefaultAveragingWindow: -1, Services: "Low Latency eMBB applications Augmented Reality"},
	{FiveQI: 82, ResourceType: ResourceDCGBR, DefaultPriorityLevel: 19, PacketDelayBudget: 10 * time.Millisecond, PacketErrorRateExp: -4, DefaultMaxDataBurstVolume: 255, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "Discrete Automation"},
	{FiveQI: 83, ResourceType: ResourceDCGBR, DefaultPriorityLevel: 22, PacketDelayBudget: 10 * time.Millisecond, PacketErrorRateExp: -4, DefaultMaxDataBurstVolume: 1354, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "Discrete Automation, V2X messages"},
	{FiveQI: 84, ResourceType: ResourceDCGBR, DefaultPriorityLevel: 24, PacketDelayBudget: 30 * time.Millisecond, PacketErrorRateExp: -5, DefaultMaxDataBurstVolume: 1354, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "Intelligent transport systems"},
	{FiveQI: 85, ResourceType: ResourceDCGBR, DefaultPriorityLevel: 21, PacketDelayBudget: 5 * time.Millisecond, PacketErrorRateExp: -5, DefaultMaxDataBurstVolume: 255, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "Electricity Distribution-high voltage, V2X messages"},
	{FiveQI: 86, ResourceType: ResourceDCGBR, DefaultPriorityLevel: 18, PacketDelayBudget: 5 * time.Millisecond, PacketErrorRateExp: -4, DefaultMaxDataBurstVolume: 1354, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "V2X messages"},
	{FiveQI: 87, ResourceType: ResourceDCGBR, DefaultPriorityLevel: 25, PacketDelayBudget: 5 * time.Millisecond, PacketErrorRateExp: -3, DefaultMaxDataBurstVolume: 500, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "Interactive Service - Motion tracking data"},
	{FiveQI: 88, ResourceType: ResourceDCGBR, DefaultPriorityLevel: 25, PacketDelayBudget: 10 * time.Millisecond, PacketErrorRateExp: -3, DefaultMaxDataBurstVolume: 1125, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "Interactive Service - Motion tracking data"},
	{FiveQI: 89, ResourceType: ResourceDCGBR, DefaultPriorityLevel: 25, PacketDelayBudget: 15 * time.Millisecond, PacketErrorRateExp: -4, DefaultMaxDataBurstVolume: 17000, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "Visual content for cloud/edge/split rendering"},
	{FiveQI: 90, ResourceType: ResourceDCGBR, DefaultPriorityLevel: 25, PacketDelayBudget: 20 * time.Millisecond, PacketErrorRateExp: -4, DefaultMaxDataBurstVolume: 63000, DefaultAveragingWindow: 2000 * time.Millisecond, Services: "Visual content for cloud/edge/split rendering"},
}

var defaultCatalog = sync.OnceValue(func() *Catalog {
	c, err := NewCatalog(standardTable)
	if err != nil {
		panic("qos: standard table: " + err.Error())
	}
	return c
})

// Default returns the catalog built from the standard 5QI table.
func Default() *Catalog { return defaultCatalog() }

// StandardClasses returns a copy of the standard table rows.
func StandardClasses() []Class {
	out := make([]Class, len(standardTable))
	copy(out, standardTable)
	return out
}
