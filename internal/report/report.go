// Package report renders run measurements as JSON documents for the
// status API and the run publisher.
package report

import (
	"time"

	"github.com/signalsfoundry/nredf-scheduler/internal/sim/engine"
	"github.com/signalsfoundry/nredf-scheduler/internal/traffic"
)

// SchemaVersion tags every published document.
const SchemaVersion = "v1"

// Report is the JSON form of an engine summary.
type Report struct {
	SchemaVersion  string        `json:"schemaVersion"`
	RunID          string        `json:"runId,omitempty"`
	Name           string        `json:"name"`
	Seed           uint64        `json:"seed"`
	TTINanos       int64         `json:"ttiNs"`
	ElapsedNanos   int64         `json:"elapsedNs"`
	TTIs           uint64        `json:"ttis"`
	Rounds         uint64        `json:"rounds"`
	FailedRounds   int           `json:"failedRounds"`
	Terminated     uint64        `json:"terminated"`
	GrantedBytes   uint64        `json:"grantedBytes"`
	Evicted        int           `json:"evicted"`
	BacklogPackets int           `json:"backlogPackets"`
	Devices        int           `json:"devices"`
	Background     int           `json:"backgroundDevices"`
	Sent           uint64        `json:"sent"`
	Received       uint64        `json:"received"`
	DeadlineMisses uint64        `json:"deadlineMisses"`
	Flows          []FlowReport  `json:"flows"`
	Classes        []ClassReport `json:"classes"`
	GeneratedAt    time.Time     `json:"generatedAt"`
}

// FlowReport is the JSON form of one connection's measurements.
type FlowReport struct {
	CID             string  `json:"cid"`
	FiveQI          int     `json:"fiveQi"`
	Sent            uint64  `json:"sent"`
	Received        uint64  `json:"received"`
	BytesReceived   uint64  `json:"bytesReceived"`
	LossRate        float64 `json:"lossRate"`
	MeanDelayNanos  int64   `json:"meanDelayNs"`
	MaxDelayNanos   int64   `json:"maxDelayNs"`
	JitterNanos     int64   `json:"jitterNs"`
	DeadlineChecks  uint64  `json:"deadlineChecks"`
	DeadlineMisses  uint64  `json:"deadlineMisses"`
	ThroughputBytes float64 `json:"throughputBytesPerSec"`
}

// ClassReport aggregates the flows of one 5QI.
type ClassReport struct {
	FiveQI         int    `json:"fiveQi"`
	ResourceType   string `json:"resourceType"`
	Flows          int    `json:"flows"`
	Sent           uint64 `json:"sent"`
	Received       uint64 `json:"received"`
	MeanDelayNanos int64  `json:"meanDelayNs"`
	MaxDelayNanos  int64  `json:"maxDelayNs"`
	DeadlineMisses uint64 `json:"deadlineMisses"`
}

// FromSummary converts sum. now stamps GeneratedAt.
func FromSummary(sum engine.Summary, now time.Time) Report {
	r := Report{
		SchemaVersion:  SchemaVersion,
		Name:           sum.Name,
		Seed:           sum.Seed,
		TTINanos:       int64(sum.TTI),
		ElapsedNanos:   int64(sum.Elapsed),
		TTIs:           sum.TTIs,
		Rounds:         sum.Rounds,
		FailedRounds:   sum.FailedRounds,
		Terminated:     sum.Terminated,
		GrantedBytes:   sum.GrantedBytes,
		Evicted:        sum.Evicted,
		BacklogPackets: sum.BacklogPackets,
		Devices:        sum.Devices,
		Background:     sum.BackgroundDevices,
		Sent:           sum.Sent(),
		Received:       sum.Received(),
		DeadlineMisses: sum.DeadlineMisses(),
		Flows:          make([]FlowReport, 0, len(sum.Flows)),
		Classes:        make([]ClassReport, 0, len(sum.Classes)),
		GeneratedAt:    now.UTC(),
	}
	for _, f := range sum.Flows {
		r.Flows = append(r.Flows, flowReport(f, sum.Elapsed))
	}
	for _, c := range sum.Classes {
		r.Classes = append(r.Classes, ClassReport{
			FiveQI:         c.FiveQI,
			ResourceType:   c.ResourceType.String(),
			Flows:          c.Flows,
			Sent:           c.Sent,
			Received:       c.Received,
			MeanDelayNanos: int64(c.MeanDelay),
			MaxDelayNanos:  int64(c.MaxDelay),
			DeadlineMisses: c.DeadlineMisses,
		})
	}
	return r
}

func flowReport(f traffic.FlowStats, elapsed time.Duration) FlowReport {
	return FlowReport{
		CID:             f.CID.String(),
		FiveQI:          f.FiveQI,
		Sent:            f.Sent,
		Received:        f.Received,
		BytesReceived:   f.BytesReceived,
		LossRate:        f.LossRate(),
		MeanDelayNanos:  int64(f.MeanDelay()),
		MaxDelayNanos:   int64(f.DelayMax),
		JitterNanos:     int64(f.Jitter()),
		DeadlineChecks:  f.DeadlineChecks,
		DeadlineMisses:  f.DeadlineMisses,
		ThroughputBytes: f.Throughput(elapsed),
	}
}

// Flow returns the report of the connection named cid ("node/lcid").
func (r Report) Flow(cid string) (FlowReport, bool) {
	for _, f := range r.Flows {
		if f.CID == cid {
			return f, true
		}
	}
	return FlowReport{}, false
}
