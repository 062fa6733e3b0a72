package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/signalsfoundry/nredf-scheduler/internal/config"
	"github.com/signalsfoundry/nredf-scheduler/internal/report"
	"github.com/signalsfoundry/nredf-scheduler/internal/sim/engine"
	"github.com/signalsfoundry/nredf-scheduler/internal/store"
)

// loadScenario reads path, or returns the built-in scenario when path is
// empty. Command line overrides are applied and revalidated.
func loadScenario(path string, duration time.Duration, seed uint64) (config.Scenario, error) {
	s := config.Default()
	if path != "" {
		var err error
		if s, err = config.Load(path); err != nil {
			return config.Scenario{}, err
		}
	}
	if duration > 0 {
		s.Duration = duration
	}
	if seed != 0 {
		s.Seed = seed
	}
	if err := s.Validate(); err != nil {
		return config.Scenario{}, err
	}
	return s, nil
}

func printSummary(w io.Writer, sum engine.Summary) {
	fmt.Fprintf(w, "Scenario %q: %v simulated in %d TTIs of %v (seed %d)\n",
		sum.Name, sum.Elapsed, sum.TTIs, sum.TTI, sum.Seed)
	fmt.Fprintf(w, "Rounds %d (%d budget-terminated, %d failed), %d bytes granted, %d connections evicted\n",
		sum.Rounds, sum.Terminated, sum.FailedRounds, sum.GrantedBytes, sum.Evicted)
	fmt.Fprintf(w, "Packets sent %d, received %d, still queued %d, deadline misses %d\n\n",
		sum.Sent(), sum.Received(), sum.BacklogPackets, sum.DeadlineMisses())

	fmt.Fprintf(w, "%-12s  %-5s  %8s  %8s  %7s  %10s  %10s  %10s  %7s\n",
		"CONNECTION", "5QI", "SENT", "RECV", "LOSS", "MEAN", "MAX", "JITTER", "MISSES")
	for _, f := range sum.Flows {
		fmt.Fprintf(w, "%-12s  %-5d  %8d  %8d  %6.2f%%  %10v  %10v  %10v  %7d\n",
			f.CID, f.FiveQI, f.Sent, f.Received, 100*f.LossRate(),
			f.MeanDelay(), f.DelayMax, f.Jitter(), f.DeadlineMisses)
	}

	fmt.Fprintf(w, "\n%-5s  %-6s  %5s  %8s  %8s  %10s  %10s  %7s\n",
		"5QI", "TYPE", "FLOWS", "SENT", "RECV", "MEAN", "MAX", "MISSES")
	for _, c := range sum.Classes {
		fmt.Fprintf(w, "%-5d  %-6s  %5d  %8d  %8d  %10v  %10v  %7d\n",
			c.FiveQI, c.ResourceType, c.Flows, c.Sent, c.Received,
			c.MeanDelay, c.MaxDelay, c.DeadlineMisses)
	}
}

// toRun converts a summary into its stored form.
func toRun(s config.Scenario, sum engine.Summary, started time.Time) (*store.Run, error) {
	var doc bytes.Buffer
	if err := s.Write(&doc); err != nil {
		return nil, err
	}
	run := &store.Run{
		Name:           sum.Name,
		StartedAt:      started,
		Duration:       sum.Elapsed,
		TTI:            sum.TTI,
		Seed:           sum.Seed,
		TTIs:           sum.TTIs,
		Rounds:         sum.Rounds,
		GrantedBytes:   sum.GrantedBytes,
		Sent:           sum.Sent(),
		Received:       sum.Received(),
		DeadlineMisses: sum.DeadlineMisses(),
		Scenario:       doc.String(),
	}
	for _, f := range sum.Flows {
		run.Flows = append(run.Flows, store.FlowStats{
			CID:            uint32(f.CID),
			FiveQI:         f.FiveQI,
			Sent:           f.Sent,
			Received:       f.Received,
			BytesReceived:  f.BytesReceived,
			MeanDelay:      f.MeanDelay(),
			MaxDelay:       f.DelayMax,
			Jitter:         f.Jitter(),
			DeadlineChecks: f.DeadlineChecks,
			DeadlineMisses: f.DeadlineMisses,
		})
	}
	for _, c := range sum.Classes {
		run.Classes = append(run.Classes, store.ClassStats{
			FiveQI:         c.FiveQI,
			ResourceType:   c.ResourceType.String(),
			Flows:          c.Flows,
			Sent:           c.Sent,
			Received:       c.Received,
			MeanDelay:      c.MeanDelay,
			MaxDelay:       c.MaxDelay,
			DeadlineMisses: c.DeadlineMisses,
		})
	}
	return run, nil
}

func openStore(ctx context.Context, path string) (*store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// saveSummary stores sum when dbPath is set and returns the run id.
func saveSummary(ctx context.Context, dbPath string, s config.Scenario, sum engine.Summary, started time.Time) (string, error) {
	if dbPath == "" {
		return "", nil
	}
	run, err := toRun(s, sum, started)
	if err != nil {
		return "", err
	}
	st, err := openStore(ctx, dbPath)
	if err != nil {
		return "", err
	}
	defer st.Close()
	return st.SaveRun(ctx, run)
}

// publishSummary writes the run report to Kafka when the scenario
// configures brokers.
func publishSummary(ctx context.Context, s config.Scenario, sum engine.Summary, runID string) error {
	if !s.Kafka.Enabled() {
		return nil
	}
	pub, err := report.NewPublisher(report.PublisherConfig{
		Brokers: s.Kafka.Brokers,
		Topic:   s.Kafka.Topic,
		Acks:    s.Kafka.Acks,
		Timeout: s.Kafka.Timeout,
	}, logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	r := report.FromSummary(sum, time.Now())
	r.RunID = runID
	return pub.Publish(ctx, r)
}

// finishRun prints, stores and publishes the results of a completed run.
func finishRun(ctx context.Context, out io.Writer, dbPath string, s config.Scenario, sum engine.Summary, started time.Time) error {
	printSummary(out, sum)

	id, err := saveSummary(ctx, dbPath, s, sum, started)
	if err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	if id != "" {
		fmt.Fprintf(out, "\nSaved run %s\n", id)
	}
	if err := publishSummary(ctx, s, sum, id); err != nil {
		return fmt.Errorf("publish results: %w", err)
	}
	return nil
}
