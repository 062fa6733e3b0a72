package timectrl

import (
	"context"
	"testing"
	"time"
)

func TestStepAdvancesByTick(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Millisecond, Accelerated)

	var seen []time.Duration
	tc.AddListener(func(simTime time.Time) {
		seen = append(seen, simTime.Sub(start))
	})

	tc.Step()
	tc.Step()

	if got := tc.Elapsed(); got != 2*time.Millisecond {
		t.Fatalf("Elapsed() = %v, want 2ms", got)
	}
	if got := tc.Now(); !got.Equal(start.Add(2 * time.Millisecond)) {
		t.Fatalf("Now() = %v", got)
	}
	if len(seen) != 2 || seen[0] != time.Millisecond || seen[1] != 2*time.Millisecond {
		t.Fatalf("listener saw %v", seen)
	}
	if tc.Steps() != 2 {
		t.Fatalf("Steps() = %d, want 2", tc.Steps())
	}
}

func TestRunStopsAfterDuration(t *testing.T) {
	tc := NewTimeController(time.Unix(0, 0), time.Millisecond, Accelerated)
	if n := tc.Run(context.Background(), 10*time.Millisecond); n != 10 {
		t.Fatalf("Run took %d steps, want 10", n)
	}
	if tc.Elapsed() != 10*time.Millisecond {
		t.Fatalf("Elapsed() = %v, want 10ms", tc.Elapsed())
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	tc := NewTimeController(time.Unix(0, 0), time.Millisecond, Accelerated)
	ctx, cancel := context.WithCancel(context.Background())
	tc.AddListener(func(time.Time) {
		if tc.Steps() == 3 {
			cancel()
		}
	})
	if n := tc.Run(ctx, time.Second); n != 3 {
		t.Fatalf("Run took %d steps, want 3", n)
	}
}

func TestStartAcceleratedClosesDone(t *testing.T) {
	tc := NewTimeController(time.Unix(0, 0), time.Millisecond, Accelerated)
	done := tc.Start(context.Background(), 5*time.Millisecond)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("controller did not finish")
	}
	if tc.Steps() != 5 {
		t.Fatalf("Steps() = %d, want 5", tc.Steps())
	}
}

func TestStartZeroTickReturnsImmediately(t *testing.T) {
	tc := NewTimeController(time.Unix(0, 0), 0, RealTime)
	select {
	case <-tc.Start(context.Background(), time.Second):
	case <-time.After(time.Second):
		t.Fatalf("zero tick controller should finish immediately")
	}
}
