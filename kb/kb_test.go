package kb

import (
	"errors"
	"sync"
	"testing"

	"github.com/signalsfoundry/nredf-scheduler/model"
)

func TestAttachAndResolve(t *testing.T) {
	reg := NewRegistry()
	dev, err := reg.Attach(1025, "ue[0]")
	if err != nil {
		t.Fatalf("Attach error: %v", err)
	}
	if dev.SimID == 0 {
		t.Fatalf("Attach assigned zero sim id")
	}

	id, ok := reg.Resolve(1025)
	if !ok || id != dev.SimID {
		t.Fatalf("Resolve(1025) = %d, %v; want %d, true", id, ok, dev.SimID)
	}
	if _, ok := reg.Resolve(1026); ok {
		t.Fatalf("Resolve of unknown node should fail")
	}
	if _, ok := reg.Resolve(model.NodeIDNone); ok {
		t.Fatalf("Resolve of NodeIDNone should fail")
	}
}

func TestAttachDuplicate(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Attach(1025, ""); err != nil {
		t.Fatalf("first Attach error: %v", err)
	}
	if _, err := reg.Attach(1025, ""); !errors.Is(err, ErrDeviceExists) {
		t.Fatalf("duplicate Attach error = %v, want ErrDeviceExists", err)
	}
	if _, err := reg.Attach(model.NodeIDNone, ""); err == nil {
		t.Fatalf("expected NodeIDNone attach to fail")
	}
}

func TestDetachMakesNodeUnresolvable(t *testing.T) {
	reg := NewRegistry()
	first, _ := reg.Attach(1025, "")
	if err := reg.Detach(1025); err != nil {
		t.Fatalf("Detach error: %v", err)
	}
	if _, ok := reg.Resolve(1025); ok {
		t.Fatalf("detached node still resolves")
	}
	if err := reg.Detach(1025); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("second Detach error = %v, want ErrDeviceNotFound", err)
	}

	again, _ := reg.Attach(1025, "")
	if again.SimID == first.SimID {
		t.Fatalf("sim id %d reused after re-attach", again.SimID)
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	reg := NewRegistry()
	var events []Event
	unsubscribe := reg.Subscribe(func(ev Event) {
		events = append(events, ev)
	})

	reg.Attach(1025, "")
	reg.Detach(1025)
	unsubscribe()
	reg.Attach(1026, "")

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != EventDeviceAttached || events[1].Type != EventDeviceDetached || events[1].Device.Node != 1025 {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestListSortedAndBackground(t *testing.T) {
	reg := NewRegistry()
	for _, n := range []model.NodeID{4030, 1027, 1025} {
		if _, err := reg.Attach(n, ""); err != nil {
			t.Fatalf("Attach(%d): %v", n, err)
		}
	}
	list := reg.List()
	if len(list) != 3 || list[0].Node != 1025 || list[2].Node != 4030 {
		t.Fatalf("List() = %+v", list)
	}
	if !list[2].Background() || list[0].Background() {
		t.Fatalf("background classification wrong: %+v", list)
	}
}

func TestConcurrentResolve(t *testing.T) {
	reg := NewRegistry()
	reg.Attach(1025, "")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				reg.Resolve(1025)
			}
		}()
	}
	wg.Wait()
	if reg.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", reg.Len())
	}
}
