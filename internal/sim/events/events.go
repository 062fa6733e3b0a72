// Package events runs callbacks at simulation times. Traffic senders use it
// to schedule packet generation and scenarios use it for device departures.
package events

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/nredf-scheduler/timectrl"
)

// Scheduler schedules callbacks against simulation time measured from the
// start of the run.
//
// The engine calls RunDue once per TTI after advancing the clock.
type Scheduler interface {
	// Schedule registers f to run at simulation time at and returns an id
	// that can be passed to Cancel.
	Schedule(at time.Duration, f func()) (id string)

	// Cancel is a no-op if the id is unknown or the event already ran.
	Cancel(id string)

	// Now returns the current simulation time.
	Now() time.Duration

	// RunDue executes every event due at or before Now, including events
	// scheduled by callbacks for a time that is already due. It returns the
	// number of callbacks run.
	RunDue() int

	// Pending returns the number of events still waiting to run.
	Pending() int
}

type scheduledEvent struct {
	id        string
	when      time.Duration
	f         func()
	cancelled bool
}

type eventScheduler struct {
	clock timectrl.SimClock

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent // ordered by when, then by insertion
	index   map[string]*scheduledEvent
}

// NewScheduler returns a Scheduler backed by clock.
func NewScheduler(clock timectrl.SimClock) Scheduler {
	return &eventScheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
}

func (s *eventScheduler) Schedule(at time.Duration, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("ev-%d", s.counter)
	ev := &scheduledEvent{id: id, when: at, f: f}

	// Events due at the same time run in the order they were scheduled.
	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when > at
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev

	s.index[id] = ev
	return id
}

func (s *eventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(s.index, id)
}

func (s *eventScheduler) Now() time.Duration {
	return s.clock.Elapsed()
}

func (s *eventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

func (s *eventScheduler) RunDue() int {
	now := s.clock.Elapsed()
	ran := 0
	for {
		ev := s.popDue(now)
		if ev == nil {
			return ran
		}
		// Callbacks run outside the lock so they may schedule more events.
		if ev.f != nil {
			ev.f()
		}
		ran++
	}
}

// popDue removes and returns the earliest non-cancelled event due at or
// before now, dropping cancelled events on the way.
func (s *eventScheduler) popDue(now time.Duration) *scheduledEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.when > now {
			return nil
		}
		s.events[0] = nil
		s.events = s.events[1:]
		if ev.cancelled {
			continue
		}
		delete(s.index, ev.id)
		return ev
	}
	return nil
}
