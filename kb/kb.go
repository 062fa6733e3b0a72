package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/nredf-scheduler/model"
)

var (
	// ErrDeviceExists indicates a device is already attached.
	ErrDeviceExists = errors.New("device already attached")
	// ErrDeviceNotFound indicates a device is not attached.
	ErrDeviceNotFound = errors.New("device not found")
)

// EventType indicates what kind of change happened in the registry.
type EventType int

const (
	EventDeviceAttached EventType = iota
	EventDeviceDetached
)

// Event is emitted to subscribers when a device joins or leaves.
type Event struct {
	Type   EventType
	Device Device
}

// Device is a UE known to the simulation.
type Device struct {
	Node model.NodeID
	// SimID is the simulation-scoped identifier assigned on attach. It is
	// never reused and never zero.
	SimID uint64
	Name  string
}

// Background reports whether the device generates background load only.
func (d Device) Background() bool { return d.Node >= model.BackgroundUEMinID }

// Registry is an in-memory, thread-safe store of attached devices. It is the
// topology resolver the scheduler uses to detect departed devices.
type Registry struct {
	mu sync.RWMutex

	devices map[model.NodeID]Device
	nextID  uint64

	subs    map[int]func(Event)
	nextSub int
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[model.NodeID]Device),
		subs:    make(map[int]func(Event)),
	}
}

// Attach registers a device and assigns its simulation id.
func (r *Registry) Attach(node model.NodeID, name string) (Device, error) {
	if node == model.NodeIDNone {
		return Device{}, fmt.Errorf("attach device: node id %d is reserved", node)
	}

	r.mu.Lock()
	if _, exists := r.devices[node]; exists {
		r.mu.Unlock()
		return Device{}, fmt.Errorf("%w: node %d", ErrDeviceExists, node)
	}
	r.nextID++
	dev := Device{Node: node, SimID: r.nextID, Name: name}
	r.devices[node] = dev
	subs := r.subscribersLocked()
	r.mu.Unlock()

	notify(subs, Event{Type: EventDeviceAttached, Device: dev})
	return dev, nil
}

// Detach removes a device, e.g. when it leaves the simulated network.
func (r *Registry) Detach(node model.NodeID) error {
	r.mu.Lock()
	dev, ok := r.devices[node]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: node %d", ErrDeviceNotFound, node)
	}
	delete(r.devices, node)
	subs := r.subscribersLocked()
	r.mu.Unlock()

	notify(subs, Event{Type: EventDeviceDetached, Device: dev})
	return nil
}

// Resolve maps a node to its live simulation id. ok is false when the node
// is unknown or has left.
func (r *Registry) Resolve(node model.NodeID) (simID uint64, ok bool) {
	if node == model.NodeIDNone {
		return 0, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[node]
	if !ok {
		return 0, false
	}
	return dev.SimID, true
}

// Get returns the device attached as node.
func (r *Registry) Get(node model.NodeID) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[node]
	return dev, ok
}

// List returns a snapshot of all attached devices ordered by node id.
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		res = append(res, d)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Node < res[j].Node })
	return res
}

// Len returns the number of attached devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Subscribe registers a callback for registry events. It returns an
// unsubscribe function.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

func (r *Registry) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, r.subs[id])
	}
	return out
}

// notify runs subscribers outside the lock so they may call back into the
// registry.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
