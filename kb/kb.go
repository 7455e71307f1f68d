package kb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/leo-admission/model"
)

// EventType indicates what kind of change happened in the catalog.
type EventType int

const (
	EventSatelliteAdded EventType = iota
	EventSatelliteUpdated
)

// Event is emitted to subscribers when a satellite record changes.
type Event struct {
	Type      EventType
	Satellite model.Satellite
}

// Catalog is an in-memory, thread-safe registry of constellation satellites.
// The constellation layer pushes position updates into it each step; readers
// such as the performance monitor and the state provider take value copies.
type Catalog struct {
	mu sync.RWMutex

	sats map[int]model.Satellite

	subs []func(Event)
}

// NewCatalog constructs an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		sats: make(map[int]model.Satellite),
	}
}

// Add registers a new satellite. It returns an error if the ID already exists.
func (c *Catalog) Add(sat model.Satellite) error {
	c.mu.Lock()
	if _, exists := c.sats[sat.ID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("satellite with ID %d already exists", sat.ID)
	}
	c.sats[sat.ID] = sat
	subs := append([]func(Event){}, c.subs...)
	c.mu.Unlock()

	event := Event{Type: EventSatelliteAdded, Satellite: sat}
	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// Get returns the satellite with the given ID.
func (c *Catalog) Get(id int) (model.Satellite, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sat, ok := c.sats[id]
	return sat, ok
}

// List returns a snapshot of all satellites, sorted by ID so callers iterate
// deterministically.
func (c *Catalog) List() []model.Satellite {
	c.mu.RLock()
	defer c.mu.RUnlock()

	res := make([]model.Satellite, 0, len(c.sats))
	for _, sat := range c.sats {
		res = append(res, sat)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Len returns the number of registered satellites.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sats)
}

// Update replaces the stored record for sat.ID and notifies subscribers.
func (c *Catalog) Update(sat model.Satellite) error {
	c.mu.Lock()
	if _, ok := c.sats[sat.ID]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("satellite with ID %d not found", sat.ID)
	}
	c.sats[sat.ID] = sat
	subs := append([]func(Event){}, c.subs...)
	c.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	event := Event{Type: EventSatelliteUpdated, Satellite: sat}
	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// SetActive flips a satellite's traffic-carrying status and notifies
// subscribers.
func (c *Catalog) SetActive(id int, active bool) error {
	c.mu.Lock()
	sat, ok := c.sats[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("satellite with ID %d not found", id)
	}
	sat.Active = active
	c.sats[id] = sat
	subs := append([]func(Event){}, c.subs...)
	c.mu.Unlock()

	event := Event{Type: EventSatelliteUpdated, Satellite: sat}
	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// Subscribe registers a callback for catalog events. It returns an
// unsubscribe function.
func (c *Catalog) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
	idx := len(c.subs) - 1

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if idx < 0 || idx >= len(c.subs) {
			return
		}
		c.subs = append(c.subs[:idx], c.subs[idx+1:]...)
		idx = -1
	}
}
