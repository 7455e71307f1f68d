package timectrl

import (
	"context"
	"sort"
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time. Components that
// care about elapsed time (reroute cooldowns, flow expiry, the step loop)
// depend on this abstraction rather than a concrete controller, which keeps
// them testable with a manually advanced clock.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// After returns a channel that receives the simulation time once d has
	// elapsed in simulation time.
	After(d time.Duration) <-chan time.Time
}

// WallClock is a SimClock backed by the real system clock, for components
// that run outside a driven simulation.
type WallClock struct{}

// Now implements SimClock.
func (WallClock) Now() time.Time { return time.Now() }

// After implements SimClock.
func (WallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances one tick per wall-clock tick.
	RealTime Mode = iota
	// Accelerated advances as quickly as the loop can run while still
	// stepping by Tick.
	Accelerated
)

// TimeController drives simulation time and notifies registered listeners.
// It implements SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time

	listeners []func(time.Time)
	timers    []simTimer
}

type simTimer struct {
	deadline time.Time
	ch       chan time.Time
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime forces the simulation time to a specific instant, firing any timers
// whose deadline it passes. Intended for tests and scenario replay.
func (tc *TimeController) SetTime(now time.Time) {
	tc.mu.Lock()
	tc.currentTime = now
	fired := tc.fireTimersLocked(now)
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	deliver(fired, now)
	for _, fn := range listeners {
		fn(now)
	}
}

// After returns a channel that receives the simulation time once d has
// elapsed in simulation time. Implements SimClock. Timers fire when Step,
// SetTime or Run advances past their deadline.
func (tc *TimeController) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)

	tc.mu.Lock()
	deadline := tc.currentTime.Add(d)
	tc.timers = append(tc.timers, simTimer{deadline: deadline, ch: ch})
	sort.Slice(tc.timers, func(i, j int) bool {
		return tc.timers[i].deadline.Before(tc.timers[j].deadline)
	})
	tc.mu.Unlock()

	if d <= 0 {
		tc.mu.Lock()
		fired := tc.fireTimersLocked(tc.currentTime)
		now := tc.currentTime
		tc.mu.Unlock()
		deliver(fired, now)
	}
	return ch
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Step advances simulation time by one tick and notifies listeners and due
// timers. The step loop calls this once per iteration in Accelerated mode.
func (tc *TimeController) Step() time.Time {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(tc.Tick)
	now := tc.currentTime
	fired := tc.fireTimersLocked(now)
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	deliver(fired, now)
	for _, fn := range listeners {
		fn(now)
	}
	return now
}

// Start runs the controller for the specified simulation duration in a
// separate goroutine. It returns a channel that is closed when the controller
// finishes. A zero duration runs until the process exits.
func (tc *TimeController) Start(duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		tc.run(context.Background(), duration)
	}()
	return done
}

// Run advances time until the simulation duration elapses or ctx is done.
func (tc *TimeController) Run(ctx context.Context, duration time.Duration) {
	tc.run(ctx, duration)
}

func (tc *TimeController) run(ctx context.Context, duration time.Duration) {
	elapsed := time.Duration(0)

	var ticker *time.Ticker
	if tc.Mode == RealTime {
		ticker = time.NewTicker(tc.Tick)
		defer ticker.Stop()
	}

	for {
		if duration > 0 && elapsed >= duration {
			return
		}
		if ctx != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
		}

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}

		tc.Step()
		elapsed += tc.Tick
	}
}

// fireTimersLocked collects timers due at now and removes them from the
// pending list. Caller must hold tc.mu.
func (tc *TimeController) fireTimersLocked(now time.Time) []chan time.Time {
	var fired []chan time.Time
	remaining := tc.timers[:0]
	for _, tm := range tc.timers {
		if !tm.deadline.After(now) {
			fired = append(fired, tm.ch)
		} else {
			remaining = append(remaining, tm)
		}
	}
	tc.timers = remaining
	return fired
}

func deliver(chs []chan time.Time, now time.Time) {
	for _, ch := range chs {
		select {
		case ch <- now:
		default:
		}
	}
}
