package admission

import "sync/atomic"

// State of the processing cycle
type State int

const (
	Idle State = iota
	Processing
)

// String returns the state name
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Processing:
		return "processing"
	default:
		return "unknown"
	}
}

const (
	flagInFlight  uint32 = 1 << 0
	flagAdmitNext uint32 = 1 << 1
)

// Options configures a Controller
type Options struct {
	// Strict admits exactly one frame per RequestNext call. When false
	// every admission re-arms the gate, leaving plain single-flight.
	Strict bool
}

// Stats is a snapshot of admission counters
type Stats struct {
	Admitted uint64
	Dropped  uint64
	State    State
}

// Controller is the single-flight gate in front of the frame pipeline.
// Both flags live in one word so check-and-set is a single CAS; callers may
// deliver frames from any goroutine.
type Controller struct {
	state  atomic.Uint32
	strict atomic.Bool

	admitted atomic.Uint64
	dropped  atomic.Uint64
}

// NewController creates an idle controller ready to admit
func NewController(opts Options) *Controller {
	c := &Controller{}
	c.strict.Store(opts.Strict)
	c.state.Store(flagAdmitNext)
	return c
}

// TryAdmit moves Idle -> Processing. It returns false, counting a drop,
// when a cycle is in flight or no frame was requested.
func (c *Controller) TryAdmit() bool {
	for {
		old := c.state.Load()
		if old&flagInFlight != 0 || old&flagAdmitNext == 0 {
			c.dropped.Add(1)
			return false
		}
		next := old | flagInFlight
		if c.strict.Load() {
			next &^= flagAdmitNext
		}
		if c.state.CompareAndSwap(old, next) {
			c.admitted.Add(1)
			return true
		}
	}
}

// Complete moves Processing -> Idle
func (c *Controller) Complete() {
	for {
		old := c.state.Load()
		if c.state.CompareAndSwap(old, old&^flagInFlight) {
			return
		}
	}
}

// RequestNext arms the gate for the next frame
func (c *Controller) RequestNext() {
	for {
		old := c.state.Load()
		if c.state.CompareAndSwap(old, old|flagAdmitNext) {
			return
		}
	}
}

// Strict reports whether one-shot admission is enabled
func (c *Controller) Strict() bool {
	return c.strict.Load()
}

// SetStrict switches admission mode. Leaving strict mode re-arms the gate.
func (c *Controller) SetStrict(strict bool) {
	c.strict.Store(strict)
	if !strict {
		c.RequestNext()
	}
}

// State returns the current state
func (c *Controller) State() State {
	if c.state.Load()&flagInFlight != 0 {
		return Processing
	}
	return Idle
}

// Stats returns a snapshot of the counters
func (c *Controller) Stats() Stats {
	return Stats{
		Admitted: c.admitted.Load(),
		Dropped:  c.dropped.Load(),
		State:    c.State(),
	}
}
