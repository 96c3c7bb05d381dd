package sched

import "github.com/nsimlab/nsim/internal/thread"

// Config configures a Scheduler: the context-switch hook and the two
// scheduler-level timing knobs that aren't structural priority-level
// boundaries (those stay fixed in package thread). Construct with
// DefaultConfig and adjust via the With* methods before calling New.
type Config struct {
	// Switcher performs the context switch once a new thread is
	// chosen to run. Nil is valid for simulations that only care
	// about the scheduling decisions themselves.
	Switcher Switcher

	// AgingInterval is the number of ticks a READY thread may wait
	// before Aging bumps its priority.
	AgingInterval int64

	// L3TimeSlice is the time slice, in ticks, a thread running out
	// of L3 is granted before CheckYield reports it must yield.
	L3TimeSlice int64
}

// DefaultConfig returns the scheduler's out-of-the-box tuning,
// matching package thread's own constants.
func DefaultConfig() *Config {
	return &Config{
		AgingInterval: thread.AgingInterval,
		L3TimeSlice:   thread.L3TimeSlice,
	}
}

// WithSwitcher sets the context-switch hook.
func (c *Config) WithSwitcher(sw Switcher) *Config {
	c.Switcher = sw
	return c
}

// WithAgingInterval overrides the aging wait threshold.
func (c *Config) WithAgingInterval(ticks int64) *Config {
	c.AgingInterval = ticks
	return c
}

// WithL3TimeSlice overrides the L3 round-robin time slice.
func (c *Config) WithL3TimeSlice(ticks int64) *Config {
	c.L3TimeSlice = ticks
	return c
}
