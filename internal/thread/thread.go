// Package thread defines the thread control block the scheduler
// dispatches and ages.
package thread

// Status is the lifecycle state of a thread.
type Status uint8

const (
	JustCreated Status = iota
	Running
	Ready
	Blocked
	Zombie
)

func (s Status) String() string {
	switch s {
	case JustCreated:
		return "just_created"
	case Running:
		return "running"
	case Ready:
		return "ready"
	case Blocked:
		return "blocked"
	case Zombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// MinPriority and MaxPriority bound the priority range the scheduler's
// admission and aging rules operate over.
const (
	MinPriority = 0
	MaxPriority = 149
)

// Queue level thresholds: priority >= L1Threshold goes to L1,
// priority >= L2Threshold goes to L2, else L3.
const (
	L1Threshold = 100
	L2Threshold = 50
)

// AgingInterval is the number of ticks a READY thread may wait before
// its priority is bumped.
const AgingInterval = 1500

// AgingBoost is how much priority increases per aging event.
const AgingBoost = 10

// L3TimeSlice is the time slice, in ticks, a thread running out of L3
// is granted before it must yield.
const L3TimeSlice = 100

// ControlBlock holds the scheduling state the MLFQ/SRTF scheduler
// needs for a thread. It is owned by exactly one scheduler at a time.
type ControlBlock struct {
	ID   int
	Name string

	Status       Status
	Priority     int
	InWhichQueue int // 1, 2, or 3 while Status == Ready; 0 otherwise

	W float64 // smoothing weight, in (0, 1)

	CurrBurst     float64 // exponentially smoothed estimated burst length
	TotalRunning  float64 // accumulated ticks within the current burst
	RemBurst      float64 // cached curr_burst - total_running
	TSReady       int64   // tick of most recent entry to READY
	TSRunning     int64   // tick of most recent entry to RUNNING
	ToBeDestroyed bool
}

// New creates a thread control block in JUST_CREATED state.
func New(id int, name string, priority int, w float64) *ControlBlock {
	return &ControlBlock{
		ID:       id,
		Name:     name,
		Status:   JustCreated,
		Priority: clampPriority(priority),
		W:        w,
	}
}

func clampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// Level returns which ready-queue level a thread with this priority is
// admitted into: 1, 2, or 3.
func Level(priority int) int {
	switch {
	case priority >= L1Threshold:
		return 1
	case priority >= L2Threshold:
		return 2
	default:
		return 3
	}
}

// Bump raises priority by AgingBoost, saturating at MaxPriority, and
// returns the new value.
func (t *ControlBlock) Bump() int {
	t.Priority = clampPriority(t.Priority + AgingBoost)
	return t.Priority
}

// EnterFirstReady initializes burst-estimator state the first time a
// thread transitions JUST_CREATED -> READY.
func (t *ControlBlock) EnterFirstReady(now int64) {
	t.CurrBurst = 0
	t.TotalRunning = 0
	t.RemBurst = 0
	t.Status = Ready
	t.TSReady = now
}

// EnterReadyFromRunning records the burst-estimator update for a
// RUNNING -> READY (preemption) transition. curr_burst is left
// untouched because the burst has not finished.
func (t *ControlBlock) EnterReadyFromRunning(now int64) {
	t.TotalRunning += float64(now - t.TSRunning)
	t.RemBurst = t.CurrBurst - t.TotalRunning
	t.Status = Ready
	t.TSReady = now
}

// EnterBlockedFromRunning records the burst-estimator update for a
// RUNNING -> BLOCKED transition, finishing the current burst and
// folding it into the exponential estimate.
func (t *ControlBlock) EnterBlockedFromRunning(now int64) {
	t.TotalRunning += float64(now - t.TSRunning)
	t.CurrBurst = t.W*t.TotalRunning + (1-t.W)*t.CurrBurst
	t.RemBurst = t.CurrBurst
	t.TotalRunning = 0
	t.Status = Blocked
}

// EnterRunning marks the thread RUNNING at the given tick.
func (t *ControlBlock) EnterRunning(now int64) {
	t.Status = Running
	t.TSRunning = now
}

// RemainingBurst returns curr_burst - (now - ts_running + total_running),
// the live estimate of how much burst is left in a currently RUNNING
// thread, used by the intra-L1 SRTF preemption check.
func (t *ControlBlock) RemainingBurst(now int64) float64 {
	return t.CurrBurst - (float64(now-t.TSRunning) + t.TotalRunning)
}
