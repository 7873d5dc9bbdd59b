// Package worker implements the control block and the butcher-knife mutex
// shared by every pipeline stage (spec §3 "Worker control block", §5
// "Mutual exclusion"); each stage runs its own loop.
package worker

import (
	"sync"
	"time"
)

// EnableState is the stage's top-level lifecycle switch.
type EnableState int

const (
	Enable EnableState = iota
	Disable
	Killed
)

func (s EnableState) String() string {
	switch s {
	case Enable:
		return "ENABLE"
	case Disable:
		return "DISABLE"
	case Killed:
		return "KILLED"
	default:
		return "UNKNOWN"
	}
}

// State is the stage's ready/working state, reported to health checks.
type State int

const (
	Ready State = iota
	Working
	Stuck
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Working:
		return "WORKING"
	case Stuck:
		return "STUCK"
	default:
		return "UNKNOWN"
	}
}

// WorkingState is the fine-grained sub-state of the current tick, used to
// detect a stage wedged mid-operation (spec §3).
type WorkingState int

const (
	NotStart        WorkingState = -2
	BeforeCleanedUp WorkingState = -1
	Init            WorkingState = 0
	Doing           WorkingState = 1
	Done            WorkingState = 2
	DoneCleanedUp   WorkingState = 3
	ErrorExit       WorkingState = -3
)

func (s WorkingState) String() string {
	switch s {
	case NotStart:
		return "NOT_START"
	case BeforeCleanedUp:
		return "BEFORE_CLEANED_UP"
	case Init:
		return "INIT"
	case Doing:
		return "DOING"
	case Done:
		return "DONE"
	case DoneCleanedUp:
		return "DONE_CLEANED_UP"
	case ErrorExit:
		return "ERROR_EXIT"
	default:
		return "UNKNOWN"
	}
}

// Control is the worker control block named in spec §3: every stage embeds
// one and updates it from its own tick loop. All fields are accessed under
// mu so health() can be called concurrently from the web server's
// /debug/workers endpoint.
type Control struct {
	mu sync.RWMutex

	name string

	enable  EnableState
	state   State
	working WorkingState

	heartbeat time.Time
	handled   uint64
	taskID    uint64

	stuckAfter time.Duration
}

// New creates a Control block in its initial NOT_START sub-state. stuckAfter
// is the max allowed gap between heartbeats before Health reports Stuck.
func New(name string, stuckAfter time.Duration) *Control {
	if stuckAfter <= 0 {
		stuckAfter = 10 * time.Second
	}
	return &Control{
		name:       name,
		enable:     Enable,
		state:      Ready,
		working:    NotStart,
		heartbeat:  time.Now(),
		stuckAfter: stuckAfter,
	}
}

// Name returns the stage name this control block belongs to.
func (c *Control) Name() string {
	return c.name
}

// Beat stamps the heartbeat and sets the working sub-state for the current
// tick. Call at the start and end of every meaningful unit of work.
func (c *Control) Beat(ws WorkingState) {
	c.mu.Lock()
	c.heartbeat = time.Now()
	c.working = ws
	if ws == Doing {
		c.state = Working
	} else if ws == Done || ws == DoneCleanedUp {
		c.state = Ready
	}
	c.mu.Unlock()
}

// BeatTask is Beat plus recording which task id is being processed (e.g.
// the frame id currently in flight).
func (c *Control) BeatTask(ws WorkingState, taskID uint64) {
	c.mu.Lock()
	c.heartbeat = time.Now()
	c.working = ws
	c.taskID = taskID
	if ws == Doing {
		c.state = Working
	} else if ws == Done || ws == DoneCleanedUp {
		c.state = Ready
	}
	c.mu.Unlock()
}

// IncHandled bumps the handled-count, called once per fully processed unit.
func (c *Control) IncHandled() {
	c.mu.Lock()
	c.handled++
	c.mu.Unlock()
}

// SetEnable transitions the enable state (ENABLE/DISABLE/KILLED).
func (c *Control) SetEnable(s EnableState) {
	c.mu.Lock()
	c.enable = s
	c.mu.Unlock()
}

// EnableState reports the current enable state.
func (c *Control) EnableState() EnableState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enable
}

// Snapshot is a read-only copy of the control block for introspection.
type Snapshot struct {
	Name      string
	Enable    EnableState
	State     State
	Working   WorkingState
	Heartbeat time.Time
	Handled   uint64
	TaskID    uint64
	StuckFor  time.Duration
}

// Health computes the current Snapshot, demoting State to Stuck if the
// heartbeat gap exceeds stuckAfter while the stage claims to be Working.
func (c *Control) Health() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state := c.state
	gap := time.Since(c.heartbeat)
	if state == Working && gap > c.stuckAfter {
		state = Stuck
	}
	return Snapshot{
		Name:      c.name,
		Enable:    c.enable,
		State:     state,
		Working:   c.working,
		Heartbeat: c.heartbeat,
		Handled:   c.handled,
		TaskID:    c.taskID,
		StuckFor:  gap,
	}
}
