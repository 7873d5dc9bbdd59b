// Package supervisor implements the bottom-up relaunch of stuck stages
// (spec §5 "Supervision" and §9): a stage discovered STUCK (heartbeat
// staleness exceeding HEART_BEAT_INTERVAL × k, spec invariant I4) has its
// outbound queues drained and its Run loop started again in a fresh
// goroutine, in the leaves-first order given to New. There is no kill or
// wait step: the stuck goroutine is not stopped and keeps running
// alongside the relaunched one.
package supervisor

import (
	"context"
	"time"

	"github.com/yujun2647/watchdogd/internal/wdlog"
	"github.com/yujun2647/watchdogd/internal/worker"
)

// heartbeatMultiplier is k in spec invariant I4.
const heartbeatMultiplier = 15

// pollInterval is the nominal tick period a healthy stage should not exceed
// between heartbeats; stuckAfter on worker.Control already encodes this per
// stage, so the supervisor only needs to poll Health(). Var rather than
// const so tests can shorten it.
var pollInterval = 2 * time.Second

// Stage is anything the supervisor can watch and relaunch. Drain empties
// the stage's outbound queues (spec §5: "before killing it must drain the
// outbound queues of that stage"); Relaunch restarts the stage's Run loop
// in a fresh goroutine with the given context.
type Stage struct {
	Name     string
	Control  func() *worker.Control
	Drain    func()
	Relaunch func(ctx context.Context)
	// Children names the stages downstream of this one. Run does not
	// consult it: drain and relaunch order comes only from the order
	// passed to New, and each stuck stage is handled on its own.
	Children []string
}

// Supervisor polls a set of registered stages and relaunches any that go
// Stuck.
type Supervisor struct {
	stages map[string]*Stage
	order  []string // bottom-up relaunch order
}

// New creates a Supervisor. order must list stage names leaves-first
// (e.g. marker before distributor before camera) per spec §5.
func New(order []string) *Supervisor {
	return &Supervisor{stages: make(map[string]*Stage), order: order}
}

// Register adds a watched stage.
func (sv *Supervisor) Register(s *Stage) {
	sv.stages[s.Name] = s
}

// Run polls every registered stage until ctx is cancelled, relaunching
// any stage whose Health() reports Stuck.
func (sv *Supervisor) Run(ctx context.Context) {
	log := wdlog.Stage("supervisor")
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, name := range sv.order {
			st, ok := sv.stages[name]
			if !ok || st.Control == nil {
				continue
			}
			snap := st.Control().Health()
			if snap.State != worker.Stuck {
				continue
			}

			log.Warn("supervisor: stage stuck, relaunching", "stage", name, "stuck_for", snap.StuckFor)
			if st.Drain != nil {
				st.Drain()
			}
			if st.Relaunch != nil {
				go st.Relaunch(ctx)
			}
		}
	}
}
