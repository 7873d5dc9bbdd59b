// Package distributor implements the frame distributor stage (spec §4.2):
// pulls from the camera's outbound channel and force-pushes each envelope
// to both the marker-input and detector-input channels.
package distributor

import (
	"context"
	"time"

	"github.com/yujun2647/watchdogd/internal/frame"
	"github.com/yujun2647/watchdogd/internal/queue"
	"github.com/yujun2647/watchdogd/internal/worker"
)

// consecutiveMissThreshold is the number of consecutive empty reads from
// the camera channel before the distributor requests a camera restart
// (spec §4.2).
const consecutiveMissThreshold = 3

// CameraSource is the minimal view of the camera stage the distributor
// needs: a readable outbound channel and a restart trigger.
type CameraSource interface {
	Out() *queue.Bounded[*frame.Envelope]
	RequestRestart()
}

// Stage is the frame distributor (C2).
type Stage struct {
	ctrl *worker.Control

	camera       CameraSource
	markerOut    *queue.Bounded[*frame.Envelope]
	detectorOut  *queue.Bounded[*frame.Envelope]
}

// NewStage creates a distributor fanning camera frames out to a marker
// channel and a detector channel, both capacity 360 per spec §4.2.
func NewStage(camera CameraSource) *Stage {
	return &Stage{
		ctrl:        worker.New("distributor", 10*time.Second),
		camera:      camera,
		markerOut:   queue.NewBounded[*frame.Envelope](360),
		detectorOut: queue.NewBounded[*frame.Envelope](360),
	}
}

// MarkerOut is the force-put channel consumed by the marker stage.
func (s *Stage) MarkerOut() *queue.Bounded[*frame.Envelope] { return s.markerOut }

// DetectorOut is the force-put channel consumed by the detector stage.
func (s *Stage) DetectorOut() *queue.Bounded[*frame.Envelope] { return s.detectorOut }

// Control exposes the worker control block.
func (s *Stage) Control() *worker.Control { return s.ctrl }

// Run drives the distributor's tick loop until ctx is cancelled.
func (s *Stage) Run(ctx context.Context) {
	s.ctrl.Beat(worker.Init)
	misses := 0

	for {
		select {
		case <-ctx.Done():
			s.ctrl.Beat(worker.DoneCleanedUp)
			return
		default:
		}

		env, ok := s.camera.Out().Get(500 * time.Millisecond)
		if !ok {
			misses++
			if misses >= consecutiveMissThreshold {
				s.camera.RequestRestart()
				misses = 0
			}
			continue
		}
		misses = 0

		s.ctrl.BeatTask(worker.Doing, env.FrameID)
		env.PutDelayText("importB")

		s.markerOut.Put(env)
		s.detectorOut.Put(env)

		env.PutDelayText("importA")
		s.ctrl.IncHandled()
		s.ctrl.Beat(worker.Done)
	}
}
