// Package detector implements the detector stage (spec §4.3): N parallel
// workers consume sampled frames, invoke the external Detector, and
// publish detection bundles to both a labels channel (consumed by the
// marker) and a sense channel (consumed by the monitor).
package detector

import (
	"context"
	"time"

	"github.com/yujun2647/watchdogd/internal/detection"
	"github.com/yujun2647/watchdogd/internal/frame"
	"github.com/yujun2647/watchdogd/internal/queue"
	"github.com/yujun2647/watchdogd/internal/wdlog"
	"github.com/yujun2647/watchdogd/internal/worker"
)

// Bundle is a labelled batch of detections for one frame id, or the
// is_detected=false sentinel when the detector found nothing (spec §4.3,
// invariant I1).
type Bundle struct {
	FrameID uint64
	Records []detection.Record
}

// Stage is the detector stage (C3).
type Stage struct {
	ctrl *worker.Control

	det         detection.Detector
	in          *queue.Bounded[*frame.Envelope]
	labelsOut   *queue.Bounded[Bundle]
	senseOut    *queue.Bounded[Bundle]

	workerNum int
}

// NewStage creates a detector stage with workerNum parallel workers
// sharing one Detector (spec §4.3, §6 "must be safe to call concurrently
// from N workers").
func NewStage(det detection.Detector, in *queue.Bounded[*frame.Envelope], workerNum int) *Stage {
	if workerNum < 1 {
		workerNum = 1
	}
	return &Stage{
		ctrl:      worker.New("detector", 10*time.Second),
		det:       det,
		in:        in,
		labelsOut: queue.NewBounded[Bundle](360),
		senseOut:  queue.NewBounded[Bundle](360),
		workerNum: workerNum,
	}
}

// LabelsOut is consumed by the marker stage for its join (spec §4.4).
func (s *Stage) LabelsOut() *queue.Bounded[Bundle] { return s.labelsOut }

// SenseOut is consumed by the monitor stage's sensors (spec §4.5).
func (s *Stage) SenseOut() *queue.Bounded[Bundle] { return s.senseOut }

// WorkerNum returns the configured worker count (the marker's join bound,
// spec §4.4 step 2).
func (s *Stage) WorkerNum() int { return s.workerNum }

// Control exposes the worker control block.
func (s *Stage) Control() *worker.Control { return s.ctrl }

// Run drives workerNum goroutines pulling from in and fanning detections
// out, until ctx is cancelled.
func (s *Stage) Run(ctx context.Context) {
	s.ctrl.Beat(worker.Init)
	done := make(chan struct{})
	for i := 0; i < s.workerNum; i++ {
		go s.worker(ctx, done)
	}
	<-ctx.Done()
	for i := 0; i < s.workerNum; i++ {
		<-done
	}
	s.ctrl.Beat(worker.DoneCleanedUp)
}

func (s *Stage) worker(ctx context.Context, done chan<- struct{}) {
	log := wdlog.Stage("detector")
	defer func() { done <- struct{}{} }()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		env, ok := s.in.Get(500 * time.Millisecond)
		if !ok {
			continue
		}

		s.ctrl.BeatTask(worker.Doing, env.FrameID)
		func() {
			// The detector stage must never block the pipeline on its own
			// failures (spec §4.3): a panicking Detect still lets the
			// worker resume on the next frame.
			defer func() {
				if r := recover(); r != nil {
					log.Error("detector: worker recovered from panic", "panic", r)
					s.ctrl.Beat(worker.ErrorExit)
				}
			}()

			detectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			records, err := s.det.Detect(detectCtx, env.FrameID, env.FPS, env.Data, env.Width, env.Height)
			if err != nil {
				log.Warn("detector: detect failed", "frame_id", env.FrameID, "err", err)
				records = nil
			}
			if len(records) == 0 {
				records = []detection.Record{{FrameID: env.FrameID, FPS: env.FPS, IsDetected: false,
					FrameWidth: env.Width, FrameHeight: env.Height}}
			}

			bundle := Bundle{FrameID: env.FrameID, Records: records}
			s.labelsOut.Put(bundle)
			s.senseOut.Put(bundle)
		}()

		s.ctrl.IncHandled()
		s.ctrl.Beat(worker.Done)
	}
}
