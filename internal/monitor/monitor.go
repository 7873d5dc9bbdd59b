// Package monitor implements the monitor stage (spec §4.5): consumes
// detection bundles, runs the person and car hysteresis sensors, drives
// the scene state machines, and emits merged operation instructions.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/yujun2647/watchdogd/internal/audio"
	"github.com/yujun2647/watchdogd/internal/detector"
	"github.com/yujun2647/watchdogd/internal/opinst"
	"github.com/yujun2647/watchdogd/internal/queue"
	"github.com/yujun2647/watchdogd/internal/recorder"
	"github.com/yujun2647/watchdogd/internal/sensor"
	"github.com/yujun2647/watchdogd/internal/wdlog"
	"github.com/yujun2647/watchdogd/internal/worker"
)

// CarState is the car scene-state machine's state (spec §3, §4.5).
type CarState int

const (
	CarNegative CarState = iota
	CarPositive
	CarNotLeave
)

// PersonState is the person scene-state machine's state (spec §3).
type PersonState int

const (
	PersonNegative PersonState = iota
	PersonPositive
)

// carWarningBurst is how many times the warning clip is queued on a
// car-warn start (spec §4.5; original_source op_inst.py's CarWarningInst
// queues 30 QUEUE_PLAY requests per start so the warning keeps playing
// for the duration of a blocking-car alert, not just once).
const carWarningBurst = 30

// Recorder is the minimal view of the recorder stage the monitor needs.
type Recorder interface {
	Start(req recorder.Request)
	Stop()
}

// Config parameterizes the monitor stage.
type Config struct {
	CarAlertSecs int // CAR_ALART_SECS, spec §4.5, default 120
	DefaultRecSecs int
	Target       sensor.TargetArea
}

// SceneSnapshot is the read-only view of scene state exposed to other
// stages (spec §5 "Resource policy": scene state is owned by C5 and
// exposed read-only to other stages).
type SceneSnapshot struct {
	Car        CarState
	Person     PersonState
	CarPosTime time.Time
}

// Stage is the monitor stage (C5).
type Stage struct {
	ctrl *worker.Control

	in  *queue.Bounded[detector.Bundle]
	cfg Config

	personSensor *sensor.Sensor
	carSensor    *sensor.Sensor

	recorder Recorder
	audioDrv audio.Driver

	mu         sync.RWMutex
	carState   CarState
	personState PersonState
	carPosTime time.Time
}

// NewStage creates a monitor stage.
func NewStage(in *queue.Bounded[detector.Bundle], cfg Config, recorder Recorder, audioDrv audio.Driver) *Stage {
	if audioDrv == nil {
		audioDrv = audio.NoOp{}
	}
	if cfg.DefaultRecSecs <= 0 {
		cfg.DefaultRecSecs = 30
	}
	if cfg.CarAlertSecs <= 0 {
		cfg.CarAlertSecs = 120
	}
	return &Stage{
		ctrl:         worker.New("monitor", 10*time.Second),
		in:           in,
		cfg:          cfg,
		personSensor: sensor.New(sensor.PersonConfig(cfg.Target)),
		carSensor:    sensor.New(sensor.CarConfig(cfg.Target)),
		recorder:     recorder,
		audioDrv:     audioDrv,
		carState:     CarNegative,
		personState:  PersonNegative,
	}
}

// Control exposes the worker control block.
func (s *Stage) Control() *worker.Control { return s.ctrl }

// Snapshot returns the current read-only scene state.
func (s *Stage) Snapshot() SceneSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SceneSnapshot{Car: s.carState, Person: s.personState, CarPosTime: s.carPosTime}
}

// IsSceneActive reports whether either scene state machine is non-NEGATIVE,
// feeding invariant I3's active/rest fps selection.
func (s *Stage) IsSceneActive() bool {
	snap := s.Snapshot()
	return snap.Car != CarNegative || snap.Person != PersonNegative
}

// Run drives the monitor's tick loop until ctx is cancelled.
func (s *Stage) Run(ctx context.Context) {
	s.ctrl.Beat(worker.Init)
	for {
		select {
		case <-ctx.Done():
			s.ctrl.Beat(worker.DoneCleanedUp)
			return
		default:
		}

		bundle, ok := s.in.Get(500 * time.Millisecond)
		if !ok {
			continue
		}
		s.ctrl.BeatTask(worker.Doing, bundle.FrameID)
		s.tick(bundle)
		s.ctrl.IncHandled()
		s.ctrl.Beat(worker.Done)
	}
}

func (s *Stage) tick(bundle detector.Bundle) {
	log := wdlog.Stage("monitor")
	fps := 1
	if len(bundle.Records) > 0 {
		if f := bundle.Records[0].FPS; f > 0 {
			fps = f
		}
	}

	_, personTransitioned := s.personSensor.Feed(fps, bundle.Records)
	_, carTransitioned := s.carSensor.Feed(fps, bundle.Records)

	var ops []opinst.Op

	s.mu.Lock()
	if personTransitioned {
		ops = append(ops, s.personOps(s.personSensor.State())...)
	}
	if carTransitioned {
		ops = append(ops, s.carOps(s.carSensor.State())...)
	} else if s.carState == CarPositive && time.Since(s.carPosTime) > time.Duration(s.cfg.CarAlertSecs)*time.Second {
		ops = append(ops, s.carOverstayOps()...)
	}
	s.mu.Unlock()

	merged := opinst.Merge(ops)
	for _, op := range merged {
		s.dispatch(op, log)
	}
}

// personOps applies the person state machine transition table (spec
// §4.5). Caller holds s.mu.
func (s *Stage) personOps(newSensorState sensor.State) []opinst.Op {
	var ops []opinst.Op
	switch {
	case s.personState == PersonNegative && newSensorState == sensor.Positive:
		s.personState = PersonPositive
		ops = append(ops,
			opinst.Op{Class: opinst.ClassRecord, Kind: opinst.KindStart, Tag: "person",
				RecSecs: s.cfg.DefaultRecSecs},
			opinst.Op{Class: opinst.ClassPersonAudio, Kind: opinst.KindStart})
	case s.personState == PersonPositive && newSensorState == sensor.Negative:
		s.personState = PersonNegative
		ops = append(ops, opinst.Op{Class: opinst.ClassRecord, Kind: opinst.KindStop})
	}
	return ops
}

// carOps applies the car state machine transition table (spec §4.5).
// Caller holds s.mu.
func (s *Stage) carOps(newSensorState sensor.State) []opinst.Op {
	var ops []opinst.Op
	switch {
	case s.carState == CarNegative && newSensorState == sensor.Positive:
		s.carState = CarPositive
		s.carPosTime = time.Now()
		ops = append(ops,
			opinst.Op{Class: opinst.ClassCarWarn, Kind: opinst.KindStart},
			opinst.Op{Class: opinst.ClassRecord, Kind: opinst.KindStart, Tag: "car blocking", RecSecs: s.cfg.DefaultRecSecs})
	case s.carState == CarPositive && newSensorState == sensor.Negative:
		s.carState = CarNegative
		ops = append(ops,
			opinst.Op{Class: opinst.ClassCarWarn, Kind: opinst.KindStop},
			opinst.Op{Class: opinst.ClassRecord, Kind: opinst.KindStop, Tag: "car left"})
	case s.carState == CarNotLeave && newSensorState == sensor.Negative:
		s.carState = CarNegative
		ops = append(ops,
			opinst.Op{Class: opinst.ClassRecord, Kind: opinst.KindStart, Tag: "car left", RecSecs: s.cfg.DefaultRecSecs})
	}
	return ops
}

// carOverstayOps fires the POSITIVE -> CAR_NOT_LEAVE transition when a
// blocking car persists past CarAlertSecs (spec §4.5). Caller holds s.mu.
func (s *Stage) carOverstayOps() []opinst.Op {
	s.carState = CarNotLeave
	return []opinst.Op{
		{Class: opinst.ClassCarWarn, Kind: opinst.KindStop},
		{Class: opinst.ClassRecord, Kind: opinst.KindStop, Tag: "car persists"},
	}
}

func (s *Stage) dispatch(op opinst.Op, log interface{ Warn(string, ...any) }) {
	switch op.Class {
	case opinst.ClassCarWarn:
		if op.Kind == opinst.KindStart {
			if err := s.audioDrv.Stop(); err != nil {
				log.Warn("monitor: audio dispatch failed", "err", err)
			}
			for i := 0; i < carWarningBurst; i++ {
				if err := s.audioDrv.Play(audio.ClipCarWarning, audio.ModeQueue); err != nil {
					log.Warn("monitor: audio dispatch failed", "err", err)
					break
				}
			}
		} else if err := s.audioDrv.Stop(); err != nil {
			log.Warn("monitor: audio dispatch failed", "err", err)
		}
	case opinst.ClassRecord:
		if op.Kind == opinst.KindStart {
			s.recorder.Start(recorder.Request{ID: recorder.NewRequestID(), Tag: op.Tag, RecSecs: op.RecSecs, CreatedAt: time.Now()})
		} else {
			s.recorder.Stop()
		}
	case opinst.ClassPersonAudio:
		// spec §4.5 person table: NEGATIVE -> POSITIVE also plays the
		// "person detected" clip, not only the /debug/personWelcome
		// on-demand trigger.
		if err := s.audioDrv.Play(audio.ClipPersonDetect, audio.ModeForce); err != nil {
			log.Warn("monitor: audio dispatch failed", "err", err)
		}
	}
}

// TriggerPersonWelcome plays the "person detected" clip on demand, used
// by the /debug/personWelcome endpoint (spec §4.7).
func (s *Stage) TriggerPersonWelcome() error {
	return s.audioDrv.Play(audio.ClipPersonDetect, audio.ModeForce)
}
