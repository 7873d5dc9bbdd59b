// Package sensor implements the per-category hysteresis sensors driven by
// detection bundles (spec §4.5 "Monitor stage").
package sensor

import (
	"time"

	"github.com/yujun2647/watchdogd/internal/detection"
)

// State is a sensor's debounced on/off reading.
type State int

const (
	Negative State = iota
	Positive
)

// TargetArea is the region of interest a detection's center point must
// fall inside to count (the camera's configured "center box").
type TargetArea struct {
	X0, Y0, X1, Y1 float64 // normalized [0,1] fractions of frame width/height
}

// Contains reports whether (cx, cy) in pixel space, for a frame of the
// given width/height, falls inside the target area.
func (t TargetArea) Contains(cx, cy, frameW, frameH int) bool {
	if frameW == 0 || frameH == 0 {
		return false
	}
	fx := float64(cx) / float64(frameW)
	fy := float64(cy) / float64(frameH)
	return fx >= t.X0 && fx <= t.X1 && fy >= t.Y0 && fy <= t.Y1
}

// Config parameterizes one sensor instance (spec §4.5).
type Config struct {
	Labels        map[string]struct{}
	MinArea       float64
	MaxArea       float64
	SenseSecTh    float64
	NotSenseSecTh float64
	Target        TargetArea
}

// PersonConfig returns the spec-default person-sensor configuration.
func PersonConfig(target TargetArea) Config {
	return Config{
		Labels:        set("person"),
		MinArea:       0.02,
		MaxArea:       0.75,
		SenseSecTh:    0.5,
		NotSenseSecTh: 1.5,
		Target:        target,
	}
}

// CarConfig returns the spec-default car-sensor configuration (covering
// car, truck, bus, boat, train, per spec §2/§4.5).
func CarConfig(target TargetArea) Config {
	return Config{
		Labels:        set("car", "truck", "bus", "boat", "train"),
		MinArea:       0.02,
		MaxArea:       0.5,
		SenseSecTh:    0.1,
		NotSenseSecTh: 0.5,
		Target:        target,
	}
}

func set(labels ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		m[l] = struct{}{}
	}
	return m
}

// Sensor applies hysteresis debouncing to raw per-frame detections,
// producing a stable Negative/Positive reading (spec §4.5).
type Sensor struct {
	cfg Config

	state             State
	senseFrameNum     int
	notSenseFrameNum  int
	lastTransition    time.Time
}

// New creates a Sensor in its Negative initial state.
func New(cfg Config) *Sensor {
	return &Sensor{cfg: cfg, state: Negative, lastTransition: time.Now()}
}

// State returns the sensor's current debounced reading.
func (s *Sensor) State() State { return s.state }

// Feed processes one frame's detection bundle, applying the area/region
// filters and hysteresis counters, and returns the (possibly updated)
// state plus whether a transition happened on this call.
func (s *Sensor) Feed(fps int, records []detection.Record) (state State, transitioned bool) {
	hit := s.matches(records)

	if hit {
		s.senseFrameNum++
		th := int(float64(fps) * s.cfg.SenseSecTh)
		if th < 1 {
			th = 1
		}
		if s.state == Negative && s.senseFrameNum >= th {
			s.state = Positive
			s.notSenseFrameNum = 0
			s.lastTransition = time.Now()
			transitioned = true
		}
	} else {
		s.notSenseFrameNum++
		th := int(float64(fps) * s.cfg.NotSenseSecTh)
		if th < 6 {
			th = 6
		}
		if s.state == Positive && s.notSenseFrameNum >= th {
			s.state = Negative
			s.senseFrameNum = 0
			s.lastTransition = time.Now()
			transitioned = true
		}
	}

	return s.state, transitioned
}

// matches applies the label/area/region filters of spec §4.5 and reports
// whether at least one surviving detection exists in this frame.
func (s *Sensor) matches(records []detection.Record) bool {
	for _, r := range records {
		if !r.IsDetected {
			continue
		}
		if _, ok := s.cfg.Labels[r.Label]; !ok {
			continue
		}
		whole := r.WholeArea()
		if whole == 0 {
			continue
		}
		frac := float64(r.BBox.Area()) / float64(whole)
		if frac < s.cfg.MinArea || frac > s.cfg.MaxArea {
			continue
		}
		cx, cy := r.BBox.CenterPoint()
		if !s.cfg.Target.Contains(cx, cy, r.FrameWidth, r.FrameHeight) {
			continue
		}
		return true
	}
	return false
}

// LastTransition reports when the sensor last flipped state.
func (s *Sensor) LastTransition() time.Time { return s.lastTransition }
