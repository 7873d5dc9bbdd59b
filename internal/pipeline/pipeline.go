// Package pipeline wires the seven stages together (spec §2 "System
// Overview" dataflow) and drives the feedback edges: viewer demand and
// scene activity into camera fps (invariant I3), and the cache-watch /
// debug-events hub.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/yujun2647/watchdogd/internal/audio"
	"github.com/yujun2647/watchdogd/internal/camera"
	"github.com/yujun2647/watchdogd/internal/cachewatch"
	"github.com/yujun2647/watchdogd/internal/detection"
	"github.com/yujun2647/watchdogd/internal/detector"
	"github.com/yujun2647/watchdogd/internal/distributor"
	"github.com/yujun2647/watchdogd/internal/encoder"
	"github.com/yujun2647/watchdogd/internal/marker"
	"github.com/yujun2647/watchdogd/internal/monitor"
	"github.com/yujun2647/watchdogd/internal/recorder"
	"github.com/yujun2647/watchdogd/internal/sensor"
	"github.com/yujun2647/watchdogd/internal/supervisor"
	"github.com/yujun2647/watchdogd/internal/wdlog"
	"github.com/yujun2647/watchdogd/internal/webserver"
	"github.com/yujun2647/watchdogd/internal/ws"
)

// Config assembles every stage's tunables (spec §6 CLI surface plus
// internal defaults).
type Config struct {
	CameraAddress string
	NewSource     func() camera.Source
	Detector      detection.Detector
	DetectorWorkerNum int

	Width, Height       int
	ActiveFPS, RestFPS  int
	CarAlertSecs        int
	CachePath           string
	CacheDays           int

	AudioDriver audio.Driver
	Encoder     encoder.Opener
}

// Pipeline owns every stage and the goroutines binding them.
type Pipeline struct {
	cfg Config

	Camera      *camera.Stage
	Distributor *distributor.Stage
	Detector    *detector.Stage
	Marker      *marker.Stage
	Monitor     *monitor.Stage
	Recorder    *recorder.Stage
	Web         *webserver.Server
	Hub         *ws.Hub

	Supervisor *supervisor.Supervisor
}

// New constructs every stage and wires their channels per spec §2's
// dataflow: Camera -> Distributor -> {Marker, Detector}; Detector ->
// Marker (labels) and -> Monitor; Marker -> {Web.render, Recorder};
// Monitor -> Recorder and audio/message sinks; Web -> Camera.
func New(cfg Config) *Pipeline {
	if cfg.DetectorWorkerNum < 1 {
		cfg.DetectorWorkerNum = 2
	}

	camStage := camera.NewStage(cfg.CameraAddress, camera.Params{
		Width: cfg.Width, Height: cfg.Height,
		ActiveFPS: cfg.ActiveFPS, RestFPS: cfg.RestFPS,
	}, cfg.NewSource)

	distStage := distributor.NewStage(camStage)

	detStage := detector.NewStage(cfg.Detector, distStage.DetectorOut(), cfg.DetectorWorkerNum)

	markStage := marker.NewStage(distStage.MarkerOut(), detStage.LabelsOut(), cfg.DetectorWorkerNum)

	target := sensor.TargetArea{X0: marker.CenterBox.X0, Y0: marker.CenterBox.Y0, X1: marker.CenterBox.X1, Y1: marker.CenterBox.Y1}

	// The recorder's "still active" extension (spec §4.6) needs the
	// monitor's scene state, and the monitor needs the recorder to
	// dispatch record ops to (spec §4.5) — a genuine cycle between the
	// two stages. Break it with a forward-declared pointer the recorder's
	// SceneActive closure reads lazily, set once the monitor exists.
	var monStage *monitor.Stage
	recStage := recorder.NewStage(markStage.RecordOut(), recorder.Config{
		CachePath: cfg.CachePath,
		CacheDays: cfg.CacheDays,
		ActiveFPS: cfg.ActiveFPS,
		RestFPS:   cfg.RestFPS,
	}, camStage, func() bool {
		if monStage == nil {
			return false
		}
		return monStage.IsSceneActive()
	}, cfg.Encoder)

	monStage = monitor.NewStage(detStage.SenseOut(), monitor.Config{
		CarAlertSecs:   cfg.CarAlertSecs,
		DefaultRecSecs: 30,
		Target:         target,
	}, recStage, cfg.AudioDriver)

	hub := ws.NewHub()

	stages := map[string]webserver.HealthSource{
		"camera":      camStage,
		"distributor": distStage,
		"detector":    detStage,
		"marker":      markStage,
		"monitor":     monStage,
		"recorder":    recStage,
	}
	queues := map[string]webserver.QueueLenReporter{
		"camera_out":     camStage.Out(),
		"distributor_marker":   distStage.MarkerOut(),
		"distributor_detector": distStage.DetectorOut(),
		"detector_labels": detStage.LabelsOut(),
		"detector_sense":  detStage.SenseOut(),
		"marker_render":   markStage.RenderOut(),
		"marker_record":   markStage.RecordOut(),
	}

	web := webserver.New(webserver.Config{
		CachePath: cfg.CachePath,
		Recorder:  recStage,
		Camera:    camStage,
		Monitor:   monStage,
		RenderIn:  markStage.RenderOut(),
		Stages:    stages,
		Queues:    queues,
		Hub:       hub,
	})

	// Leaves first: recorder and monitor consume from the marker/detector
	// fan-out and produce nothing downstream; camera sits at the root of
	// the dataflow graph (spec §5 "Supervision").
	sv := supervisor.New([]string{"recorder", "monitor", "marker", "detector", "distributor", "camera"})
	sv.Register(&supervisor.Stage{Name: "camera", Control: camStage.Control, Relaunch: camStage.Run})
	sv.Register(&supervisor.Stage{
		Name: "distributor", Control: distStage.Control, Relaunch: distStage.Run,
		Drain: func() { distStage.MarkerOut().Drain(); distStage.DetectorOut().Drain() },
	})
	sv.Register(&supervisor.Stage{
		Name: "detector", Control: detStage.Control, Relaunch: detStage.Run,
		Drain: func() { detStage.LabelsOut().Drain(); detStage.SenseOut().Drain() },
	})
	sv.Register(&supervisor.Stage{
		Name: "marker", Control: markStage.Control, Relaunch: markStage.Run,
		Drain: func() { markStage.RenderOut().Drain(); markStage.RecordOut().Drain() },
	})
	sv.Register(&supervisor.Stage{Name: "monitor", Control: monStage.Control, Relaunch: monStage.Run})
	sv.Register(&supervisor.Stage{Name: "recorder", Control: recStage.Control, Relaunch: recStage.Run})

	return &Pipeline{
		cfg:         cfg,
		Camera:      camStage,
		Distributor: distStage,
		Detector:    detStage,
		Marker:      markStage,
		Monitor:     monStage,
		Recorder:    recStage,
		Web:         web,
		Hub:         hub,
		Supervisor:  sv,
	}
}

// Run launches every stage's goroutine plus the feedback-edge
// goroutines, blocking until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	stages := []func(context.Context){
		p.Camera.Run,
		p.Distributor.Run,
		p.Detector.Run,
		p.Marker.Run,
		p.Monitor.Run,
		p.Recorder.Run,
	}
	for _, fn := range stages {
		wg.Add(1)
		go func(fn func(context.Context)) {
			defer wg.Done()
			fn(ctx)
		}(fn)
	}

	go p.Supervisor.Run(ctx)

	fanOutDone := make(chan struct{})
	go p.Web.RunFanOut(fanOutDone)

	cacheEvents := make(chan cachewatch.Event, 16)
	if err := cachewatch.Watch(p.cfg.CachePath, cacheEvents, fanOutDone); err != nil {
		wdlog.Stage("pipeline").Warn("pipeline: cache watch disabled", "err", err)
	}

	go p.feedbackLoop(ctx, cacheEvents)

	<-ctx.Done()
	close(fanOutDone)
	wg.Wait()
}

// feedbackLoop implements invariant I3: camera effective fps equals
// active fps whenever a viewer is present or the scene is active,
// otherwise rest fps. It also republishes cache-directory changes onto
// the debug-events hub.
func (p *Pipeline) feedbackLoop(ctx context.Context, cacheEvents <-chan cachewatch.Event) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-cacheEvents:
			p.Hub.Broadcast(ws.Event{Kind: "cache_" + ev.Op, At: time.Now(), Data: ev.Name})
		case <-ticker.C:
			active := p.Web.Viewing() || p.Monitor.IsSceneActive()
			if active {
				p.Camera.AdjustFPS(p.cfg.ActiveFPS)
			} else {
				p.Camera.AdjustFPS(p.cfg.RestFPS)
			}
		}
	}
}

