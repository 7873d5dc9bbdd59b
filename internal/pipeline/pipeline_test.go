package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/yujun2647/watchdogd/internal/audio"
	"github.com/yujun2647/watchdogd/internal/camera"
	"github.com/yujun2647/watchdogd/internal/detection"
	"github.com/yujun2647/watchdogd/internal/encoder"
)

type fakeSource struct{}

func (fakeSource) Open(ctx context.Context, addr string) (int, int, int, error) { return 5, 64, 48, nil }
func (fakeSource) ReadFrame(ctx context.Context) ([]byte, error)                { return []byte("x"), nil }
func (fakeSource) Close() error                                                 { return nil }

type fakeDetector struct{}

func (fakeDetector) Detect(ctx context.Context, frameID uint64, fps int, data []byte, w, h int) ([]detection.Record, error) {
	return nil, nil
}
func (fakeDetector) Close() error { return nil }

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	return New(Config{
		CameraAddress:     "test-addr",
		NewSource:         func() camera.Source { return fakeSource{} },
		Detector:          fakeDetector{},
		DetectorWorkerNum: 1,
		Width:             64, Height: 48,
		ActiveFPS: 5, RestFPS: 1,
		CarAlertSecs: 120,
		CachePath:    t.TempDir(),
		CacheDays:    30,
		AudioDriver:  audio.NoOp{},
		Encoder:      encoder.RawOpener{},
	})
}

func TestNewWiresEveryStage(t *testing.T) {
	p := newTestPipeline(t)
	if p.Supervisor == nil {
		t.Fatal("New() did not wire a Supervisor")
	}
	if p.Camera == nil || p.Distributor == nil || p.Detector == nil ||
		p.Marker == nil || p.Monitor == nil || p.Recorder == nil || p.Web == nil {
		t.Fatal("New() left a stage unwired")
	}
}

func TestRunDeliversAFrameEndToEnd(t *testing.T) {
	p := newTestPipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("pipeline never produced a renderable frame within the deadline")
		default:
		}
		if env, ok := p.Marker.RenderOut().Get(20 * time.Millisecond); ok && env != nil {
			return
		}
	}
}
