package detector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yujun2647/watchdogd/internal/detection"
	"github.com/yujun2647/watchdogd/internal/frame"
	"github.com/yujun2647/watchdogd/internal/queue"
)

type fakeDetector struct {
	mu      sync.Mutex
	records []detection.Record
	err     error
	panics  bool
}

func (f *fakeDetector) Detect(ctx context.Context, frameID uint64, fps int, data []byte, w, h int) ([]detection.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("boom")
	}
	return f.records, f.err
}

func (f *fakeDetector) set(panics bool, records []detection.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panics = panics
	f.records = records
}

func TestStageEmitsRealRecords(t *testing.T) {
	in := queue.NewBounded[*frame.Envelope](4)
	det := &fakeDetector{records: []detection.Record{{Label: "person", IsDetected: true}}}
	stage := NewStage(det, in, 1)

	env := frame.New([]byte("x"), 10, 640, 480)
	in.Put(env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stage.Run(ctx)

	bundle, ok := stage.LabelsOut().Get(time.Second)
	if !ok || bundle.FrameID != env.FrameID || len(bundle.Records) != 1 {
		t.Fatalf("LabelsOut().Get() = (%+v, %v), want one record for frame %d", bundle, ok, env.FrameID)
	}
}

func TestStageEmitsSentinelOnEmptyDetection(t *testing.T) {
	in := queue.NewBounded[*frame.Envelope](4)
	det := &fakeDetector{records: nil}
	stage := NewStage(det, in, 1)

	env := frame.New([]byte("x"), 10, 640, 480)
	in.Put(env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stage.Run(ctx)

	bundle, ok := stage.SenseOut().Get(time.Second)
	if !ok || len(bundle.Records) != 1 {
		t.Fatalf("SenseOut().Get() = (%+v, %v), want a 1-element sentinel", bundle, ok)
	}
	rec := bundle.Records[0]
	if rec.IsDetected {
		t.Fatal("sentinel record has IsDetected=true")
	}
	if rec.FrameWidth != 640 || rec.FrameHeight != 480 {
		t.Fatalf("sentinel dims = (%d, %d), want (640, 480)", rec.FrameWidth, rec.FrameHeight)
	}
}

func TestStageSurvivesDetectorPanic(t *testing.T) {
	in := queue.NewBounded[*frame.Envelope](4)
	det := &fakeDetector{panics: true}
	stage := NewStage(det, in, 1)

	env := frame.New([]byte("x"), 10, 640, 480)
	in.Put(env)
	env2 := frame.New([]byte("y"), 10, 640, 480)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stage.Run(ctx)

	time.Sleep(50 * time.Millisecond) // let the panicking frame get recovered from
	det.set(false, []detection.Record{{Label: "car", IsDetected: true}})
	in.Put(env2)

	bundle, ok := stage.LabelsOut().Get(time.Second)
	if !ok || bundle.FrameID != env2.FrameID {
		t.Fatalf("worker did not resume processing after a panic: got (%+v, %v)", bundle, ok)
	}
}
