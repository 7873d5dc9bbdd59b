package marker

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"

	"github.com/yujun2647/watchdogd/internal/detection"
	"github.com/yujun2647/watchdogd/internal/detector"
	"github.com/yujun2647/watchdogd/internal/frame"
	"github.com/yujun2647/watchdogd/internal/queue"
)

func newTestStage(workerNum int) *Stage {
	in := queue.NewBounded[*frame.Envelope](4)
	labelsIn := queue.NewBounded[detector.Bundle](4)
	return NewStage(in, labelsIn, workerNum)
}

func TestJoinImmediateMatch(t *testing.T) {
	s := newTestStage(2)
	recs := []detection.Record{{FrameID: 5, Label: "person"}}
	s.pending[5] = recs

	got := s.join(5)
	if len(got) != 1 || got[0].Label != "person" {
		t.Fatalf("join(5) = %+v, want the pre-seeded record", got)
	}
	if _, ok := s.pending[5]; ok {
		t.Fatal("join() did not clear the matched entry from pending")
	}
}

func TestJoinReadsUntilMatchWithinWorkerBound(t *testing.T) {
	s := newTestStage(3)
	s.labelsIn.Put(detector.Bundle{FrameID: 1, Records: []detection.Record{{Label: "a"}}})
	s.labelsIn.Put(detector.Bundle{FrameID: 2, Records: []detection.Record{{Label: "b"}}})
	s.labelsIn.Put(detector.Bundle{FrameID: 3, Records: []detection.Record{{Label: "c"}}})

	got := s.join(2)
	if len(got) != 1 || got[0].Label != "b" {
		t.Fatalf("join(2) = %+v, want frame 2's record", got)
	}
	// Frame 1's bundle should have been buffered into pending along the way.
	if _, ok := s.pending[1]; !ok {
		t.Fatal("join() did not buffer the skipped-over frame 1 bundle into pending")
	}
}

func TestJoinGivesUpAfterWorkerNumBundles(t *testing.T) {
	s := newTestStage(1)
	s.labelsIn.Put(detector.Bundle{FrameID: 99, Records: []detection.Record{{Label: "other"}}})

	got := s.join(42) // never arrives
	if got != nil {
		t.Fatalf("join(42) = %+v, want nil (gave up after workerNum bundles)", got)
	}
	if _, ok := s.pending[99]; !ok {
		t.Fatal("join() should have buffered frame 99's bundle even though it wasn't the match")
	}
}

func TestJoinPendingBoundedByWorkerNum(t *testing.T) {
	s := newTestStage(2)
	for i := uint64(1); i <= 2; i++ {
		s.labelsIn.Put(detector.Bundle{FrameID: i, Records: nil})
	}
	s.join(999) // not present, consumes up to workerNum=2 bundles into pending
	if got := s.PendingLen(); got > 2 {
		t.Fatalf("PendingLen() = %d, want <= workerNum (2)", got)
	}
}

func TestDrawRejectsSmallBoxesAndKeepsFrameDecodable(t *testing.T) {
	s := newTestStage(1)
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	env := frame.New(buf.Bytes(), 10, 200, 200)

	// A 1x1 box is far under the 2% area-fraction floor and must be
	// skipped without corrupting the output image.
	records := []detection.Record{{IsDetected: true, BBox: detection.BBox{X: 5, Y: 5, W: 1, H: 1}, Label: "person"}}
	s.draw(env, records)

	if _, err := jpeg.Decode(bytes.NewReader(env.Data)); err != nil {
		t.Fatalf("draw() produced an undecodable frame: %v", err)
	}
}
