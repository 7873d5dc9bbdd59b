// Package marker implements the marker stage (spec §4.4): joins each
// frame envelope with its detection bundle by frame id, draws overlays,
// and publishes to the render and recorder channels.
package marker

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/yujun2647/watchdogd/internal/detection"
	"github.com/yujun2647/watchdogd/internal/detector"
	"github.com/yujun2647/watchdogd/internal/frame"
	"github.com/yujun2647/watchdogd/internal/queue"
	"github.com/yujun2647/watchdogd/internal/wdlog"
	"github.com/yujun2647/watchdogd/internal/worker"
)

// minBoxAreaFraction rejects boxes smaller than 2% of the frame (spec
// §4.4 "Drawing is deterministic").
const minBoxAreaFraction = 0.02

// CenterBox is the hard-coded region-of-interest overlay (spec §4.4: "a
// hard-coded region of interest occupying roughly x∈[25%,90%],
// y∈[20%,95%]").
var CenterBox = struct{ X0, Y0, X1, Y1 float64 }{0.25, 0.20, 0.90, 0.95}

// Stage is the marker stage (C4).
type Stage struct {
	ctrl *worker.Control

	in        *queue.Bounded[*frame.Envelope]
	labelsIn  *queue.Bounded[detector.Bundle]
	renderOut *queue.Bounded[*frame.Envelope]
	recordOut *queue.Bounded[*frame.Envelope]

	workerNum int

	pending map[uint64][]detection.Record
}

// NewStage creates a marker stage. workerNum is the detector's worker
// count N, the join bound described in spec §4.4 step 2.
func NewStage(in *queue.Bounded[*frame.Envelope], labelsIn *queue.Bounded[detector.Bundle], workerNum int) *Stage {
	return &Stage{
		ctrl:      worker.New("marker", 10*time.Second),
		in:        in,
		labelsIn:  labelsIn,
		renderOut: queue.NewBounded[*frame.Envelope](10),
		recordOut: queue.NewBounded[*frame.Envelope](24),
		workerNum: workerNum,
		pending:   make(map[uint64][]detection.Record),
	}
}

// RenderOut feeds the web server's live-frame fan-out (capacity 10,
// force-put, spec §4.4).
func (s *Stage) RenderOut() *queue.Bounded[*frame.Envelope] { return s.renderOut }

// RecordOut feeds the recorder stage (capacity 24, force-put, spec §4.4).
func (s *Stage) RecordOut() *queue.Bounded[*frame.Envelope] { return s.recordOut }

// Control exposes the worker control block.
func (s *Stage) Control() *worker.Control { return s.ctrl }

// PendingLen reports the join map's current size, used to enforce P6 of
// spec §8 ("marker memory map never holds more than detect_worker_num + 1
// entries") in tests.
func (s *Stage) PendingLen() int { return len(s.pending) }

// Run drives the marker's tick loop until ctx is cancelled.
func (s *Stage) Run(ctx context.Context) {
	s.ctrl.Beat(worker.Init)
	for {
		select {
		case <-ctx.Done():
			s.ctrl.Beat(worker.DoneCleanedUp)
			return
		default:
		}

		env, ok := s.in.Get(500 * time.Millisecond)
		if !ok {
			continue
		}
		s.ctrl.BeatTask(worker.Doing, env.FrameID)
		env.PutDelayText("markB")

		records := s.join(env.FrameID)
		s.draw(env, records)
		env.IsMarked = true
		env.PutDelayText("markA")

		s.renderOut.Put(env)
		s.recordOut.Put(env)

		s.ctrl.IncHandled()
		s.ctrl.Beat(worker.Done)
	}
}

// join implements spec §4.4 steps 1-3: read detection bundles until one
// matches frameID or N = workerNum bundles have been consumed, then
// return (and clear) whatever ended up indexed under frameID.
func (s *Stage) join(frameID uint64) []detection.Record {
	if recs, ok := s.pending[frameID]; ok {
		delete(s.pending, frameID)
		return recs
	}

	n := s.workerNum
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		bundle, ok := s.labelsIn.Get(200 * time.Millisecond)
		if !ok {
			break
		}
		if bundle.FrameID == frameID {
			delete(s.pending, frameID)
			return bundle.Records
		}
		s.pending[bundle.FrameID] = bundle.Records
	}

	if recs, ok := s.pending[frameID]; ok {
		delete(s.pending, frameID)
		return recs
	}
	return nil
}

func (s *Stage) draw(env *frame.Envelope, records []detection.Record) {
	log := wdlog.Stage("marker")
	img, err := jpeg.Decode(bytes.NewReader(env.Data))
	if err != nil {
		log.Warn("marker: decode failed, skipping overlay", "frame_id", env.FrameID, "err", err)
		return
	}

	rgba, ok := img.(*image.RGBA)
	if !ok {
		b := img.Bounds()
		rgba = image.NewRGBA(b)
		draw.Draw(rgba, b, img, b.Min, draw.Src)
	}

	whole := env.Width * env.Height
	for _, r := range records {
		if !r.IsDetected || whole == 0 {
			continue
		}
		if float64(r.BBox.Area())/float64(whole) < minBoxAreaFraction {
			continue
		}
		drawBox(rgba, r.BBox, r.SuggestColor)
		drawCorners(rgba, r.BBox, r.SuggestColor)
		drawCenterDot(rgba, r.BBox, r.SuggestColor)
		label := fmt.Sprintf("%s: %.2f", r.Label, r.Confidence)
		drawLabel(rgba, r.BBox.X, r.BBox.Y-12, label, r.SuggestColor)
	}

	drawCenterBoxGuide(rgba, env.Width, env.Height)

	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, rgba, &jpeg.Options{Quality: 85}); err != nil {
		log.Warn("marker: re-encode failed", "frame_id", env.FrameID, "err", err)
		return
	}
	env.Data = buf.Bytes()
}

func drawBox(img *image.RGBA, b detection.BBox, col color.RGBA) {
	hLine(img, b.X, b.X+b.W, b.Y, col)
	hLine(img, b.X, b.X+b.W, b.Y+b.H, col)
	vLine(img, b.Y, b.Y+b.H, b.X, col)
	vLine(img, b.Y, b.Y+b.H, b.X+b.W, col)
}

// drawCorners draws four corner "brackets" of length ~15% of the box
// width (spec §4.4).
func drawCorners(img *image.RGBA, b detection.BBox, col color.RGBA) {
	l := int(float64(b.W) * 0.15)
	if l < 1 {
		l = 1
	}
	corners := [][2]int{
		{b.X, b.Y}, {b.X + b.W, b.Y}, {b.X, b.Y + b.H}, {b.X + b.W, b.Y + b.H},
	}
	for _, c := range corners {
		hLine(img, c[0]-l, c[0]+l, c[1], col)
		vLine(img, c[1]-l, c[1]+l, c[0], col)
	}
}

func drawCenterDot(img *image.RGBA, b detection.BBox, col color.RGBA) {
	cx, cy := b.CenterPoint()
	for dy := -2; dy <= 2; dy++ {
		for dx := -2; dx <= 2; dx++ {
			setPixel(img, cx+dx, cy+dy, col)
		}
	}
}

func drawCenterBoxGuide(img *image.RGBA, w, h int) {
	if w == 0 || h == 0 {
		return
	}
	white := color.RGBA{255, 255, 255, 255}
	x0, y0 := int(CenterBox.X0*float64(w)), int(CenterBox.Y0*float64(h))
	x1, y1 := int(CenterBox.X1*float64(w)), int(CenterBox.Y1*float64(h))
	drawCorners(img, detection.BBox{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}, white)
}

func drawLabel(img *image.RGBA, x, y int, text string, col color.RGBA) {
	if y < 0 {
		y = 0
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y+13),
	}
	d.DrawString(text)
}

func hLine(img *image.RGBA, x0, x1, y int, col color.RGBA) {
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	for x := x0; x <= x1; x++ {
		setPixel(img, x, y, col)
	}
}

func vLine(img *image.RGBA, y0, y1, x int, col color.RGBA) {
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	for y := y0; y <= y1; y++ {
		setPixel(img, x, y, col)
	}
}

func setPixel(img *image.RGBA, x, y int, col color.RGBA) {
	b := img.Bounds()
	if x < b.Min.X || x >= b.Max.X || y < b.Min.Y || y >= b.Max.Y {
		return
	}
	img.SetRGBA(x, y, col)
}
