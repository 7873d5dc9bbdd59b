// Package recorder implements the recorder stage (spec §4.6): opens an
// encoder on record-start requests, writes frames until the deadline (or
// a stop), merges overlapping start requests into one extending deadline,
// and enforces a retention sweep over recorded files.
package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yujun2647/watchdogd/internal/encoder"
	"github.com/yujun2647/watchdogd/internal/frame"
	"github.com/yujun2647/watchdogd/internal/queue"
	"github.com/yujun2647/watchdogd/internal/wdlog"
	"github.com/yujun2647/watchdogd/internal/worker"
)

// CameraControl is the minimal view of the camera stage the recorder
// needs to hold active fps open while recording (spec §4.6).
type CameraControl interface {
	AdjustFPS(target int)
}

// SceneActive reports whether the monitor still considers the scene
// active, used for the "still active" synthetic extension (spec §4.6).
type SceneActive func() bool

// Request is one record request; the monitor builds these directly and
// sends them to the recorder. ID distinguishes two requests dispatched in the same tick (the monitor
// stamps a fresh one per Op) so the merge in handleStart can tell a
// duplicate delivery of the same request apart from a genuinely new one.
type Request struct {
	ID        string
	Tag       string
	RecSecs   int
	CreatedAt time.Time
}

// NewRequestID generates a fresh request identifier.
func NewRequestID() string { return uuid.NewString() }

// recorderLogger is the subset of *slog.Logger the stage needs, kept as
// an interface so tests can pass a stub.
type recorderLogger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config parameterizes the recorder stage.
type Config struct {
	CachePath  string
	CacheDays  int
	ActiveFPS  int
	RestFPS    int
	BitRateBps int
}

// Stage is the recorder stage (C6).
type Stage struct {
	ctrl *worker.Control

	in       *queue.Bounded[*frame.Envelope]
	reqCh    chan Request
	stopCh   chan struct{}

	cfg    Config
	camera CameraControl
	sceneActive SceneActive
	opener encoder.Opener

	mu          sync.Mutex
	active      *activeRecording
}

type activeRecording struct {
	req       Request
	filename  string
	path      string
	enc       encoder.Encoder
	handled   int
	recSecs   int
	startedAt time.Time
}

// NewStage creates a recorder stage.
func NewStage(in *queue.Bounded[*frame.Envelope], cfg Config, camera CameraControl, sceneActive SceneActive, opener encoder.Opener) *Stage {
	if cfg.BitRateBps <= 0 {
		cfg.BitRateBps = 500_000
	}
	if opener == nil {
		opener = encoder.RawOpener{}
	}
	return &Stage{
		ctrl:        worker.New("recorder", 10*time.Second),
		in:          in,
		reqCh:       make(chan Request, 16),
		stopCh:      make(chan struct{}, 1),
		cfg:         cfg,
		camera:      camera,
		sceneActive: sceneActive,
		opener:      opener,
	}
}

// Control exposes the worker control block.
func (s *Stage) Control() *worker.Control { return s.ctrl }

// Start posts a record-start request (spec §4.5/§4.6). Non-blocking:
// matches the monitor's same-tick dispatch model.
func (s *Stage) Start(req Request) {
	select {
	case s.reqCh <- req:
	default:
	}
}

// Stop posts a record-stop request.
func (s *Stage) Stop() {
	select {
	case s.stopCh <- struct{}{}:
	default:
	}
}

// Run drives the recorder's tick loop until ctx is cancelled.
func (s *Stage) Run(ctx context.Context) {
	log := wdlog.Stage("recorder")
	s.ctrl.Beat(worker.Init)
	s.sweepRetention(log)

	for {
		select {
		case <-ctx.Done():
			s.closeActive(log)
			s.ctrl.Beat(worker.DoneCleanedUp)
			return
		case req := <-s.reqCh:
			s.handleStart(req, log)
			continue
		case <-s.stopCh:
			s.closeActive(log)
			continue
		default:
		}

		env, ok := s.in.Get(200 * time.Millisecond)
		if !ok {
			continue
		}

		s.mu.Lock()
		rec := s.active
		if rec == nil {
			s.mu.Unlock()
			continue
		}
		s.ctrl.BeatTask(worker.Doing, env.FrameID)
		if err := rec.enc.Write(env.Data); err != nil {
			log.Warn("recorder: write failed", "err", err)
		}
		rec.handled++
		handled := rec.handled
		limit := rec.recSecs * s.cfg.ActiveFPS
		s.mu.Unlock()

		s.ctrl.IncHandled()
		s.ctrl.Beat(worker.Done)

		if limit > 0 && handled >= limit {
			if s.sceneActive != nil && s.sceneActive() {
				s.handleStart(Request{ID: NewRequestID(), Tag: "still active", RecSecs: s.cfg.ActiveFPS, CreatedAt: time.Now()}, log)
			} else {
				s.closeActive(log)
			}
		}
	}
}

// handleStart implements spec §4.6's merge rule: a new request either
// opens a fresh file (none active) or extends the active deadline by the
// join of residuals (never opens a second file, invariant I2).
func (s *Stage) handleStart(req Request, log recorderLogger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		s.sweepRetentionLocked(log)
		if s.camera != nil {
			s.camera.AdjustFPS(s.cfg.ActiveFPS)
		}

		filename := buildFilename(req.Tag, time.Now())
		path := filepath.Join(s.cfg.CachePath, filename)
		enc, err := s.opener.Open(encoder.Params{
			Path:       path,
			FPS:        s.cfg.ActiveFPS,
			BitRateBps: s.cfg.BitRateBps,
		})
		if err != nil {
			log.Error("recorder: open encoder failed", "err", err)
			return
		}

		recSecs := req.RecSecs
		if recSecs <= 0 {
			recSecs = 30
		}
		s.active = &activeRecording{
			req: req, filename: filename, path: path, enc: enc,
			recSecs: recSecs, startedAt: time.Now(),
		}
		return
	}

	if s.active.req.ID != "" && s.active.req.ID == req.ID {
		return // duplicate request, spec §4.6
	}

	leftSecs := s.active.recSecs - s.active.handled/max1(s.cfg.ActiveFPS)
	if req.RecSecs > leftSecs {
		s.active.recSecs += req.RecSecs - leftSecs
	}
	s.active.req = req
}

func (s *Stage) closeActive(log recorderLogger) {
	s.mu.Lock()
	rec := s.active
	s.active = nil
	s.mu.Unlock()

	if rec == nil {
		return
	}
	if err := rec.enc.Close(); err != nil {
		log.Warn("recorder: close failed", "err", err)
	}
	if s.camera != nil {
		s.camera.AdjustFPS(s.cfg.RestFPS)
	}
}

func max1(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

// buildFilename produces the `YYYY-MM-DD-HH-MM-SS-µµµ-<tag>.mp4` layout
// described in spec §4.6/§6, sanitizing the tag so it cannot be confused
// with the timestamp prefix at the retention sort's split point.
func buildFilename(tag string, at time.Time) string {
	ts := at.Format("2006-01-02-15-04-05") + fmt.Sprintf("-%03d", at.Nanosecond()/1_000_000)
	return fmt.Sprintf("%s-%s.mp4", ts, sanitizeTag(tag))
}

func sanitizeTag(tag string) string {
	if tag == "" {
		tag = "rec"
	}
	for strings.Contains(tag, "-") {
		tag = strings.ReplaceAll(tag, "-", "_")
	}
	return tag
}

// ListRecords returns cached recording filenames newest-first by
// timestamp prefix (spec §4.7 /check_records, property P6).
func (s *Stage) ListRecords() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.CachePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".mp4") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// sweepRetention deletes files older than CacheDays, named so their
// timestamp prefix lexicographically orders (spec §4.6).
func (s *Stage) sweepRetention(log recorderLogger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepRetentionLocked(log)
}

func (s *Stage) sweepRetentionLocked(log recorderLogger) {
	if s.cfg.CacheDays <= 0 {
		return
	}
	names, err := s.ListRecords()
	if err != nil {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -s.cfg.CacheDays)
	cutoffPrefix := cutoff.Format("2006-01-02-15-04-05")

	for _, name := range names {
		prefix := timestampPrefix(name)
		if prefix == "" || prefix >= cutoffPrefix {
			continue
		}
		path := filepath.Join(s.cfg.CachePath, name)
		if err := os.Remove(path); err != nil {
			log.Warn("recorder: retention remove failed", "path", path, "err", err)
		}
	}
}

// timestampPrefix extracts the sortable timestamp prefix from a filename
// using the last '-' before the extension as the split between timestamp
// and tag (spec §6 "the retention sort uses the last '-' as the split
// point").
func timestampPrefix(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	idx := strings.LastIndex(base, "-")
	if idx <= 0 {
		return ""
	}
	return base[:idx]
}
