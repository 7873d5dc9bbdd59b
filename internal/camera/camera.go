// Package camera implements the camera stage (spec §4.1): opens and
// continuously reads a capture source, coerces its native frame rate down
// to a configured effective rate by deterministic dropping, and publishes
// envelopes to a bounded outbound channel.
package camera

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yujun2647/watchdogd/internal/frame"
	"github.com/yujun2647/watchdogd/internal/queue"
	"github.com/yujun2647/watchdogd/internal/wdlog"
	"github.com/yujun2647/watchdogd/internal/worker"
)

// AddressKind classifies a camera address (spec §4.1 "Address
// classification and probing").
type AddressKind int

const (
	KindUnknown AddressKind = iota
	KindLocalDevice
	KindNetworkStream
	KindFile
)

// ClassifyAddress determines the AddressKind of addr.
func ClassifyAddress(addr string) AddressKind {
	lower := strings.ToLower(addr)
	switch {
	case strings.HasPrefix(lower, "rtsp://"), strings.HasPrefix(lower, "http://"),
		strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "rtmp://"),
		strings.HasPrefix(lower, "hls://"):
		return KindNetworkStream
	case strings.HasPrefix(addr, "/dev/video"):
		return KindLocalDevice
	default:
		if _, err := strconv.Atoi(addr); err == nil {
			return KindLocalDevice
		}
		if _, err := os.Stat(addr); err == nil {
			return KindFile
		}
		return KindUnknown
	}
}

// readFrameFailedTolerate is the consecutive-failure count before the
// stage reopens its own source in-process (spec §4.1 "Failure
// semantics").
const readFrameFailedTolerate = 5

// Source is the black-box capture source: the thing that actually opens a
// device/stream/file and decodes frames. Production wiring plugs in a
// real capture library; tests plug in a synthetic source.
type Source interface {
	// Open starts reading at addr, reporting the source's native frame
	// rate and native frame size.
	Open(ctx context.Context, addr string) (nativeFPS int, width, height int, err error)
	// ReadFrame decodes and returns the next raw frame's JPEG bytes.
	ReadFrame(ctx context.Context) ([]byte, error)
	// Close releases the source's resources.
	Close() error
}

// Params are the mutable capture parameters (spec §3 "Camera
// parameters").
type Params struct {
	Width, Height int
	ActiveFPS     int
	RestFPS       int
}

// Stage is the camera stage (C1).
type Stage struct {
	mu      sync.Mutex
	butcher *worker.ButcherMutex
	ctrl    *worker.Control

	newSource func() Source
	address   string

	params   Params
	wantFPS  int // current target: Active or Rest, toggled by callers

	out *queue.Bounded[*frame.Envelope]

	restartSignal chan struct{}
	switchReq     chan string
	adjustReq     chan Params
	adjustResp    chan error
}

// NewStage creates a camera stage. newSource is a factory so Restart can
// construct a fresh Source instance.
func NewStage(address string, params Params, newSource func() Source) *Stage {
	return &Stage{
		butcher:       worker.NewButcherMutex(),
		ctrl:          worker.New("camera", 10*time.Second),
		newSource:     newSource,
		address:       address,
		params:        params,
		wantFPS:       params.RestFPS,
		out:           queue.NewBounded[*frame.Envelope](15),
		restartSignal: make(chan struct{}, 1),
		switchReq:     make(chan string, 1),
		adjustReq:     make(chan Params, 1),
		adjustResp:    make(chan error, 1),
	}
}

// Out exposes the outbound frame channel (capacity 15, spec §4.1).
func (s *Stage) Out() *queue.Bounded[*frame.Envelope] { return s.out }

// Control exposes the worker control block for health introspection.
func (s *Stage) Control() *worker.Control { return s.ctrl }

// RequestRestart arms the restart signal; Run's loop picks it up on its
// next tick.
func (s *Stage) RequestRestart() {
	select {
	case s.restartSignal <- struct{}{}:
	default:
	}
}

// SwitchSource re-points the stage at a new address (spec §4.1
// "switch_source"): Run's loop re-classifies and re-probes addr, then
// restarts the reader against it in place of the current source.
func (s *Stage) SwitchSource(addr string) {
	select {
	case s.switchReq <- addr:
	default:
	}
}

// AdjustFPS changes the stage's active target fps (spec I3: active vs
// rest fps selection is driven by viewer-presence/scene-state callers).
func (s *Stage) AdjustFPS(target int) {
	s.mu.Lock()
	s.wantFPS = target
	s.mu.Unlock()
}

// AdjustParams posts a parameter change and waits (bounded) for it to take
// effect (spec §4.1 "Adjust protocol").
func (s *Stage) AdjustParams(ctx context.Context, p Params) error {
	select {
	case s.adjustReq <- p:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-s.adjustResp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadLatest is a non-blocking latest-value dequeue.
func (s *Stage) ReadLatest() (*frame.Envelope, bool) {
	var latest *frame.Envelope
	found := false
	for {
		env, ok := s.out.Get(0)
		if !ok {
			return latest, found
		}
		latest, found = env, true
	}
}

const ownerCameraLoop = 1

// Run drives the camera stage's tick loop until ctx is cancelled. It owns
// the butcher-knife mutex for the duration of every read and re-acquires
// it around restart/reopen, matching spec §5 "Mutual exclusion".
func (s *Stage) Run(ctx context.Context) {
	log := wdlog.Stage("camera")
	s.ctrl.Beat(worker.Init)

	src := s.newSource()
	nativeFPS, nativeW, nativeH, err := s.openWithRetry(ctx, src)
	if err != nil {
		log.Error("camera: initial open failed, will keep retrying", "err", err)
	}

	sched := newDropSchedule(nativeFPS, s.effectiveFPS())
	failCount := 0

	for {
		select {
		case <-ctx.Done():
			s.butcher.Lock(ownerCameraLoop)
			_ = src.Close()
			s.butcher.Unlock(ownerCameraLoop)
			s.ctrl.Beat(worker.DoneCleanedUp)
			return
		case <-s.restartSignal:
			src, nativeFPS, nativeW, nativeH = s.restart(ctx, src)
			sched = newDropSchedule(nativeFPS, s.effectiveFPS())
			failCount = 0
			continue
		case addr := <-s.switchReq:
			s.address = addr
			src, nativeFPS, nativeW, nativeH = s.restart(ctx, src)
			sched = newDropSchedule(nativeFPS, s.effectiveFPS())
			failCount = 0
			continue
		case p := <-s.adjustReq:
			s.mu.Lock()
			s.params = p
			s.mu.Unlock()
			sched = newDropSchedule(nativeFPS, s.effectiveFPS())
			select {
			case s.adjustResp <- nil:
			default:
			}
			continue
		default:
		}

		s.butcher.Lock(ownerCameraLoop)
		s.ctrl.Beat(worker.Doing)
		data, err := src.ReadFrame(ctx)
		s.butcher.Unlock(ownerCameraLoop)

		if err != nil {
			failCount++
			log.Warn("camera: read failed", "consecutive", failCount, "err", err)
			if failCount >= readFrameFailedTolerate {
				src, nativeFPS, nativeW, nativeH = s.restart(ctx, src)
				sched = newDropSchedule(nativeFPS, s.effectiveFPS())
				failCount = 0
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}
		failCount = 0

		if sched.shouldDrop() {
			continue
		}

		outW, outH := nativeW, nativeH
		s.mu.Lock()
		targetW, targetH := s.params.Width, s.params.Height
		s.mu.Unlock()
		if targetW > 0 && targetH > 0 && (targetW != nativeW || targetH != nativeH) {
			data = resizeJPEG(data, targetW, targetH)
			outW, outH = targetW, targetH
		}

		env := frame.New(data, s.effectiveFPS(), outW, outH)
		s.out.Put(env)
		s.ctrl.IncHandled()
		s.ctrl.Beat(worker.Done)

		if kind := ClassifyAddress(s.address); kind == KindFile {
			time.Sleep(time.Second / time.Duration(max(1, s.effectiveFPS())))
		}
	}
}

func (s *Stage) effectiveFPS() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wantFPS
}

func (s *Stage) openWithRetry(ctx context.Context, src Source) (nativeFPS, w, h int, err error) {
	const maxAttempts = 5
	probeAddress(s.address)
	for i := 0; i < maxAttempts; i++ {
		nativeFPS, w, h, err = src.Open(ctx, s.address)
		if err == nil {
			s.ctrl.Beat(worker.Done)
			return nativeFPS, w, h, nil
		}
		select {
		case <-ctx.Done():
			return 0, 0, 0, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return 0, 0, 0, fmt.Errorf("camera: open %s: %w", s.address, err)
}

// probeAddress best-effort checks reachability before the real Open call
// (spec §4.1: file existence for local/file, TCP reachability for
// network sources). Errors here are advisory only: Open still attempts
// the real connection and is the source of truth.
func probeAddress(addr string) {
	switch ClassifyAddress(addr) {
	case KindFile:
		_, _ = os.Stat(addr)
	case KindNetworkStream:
		host := addr
		if idx := strings.Index(addr, "://"); idx >= 0 {
			host = addr[idx+3:]
		}
		if idx := strings.IndexAny(host, "/?"); idx >= 0 {
			host = host[:idx]
		}
		if !strings.Contains(host, ":") {
			host += ":554"
		}
		conn, err := net.DialTimeout("tcp", host, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
		}
	}
}

// restart implements spec §4.1 "Restart protocol": acquire the
// butcher-knife mutex, drain the outbound channel, close the old source
// and open a fresh one. It returns as soon as the fresh source is open (or
// openWithRetry has given up); it does not wait for the first frame, and
// there is no forced-kill escalation when a reopen fails. It returns the
// reopened source's native rate and size, since a switched address may not
// share the old source's dimensions.
func (s *Stage) restart(ctx context.Context, old Source) (fresh Source, nativeFPS, nativeW, nativeH int) {
	log := wdlog.Stage("camera")
	s.ctrl.Beat(worker.BeforeCleanedUp)

	s.butcher.Lock(ownerCameraLoop)
	for {
		if _, ok := s.out.Get(0); !ok {
			break
		}
	}
	_ = old.Close()
	s.butcher.Unlock(ownerCameraLoop)

	fresh = s.newSource()
	nativeFPS, nativeW, nativeH, err := s.openWithRetry(ctx, fresh)
	if err != nil {
		log.Error("camera: restart failed to reopen", "err", err)
	}
	s.ctrl.Beat(worker.Init)
	return fresh, nativeFPS, nativeW, nativeH
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
