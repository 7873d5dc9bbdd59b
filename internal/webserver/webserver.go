// Package webserver implements the web/stream server stage (spec §4.7):
// MJPEG live stream, record listing/serving, liveness, and debug
// endpoints, plus the live-frame fan-out and viewer-presence feedback
// loop that couples stream demand back to the camera's fps.
package webserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yujun2647/watchdogd/internal/frame"
	"github.com/yujun2647/watchdogd/internal/queue"
	"github.com/yujun2647/watchdogd/internal/wdlog"
	"github.com/yujun2647/watchdogd/internal/worker"
	"github.com/yujun2647/watchdogd/internal/ws"
)

// viewingWindow is how long after the last /stream hit a viewer is still
// considered present (spec §4.7 "viewing? predicate").
const viewingWindow = 10 * time.Second

// Version is stamped into /echo; cmd/watchdogd sets it at startup from
// config.Version().
var Version = "dev"

// RecordLister/Getter/etc are the minimal views of other stages the
// server needs, kept as narrow interfaces to avoid an import cycle.
type RecordLister interface {
	ListRecords() ([]string, error)
}

type CameraRestarter interface {
	RequestRestart()
}

type PersonWelcomer interface {
	TriggerPersonWelcome() error
}

type HealthSource interface {
	Control() *worker.Control
}

// Server is the web/stream server stage (C7).
type Server struct {
	cachePath string
	recorder  RecordLister
	camera    CameraRestarter
	monitor   PersonWelcomer
	stages    map[string]HealthSource
	queues    map[string]QueueLenReporter
	hub       *ws.Hub

	renderIn *queue.Bounded[*frame.Envelope]

	mu          sync.RWMutex
	current     *frame.Envelope
	lastViewUnix int64 // atomic via sync/atomic below
}

// QueueLenReporter is the minimal view of a bounded queue needed for
// the /debug/queues introspection endpoint.
type QueueLenReporter interface {
	Len() int
	Capacity() int
}

// Config wires a Server to the rest of the pipeline.
type Config struct {
	CachePath string
	Recorder  RecordLister
	Camera    CameraRestarter
	Monitor   PersonWelcomer
	RenderIn  *queue.Bounded[*frame.Envelope]
	Stages    map[string]HealthSource
	Queues    map[string]QueueLenReporter
	Hub       *ws.Hub
}

// New creates a Server.
func New(cfg Config) *Server {
	hub := cfg.Hub
	if hub == nil {
		hub = ws.NewHub()
	}
	return &Server{
		cachePath: cfg.CachePath,
		recorder:  cfg.Recorder,
		camera:    cfg.Camera,
		monitor:   cfg.Monitor,
		stages:    cfg.Stages,
		queues:    cfg.Queues,
		hub:       hub,
		renderIn:  cfg.RenderIn,
	}
}

// Viewing reports whether any /stream client has been served within the
// last 10 seconds (spec §4.7 "viewing? predicate").
func (s *Server) Viewing() bool {
	last := atomic.LoadInt64(&s.lastViewUnix)
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) < viewingWindow
}

// RunFanOut is the singleton live-frame fan-out goroutine (spec §4.7
// "Live-frame fan-out"): it reads renderIn and republishes each envelope
// as the new "current" value, firing the previous envelope's next-come
// signal exactly once.
func (s *Server) RunFanOut(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		env, ok := s.renderIn.Get(300 * time.Millisecond)
		if !ok {
			continue
		}

		s.mu.Lock()
		prev := s.current
		s.current = env
		s.mu.Unlock()

		if prev != nil {
			prev.Next = env
			close(prev.NextCome)
		}
	}
}

// Handler builds the full mux (spec §4.7 endpoints, plus the supplemental
// endpoints named in SPEC_FULL.md).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/check_records", s.handleCheckRecords)
	mux.HandleFunc("/check_video/", s.handleCheckVideo)
	mux.HandleFunc("/echo", s.handleEcho)
	mux.HandleFunc("/debug/restartCamera", s.handleRestartCamera)
	mux.HandleFunc("/debug/personWelcome", s.handlePersonWelcome)
	mux.HandleFunc("/debug/queues", s.handleDebugQueues)
	mux.HandleFunc("/debug/workers", s.handleDebugWorkers)
	if s.hub != nil {
		mux.HandleFunc("/debug/events", s.hub.ServeHTTP)
	}
	return withCORS(mux)
}

// withCORS sets Access-Control-Allow-Origin on every response (spec §6:
// "All responses set Access-Control-Allow-Origin: *"; supplemented per
// SPEC_FULL.md to apply to every response, not only errors).
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!doctype html><html><body><img src="/stream"></body></html>`)
}

// handleStream serves the MJPEG multipart response (spec §4.7).
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	atomic.StoreInt64(&s.lastViewUnix, time.Now().UnixNano())

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	flusher, _ := w.(http.Flusher)

	s.mu.RLock()
	env := s.current
	s.mu.RUnlock()

	debugOverlay := r.URL.Query().Get("debug") == "1"

	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		if env == nil {
			time.Sleep(100 * time.Millisecond)
			s.mu.RLock()
			env = s.current
			s.mu.RUnlock()
			continue
		}

		atomic.StoreInt64(&s.lastViewUnix, time.Now().UnixNano())

		if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\n"); err != nil {
			return
		}
		if _, err := w.Write(env.Data); err != nil {
			return
		}
		if debugOverlay {
			fmt.Fprintf(w, "\r\n<!-- delays: %v -->", env.Delays())
		}
		if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}

		select {
		case <-env.NextCome:
			env = env.Next
		case <-time.After(5 * time.Second):
			// Spec §4.7: bounded wait; on timeout re-check current so a
			// restarted camera's fresh envelope stream is picked up.
			s.mu.RLock()
			env = s.current
			s.mu.RUnlock()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleCheckRecords(w http.ResponseWriter, r *http.Request) {
	names, err := s.recorder.ListRecords()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ListRecordsFailed", err)
		return
	}
	writeJSON(w, names)
}

func (s *Server) handleCheckVideo(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/check_video/")
	if name == "" || strings.Contains(name, "..") || strings.ContainsRune(name, filepath.Separator) {
		http.NotFound(w, r)
		return
	}
	path := filepath.Join(s.cachePath, name)
	if _, err := os.Stat(path); err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"server":  "watchdogd",
		"version": Version,
	})
}

func (s *Server) handleRestartCamera(w http.ResponseWriter, r *http.Request) {
	if s.camera != nil {
		s.camera.RequestRestart()
	}
	s.hub.Broadcast(ws.Event{Kind: "camera_restart_requested", At: time.Now()})
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handlePersonWelcome(w http.ResponseWriter, r *http.Request) {
	if s.monitor != nil {
		if err := s.monitor.TriggerPersonWelcome(); err != nil {
			writeError(w, http.StatusInternalServerError, "AudioPlayFailed", err)
			return
		}
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleDebugQueues reports bounded-channel depths (supplemental
// endpoint, spec supplement grounded on queue_console.py).
func (s *Server) handleDebugQueues(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]map[string]int, len(s.queues))
	for name, q := range s.queues {
		out[name] = map[string]int{"len": q.Len(), "capacity": q.Capacity()}
	}
	writeJSON(w, out)
}

// handleDebugWorkers exposes every stage's worker control block
// (supplemental endpoint).
func (s *Server) handleDebugWorkers(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]any, len(s.stages))
	for name, st := range s.stages {
		snap := st.Control().Health()
		out[name] = map[string]any{
			"enable":    snap.Enable.String(),
			"state":     snap.State.String(),
			"working":   snap.Working.String(),
			"handled":   snap.Handled,
			"task_id":   snap.TaskID,
			"stuck_for": snap.StuckFor.String(),
		}
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeError matches spec §6's error envelope:
// {"code":500,"status":"Error","errorName":...,"errorMsg":...,"errorFile":...,"data":null}
func writeError(w http.ResponseWriter, code int, errorName string, err error) {
	log := wdlog.Stage("webserver")
	log.Error("webserver: request error", "name", errorName, "err", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":      code,
		"status":    "Error",
		"errorName": errorName,
		"errorMsg":  err.Error(),
		"errorFile": "",
		"data":      nil,
	})
}
