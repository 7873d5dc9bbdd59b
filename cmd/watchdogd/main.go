// Command watchdogd runs the surveillance pipeline daemon: camera
// capture, detection, marking, scene monitoring, recording and the MJPEG
// web server (spec §1-§2).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yujun2647/watchdogd/internal/camera"
	"github.com/yujun2647/watchdogd/internal/config"
	"github.com/yujun2647/watchdogd/internal/database"
	"github.com/yujun2647/watchdogd/internal/detection"
	"github.com/yujun2647/watchdogd/internal/encoder"
	"github.com/yujun2647/watchdogd/internal/pipeline"
	"github.com/yujun2647/watchdogd/internal/wdlog"
	"github.com/yujun2647/watchdogd/internal/webserver"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, printedVersion, err := config.Parse(os.Args[1:])
	if printedVersion {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "watchdogd:", err)
		return 2
	}

	if cfg.Debug {
		wdlog.SetLevel(slog.LevelDebug)
	}
	log := wdlog.Default()

	if err := os.MkdirAll(cfg.CachePath, 0o755); err != nil {
		log.Error("watchdogd: cannot create cache path", "path", cfg.CachePath, "err", err)
		return 1
	}

	settingsDB, err := database.Open(cfg.SettingsDBPath)
	if err != nil {
		log.Warn("watchdogd: settings store unavailable, running with flag defaults only", "err", err)
	} else {
		defer settingsDB.Close()
		applyStoredSettings(settingsDB, &cfg, log)
	}

	det, err := detection.NewGRPCDetector(detection.GRPCDetectorConfig{
		Endpoint: cfg.DetectorEndpoint,
	})
	if err != nil {
		log.Error("watchdogd: cannot reach detection service", "endpoint", cfg.DetectorEndpoint, "err", err)
		return 1
	}
	defer det.Close()

	webserver.Version = config.Version()

	pl := pipeline.New(pipeline.Config{
		CameraAddress:     cfg.CameraAddress,
		NewSource:         newSourceFactory(cfg.CameraAddress),
		Detector:          det,
		DetectorWorkerNum: cfg.DetectorWorkerNum,
		Width:             cfg.Width,
		Height:            cfg.Height,
		ActiveFPS:         cfg.ActiveFPS,
		RestFPS:           cfg.RestFPS,
		CarAlertSecs:      cfg.CarAlertSecs,
		CachePath:         cfg.CachePath,
		CacheDays:         cfg.CacheDays,
		Encoder:           encoder.RawOpener{},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go pl.Run(ctx)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: pl.Web.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("watchdogd: listening", "port", cfg.Port, "camera", cfg.CameraAddress)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("watchdogd: http server failed", "err", err)
		return 1
	}
	return 0
}

// newSourceFactory picks the camera.Source implementation for addr's
// AddressKind (spec §4.1 "Address classification and probing").
func newSourceFactory(addr string) func() camera.Source {
	switch camera.ClassifyAddress(addr) {
	case camera.KindNetworkStream:
		return func() camera.Source { return camera.NewMJPEGSource() }
	default:
		return func() camera.Source { return camera.NewFileSource(10) }
	}
}

// applyStoredSettings overlays any previously saved live settings onto
// cfg (spec SPEC_FULL.md ambient config: hot-reloadable per-camera
// params survive a restart via the sqlite settings store).
func applyStoredSettings(db *database.DB, cfg *config.Config, log *slog.Logger) {
	all, err := db.All()
	if err != nil {
		log.Warn("watchdogd: failed reading settings store", "err", err)
		return
	}
	if v, ok := all["active_fps"]; ok {
		fmt.Sscanf(v, "%d", &cfg.ActiveFPS)
	}
	if v, ok := all["rest_fps"]; ok {
		fmt.Sscanf(v, "%d", &cfg.RestFPS)
	}
	if v, ok := all["car_alert_secs"]; ok {
		fmt.Sscanf(v, "%d", &cfg.CarAlertSecs)
	}
}
