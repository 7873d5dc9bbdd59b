// Package config parses the daemon's CLI surface and holds the validated,
// immutable-after-start settings every stage is constructed with.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Config is the complete set of tunables listed in spec §6.
type Config struct {
	CameraAddress string

	Port int

	Width  int
	Height int

	ActiveFPS int
	RestFPS   int

	CarAlertSecs int

	CachePath string
	CacheDays int

	Debug bool

	DetectorEndpoint  string
	DetectorWorkerNum int
	SettingsDBPath    string
}

const version = "1.0.0"

// Parse parses args with its own flag set into a validated Config.
// It returns printedVersion=true when -V was passed (print version and
// exit 0).
func Parse(args []string) (cfg Config, printedVersion bool, err error) {
	fs := flag.NewFlagSet("watchdogd", flag.ContinueOnError)

	port := fs.Int("port", 8000, "HTTP listen port")
	width := fs.Int("width", 1280, "requested capture width")
	height := fs.Int("height", 720, "requested capture height")
	activeFPS := fs.Int("active-fps", 2*runtime.NumCPU(), "fps when scene active or viewer watching")
	restFPS := fs.Int("rest-fps", 1, "fps otherwise")
	carAlertSecs := fs.Int("car-alart-secs", 120, "seconds before a blocking car becomes CAR_NOT_LEAVE")
	cacheDays := fs.Int("cache-days", 30, "retention window for recordings, in days")
	debug := fs.Bool("debug", false, "log request/response bodies and per-frame traces")
	printV := fs.Bool("V", false, "print version and exit")
	detectorEndpoint := fs.String("detector-endpoint", "127.0.0.1:9090", "gRPC address of the external detection service")
	detectorWorkerNum := fs.Int("detect-worker-num", runtime.NumCPU(), "parallel detector workers")

	defaultCache := filepath.Join(os.Getenv("HOME"), ".watchdog", "video_cache")
	cachePath := fs.String("cache-path", defaultCache, "recordings directory")
	defaultDB := filepath.Join(os.Getenv("HOME"), ".watchdog", "settings.db")
	settingsDB := fs.String("settings-db", defaultDB, "sqlite path for hot-reloadable per-camera settings")

	if err := fs.Parse(args); err != nil {
		return Config{}, false, err
	}

	if *printV {
		fmt.Println(version)
		return Config{}, true, nil
	}

	if fs.NArg() < 1 {
		return Config{}, false, fmt.Errorf("missing required camera address argument")
	}

	cfg = Config{
		CameraAddress: fs.Arg(0),
		Port:          *port,
		Width:         *width,
		Height:        *height,
		ActiveFPS:     *activeFPS,
		RestFPS:       *restFPS,
		CarAlertSecs:  *carAlertSecs,
		CachePath:     *cachePath,
		CacheDays:     *cacheDays,
		Debug:         *debug,

		DetectorEndpoint:  *detectorEndpoint,
		DetectorWorkerNum: *detectorWorkerNum,
		SettingsDBPath:    *settingsDB,
	}

	if cfg.ActiveFPS <= 0 {
		cfg.ActiveFPS = 2 * runtime.NumCPU()
	}
	if cfg.RestFPS <= 0 {
		cfg.RestFPS = 1
	}
	if cfg.DetectorWorkerNum <= 0 {
		cfg.DetectorWorkerNum = runtime.NumCPU()
	}

	return cfg, false, nil
}

// Version returns the daemon's build version string.
func Version() string { return version }
