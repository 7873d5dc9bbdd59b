package detection

import (
	"context"
	"fmt"
	"image/color"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// GRPCDetectorConfig configures a connection to an external detection
// service.
type GRPCDetectorConfig struct {
	Endpoint      string
	ConfThreshold float32
	DialTimeout   time.Duration
}

// GRPCDetector is the production Detector: a long-lived gRPC connection to
// an out-of-process object-detection service, matching the "black-box
// detector" boundary named in spec §6.
type GRPCDetector struct {
	endpoint string
	conn     *grpc.ClientConn

	confThreshold float32

	healthMu   sync.RWMutex
	healthy    bool
	lastHealth time.Time
}

type detectRequest struct {
	FrameID       uint64  `json:"frame_id"`
	FPS           int     `json:"fps"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	ConfThreshold float32 `json:"conf_threshold"`
	Image         []byte  `json:"image"`
}

type detectedBox struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	W          int     `json:"w"`
	H          int     `json:"h"`
}

type detectResponse struct {
	Detections []detectedBox `json:"detections"`
}

// NewGRPCDetector dials the detection service and returns a ready Detector.
func NewGRPCDetector(cfg GRPCDetectorConfig) (*GRPCDetector, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}

	conn, err := grpc.DialContext(ctx, cfg.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("detection: dial %s: %w", cfg.Endpoint, err)
	}

	confThreshold := cfg.ConfThreshold
	if confThreshold <= 0 {
		confThreshold = 0.5
	}

	return &GRPCDetector{
		endpoint:      cfg.Endpoint,
		conn:          conn,
		confThreshold: confThreshold,
		healthy:       true,
		lastHealth:    time.Now(),
	}, nil
}

// Detect invokes the remote detector's unary Detect RPC.
func (d *GRPCDetector) Detect(ctx context.Context, frameID uint64, fps int, jpeg []byte, width, height int) ([]Record, error) {
	req := &detectRequest{
		FrameID:       frameID,
		FPS:           fps,
		Width:         width,
		Height:        height,
		ConfThreshold: d.confThreshold,
		Image:         jpeg,
	}
	resp := &detectResponse{}

	err := d.conn.Invoke(ctx, "/watchdog.detection.v1.DetectionService/Detect", req, resp,
		grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		d.markUnhealthy()
		return nil, fmt.Errorf("detection: rpc: %w", err)
	}
	d.markHealthy()

	out := make([]Record, 0, len(resp.Detections))
	for _, b := range resp.Detections {
		out = append(out, Record{
			FrameID:      frameID,
			FPS:          fps,
			Label:        b.Label,
			BBox:         BBox{X: b.X, Y: b.Y, W: b.W, H: b.H},
			Confidence:   b.Confidence,
			SuggestColor: colorFor(b.Label),
			IsDetected:   true,
			FrameWidth:   width,
			FrameHeight:  height,
		})
	}
	return out, nil
}

// Close tears down the gRPC connection.
func (d *GRPCDetector) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

// IsHealthy reports whether the most recent RPC succeeded.
func (d *GRPCDetector) IsHealthy() bool {
	d.healthMu.RLock()
	defer d.healthMu.RUnlock()
	return d.healthy
}

func (d *GRPCDetector) markHealthy() {
	d.healthMu.Lock()
	d.healthy = true
	d.lastHealth = time.Now()
	d.healthMu.Unlock()
}

func (d *GRPCDetector) markUnhealthy() {
	d.healthMu.Lock()
	d.healthy = false
	d.healthMu.Unlock()
}

// colorFor assigns a stable suggested display color per label, matching
// the marker stage's need for a per-class drawing color (spec §3).
func colorFor(label string) color.RGBA {
	palette := map[string]color.RGBA{
		"person": {0, 255, 0, 255},
		"car":    {255, 165, 0, 255},
		"truck":  {255, 140, 0, 255},
		"bus":    {255, 120, 0, 255},
		"boat":   {0, 191, 255, 255},
		"train":  {200, 120, 255, 255},
	}
	if c, ok := palette[label]; ok {
		return c
	}
	return color.RGBA{255, 255, 0, 255}
}

var _ Detector = (*GRPCDetector)(nil)
