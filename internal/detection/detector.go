package detection

import "context"

// Detector is the black-box external-detector interface named in spec §6:
// "detect(frame) -> [ {label, bbox, confidence, color}, ... ]". It must be
// safe to call concurrently from the detector stage's N workers.
type Detector interface {
	// Detect runs inference on one JPEG-encoded frame and returns the
	// labeled boxes found in it. An empty, non-nil slice means "no
	// detections" (the caller turns that into the IsDetected=false
	// sentinel described in Record).
	Detect(ctx context.Context, frameID uint64, fps int, jpeg []byte, width, height int) ([]Record, error)

	// Close releases any connection/resources held by the detector.
	Close() error
}
