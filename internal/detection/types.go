// Package detection holds the detection record data model (spec §3
// "Detection record") and the black-box Detector interface (spec §6
// "External collaborators").
package detection

import "image/color"

// BBox is a pixel-space bounding box (x, y, w, h).
type BBox struct {
	X, Y, W, H int
}

// Area returns the box's pixel area.
func (b BBox) Area() int { return b.W * b.H }

// CenterPoint returns the box's center in pixel coordinates.
func (b BBox) CenterPoint() (int, int) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Record is one detection result, as described in spec §3. A Record with
// IsDetected=false is the detector stage's "no detection" sentinel for a
// frame id — it exists so the marker stage never blocks waiting for a
// bundle that will never arrive (invariant I1).
type Record struct {
	FrameID       uint64
	FPS           int
	Label         string
	BBox          BBox
	Confidence    float64
	SuggestColor  color.RGBA
	IsDetected    bool
	FrameWidth    int
	FrameHeight   int
}

// WholeArea returns the frame area the detection was made against. Per
// spec §9 Open Question (b), a detector that never learned frame
// dimensions reports FrameWidth=FrameHeight=0, which sensors must then
// treat as "always rejected on area" rather than dividing by zero.
func (r Record) WholeArea() int {
	return r.FrameWidth * r.FrameHeight
}
