package detection

import (
	"reflect"
	"testing"
)

func TestBBoxAreaAndCenterPoint(t *testing.T) {
	b := BBox{X: 10, Y: 20, W: 30, H: 40}
	if b.Area() != 1200 {
		t.Fatalf("Area() = %d, want 1200", b.Area())
	}
	cx, cy := b.CenterPoint()
	if cx != 25 || cy != 40 {
		t.Fatalf("CenterPoint() = (%d, %d), want (25, 40)", cx, cy)
	}
}

func TestRecordWholeArea(t *testing.T) {
	r := Record{FrameWidth: 640, FrameHeight: 480}
	if r.WholeArea() != 640*480 {
		t.Fatalf("WholeArea() = %d, want %d", r.WholeArea(), 640*480)
	}

	undetected := Record{}
	if undetected.WholeArea() != 0 {
		t.Fatalf("WholeArea() with no frame dims = %d, want 0", undetected.WholeArea())
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	in := detectRequest{FrameID: 7, FPS: 10, Width: 640, Height: 480, ConfThreshold: 0.5, Image: []byte{1, 2, 3}}

	data, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out detectRequest
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
	if c.Name() != "json" {
		t.Fatalf("Name() = %q, want \"json\"", c.Name())
	}
}

func TestColorForKnownAndUnknownLabel(t *testing.T) {
	if c := colorFor("person"); c.G != 255 {
		t.Fatalf("colorFor(person) = %+v, want green-dominant", c)
	}
	if c := colorFor("spaceship"); c.A == 0 {
		t.Fatalf("colorFor(unknown) returned a fully transparent color")
	}
}
