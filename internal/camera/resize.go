package camera

import (
	"bytes"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// resizeJPEG decodes data and re-encodes it scaled to (targetW, targetH)
// using bilinear interpolation (spec §4.1: "resizing to the configured
// (width, height) is applied after decoding whenever configured size
// differs from native size"). Returns data unchanged if it fails to
// decode, since a resize failure should degrade to the native frame
// rather than drop it.
func resizeJPEG(data []byte, targetW, targetH int) []byte {
	if targetW <= 0 || targetH <= 0 {
		return data
	}
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}
	if b := src.Bounds(); b.Dx() == targetW && b.Dy() == targetH {
		return data
	}

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return data
	}
	return buf.Bytes()
}
