// Package transform maps between image-space and view-space coordinates.
//
// A view-space point is the image-space point scaled by Zoom and offset by Pan.
// Box geometry always stays in image space; only rendering and pointer decoding
// cross this boundary.
package transform

import (
	"math"

	"github.com/menta2k/bbox-annotator/pkg/types"
)

const (
	// MinZoom is the smallest allowed zoom factor
	MinZoom = 0.5
	// MaxZoom is the largest allowed zoom factor
	MaxZoom = 3.0
	// ZoomStep is the zoom change for one wheel notch
	ZoomStep = 0.1
)

// Transform holds the pan/zoom state of the view
type Transform struct {
	Zoom float64     `json:"zoom"`
	Pan  types.Point `json:"pan"`
}

// Identity returns a transform with zoom 1 and no pan
func Identity() Transform {
	return Transform{Zoom: 1}
}

// ToView converts an image-space point into view space
func ToView(p types.Point, t Transform) types.Point {
	return types.Point{X: p.X*t.Zoom + t.Pan.X, Y: p.Y*t.Zoom + t.Pan.Y}
}

// ToImage converts a view-space point into image space. It is the inverse of ToView.
func ToImage(v types.Point, t Transform) types.Point {
	z := t.Zoom
	if z == 0 {
		z = 1
	}
	return types.Point{X: (v.X - t.Pan.X) / z, Y: (v.Y - t.Pan.Y) / z}
}

// DeltaToImage converts a view-space displacement into an image-space displacement.
// Pan cancels out for vectors, so only zoom applies.
func DeltaToImage(d types.Point, t Transform) types.Point {
	z := t.Zoom
	if z == 0 {
		z = 1
	}
	return types.Point{X: d.X / z, Y: d.Y / z}
}

// RectToView converts an image-space rectangle into view space
func RectToView(r types.Rect, t Transform) types.Rect {
	tl := ToView(types.Point{X: r.X, Y: r.Y}, t)
	return types.Rect{X: tl.X, Y: tl.Y, Width: r.Width * t.Zoom, Height: r.Height * t.Zoom}
}

// SetZoom returns t with delta added to the zoom, clamped to [MinZoom, MaxZoom]
func SetZoom(t Transform, delta float64) Transform {
	t.Zoom = ClampZoom(t.Zoom + delta)
	return t
}

// SetPan returns t with delta added to the pan offset
func SetPan(t Transform, delta types.Point) Transform {
	t.Pan = t.Pan.Add(delta)
	return t
}

// ClampZoom limits z to the allowed zoom range
func ClampZoom(z float64) float64 {
	return math.Min(math.Max(z, MinZoom), MaxZoom)
}

// WheelDelta maps a scroll delta to a zoom step. Scrolling up (negative) zooms in.
func WheelDelta(deltaY float64) float64 {
	switch {
	case deltaY < 0:
		return ZoomStep
	case deltaY > 0:
		return -ZoomStep
	}
	return 0
}

// FitZoom returns the initial zoom that fits an image into 80% of the view width,
// never enlarging it past 1.
func FitZoom(viewWidth, imageWidth float64) float64 {
	if viewWidth <= 0 || imageWidth <= 0 {
		return 1
	}
	return ClampZoom(math.Min(viewWidth*0.8/imageWidth, 1))
}
