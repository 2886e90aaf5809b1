package interaction

import (
	"math"

	"github.com/menta2k/bbox-annotator/pkg/store"
	"github.com/menta2k/bbox-annotator/pkg/types"
)

// Handle identifies one of the eight resize anchors around a selected box
type Handle int

// Handles are named after the position they take on the box outline
const (
	HandleNone Handle = iota
	HandleTopLeft
	HandleTop
	HandleTopRight
	HandleLeft
	HandleRight
	HandleBottomLeft
	HandleBottom
	HandleBottomRight
)

const (
	// AnchorSize is the rendered edge length of a handle in view pixels
	AnchorSize = 10.0
	// AnchorPadding widens the hit area around each handle
	AnchorPadding = 2.0
)

// Handles lists every active resize handle in drawing order
var Handles = []Handle{
	HandleTopLeft, HandleTop, HandleTopRight,
	HandleLeft, HandleRight,
	HandleBottomLeft, HandleBottom, HandleBottomRight,
}

// String returns the handle position, e.g. "top-left"
func (h Handle) String() string {
	switch h {
	case HandleTopLeft:
		return "top-left"
	case HandleTop:
		return "top-center"
	case HandleTopRight:
		return "top-right"
	case HandleLeft:
		return "middle-left"
	case HandleRight:
		return "middle-right"
	case HandleBottomLeft:
		return "bottom-left"
	case HandleBottom:
		return "bottom-center"
	case HandleBottomRight:
		return "bottom-right"
	}
	return "none"
}

func (h Handle) movesLeft() bool {
	return h == HandleTopLeft || h == HandleLeft || h == HandleBottomLeft
}

func (h Handle) movesRight() bool {
	return h == HandleTopRight || h == HandleRight || h == HandleBottomRight
}

func (h Handle) movesTop() bool {
	return h == HandleTopLeft || h == HandleTop || h == HandleTopRight
}

func (h Handle) movesBottom() bool {
	return h == HandleBottomLeft || h == HandleBottom || h == HandleBottomRight
}

// HandlePoint returns the position of handle h on rectangle r, in r's coordinate space
func HandlePoint(r types.Rect, h Handle) types.Point {
	x := r.X + r.Width/2
	y := r.Y + r.Height/2
	if h.movesLeft() {
		x = r.X
	} else if h.movesRight() {
		x = r.Right()
	}
	if h.movesTop() {
		y = r.Y
	} else if h.movesBottom() {
		y = r.Bottom()
	}
	return types.Point{X: x, Y: y}
}

// handleAt finds the handle of the view-space rectangle under the view-space point
func handleAt(view types.Rect, p types.Point) Handle {
	reach := AnchorSize/2 + AnchorPadding
	for _, h := range Handles {
		hp := HandlePoint(view, h)
		if math.Abs(p.X-hp.X) <= reach && math.Abs(p.Y-hp.Y) <= reach {
			return h
		}
	}
	return HandleNone
}

// Resize moves the edges controlled by h by d (image space). Edges that would
// shrink the box below store.MinSize are clamped so the opposite edge stays put.
func Resize(r types.Rect, h Handle, d types.Point) types.Rect {
	left, top, right, bottom := r.X, r.Y, r.Right(), r.Bottom()

	if h.movesLeft() {
		left = math.Min(left+d.X, right-store.MinSize)
	}
	if h.movesRight() {
		right = math.Max(right+d.X, left+store.MinSize)
	}
	if h.movesTop() {
		top = math.Min(top+d.Y, bottom-store.MinSize)
	}
	if h.movesBottom() {
		bottom = math.Max(bottom+d.Y, top+store.MinSize)
	}
	return types.Rect{X: left, Y: top, Width: right - left, Height: bottom - top}
}
