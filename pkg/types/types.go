package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Point is a 2D coordinate. Whether it is image-space or view-space depends on the caller.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p+q
func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

// Sub returns p-q
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

// Rect is an axis-aligned rectangle given by its top-left corner and size
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RectFromCorners builds a normalized rectangle from two arbitrary corners
func RectFromCorners(a, b Point) Rect {
	return Rect{
		X:      math.Min(a.X, b.X),
		Y:      math.Min(a.Y, b.Y),
		Width:  math.Abs(b.X - a.X),
		Height: math.Abs(b.Y - a.Y),
	}
}

// Right returns the x coordinate of the right edge
func (r Rect) Right() float64 { return r.X + r.Width }

// Bottom returns the y coordinate of the bottom edge
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Contains reports whether p lies inside or on the rectangle
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.Right() && p.Y >= r.Y && p.Y <= r.Bottom()
}

// Box is an annotation rectangle in image-space coordinates
type Box struct {
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Label  string  `json:"label"`
	Color  string  `json:"color"`
}

// Rect returns the geometry of the box
func (b Box) Rect() Rect {
	return Rect{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height}
}

// WithRect returns a copy of the box with new geometry
func (b Box) WithRect(r Rect) Box {
	b.X, b.Y, b.Width, b.Height = r.X, r.Y, r.Width, r.Height
	return b
}

// BBox returns the geometry in the [x, y, w, h] wire order
func (b Box) BBox() [4]float64 {
	return [4]float64{b.X, b.Y, b.Width, b.Height}
}

// InitialBox is a box supplied by the host when a session starts
type InitialBox struct {
	BBox  [4]float64 `json:"bbox"`
	Label string     `json:"label"`
}

// Rect returns the geometry of the initial box
func (ib InitialBox) Rect() Rect {
	return Rect{X: ib.BBox[0], Y: ib.BBox[1], Width: ib.BBox[2], Height: ib.BBox[3]}
}

// Mode is the interaction mode of the annotation surface
type Mode int

const (
	// ModeDraw creates new boxes from pointer gestures
	ModeDraw Mode = iota
	// ModeEdit moves and resizes boxes and pans the canvas
	ModeEdit
)

// String returns the wire name of the mode
func (m Mode) String() string {
	switch m {
	case ModeEdit:
		return "Edit"
	default:
		return "Draw"
	}
}

// ParseMode converts a wire name into a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "draw", "":
		return ModeDraw, nil
	case "edit":
		return ModeEdit, nil
	}
	return ModeDraw, fmt.Errorf("unknown mode %q", s)
}

// MarshalJSON encodes the mode as its wire name
func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON decodes a wire name into the mode
func (m *Mode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// DefaultColor is the stroke used when a label has no entry in the color map
const DefaultColor = "#39FF14"

// ColorFor looks up the stroke color for a label
func ColorFor(colors map[string]string, label string) string {
	if c, ok := colors[label]; ok && c != "" {
		return c
	}
	return DefaultColor
}
