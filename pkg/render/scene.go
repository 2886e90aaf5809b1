// Package render turns the engine state into a view-space display list and can
// rasterize that list over the source image.
package render

import (
	"github.com/menta2k/bbox-annotator/pkg/interaction"
	"github.com/menta2k/bbox-annotator/pkg/transform"
	"github.com/menta2k/bbox-annotator/pkg/types"
)

const (
	// DraftFill is the fill of an in-progress draw rectangle
	DraftFill = "#39FF144D"
	// SelectedAlpha is appended to a box color to fill the selected box
	SelectedAlpha = "20"
	// HandleFill is the fill of a resize anchor
	HandleFill = "#FFFFFF"
	// TagFill is the background of a label tag
	TagFill = "#2F4F4F"
	// BackdropFill is drawn behind the image
	BackdropFill = "#FFFFFF"

	defaultLineWidth = 2.0
)

// Dash is the stroke pattern of box outlines
var Dash = []float64{5, 5}

// State is everything the renderer needs from a session
type State struct {
	ImageSize  [2]int
	Transform  transform.Transform
	Mode       types.Mode
	Boxes      []types.Box
	Selected   string
	ShowLabels bool
	LineWidth  float64
	Draft      *types.Rect
}

// ShapeKind is the kind of a display list entry
type ShapeKind int

const (
	ShapeImage ShapeKind = iota
	ShapeBox
	ShapeHandle
	ShapeTag
	ShapeDraft
)

// Shape is one display list entry in view space
type Shape struct {
	Kind        ShapeKind
	Rect        types.Rect
	Stroke      string
	Fill        string
	StrokeWidth float64
	Dash        []float64
	Text        string
	BoxID       string
}

// Scene builds the display list for st, back to front
func Scene(st State) []Shape {
	lw := st.LineWidth
	if lw <= 0 {
		lw = defaultLineWidth
	}
	img := types.Rect{Width: float64(st.ImageSize[0]), Height: float64(st.ImageSize[1])}
	shapes := []Shape{{
		Kind:        ShapeImage,
		Rect:        transform.RectToView(img, st.Transform),
		Fill:        BackdropFill,
		Stroke:      "#DDDDDD",
		StrokeWidth: 1,
	}}

	var selected *types.Box
	for i := range st.Boxes {
		b := st.Boxes[i]
		s := Shape{
			Kind:        ShapeBox,
			Rect:        transform.RectToView(b.Rect(), st.Transform),
			Stroke:      b.Color,
			StrokeWidth: lw,
			Dash:        Dash,
			BoxID:       b.ID,
		}
		if b.ID == st.Selected {
			s.Fill = b.Color + SelectedAlpha
			selected = &st.Boxes[i]
		}
		shapes = append(shapes, s)

		if st.ShowLabels && b.Label != "" {
			shapes = append(shapes, Shape{
				Kind:  ShapeTag,
				Rect:  types.Rect{X: s.Rect.X, Y: s.Rect.Y - 20, Width: float64(len(b.Label))*7 + 8, Height: 18},
				Fill:  TagFill,
				Text:  b.Label,
				BoxID: b.ID,
			})
		}
	}

	if selected != nil && st.Mode == types.ModeEdit {
		view := transform.RectToView(selected.Rect(), st.Transform)
		half := interaction.AnchorSize / 2
		for _, h := range interaction.Handles {
			p := interaction.HandlePoint(view, h)
			shapes = append(shapes, Shape{
				Kind:        ShapeHandle,
				Rect:        types.Rect{X: p.X - half, Y: p.Y - half, Width: interaction.AnchorSize, Height: interaction.AnchorSize},
				Stroke:      selected.Color,
				Fill:        HandleFill,
				StrokeWidth: 2,
				BoxID:       selected.ID,
			})
		}
	}

	if st.Draft != nil {
		shapes = append(shapes, Shape{
			Kind:        ShapeDraft,
			Rect:        transform.RectToView(*st.Draft, st.Transform),
			Fill:        DraftFill,
			Stroke:      types.DefaultColor,
			StrokeWidth: 1,
		})
	}
	return shapes
}
