package interaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/bbox-annotator/pkg/store"
	"github.com/menta2k/bbox-annotator/pkg/transform"
	"github.com/menta2k/bbox-annotator/pkg/types"
)

func pt(x, y float64) types.Point { return types.Point{X: x, Y: y} }

func drag(m *Machine, from, to types.Point) Effects {
	eff := m.PointerDown(from)
	eff = eff.Merge(m.PointerMove(pt((from.X+to.X)/2, (from.Y+to.Y)/2)))
	eff = eff.Merge(m.PointerMove(to))
	return eff.Merge(m.PointerUp(to))
}

func TestDrawCommitsBox(t *testing.T) {
	s := store.New()
	m := New(s)

	eff := drag(m, pt(0, 0), pt(20, 20))

	require.Equal(t, 1, s.Len())
	b := s.Boxes()[0]
	assert.Equal(t, types.Rect{X: 0, Y: 0, Width: 20, Height: 20}, b.Rect())
	assert.Equal(t, b.ID, s.Selected())
	assert.True(t, m.LabelEditing())
	assert.True(t, eff.Changed)
	assert.Equal(t, types.ModeDraw, m.Mode(), "gestures never switch modes")
	assert.False(t, m.Gesturing())
}

func TestDrawNormalizesReversedCorners(t *testing.T) {
	s := store.New()
	m := New(s)

	drag(m, pt(50, 40), pt(10, 5))

	require.Equal(t, 1, s.Len())
	assert.Equal(t, types.Rect{X: 10, Y: 5, Width: 40, Height: 35}, s.Boxes()[0].Rect())
}

func TestDrawThresholdIsImageSpace(t *testing.T) {
	s := store.New()
	m := New(s, WithTransform(transform.Transform{Zoom: 2}))

	drag(m, pt(0, 0), pt(8, 40))
	assert.Equal(t, 0, s.Len(), "4px wide in image space is a misclick")

	drag(m, pt(0, 0), pt(12, 14))
	require.Equal(t, 1, s.Len())
	assert.Equal(t, types.Rect{X: 0, Y: 0, Width: 6, Height: 7}, s.Boxes()[0].Rect())
}

func TestMisclickIsDiscarded(t *testing.T) {
	s := store.New()
	m := New(s)

	eff := drag(m, pt(30, 30), pt(33, 100))

	assert.Equal(t, 0, s.Len())
	assert.False(t, eff.Changed)
	assert.False(t, m.LabelEditing())
}

func TestDrawRectTracksSecondCorner(t *testing.T) {
	m := New(store.New())
	m.PointerDown(pt(10, 10))
	m.PointerMove(pt(40, 25))

	r, ok := m.DrawRect()
	require.True(t, ok)
	assert.Equal(t, types.Rect{X: 10, Y: 10, Width: 30, Height: 15}, r)
}

func TestClickOutsideDeselectsBeforeDrawing(t *testing.T) {
	s := store.New()
	m := New(s)
	drag(m, pt(0, 0), pt(20, 20))
	require.NotEmpty(t, s.Selected())

	drag(m, pt(100, 100), pt(200, 200))
	assert.Equal(t, 1, s.Len(), "first click only leaves the selection")
	assert.Empty(t, s.Selected())
	assert.False(t, m.LabelEditing())

	drag(m, pt(100, 100), pt(200, 200))
	assert.Equal(t, 2, s.Len())
}

func TestDrawModeClickSelectsBox(t *testing.T) {
	s := store.New()
	s.Load([]types.InitialBox{{BBox: [4]float64{10, 10, 50, 50}, Label: "A"}}, nil)
	m := New(s)

	m.PointerDown(pt(20, 20))
	m.PointerUp(pt(20, 20))

	assert.Equal(t, "bbox-0", s.Selected())
	assert.Equal(t, "A", m.Label())
	assert.Equal(t, 1, s.Len())
}

func TestEditMoveUsesImageSpaceDelta(t *testing.T) {
	s := store.New()
	s.Load([]types.InitialBox{{BBox: [4]float64{10, 10, 20, 20}}}, nil)
	m := New(s, WithMode(types.ModeEdit), WithTransform(transform.Transform{Zoom: 2}))

	m.PointerDown(pt(30, 30))
	m.PointerMove(pt(40, 35))
	eff := m.PointerUp(pt(50, 40))

	b, ok := s.Get("bbox-0")
	require.True(t, ok)
	assert.Equal(t, types.Rect{X: 20, Y: 15, Width: 20, Height: 20}, b.Rect())
	assert.Equal(t, "bbox-0", s.Selected())
	assert.True(t, eff.Changed)
}

func TestResizeClampsToFloor(t *testing.T) {
	s := store.New()
	s.Load([]types.InitialBox{{BBox: [4]float64{10, 10, 20, 20}}}, nil)
	require.NoError(t, s.Select("bbox-0"))
	m := New(s, WithMode(types.ModeEdit))

	m.PointerDown(pt(30, 30))
	m.PointerUp(pt(0, 0))

	b, _ := s.Get("bbox-0")
	assert.Equal(t, types.Rect{X: 10, Y: 10, Width: store.MinSize, Height: store.MinSize}, b.Rect())
}

func TestResizeTopLeftMovesOrigin(t *testing.T) {
	s := store.New()
	s.Load([]types.InitialBox{{BBox: [4]float64{10, 10, 20, 20}}}, nil)
	require.NoError(t, s.Select("bbox-0"))
	m := New(s, WithMode(types.ModeEdit))

	m.PointerDown(pt(10, 10))
	m.PointerUp(pt(15, 12))

	b, _ := s.Get("bbox-0")
	assert.Equal(t, types.Rect{X: 15, Y: 12, Width: 15, Height: 18}, b.Rect())
}

func TestResizeHandleOnlyOnSelectedBox(t *testing.T) {
	s := store.New()
	s.Load([]types.InitialBox{{BBox: [4]float64{10, 10, 20, 20}}}, nil)
	m := New(s, WithMode(types.ModeEdit))

	// Without a selection the corner is part of the box body, so this moves it.
	m.PointerDown(pt(30, 30))
	m.PointerUp(pt(35, 35))

	b, _ := s.Get("bbox-0")
	assert.Equal(t, types.Rect{X: 15, Y: 15, Width: 20, Height: 20}, b.Rect())
}

func TestEditPanAndClickDeselect(t *testing.T) {
	s := store.New()
	s.Load([]types.InitialBox{{BBox: [4]float64{10, 10, 20, 20}}}, nil)
	require.NoError(t, s.Select("bbox-0"))
	m := New(s, WithMode(types.ModeEdit))

	m.PointerDown(pt(100, 100))
	m.PointerMove(pt(105, 100))
	m.PointerUp(pt(110, 95))
	assert.Equal(t, pt(10, -5), m.Transform().Pan)
	assert.Equal(t, "bbox-0", s.Selected(), "a real pan keeps the selection")

	m.PointerDown(pt(200, 200))
	m.PointerUp(pt(200, 200))
	assert.Empty(t, s.Selected())
	assert.Equal(t, 1, s.Len())
}

func TestModeShortcuts(t *testing.T) {
	m := New(store.New())

	eff := m.Key(KeyEvent{Code: KeyEdit, Ctrl: true})
	assert.True(t, eff.Changed)
	assert.Equal(t, types.ModeEdit, m.Mode())

	eff = m.Key(KeyEvent{Code: KeyEdit, Ctrl: true})
	assert.False(t, eff.Changed)

	eff = m.Key(KeyEvent{Code: KeyEdit})
	assert.Equal(t, Effects{}, eff, "letter shortcuts need the modifier")

	m.Key(KeyEvent{Code: KeyDraw, Ctrl: true})
	assert.Equal(t, types.ModeDraw, m.Mode())
}

func TestLabelShortcutRequestsSuggestions(t *testing.T) {
	s := store.New()
	m := New(s)

	assert.Equal(t, Effects{}, m.Key(KeyEvent{Code: KeyLabel, Ctrl: true}))

	drag(m, pt(0, 0), pt(20, 20))
	m.LabelCommit()
	eff := m.Key(KeyEvent{Code: KeyLabel, Ctrl: true})
	assert.Equal(t, s.Selected(), eff.RequestSuggestions)
	assert.True(t, m.LabelEditing())
}

func TestToggleLabelsSaveAndPing(t *testing.T) {
	m := New(store.New())
	m.Key(KeyEvent{Code: KeyToggleLabel, Ctrl: true})
	assert.True(t, m.ShowLabels())
	m.Key(KeyEvent{Code: KeyToggleLabel, Ctrl: true})
	assert.False(t, m.ShowLabels())

	assert.True(t, m.Key(KeyEvent{Code: KeySave, Ctrl: true}).Save)
	assert.False(t, m.Key(KeyEvent{Code: KeySpace}).Ping)

	pinger := New(store.New(), WithSpacePing(true))
	assert.True(t, pinger.Key(KeyEvent{Code: KeySpace}).Ping)
}

func TestEscapeClearsLabelEditThenSelection(t *testing.T) {
	s := store.New()
	m := New(s)
	drag(m, pt(0, 0), pt(20, 20))
	require.True(t, m.LabelEditing())

	m.Key(KeyEvent{Code: KeyEscape})
	assert.False(t, m.LabelEditing())
	assert.NotEmpty(t, s.Selected())

	m.Key(KeyEvent{Code: KeyEscape})
	assert.Empty(t, s.Selected())
}

func TestRelabelThenDelete(t *testing.T) {
	s := store.New()
	s.Load([]types.InitialBox{{BBox: [4]float64{10, 10, 50, 50}, Label: "A"}}, nil)
	m := New(s, WithColors(map[string]string{"B": "#0000ff"}))

	m.PointerDown(pt(20, 20))
	m.PointerUp(pt(20, 20))
	eff := m.LabelInput("B")
	assert.True(t, eff.Changed)

	b, _ := s.Get("bbox-0")
	assert.Equal(t, "B", b.Label)
	assert.Equal(t, "#0000ff", b.Color)

	eff = m.Key(KeyEvent{Code: KeyDelete})
	assert.True(t, eff.Changed)
	assert.Empty(t, s.Boxes())
	assert.Empty(t, s.Selected())
	assert.False(t, m.LabelEditing())

	assert.Equal(t, Effects{}, m.Key(KeyEvent{Code: KeyDelete}))
}

func TestLabelInputWithoutSelection(t *testing.T) {
	m := New(store.New())
	eff := m.LabelInput("car")
	assert.False(t, eff.Changed)
	assert.Equal(t, "car", m.Label())
}

func TestEnterCommitsLabel(t *testing.T) {
	s := store.New()
	m := New(s)
	drag(m, pt(0, 0), pt(20, 20))
	m.LabelInput("person")
	m.Key(KeyEvent{Code: KeyEnter})

	assert.False(t, m.LabelEditing())
	b, _ := s.SelectedBox()
	assert.Equal(t, "person", b.Label)
}

func TestWheelNeedsModifier(t *testing.T) {
	m := New(store.New())
	assert.Zero(t, m.Wheel(-1, false).ZoomDelta)
	assert.InDelta(t, 0.1, m.Wheel(-1, true).ZoomDelta, 1e-9)
	assert.InDelta(t, -0.1, m.Wheel(3, true).ZoomDelta, 1e-9)
}

func TestApplyZoomClamps(t *testing.T) {
	m := New(store.New())
	assert.True(t, m.ApplyZoom(5))
	assert.Equal(t, transform.MaxZoom, m.Transform().Zoom)
	assert.False(t, m.ApplyZoom(1))
}

func TestGestureSurvivesBoxRemoval(t *testing.T) {
	s := store.New()
	s.Load([]types.InitialBox{{BBox: [4]float64{10, 10, 20, 20}}}, nil)
	m := New(s, WithMode(types.ModeEdit))

	m.PointerDown(pt(15, 15))
	s.Reset(nil, nil)
	assert.NotPanics(t, func() {
		m.PointerMove(pt(30, 30))
		m.PointerUp(pt(40, 40))
	})
	assert.False(t, m.Gesturing())
}

func TestApplyLabel(t *testing.T) {
	s := store.New()
	s.Load([]types.InitialBox{{BBox: [4]float64{10, 10, 20, 20}}}, nil)
	m := New(s)

	assert.ErrorIs(t, m.ApplyLabel("bbox-7", "x"), store.ErrNotFound)

	require.NoError(t, s.Select("bbox-0"))
	require.NoError(t, m.ApplyLabel("bbox-0", "dog"))
	assert.Equal(t, "dog", m.Label())
}
