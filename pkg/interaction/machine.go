// Package interaction turns pointer and keyboard events into Box Store mutations.
//
// The Machine owns the transient interaction session: the current mode, the
// in-progress gesture, label editing and the view transform. Mode only changes
// through SetMode or the mode shortcuts, never as a side effect of a gesture.
package interaction

import (
	"errors"

	"go.uber.org/zap"

	"github.com/menta2k/bbox-annotator/pkg/store"
	"github.com/menta2k/bbox-annotator/pkg/transform"
	"github.com/menta2k/bbox-annotator/pkg/types"
)

// DrawThreshold is the extent, in image pixels, both sides of a drawn rectangle
// must exceed for the gesture to create a box.
const DrawThreshold = 5.0

type gestureKind int

const (
	gestureNone gestureKind = iota
	gestureDraw
	gesturePan
	gestureMove
	gestureResize
)

type gesture struct {
	kind    gestureKind
	anchor  types.Point // view space, pointer at gesture start
	last    types.Point // view space, previous pointer position
	corners [2]types.Point
	boxID   string
	origin  types.Rect
	handle  Handle
	moved   bool
}

// Effects tells the owning session what an event caused beyond the store mutation
type Effects struct {
	// Changed is set when the mode or the committed box list changed
	Changed bool
	// Save is set when the user asked to save
	Save bool
	// Ping is set when the space bar should push the current state
	Ping bool
	// RequestSuggestions holds the box id suggestions were requested for
	RequestSuggestions string
	// ZoomDelta is a zoom step waiting to be coalesced by the session
	ZoomDelta float64
}

// Merge combines two sets of effects
func (e Effects) Merge(o Effects) Effects {
	e.Changed = e.Changed || o.Changed
	e.Save = e.Save || o.Save
	e.Ping = e.Ping || o.Ping
	if o.RequestSuggestions != "" {
		e.RequestSuggestions = o.RequestSuggestions
	}
	e.ZoomDelta += o.ZoomDelta
	return e
}

// Machine is the interaction state machine
type Machine struct {
	store        *store.Store
	colors       map[string]string
	mode         types.Mode
	view         transform.Transform
	g            gesture
	labelEditing bool
	showLabels   bool
	label        string
	useSpace     bool
	logger       *zap.Logger
}

// Option configures a Machine
type Option func(*Machine)

// WithMode sets the initial mode
func WithMode(mode types.Mode) Option { return func(m *Machine) { m.mode = mode } }

// WithTransform sets the initial view transform
func WithTransform(t transform.Transform) Option { return func(m *Machine) { m.view = t } }

// WithColors sets the label to stroke color map
func WithColors(colors map[string]string) Option { return func(m *Machine) { m.colors = colors } }

// WithSpacePing enables the space bar state push
func WithSpacePing(enabled bool) Option { return func(m *Machine) { m.useSpace = enabled } }

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option { return func(m *Machine) { m.logger = l } }

// New creates a Machine operating on s. It starts in Draw mode at identity zoom.
func New(s *store.Store, opts ...Option) *Machine {
	m := &Machine{
		store:  s,
		mode:   types.ModeDraw,
		view:   transform.Identity(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mode returns the current mode
func (m *Machine) Mode() types.Mode { return m.mode }

// Transform returns the current view transform
func (m *Machine) Transform() transform.Transform { return m.view }

// LabelEditing reports whether the label editor is open
func (m *Machine) LabelEditing() bool { return m.labelEditing }

// ShowLabels reports whether label tags are rendered
func (m *Machine) ShowLabels() bool { return m.showLabels }

// Label returns the text of the label input
func (m *Machine) Label() string { return m.label }

// Gesturing reports whether a pointer gesture is in progress
func (m *Machine) Gesturing() bool { return m.g.kind != gestureNone }

// DrawRect returns the in-progress draw rectangle in image space
func (m *Machine) DrawRect() (types.Rect, bool) {
	if m.g.kind != gestureDraw {
		return types.Rect{}, false
	}
	return types.RectFromCorners(m.g.corners[0], m.g.corners[1]), true
}

// SetMode switches between Draw and Edit. Any gesture in progress is abandoned.
func (m *Machine) SetMode(mode types.Mode) Effects {
	m.g = gesture{}
	if m.mode == mode {
		return Effects{}
	}
	m.mode = mode
	m.logger.Debug("mode changed", zap.Stringer("mode", mode))
	return Effects{Changed: true}
}

// ApplyZoom adds delta to the zoom factor. The session calls it once per settling window.
func (m *Machine) ApplyZoom(delta float64) bool {
	before := m.view.Zoom
	m.view = transform.SetZoom(m.view, delta)
	return m.view.Zoom != before
}

// SetColors replaces the label color map
func (m *Machine) SetColors(colors map[string]string) {
	m.colors = colors
}

// PointerDown starts a gesture at the view-space point p
func (m *Machine) PointerDown(p types.Point) Effects {
	img := transform.ToImage(p, m.view)
	m.g = gesture{}

	if m.mode == types.ModeEdit {
		if sel, ok := m.store.SelectedBox(); ok {
			if h := handleAt(transform.RectToView(sel.Rect(), m.view), p); h != HandleNone {
				m.g = gesture{kind: gestureResize, anchor: p, last: p, boxID: sel.ID, origin: sel.Rect(), handle: h}
				return Effects{}
			}
		}
	}

	if hit, ok := m.store.HitTest(img); ok {
		m.selectBox(hit)
		if m.mode == types.ModeEdit {
			m.g = gesture{kind: gestureMove, anchor: p, last: p, boxID: hit.ID, origin: hit.Rect()}
		}
		return Effects{}
	}

	if m.mode == types.ModeEdit {
		m.g = gesture{kind: gesturePan, anchor: p, last: p}
		return Effects{}
	}

	// Draw mode on empty canvas: the first click leaves the selection, the next one draws.
	if m.store.Selected() != "" {
		m.store.ClearSelection()
		m.labelEditing = false
		return Effects{}
	}
	m.label = ""
	m.g = gesture{kind: gestureDraw, anchor: p, last: p, corners: [2]types.Point{img, img}}
	return Effects{}
}

// PointerMove advances the active gesture to the view-space point p
func (m *Machine) PointerMove(p types.Point) Effects {
	switch m.g.kind {
	case gestureDraw:
		m.g.corners[1] = transform.ToImage(p, m.view)
	case gesturePan:
		m.view = transform.SetPan(m.view, p.Sub(m.g.last))
	case gestureMove:
		d := transform.DeltaToImage(p.Sub(m.g.anchor), m.view)
		r := m.g.origin
		r.X += d.X
		r.Y += d.Y
		if !m.updateRect(r) {
			return Effects{}
		}
	case gestureResize:
		d := transform.DeltaToImage(p.Sub(m.g.anchor), m.view)
		if !m.updateRect(Resize(m.g.origin, m.g.handle, d)) {
			return Effects{}
		}
	default:
		return Effects{}
	}
	if p != m.g.last {
		m.g.moved = true
	}
	m.g.last = p
	return Effects{}
}

// PointerUp finishes the active gesture at the view-space point p
func (m *Machine) PointerUp(p types.Point) Effects {
	eff := m.PointerMove(p)
	g := m.g
	m.g = gesture{}

	switch g.kind {
	case gestureDraw:
		r := types.RectFromCorners(g.corners[0], g.corners[1])
		if r.Width <= DrawThreshold || r.Height <= DrawThreshold {
			m.logger.Debug("draw discarded as misclick", zap.Float64("width", r.Width), zap.Float64("height", r.Height))
			return eff
		}
		b, err := m.store.Create(r, m.label, types.ColorFor(m.colors, m.label))
		if err != nil {
			m.logger.Debug("draw rejected", zap.Error(err))
			return eff
		}
		m.selectBox(b)
		m.labelEditing = true
		eff.Changed = true
	case gesturePan:
		if !g.moved {
			m.store.ClearSelection()
			m.labelEditing = false
		}
	case gestureMove, gestureResize:
		eff.Changed = eff.Changed || g.moved
	}
	return eff
}

// Wheel handles a scroll event. Only modifier-scroll zooms.
func (m *Machine) Wheel(deltaY float64, ctrl bool) Effects {
	if !ctrl {
		return Effects{}
	}
	return Effects{ZoomDelta: transform.WheelDelta(deltaY)}
}

// LabelInput writes text through to the selected box's label
func (m *Machine) LabelInput(text string) Effects {
	m.label = text
	id := m.store.Selected()
	if id == "" {
		return Effects{}
	}
	if _, err := m.store.SetLabel(id, text, types.ColorFor(m.colors, text)); err != nil {
		m.logger.Debug("label write skipped", zap.String("box", id), zap.Error(err))
		return Effects{}
	}
	return Effects{Changed: true}
}

// LabelCommit closes the label editor (Enter or blur)
func (m *Machine) LabelCommit() Effects {
	m.labelEditing = false
	return Effects{}
}

// ApplyLabel sets the label input text and writes it to box id, as when a
// suggestion is picked.
func (m *Machine) ApplyLabel(id, text string) error {
	if _, err := m.store.SetLabel(id, text, types.ColorFor(m.colors, text)); err != nil {
		return err
	}
	if id == m.store.Selected() {
		m.label = text
	}
	return nil
}

func (m *Machine) selectBox(b types.Box) {
	if err := m.store.Select(b.ID); err != nil {
		m.logger.Debug("select failed", zap.String("box", b.ID), zap.Error(err))
		return
	}
	m.label = b.Label
}

func (m *Machine) updateRect(r types.Rect) bool {
	_, err := m.store.SetRect(m.g.boxID, r)
	if errors.Is(err, store.ErrNotFound) {
		// The box went away mid-gesture, e.g. a host reset.
		m.g = gesture{}
		return false
	}
	return true
}
