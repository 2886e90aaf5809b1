// Package store holds the authoritative ordered collection of annotation boxes
// together with the current selection.
package store

import (
	"errors"
	"fmt"

	"github.com/menta2k/bbox-annotator/pkg/types"
)

// MinSize is the smallest width or height, in image pixels, a created box may have
const MinSize = 5.0

var (
	// ErrNotFound is returned when an operation references a box id that does not exist
	ErrNotFound = errors.New("box not found")
	// ErrRejectedGeometry is returned when a new box is below the minimum size
	ErrRejectedGeometry = errors.New("geometry below minimum size")
)

// MutationKind describes what changed in the store
type MutationKind int

const (
	// Created is reported for a new box
	Created MutationKind = iota
	// Updated is reported when a box changes geometry or label
	Updated
	// Deleted is reported when a box is removed
	Deleted
	// Selected is reported when the selection changes
	Selected
	// ResetAll is reported when the whole list is replaced
	ResetAll
)

// Mutation is delivered to observers after every change
type Mutation struct {
	Kind MutationKind
	ID   string
}

// Store is the ordered box collection. It is not safe for concurrent use; the
// owning session serialises all access.
type Store struct {
	boxes     []types.Box
	selected  string
	nextID    int
	observers []func(Mutation)
}

// New creates an empty store
func New() *Store {
	return &Store{}
}

// Observe registers fn to be called after every mutation
func (s *Store) Observe(fn func(Mutation)) {
	s.observers = append(s.observers, fn)
}

func (s *Store) notify(m Mutation) {
	for _, fn := range s.observers {
		fn(m)
	}
}

func (s *Store) newID() string {
	id := fmt.Sprintf("bbox-%d", s.nextID)
	s.nextID++
	return id
}

// Load replaces the contents with the host-supplied initial boxes.
// Initial boxes are taken as-is; the minimum-size policy only guards gestures.
func (s *Store) Load(initial []types.InitialBox, colors map[string]string) {
	s.boxes = make([]types.Box, 0, len(initial))
	for _, ib := range initial {
		r := ib.Rect()
		s.boxes = append(s.boxes, types.Box{
			ID:     s.newID(),
			X:      r.X,
			Y:      r.Y,
			Width:  r.Width,
			Height: r.Height,
			Label:  ib.Label,
			Color:  types.ColorFor(colors, ib.Label),
		})
	}
	s.selected = ""
	s.notify(Mutation{Kind: ResetAll})
}

// Reset is the host-issued replacement of the whole box list. Ids keep increasing
// so a late reference to an old box can never resolve to a new one.
func (s *Store) Reset(initial []types.InitialBox, colors map[string]string) {
	s.Load(initial, colors)
}

// Create appends a new box and returns it
func (s *Store) Create(r types.Rect, label, color string) (types.Box, error) {
	if r.Width < MinSize || r.Height < MinSize {
		return types.Box{}, fmt.Errorf("create %.1fx%.1f: %w", r.Width, r.Height, ErrRejectedGeometry)
	}
	b := types.Box{ID: s.newID(), Label: label, Color: color}.WithRect(r)
	s.boxes = append(s.boxes, b)
	s.notify(Mutation{Kind: Created, ID: b.ID})
	return b, nil
}

// Update applies fn to the box with the given id in place. The id is preserved
// even if fn changes it.
func (s *Store) Update(id string, fn func(*types.Box)) (types.Box, error) {
	i := s.Index(id)
	if i < 0 {
		return types.Box{}, fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	b := s.boxes[i]
	fn(&b)
	b.ID = id
	s.boxes[i] = b
	s.notify(Mutation{Kind: Updated, ID: id})
	return b, nil
}

// SetRect replaces the geometry of a box
func (s *Store) SetRect(id string, r types.Rect) (types.Box, error) {
	return s.Update(id, func(b *types.Box) { *b = b.WithRect(r) })
}

// SetLabel replaces the label and stroke color of a box
func (s *Store) SetLabel(id, label, color string) (types.Box, error) {
	return s.Update(id, func(b *types.Box) {
		b.Label = label
		b.Color = color
	})
}

// Delete removes a box. Deleting an absent id is a no-op.
func (s *Store) Delete(id string) {
	i := s.Index(id)
	if i < 0 {
		return
	}
	s.boxes = append(s.boxes[:i:i], s.boxes[i+1:]...)
	if s.selected == id {
		s.selected = ""
	}
	s.notify(Mutation{Kind: Deleted, ID: id})
}

// Select marks a box as selected. An empty id clears the selection.
func (s *Store) Select(id string) error {
	if id == "" {
		s.ClearSelection()
		return nil
	}
	if s.Index(id) < 0 {
		return fmt.Errorf("select %s: %w", id, ErrNotFound)
	}
	if s.selected != id {
		s.selected = id
		s.notify(Mutation{Kind: Selected, ID: id})
	}
	return nil
}

// ClearSelection deselects the current box, if any
func (s *Store) ClearSelection() {
	if s.selected == "" {
		return
	}
	s.selected = ""
	s.notify(Mutation{Kind: Selected})
}

// Selected returns the selected box id, or "" when nothing is selected
func (s *Store) Selected() string {
	return s.selected
}

// SelectedBox returns the selected box
func (s *Store) SelectedBox() (types.Box, bool) {
	return s.Get(s.selected)
}

// Get returns the box with the given id
func (s *Store) Get(id string) (types.Box, bool) {
	if i := s.Index(id); i >= 0 {
		return s.boxes[i], true
	}
	return types.Box{}, false
}

// Has reports whether a box with the given id exists
func (s *Store) Has(id string) bool {
	return s.Index(id) >= 0
}

// Index returns the position of a box in insertion order, or -1
func (s *Store) Index(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.boxes {
		if s.boxes[i].ID == id {
			return i
		}
	}
	return -1
}

// Boxes returns a copy of the boxes in insertion order
func (s *Store) Boxes() []types.Box {
	out := make([]types.Box, len(s.boxes))
	copy(out, s.boxes)
	return out
}

// Len returns the number of boxes
func (s *Store) Len() int {
	return len(s.boxes)
}

// HitTest returns the topmost box containing the image-space point
func (s *Store) HitTest(p types.Point) (types.Box, bool) {
	for i := len(s.boxes) - 1; i >= 0; i-- {
		if s.boxes[i].Rect().Contains(p) {
			return s.boxes[i], true
		}
	}
	return types.Box{}, false
}
