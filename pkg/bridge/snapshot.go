package bridge

import (
	"github.com/menta2k/bbox-annotator/pkg/types"
)

// BoxState is one box as serialized to the host
type BoxState struct {
	ID    string     `json:"id"`
	BBox  [4]float64 `json:"bbox"`
	Label string     `json:"label"`
}

// Snapshot is the state pushed to the host after every meaningful change
type Snapshot struct {
	Mode              types.Mode  `json:"mode"`
	Boxes             []BoxState  `json:"boxes"`
	Scale             float64     `json:"scale"`
	SaveRequested     bool        `json:"save_requested"`
	RequestOCR        bool        `json:"request_ocr"`
	SelectedBoxID     string      `json:"selected_box_id,omitempty"`
	SelectedBoxCoords *[4]float64 `json:"selected_box_coords,omitempty"`
}

// NewSnapshot serializes boxes in store order
func NewSnapshot(mode types.Mode, boxes []types.Box, scale float64) Snapshot {
	out := make([]BoxState, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, BoxState{ID: b.ID, BBox: b.BBox(), Label: b.Label})
	}
	return Snapshot{Mode: mode, Boxes: out, Scale: scale}
}

// ForSave marks the snapshot as an explicit save request
func (s Snapshot) ForSave() Snapshot {
	s.SaveRequested = true
	return s
}

// ForSuggestions marks the snapshot as a suggestion request for box b
func (s Snapshot) ForSuggestions(b types.Box) Snapshot {
	coords := b.BBox()
	s.RequestOCR = true
	s.SelectedBoxID = b.ID
	s.SelectedBoxCoords = &coords
	return s
}

// InitialBoxes converts the snapshot back into a host-style initial box list
func (s Snapshot) InitialBoxes() []types.InitialBox {
	out := make([]types.InitialBox, 0, len(s.Boxes))
	for _, b := range s.Boxes {
		out = append(out, types.InitialBox{BBox: b.BBox, Label: b.Label})
	}
	return out
}
