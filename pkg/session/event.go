package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/menta2k/bbox-annotator/pkg/interaction"
	"github.com/menta2k/bbox-annotator/pkg/types"
)

// EventKind names a surface event
type EventKind string

const (
	PointerDown  EventKind = "pointer_down"
	PointerMove  EventKind = "pointer_move"
	PointerUp    EventKind = "pointer_up"
	Key          EventKind = "key"
	Wheel        EventKind = "wheel"
	LabelInput   EventKind = "label_input"
	LabelCommit  EventKind = "label_commit"
	SetMode      EventKind = "set_mode"
	Accept       EventKind = "accept_suggestion"
	RequestLabel EventKind = "request_suggestions"
)

// Event is one input from the rendering surface. Pointer coordinates are view space.
type Event struct {
	Kind   EventKind `json:"kind"`
	X      float64   `json:"x,omitempty"`
	Y      float64   `json:"y,omitempty"`
	Code   string    `json:"code,omitempty"`
	Ctrl   bool      `json:"ctrl,omitempty"`
	DeltaY float64   `json:"delta_y,omitempty"`
	Text   string    `json:"text,omitempty"`
	Mode   string    `json:"mode,omitempty"`
	Index  int       `json:"index,omitempty"`
	// WaitMS delays the event when replayed from a script
	WaitMS int `json:"wait_ms,omitempty"`
}

// Point returns the pointer position of the event
func (e Event) Point() types.Point {
	return types.Point{X: e.X, Y: e.Y}
}

// KeyEvent returns the key press carried by the event
func (e Event) KeyEvent() interaction.KeyEvent {
	return interaction.KeyEvent{Code: e.Code, Ctrl: e.Ctrl}
}

// ParseEvent decodes one JSON event
func ParseEvent(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	e.Kind = EventKind(strings.ToLower(strings.TrimSpace(string(e.Kind))))
	switch e.Kind {
	case PointerDown, PointerMove, PointerUp, Key, Wheel, LabelInput, LabelCommit, Accept, RequestLabel:
	case SetMode:
		if _, err := types.ParseMode(e.Mode); err != nil {
			return Event{}, err
		}
	default:
		return Event{}, fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return e, nil
}
