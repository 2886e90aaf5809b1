package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/menta2k/bbox-annotator/pkg/suggest"
	"github.com/menta2k/bbox-annotator/pkg/types"
)

// Inbound message types (host → engine)
const (
	TypeInit        = "init"
	TypeRender      = "render"
	TypeSuggestions = "suggestions"
	TypeReset       = "reset"
	TypeCancel      = "cancel"
)

// Outbound message types (engine → host)
const (
	TypeState       = "state"
	TypeFrameHeight = "frame_height"
)

// InitArgs are the component arguments the host supplies when a session starts.
// A later render message carries the same shape.
type InitArgs struct {
	ImageURL       string             `json:"image_url"`
	ImageSize      [2]int             `json:"image_size"`
	BBoxInfo       []types.InitialBox `json:"bbox_info"`
	ColorMap       map[string]string  `json:"color_map"`
	LineWidth      float64            `json:"line_width"`
	UseSpace       bool               `json:"use_space"`
	OCRSuggestions []string           `json:"ocr_suggestions,omitempty"`
	TargetBoxID    string             `json:"target_box_id,omitempty"`
}

// SuggestionData is the payload of an asynchronous suggestion message
type SuggestionData struct {
	BoxID          string   `json:"box_id,omitempty"`
	OCRSuggestions []string `json:"ocr_suggestions"`
}

// Message is the envelope for everything the host sends to the engine
type Message struct {
	Type  string             `json:"type"`
	Args  *InitArgs          `json:"args,omitempty"`
	Data  *SuggestionData    `json:"data,omitempty"`
	Boxes []types.InitialBox `json:"boxes,omitempty"`
}

// DecodeMessage parses and validates one inbound frame
func DecodeMessage(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	m.Type = strings.ToLower(strings.TrimSpace(m.Type))
	switch m.Type {
	case TypeInit, TypeRender:
		if m.Args == nil {
			return Message{}, fmt.Errorf("%s message without args", m.Type)
		}
	case TypeSuggestions:
		if m.Data == nil {
			return Message{}, fmt.Errorf("suggestions message without data")
		}
	case TypeReset, TypeCancel:
	case "":
		return Message{}, fmt.Errorf("message type is required")
	default:
		return Message{}, fmt.Errorf("unsupported message type %q", m.Type)
	}
	return m, nil
}

// SuggestionResponse extracts a suggestion push from either delivery path: the
// asynchronous suggestions message or a render property update.
func (m Message) SuggestionResponse() (suggest.Response, bool) {
	switch m.Type {
	case TypeSuggestions:
		if m.Data == nil {
			return suggest.Response{}, false
		}
		return suggest.Response{BoxID: m.Data.BoxID, Suggestions: m.Data.OCRSuggestions}, true
	case TypeRender:
		if m.Args == nil || len(m.Args.OCRSuggestions) == 0 {
			return suggest.Response{}, false
		}
		return suggest.Response{BoxID: m.Args.TargetBoxID, Suggestions: m.Args.OCRSuggestions}, true
	}
	return suggest.Response{}, false
}

// SuggestionsMessage builds the asynchronous suggestion push for boxID
func SuggestionsMessage(boxID string, suggestions []string) Message {
	return Message{Type: TypeSuggestions, Data: &SuggestionData{BoxID: boxID, OCRSuggestions: suggestions}}
}

// Outbound is the envelope for everything the engine sends to the host
type Outbound struct {
	Type   string    `json:"type"`
	State  *Snapshot `json:"state,omitempty"`
	Height float64   `json:"height,omitempty"`
}
