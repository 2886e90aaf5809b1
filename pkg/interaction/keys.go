package interaction

import (
	"go.uber.org/zap"

	"github.com/menta2k/bbox-annotator/pkg/types"
)

// Key codes follow the DOM KeyboardEvent.code names the surface reports
const (
	KeyEdit        = "KeyE"
	KeyDraw        = "KeyD"
	KeyLabel       = "KeyL"
	KeyToggleLabel = "KeyT"
	KeySave        = "KeyS"
	KeyDelete      = "Delete"
	KeyEscape      = "Escape"
	KeySpace       = "Space"
	KeyEnter       = "Enter"
)

// KeyEvent is a key press reported by the rendering surface
type KeyEvent struct {
	Code string `json:"code"`
	Ctrl bool   `json:"ctrl,omitempty"`
}

// Key dispatches a keyboard shortcut. Letter shortcuts need the modifier so they
// never collide with text entry; Delete and Escape are global.
func (m *Machine) Key(ev KeyEvent) Effects {
	if ev.Ctrl {
		switch ev.Code {
		case KeyEdit:
			return m.SetMode(types.ModeEdit)
		case KeyDraw:
			return m.SetMode(types.ModeDraw)
		case KeyLabel:
			id := m.store.Selected()
			if id == "" {
				return Effects{}
			}
			m.labelEditing = true
			return Effects{RequestSuggestions: id}
		case KeyToggleLabel:
			m.showLabels = !m.showLabels
			return Effects{}
		case KeySave:
			m.logger.Debug("save requested")
			return Effects{Save: true}
		}
		return Effects{}
	}

	switch ev.Code {
	case KeySpace:
		if m.useSpace && !m.labelEditing {
			return Effects{Ping: true}
		}
	case KeyEnter:
		if m.labelEditing {
			return m.LabelCommit()
		}
	case KeyDelete:
		id := m.store.Selected()
		if id == "" {
			return Effects{}
		}
		m.g = gesture{}
		m.store.Delete(id)
		m.labelEditing = false
		m.label = ""
		m.logger.Debug("box deleted", zap.String("box", id))
		return Effects{Changed: true}
	case KeyEscape:
		if m.labelEditing {
			m.labelEditing = false
		} else {
			m.store.ClearSelection()
		}
	}
	return Effects{}
}
