// Package bridge is the boundary between the annotation engine and its host.
//
// Outbound the engine pushes state snapshots and frame height changes. Inbound
// the host sends component arguments, suggestion lists, resets and cancellations.
// The same Message shape is used over every transport.
package bridge

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrChannel wraps every failure to deliver something to the host
var ErrChannel = errors.New("host channel error")

// Host receives what the engine pushes across the boundary
type Host interface {
	PushState(ctx context.Context, s Snapshot) error
	SetFrameHeight(ctx context.Context, px float64) error
}

// LogHost is a Host that only logs what it is given. It is used when the engine
// runs without a connected host.
type LogHost struct {
	Logger *zap.Logger
}

func (h LogHost) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// PushState logs the snapshot
func (h LogHost) PushState(_ context.Context, s Snapshot) error {
	h.logger().Info("state",
		zap.Stringer("mode", s.Mode),
		zap.Int("boxes", len(s.Boxes)),
		zap.Float64("scale", s.Scale),
		zap.Bool("save_requested", s.SaveRequested),
		zap.Bool("request_ocr", s.RequestOCR),
		zap.String("selected_box_id", s.SelectedBoxID))
	return nil
}

// SetFrameHeight logs the height
func (h LogHost) SetFrameHeight(_ context.Context, px float64) error {
	h.logger().Debug("frame height", zap.Float64("px", px))
	return nil
}
