// Package client defines the vision model backends used to suggest labels.
package client

import (
	"context"

	"github.com/menta2k/bbox-annotator/pkg/types"
)

// VisionClient is a vision model that can look at a base64-encoded image
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	SuggestLabels(ctx context.Context, model, prompt, imgB64 string) (*types.LabelResult, error)
}
