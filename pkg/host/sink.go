package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/menta2k/bbox-annotator/internal/utils"
	"github.com/menta2k/bbox-annotator/pkg/bridge"
	"github.com/menta2k/bbox-annotator/pkg/pgstore"
	"github.com/menta2k/bbox-annotator/pkg/storage"
	"github.com/menta2k/bbox-annotator/pkg/types"
)

// AnnotationSink persists saved annotations. *storage.Store and *pgstore.Store implement it.
type AnnotationSink interface {
	PutAnnotations(ctx context.Context, image string, payload []byte) (string, error)
	GetAnnotations(ctx context.Context, image string) ([]byte, error)
}

// ImageRegistrar is implemented by sinks that keep a record of every image
// opened for annotation.
type ImageRegistrar interface {
	RegisterImage(ctx context.Context, image string, size [2]int) (int64, error)
}

var (
	_ AnnotationSink = (*storage.Store)(nil)
	_ AnnotationSink = (*pgstore.Store)(nil)
	_ ImageRegistrar = (*pgstore.Store)(nil)
)

// Annotation is the document written on every save
type Annotation struct {
	Image     string            `json:"image"`
	ImageSize [2]int            `json:"image_size"`
	SavedAt   time.Time         `json:"saved_at"`
	Boxes     []bridge.BoxState `json:"boxes"`
}

// InitialBoxes converts a saved document back into the list a new session starts from
func (a Annotation) InitialBoxes() []types.InitialBox {
	out := make([]types.InitialBox, 0, len(a.Boxes))
	for _, b := range a.Boxes {
		out = append(out, types.InitialBox{BBox: b.BBox, Label: b.Label})
	}
	return out
}

// DecodeAnnotation parses a saved document
func DecodeAnnotation(data []byte) (Annotation, error) {
	var a Annotation
	if err := json.Unmarshal(data, &a); err != nil {
		return Annotation{}, fmt.Errorf("decode annotation: %w", err)
	}
	return a, nil
}

// FileSink keeps annotations on local disk using the same key layout as the bucket
type FileSink struct {
	Dir string
}

func (f FileSink) path(image string) string {
	return filepath.Join(f.Dir, filepath.FromSlash(storage.AnnotationKey(image)))
}

// PutAnnotations writes payload under the annotation key of image
func (f FileSink) PutAnnotations(_ context.Context, image string, payload []byte) (string, error) {
	p := f.path(image)
	if err := utils.WriteFileAtomic(p, payload); err != nil {
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	return p, nil
}

// GetAnnotations reads the saved document of image, or storage.ErrNotFound
func (f FileSink) GetAnnotations(_ context.Context, image string) ([]byte, error) {
	data, err := os.ReadFile(f.path(image))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	return data, err
}
