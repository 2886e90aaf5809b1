package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/bbox-annotator/pkg/render"
	"github.com/menta2k/bbox-annotator/pkg/transform"
	"github.com/menta2k/bbox-annotator/pkg/types"
)

// ObjectSource resolves s3://bucket/key references
type ObjectSource interface {
	GetURL(ctx context.Context, raw string) ([]byte, error)
}

// Processor handles image processing operations
type Processor struct {
	objects    ObjectSource
	httpClient *http.Client
	logger     *zap.Logger
}

type Option func(*Processor)

// WithObjectSource enables s3:// image sources
func WithObjectSource(src ObjectSource) Option {
	return func(p *Processor) { p.objects = src }
}

func WithHTTPClient(c *http.Client) Option {
	return func(p *Processor) { p.httpClient = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// NewProcessor creates a new image processor
func NewProcessor(opts ...Option) *Processor {
	p := &Processor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LoadImageFromURL downloads and loads an image from a URL
func (p *Processor) LoadImageFromURL(ctx context.Context, imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "bbox-annotator/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return p.DecodeImage(imageData)
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := p.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// LoadImageSmart loads an image from a file path, an http(s) URL or an s3:// object
func (p *Processor) LoadImageSmart(ctx context.Context, source string) (image.Image, error) {
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return p.LoadImageFromURL(ctx, source)
	case strings.HasPrefix(source, "s3://"):
		if p.objects == nil {
			return nil, fmt.Errorf("no object store configured for %s", source)
		}
		data, err := p.objects.GetURL(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", source, err)
		}
		return p.DecodeImage(data)
	}
	return p.LoadImage(source)
}

// DecodeImage decodes jpg, png or webp bytes
func (p *Processor) DecodeImage(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// ImageSize returns [width, height] the way the host reports it to the engine
func ImageSize(img image.Image) [2]int {
	b := img.Bounds()
	return [2]int{b.Dx(), b.Dy()}
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	if err := render.Encode(&buf, img, format, quality, false); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// CropRegion cuts an image-space rectangle out of img. The rectangle is grown by
// pad pixels on every side, truncated to whole pixels and clamped to the image.
func (p *Processor) CropRegion(img image.Image, r types.Rect, pad int) (image.Image, error) {
	bounds := img.Bounds()
	x0 := int(r.X) - pad
	y0 := int(r.Y) - pad
	x1 := int(r.X+r.Width) + pad
	y1 := int(r.Y+r.Height) + pad

	rect := image.Rect(x0, y0, x1, y1).Add(bounds.Min).Intersect(bounds)
	if rect.Empty() {
		return nil, fmt.Errorf("empty crop rectangle %v in %dx%d image", r, bounds.Dx(), bounds.Dy())
	}
	p.logger.Debug("crop region",
		zap.Int("x0", rect.Min.X), zap.Int("y0", rect.Min.Y),
		zap.Int("x1", rect.Max.X), zap.Int("y1", rect.Max.Y))
	return imaging.Crop(img, rect), nil
}

// Letterbox scales img to fit width x height keeping its aspect ratio and pads
// the rest with black. Wide crops are centred vertically, narrow ones sit left.
func Letterbox(img image.Image, width, height int) *image.NRGBA {
	dst := imaging.New(width, height, color.NRGBA{0, 0, 0, 255})
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return dst
	}
	ratio := float64(b.Dx()) / float64(b.Dy())
	if w := int(float64(height) * ratio); w <= width {
		scaled := imaging.Resize(img, max(w, 1), height, imaging.Linear)
		return imaging.Paste(dst, scaled, image.Pt(0, 0))
	}
	h := max(int(float64(width)/ratio), 1)
	scaled := imaging.Resize(img, width, h, imaging.Linear)
	return imaging.Paste(dst, scaled, image.Pt(0, (height-h)/2))
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render.Encode(f, img, format, quality, lossless); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// CreateDebugOverlay draws boxes over img at native scale, with labels when showLabels is set
func (p *Processor) CreateDebugOverlay(img image.Image, boxes []types.Box, selected string, showLabels bool) image.Image {
	b := img.Bounds()
	lw := math.Max(2, 0.004*float64(min(b.Dx(), b.Dy())))
	shapes := render.Scene(render.State{
		ImageSize:  ImageSize(img),
		Transform:  transform.Identity(),
		Mode:       types.ModeDraw,
		Boxes:      boxes,
		Selected:   selected,
		ShowLabels: showLabels,
		LineWidth:  lw,
	})
	return render.Rasterize(img, shapes)
}
