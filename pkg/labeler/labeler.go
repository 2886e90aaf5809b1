// Package labeler turns an image region into candidate labels using a vision model.
package labeler

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/menta2k/bbox-annotator/pkg/client"
	"github.com/menta2k/bbox-annotator/pkg/processing"
	"github.com/menta2k/bbox-annotator/pkg/types"
)

// MaxSuggestions caps how many candidates are sent back for one box
const MaxSuggestions = 5

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks for short label candidates for a single crop
const DefaultPrompt = `You are labelling one region cut out of a larger image.

Return JSON only:
{
  "labels": ["best label", "alternative", "alternative"],
  "text": "any text written inside the region, verbatim"
}

RULES
- Up to 5 labels, best first, each 1 to 3 words.
- Prefer the object class a human annotator would type.
- If the region contains readable text, copy it exactly into "text" and leave case and spacing as printed.
- If nothing recognisable is visible, return {"labels": [], "text": ""}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Config controls how crops are prepared and which model names them
type Config struct {
	Model   string
	Prompt  string
	Padding int
	MaxDim  int
	Quality int
	Format  string
	// ROIWidth and ROIHeight letterbox each crop to a fixed size when both are set.
	// Text recognisers tend to want 320x48.
	ROIWidth  int
	ROIHeight int
	CacheSize int
}

// DefaultConfig returns the settings used when none are configured
func DefaultConfig() Config {
	return Config{
		Model:     "minicpm-v4",
		Prompt:    DefaultPrompt,
		Padding:   4,
		MaxDim:    512,
		Quality:   90,
		Format:    "jpg",
		CacheSize: 256,
	}
}

// Labeler suggests labels for boxes. Results are cached per image and box geometry.
type Labeler struct {
	client    client.VisionClient
	processor *processing.Processor
	cfg       Config
	cache     *lru.Cache[string, []string]
	logger    *zap.Logger
}

// New creates a labeler backed by a vision client
func New(vc client.VisionClient, p *processing.Processor, cfg Config, logger *zap.Logger) (*Labeler, error) {
	if vc == nil {
		return nil, fmt.Errorf("vision client is required")
	}
	if p == nil {
		p = processing.NewProcessor()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Prompt == "" {
		cfg.Prompt = def.Prompt
	}
	if cfg.Format == "" {
		cfg.Format = def.Format
	}
	if cfg.Quality <= 0 {
		cfg.Quality = def.Quality
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	cache, err := lru.New[string, []string](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("init suggestion cache: %w", err)
	}
	return &Labeler{client: vc, processor: p, cfg: cfg, cache: cache, logger: logger}, nil
}

// Suggest returns up to MaxSuggestions labels for the region r of img.
// imageID scopes the cache; an empty id disables caching.
func (l *Labeler) Suggest(ctx context.Context, imageID string, img image.Image, r types.Rect) ([]string, error) {
	key := cacheKey(imageID, r)
	if imageID != "" {
		if hit, ok := l.cache.Get(key); ok {
			l.logger.Debug("suggestion cache hit", zap.String("key", key))
			return append([]string(nil), hit...), nil
		}
	}

	crop, err := l.processor.CropRegion(img, r, l.cfg.Padding)
	if err != nil {
		return nil, err
	}
	if l.cfg.ROIWidth > 0 && l.cfg.ROIHeight > 0 {
		crop = processing.Letterbox(crop, l.cfg.ROIWidth, l.cfg.ROIHeight)
	}
	b64, err := l.processor.PrepareImageForModel(crop, l.cfg.Format, l.cfg.MaxDim, l.cfg.Quality)
	if err != nil {
		return nil, fmt.Errorf("prepare crop: %w", err)
	}

	res, err := l.client.SuggestLabels(ctx, l.cfg.Model, l.cfg.Prompt, b64)
	if err != nil {
		return nil, fmt.Errorf("suggest labels: %w", err)
	}
	out := Normalize(res)
	l.logger.Info("labels suggested",
		zap.String("image", imageID),
		zap.Strings("labels", out))

	if imageID != "" {
		l.cache.Add(key, append([]string(nil), out...))
	}
	return out, nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (l *Labeler) TestVision(ctx context.Context, img image.Image) (string, error) {
	b64, err := l.processor.PrepareImageForModel(img, l.cfg.Format, l.cfg.MaxDim, l.cfg.Quality)
	if err != nil {
		return "", err
	}
	return l.client.SimpleQuery(ctx, l.cfg.Model, SimpleTestPrompt, b64)
}

// Forget drops every cached result for imageID
func (l *Labeler) Forget(imageID string) {
	prefix := imageID + "|"
	for _, k := range l.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			l.cache.Remove(k)
		}
	}
}

// Normalize puts recognised text first, then labels. Entries are trimmed,
// deduplicated case-insensitively and capped at MaxSuggestions.
// A bare "none" means nothing was recognised.
func Normalize(res *types.LabelResult) []string {
	if res == nil {
		return []string{}
	}
	candidates := make([]string, 0, len(res.Labels)+1)
	if res.Text != "" {
		candidates = append(candidates, res.Text)
	}
	candidates = append(candidates, res.Labels...)

	seen := map[string]struct{}{}
	out := make([]string, 0, MaxSuggestions)
	for _, c := range candidates {
		c = strings.Join(strings.Fields(c), " ")
		k := strings.ToLower(c)
		if c == "" || k == "none" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
		if len(out) == MaxSuggestions {
			break
		}
	}
	return out
}

func cacheKey(imageID string, r types.Rect) string {
	return fmt.Sprintf("%s|%d,%d,%d,%d", imageID,
		int(math.Round(r.X)), int(math.Round(r.Y)),
		int(math.Round(r.Width)), int(math.Round(r.Height)))
}
