// Package host is the server side of the annotation bridge. It hands each engine
// its image and initial boxes, answers suggestion requests with a vision model
// and persists saved annotations.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/bbox-annotator/internal/utils"
	"github.com/menta2k/bbox-annotator/pkg/bridge"
	"github.com/menta2k/bbox-annotator/pkg/processing"
	"github.com/menta2k/bbox-annotator/pkg/storage"
	"github.com/menta2k/bbox-annotator/pkg/types"
)

// Suggester names the content of an image region. *labeler.Labeler implements it.
type Suggester interface {
	Suggest(ctx context.Context, imageID string, img image.Image, r types.Rect) ([]string, error)
}

// Proposer outlines likely regions on an image that has no saved boxes.
// *vision.Proposer implements it.
type Proposer interface {
	ProposeBoxes(img image.Image) []types.InitialBox
}

// Config holds the per-session defaults the service hands to every engine
type Config struct {
	// DefaultImage is served when the connection does not ask for one with ?image=
	DefaultImage string
	// Labels seed the color map. Labels found on saved boxes are appended.
	Labels    []string
	LineWidth float64
	UseSpace  bool
	// OverlayDir, when set, receives a rendered png of the boxes on every save
	OverlayDir string
}

// Service implements bridge.Handler
type Service struct {
	cfg       Config
	processor *processing.Processor
	suggester Suggester
	proposer  Proposer
	sink      AnnotationSink
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.Mutex
	conns map[*bridge.Conn]*connState
	wg    sync.WaitGroup
}

type connState struct {
	image  string
	img    image.Image
	colors map[string]string
}

var (
	_ bridge.Handler = (*Service)(nil)
	_ bridge.Closer  = (*Service)(nil)
)

// Option configures a Service
type Option func(*Service)

// WithSuggester answers suggestion requests with sg
func WithSuggester(sg Suggester) Option {
	return func(s *Service) { s.suggester = sg }
}

// WithProposer seeds images that have nothing saved with proposals from p
func WithProposer(p Proposer) Option {
	return func(s *Service) { s.proposer = p }
}

// WithSink persists saves to sink and restores boxes from it
func WithSink(sink AnnotationSink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces the clock used to stamp saves
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a host service loading images through p
func NewService(cfg Config, p *processing.Processor, opts ...Option) *Service {
	if p == nil {
		p = processing.NewProcessor()
	}
	s := &Service{
		cfg:       cfg,
		processor: p,
		logger:    zap.NewNop(),
		now:       time.Now,
		conns:     map[*bridge.Conn]*connState{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitArgs loads source and builds the arguments a new session starts from
func (s *Service) InitArgs(ctx context.Context, source string) (bridge.InitArgs, image.Image, error) {
	img, err := s.processor.LoadImageSmart(ctx, source)
	if err != nil {
		return bridge.InitArgs{}, nil, fmt.Errorf("load %s: %w", source, err)
	}
	if reg, ok := s.sink.(ImageRegistrar); ok {
		if _, err := reg.RegisterImage(ctx, source, processing.ImageSize(img)); err != nil {
			s.logger.Warn("could not register image", zap.String("image", source), zap.Error(err))
		}
	}
	boxes := s.savedBoxes(ctx, source)
	if len(boxes) == 0 && s.proposer != nil {
		boxes = appendNew(boxes, s.proposer.ProposeBoxes(img))
	}

	labels := append([]string(nil), s.cfg.Labels...)
	for _, b := range boxes {
		labels = append(labels, b.Label)
	}
	return bridge.InitArgs{
		ImageURL:  source,
		ImageSize: processing.ImageSize(img),
		BBoxInfo:  boxes,
		ColorMap:  ColorMap(labels),
		LineWidth: s.cfg.LineWidth,
		UseSpace:  s.cfg.UseSpace,
	}, img, nil
}

func (s *Service) savedBoxes(ctx context.Context, source string) []types.InitialBox {
	if s.sink == nil {
		return []types.InitialBox{}
	}
	data, err := s.sink.GetAnnotations(ctx, source)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("could not read saved annotations", zap.String("image", source), zap.Error(err))
		}
		return []types.InitialBox{}
	}
	a, err := DecodeAnnotation(data)
	if err != nil {
		s.logger.Warn("ignoring saved annotations", zap.String("image", source), zap.Error(err))
		return []types.InitialBox{}
	}
	return a.InitialBoxes()
}

// appendNew adds proposals whose geometry is not already present
func appendNew(boxes, proposals []types.InitialBox) []types.InitialBox {
	seen := make(map[[4]float64]bool, len(boxes))
	for _, b := range boxes {
		seen[b.BBox] = true
	}
	for _, p := range proposals {
		if !seen[p.BBox] {
			seen[p.BBox] = true
			boxes = append(boxes, p)
		}
	}
	return boxes
}

// Open sends init args for the image named by ?image= or the configured default
func (s *Service) Open(ctx context.Context, c *bridge.Conn) error {
	source := c.Query.Get("image")
	if source == "" {
		source = s.cfg.DefaultImage
	}
	if source == "" {
		return fmt.Errorf("no image requested and no default image configured")
	}

	args, img, err := s.InitArgs(ctx, source)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conns[c] = &connState{image: source, img: img, colors: args.ColorMap}
	s.mu.Unlock()

	s.logger.Info("session opened",
		zap.String("image", source),
		zap.Ints("size", args.ImageSize[:]),
		zap.Int("boxes", len(args.BBoxInfo)))
	return c.Send(ctx, bridge.Message{Type: bridge.TypeInit, Args: &args})
}

// Receive handles one frame from the engine
func (s *Service) Receive(ctx context.Context, c *bridge.Conn, out bridge.Outbound) {
	s.mu.Lock()
	st := s.conns[c]
	s.mu.Unlock()
	if st == nil {
		return
	}

	switch out.Type {
	case bridge.TypeFrameHeight:
		s.logger.Debug("frame height", zap.String("image", st.image), zap.Float64("px", out.Height))
	case bridge.TypeState:
		snap := *out.State
		s.logger.Debug("state",
			zap.String("image", st.image),
			zap.Stringer("mode", snap.Mode),
			zap.Int("boxes", len(snap.Boxes)),
			zap.Float64("scale", snap.Scale))
		if snap.SaveRequested {
			if err := s.save(ctx, st, snap); err != nil {
				s.logger.Error("save failed", zap.String("image", st.image), zap.Error(err))
			}
		}
		if snap.RequestOCR {
			s.suggest(ctx, c, st, snap)
		}
	}
}

// Closed drops per-connection state. Cached suggestions for an image are
// forgotten once no connection has it open.
func (s *Service) Closed(c *bridge.Conn) {
	s.mu.Lock()
	st := s.conns[c]
	delete(s.conns, c)
	open := false
	for _, o := range s.conns {
		if st != nil && o.image == st.image {
			open = true
			break
		}
	}
	s.mu.Unlock()

	if f, ok := s.suggester.(interface{ Forget(imageID string) }); ok && st != nil && !open {
		f.Forget(st.image)
	}
}

// Wait blocks until in-flight suggestion requests have replied
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) save(ctx context.Context, st *connState, snap bridge.Snapshot) error {
	doc := Annotation{
		Image:     st.image,
		ImageSize: processing.ImageSize(st.img),
		SavedAt:   s.now().UTC(),
		Boxes:     snap.Boxes,
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if s.sink == nil {
		s.logger.Info("save requested with no sink configured", zap.ByteString("annotation", payload))
	} else {
		key, err := s.sink.PutAnnotations(ctx, st.image, payload)
		if err != nil {
			return err
		}
		s.logger.Info("annotations saved", zap.String("image", st.image), zap.String("key", key), zap.Int("boxes", len(snap.Boxes)))
	}

	if s.cfg.OverlayDir == "" {
		return nil
	}
	boxes := make([]types.Box, 0, len(snap.Boxes))
	for _, b := range snap.Boxes {
		ib := types.InitialBox{BBox: b.BBox, Label: b.Label}
		r := ib.Rect()
		boxes = append(boxes, types.Box{
			ID: b.ID, X: r.X, Y: r.Y, Width: r.Width, Height: r.Height,
			Label: b.Label, Color: types.ColorFor(st.colors, b.Label),
		})
	}
	overlay := s.processor.CreateDebugOverlay(st.img, boxes, "", true)
	path := utils.OutputFilename(st.image, s.cfg.OverlayDir, "", "_boxes", "png")
	if err := utils.EnsureDir(s.cfg.OverlayDir); err != nil {
		return err
	}
	return s.processor.SaveImage(overlay, path, "png", 0, false)
}

// suggest answers a suggestion request off the read loop. Failures reply with
// an empty list so the engine does not wait forever.
func (s *Service) suggest(ctx context.Context, c *bridge.Conn, st *connState, snap bridge.Snapshot) {
	if snap.SelectedBoxID == "" || snap.SelectedBoxCoords == nil {
		s.logger.Warn("suggestion request without a box", zap.String("image", st.image))
		return
	}
	id := snap.SelectedBoxID
	r := types.InitialBox{BBox: *snap.SelectedBoxCoords}.Rect()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		labels := []string{}
		if s.suggester != nil {
			got, err := s.suggester.Suggest(ctx, st.image, st.img, r)
			if err != nil {
				s.logger.Warn("suggestion failed", zap.String("box", id), zap.Error(err))
			} else {
				labels = got
			}
		}
		if err := c.Send(ctx, bridge.SuggestionsMessage(id, labels)); err != nil {
			s.logger.Debug("suggestion reply dropped", zap.String("box", id), zap.Error(err))
		}
	}()
}
