// Package session runs the annotation engine on a single cooperative event loop.
//
// Surface events, host messages and timer wake-ups are all serialised here. The
// store, the interaction machine and the suggestion coordinator are only touched
// from this loop, so none of them needs locking.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/bbox-annotator/pkg/bridge"
	"github.com/menta2k/bbox-annotator/pkg/debounce"
	"github.com/menta2k/bbox-annotator/pkg/interaction"
	"github.com/menta2k/bbox-annotator/pkg/render"
	"github.com/menta2k/bbox-annotator/pkg/store"
	"github.com/menta2k/bbox-annotator/pkg/suggest"
	"github.com/menta2k/bbox-annotator/pkg/transform"
	"github.com/menta2k/bbox-annotator/pkg/types"
)

const (
	// ZoomDelay is the settling window for wheel zoom steps
	ZoomDelay = 100 * time.Millisecond
	// FrameDelay is the settling window for frame height recomputation
	FrameDelay = 75 * time.Millisecond
	// FramePadding is added below the scaled image height
	FramePadding = 100.0
)

// Config holds the session policies the host controls
type Config struct {
	// ViewWidth is the surface width used to fit the image on init. Zero keeps zoom 1.
	ViewWidth float64
	// PendingTimeout returns a stuck suggestion request to idle. Zero disables it.
	PendingTimeout time.Duration
	// SuggestDelay overrides suggest.RequestDelay when set
	SuggestDelay time.Duration
}

// Session is one annotation session
type Session struct {
	cfg     Config
	host    bridge.Host
	logger  *zap.Logger
	now     func() time.Time
	store   *store.Store
	machine *interaction.Machine
	coord   *suggest.Coordinator
	zoom    *debounce.Debouncer
	frame   *debounce.Debouncer
	zoomAcc float64

	args   bridge.InitArgs
	colors map[string]string

	// ctx is the context of the entry point currently running, used by
	// debounced callbacks that fire from Tick.
	ctx context.Context
}

// Option configures a Session
type Option func(*Session)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option { return func(s *Session) { s.logger = l } }

// WithConfig sets the host policies
func WithConfig(cfg Config) Option { return func(s *Session) { s.cfg = cfg } }

// New creates a session pushing to host. Call Init before feeding events.
func New(host bridge.Host, opts ...Option) *Session {
	s := &Session{
		host:   host,
		logger: zap.NewNop(),
		now:    time.Now,
		store:  store.New(),
		zoom:   debounce.New(ZoomDelay),
		frame:  debounce.New(FrameDelay),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}

	copts := []suggest.Option{
		suggest.WithLogger(s.logger.Named("suggest")),
		suggest.WithPendingTimeout(s.cfg.PendingTimeout),
	}
	if s.cfg.SuggestDelay > 0 {
		copts = append(copts, suggest.WithRequestDelay(s.cfg.SuggestDelay))
	}
	s.coord = suggest.New(suggest.SenderFunc(s.sendSuggestionRequest), copts...)
	s.machine = interaction.New(s.store, interaction.WithLogger(s.logger.Named("interaction")))

	s.store.Observe(func(m store.Mutation) {
		if m.Kind == store.Deleted || m.Kind == store.ResetAll {
			s.coord.Invalidate(s.store.Has)
		}
	})
	return s
}

// Store exposes the box store for reading
func (s *Session) Store() *store.Store { return s.store }

// Machine exposes the interaction machine for reading
func (s *Session) Machine() *interaction.Machine { return s.machine }

// Suggestions exposes the suggestion coordinator for reading
func (s *Session) Suggestions() *suggest.Coordinator { return s.coord }

// Init starts the session from host-supplied arguments and pushes the initial state
func (s *Session) Init(ctx context.Context, args bridge.InitArgs) {
	s.ctx = ctx
	s.args = args
	s.colors = args.ColorMap

	zoom := 1.0
	if s.cfg.ViewWidth > 0 {
		zoom = transform.FitZoom(s.cfg.ViewWidth, float64(args.ImageSize[0]))
	}
	s.zoom.Cancel()
	s.zoomAcc = 0
	s.coord.Reset()
	s.machine = interaction.New(s.store,
		interaction.WithColors(args.ColorMap),
		interaction.WithSpacePing(args.UseSpace),
		interaction.WithTransform(transform.Transform{Zoom: zoom}),
		interaction.WithLogger(s.logger.Named("interaction")),
	)
	s.store.Load(args.BBoxInfo, args.ColorMap)
	s.coord.Seed(args.OCRSuggestions)

	s.logger.Info("session initialised",
		zap.String("image", args.ImageURL),
		zap.Ints("size", args.ImageSize[:]),
		zap.Int("boxes", len(args.BBoxInfo)),
		zap.Float64("scale", zoom))

	s.scheduleFrameHeight()
	s.push(s.snapshot())
}

// Handle applies one surface event
func (s *Session) Handle(ctx context.Context, ev Event) error {
	s.ctx = ctx
	var eff interaction.Effects
	switch ev.Kind {
	case PointerDown:
		eff = s.machine.PointerDown(ev.Point())
	case PointerMove:
		eff = s.machine.PointerMove(ev.Point())
	case PointerUp:
		eff = s.machine.PointerUp(ev.Point())
	case Key:
		eff = s.machine.Key(ev.KeyEvent())
	case Wheel:
		eff = s.machine.Wheel(ev.DeltaY, ev.Ctrl)
	case LabelInput:
		eff = s.machine.LabelInput(ev.Text)
	case LabelCommit:
		eff = s.machine.LabelCommit()
	case SetMode:
		mode, err := types.ParseMode(ev.Mode)
		if err != nil {
			return err
		}
		eff = s.machine.SetMode(mode)
	case RequestLabel:
		eff = interaction.Effects{RequestSuggestions: s.store.Selected()}
	case Accept:
		err := s.coord.Accept(ev.Index, s.store.Selected(), s.machine.ApplyLabel)
		if err != nil {
			return fmt.Errorf("accept suggestion %d: %w", ev.Index, err)
		}
		eff = interaction.Effects{Changed: true}
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	s.apply(eff)
	return nil
}

func (s *Session) apply(eff interaction.Effects) {
	now := s.now()
	if eff.ZoomDelta != 0 {
		s.zoomAcc += eff.ZoomDelta
		s.zoom.Trigger(now, s.applyZoom)
	}
	if eff.RequestSuggestions != "" {
		s.coord.Request(eff.RequestSuggestions, now)
	}
	switch {
	case eff.Save:
		s.push(s.snapshot().ForSave())
	case eff.Changed, eff.Ping:
		s.push(s.snapshot())
	}
}

func (s *Session) applyZoom() {
	delta := s.zoomAcc
	s.zoomAcc = 0
	if !s.machine.ApplyZoom(delta) {
		return
	}
	s.logger.Debug("zoom applied", zap.Float64("scale", s.machine.Transform().Zoom))
	s.push(s.snapshot())
	s.scheduleFrameHeight()
}

func (s *Session) scheduleFrameHeight() {
	s.frame.Trigger(s.now(), func() {
		if err := s.host.SetFrameHeight(s.ctx, s.FrameHeight()); err != nil {
			s.logger.Warn("frame height push failed", zap.Error(channelError(err)))
		}
	})
}

// Args returns the init arguments the session was started with
func (s *Session) Args() bridge.InitArgs { return s.args }

// FrameHeight is the surface height the host should reserve
func (s *Session) FrameHeight() float64 {
	return float64(s.args.ImageSize[1])*s.machine.Transform().Zoom + FramePadding
}

// Receive applies one host message. Stale suggestion responses are reported but
// leave the session untouched.
func (s *Session) Receive(ctx context.Context, msg bridge.Message) error {
	s.ctx = ctx
	if resp, ok := msg.SuggestionResponse(); ok {
		if err := s.coord.OnResponse(resp); err != nil {
			return err
		}
		return nil
	}
	switch msg.Type {
	case bridge.TypeInit:
		if msg.Args == nil {
			return fmt.Errorf("init without args")
		}
		s.Init(ctx, *msg.Args)
	case bridge.TypeRender:
	case bridge.TypeReset:
		s.store.Reset(msg.Boxes, s.colors)
		s.logger.Info("host reset boxes", zap.Int("boxes", len(msg.Boxes)))
	case bridge.TypeCancel:
		s.coord.Reset()
	default:
		return fmt.Errorf("unhandled message type %q", msg.Type)
	}
	return nil
}

// Deadline returns when Tick next needs to run
func (s *Session) Deadline() (time.Time, bool) {
	next, ok := debounce.Earliest(s.zoom, s.frame)
	if dl, cok := s.coord.Deadline(); cok && (!ok || dl.Before(next)) {
		next, ok = dl, true
	}
	return next, ok
}

// Tick fires every debounced action that is due at now
func (s *Session) Tick(ctx context.Context, now time.Time) {
	s.ctx = ctx
	s.zoom.Fire(now)
	s.frame.Fire(now)
	s.coord.Tick(now)
}

// Flush runs every debounced action now instead of waiting for its window.
// Zoom goes first since applying it schedules a frame height push.
func (s *Session) Flush(ctx context.Context) {
	s.ctx = ctx
	s.zoom.Flush()
	s.coord.Flush()
	s.frame.Flush()
}

// Run drives the session until ctx ends or the surface closes. Inbound host
// messages and timers are interleaved with surface events on this goroutine.
// Debounced actions still waiting when the surface closes are flushed.
func (s *Session) Run(ctx context.Context, surface <-chan Event, inbound <-chan bridge.Message) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		if dl, ok := s.Deadline(); ok {
			timer.Reset(max(dl.Sub(s.now()), 0))
		} else {
			timer.Stop()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-surface:
			if !ok {
				s.Flush(ctx)
				return nil
			}
			if err := s.Handle(ctx, ev); err != nil {
				s.logger.Warn("event ignored", zap.String("kind", string(ev.Kind)), zap.Error(err))
			}
		case msg, ok := <-inbound:
			if !ok {
				s.logger.Warn("host channel closed")
				inbound = nil
				continue
			}
			if err := s.Receive(ctx, msg); err != nil {
				s.logReceiveError(msg, err)
			}
		case <-timer.C:
			s.Tick(ctx, s.now())
		}
	}
}

func (s *Session) logReceiveError(msg bridge.Message, err error) {
	if errors.Is(err, suggest.ErrStaleResponse) {
		s.logger.Debug("suggestions discarded", zap.Error(err))
		return
	}
	s.logger.Warn("host message ignored", zap.String("type", msg.Type), zap.Error(err))
}

// View returns the render state of the session
func (s *Session) View() render.State {
	st := render.State{
		ImageSize:  s.args.ImageSize,
		Transform:  s.machine.Transform(),
		Mode:       s.machine.Mode(),
		Boxes:      s.store.Boxes(),
		Selected:   s.store.Selected(),
		ShowLabels: s.machine.ShowLabels(),
		LineWidth:  s.args.LineWidth,
	}
	if r, ok := s.machine.DrawRect(); ok {
		st.Draft = &r
	}
	return st
}

func (s *Session) snapshot() bridge.Snapshot {
	return bridge.NewSnapshot(s.machine.Mode(), s.store.Boxes(), s.machine.Transform().Zoom)
}

func (s *Session) push(snap bridge.Snapshot) {
	if err := s.host.PushState(s.ctx, snap); err != nil {
		s.logger.Warn("state push failed", zap.Error(channelError(err)))
	}
}

func (s *Session) sendSuggestionRequest(boxID string) error {
	b, ok := s.store.Get(boxID)
	if !ok {
		return fmt.Errorf("suggestions for %s: %w", boxID, store.ErrNotFound)
	}
	if err := s.host.PushState(s.ctx, s.snapshot().ForSuggestions(b)); err != nil {
		return channelError(err)
	}
	return nil
}

func channelError(err error) error {
	if errors.Is(err, bridge.ErrChannel) {
		return err
	}
	return fmt.Errorf("%w: %w", bridge.ErrChannel, err)
}
