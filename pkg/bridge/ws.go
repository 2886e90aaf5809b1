package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingEvery  = (wsPongWait * 9) / 10
	wsOutboxSize = 32
)

// link owns one websocket. All writes go through a single writer goroutine.
type link struct {
	ws     *websocket.Conn
	out    chan any
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func newLink(ws *websocket.Conn, logger *zap.Logger) *link {
	l := &link{
		ws:     ws,
		out:    make(chan any, wsOutboxSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.writeLoop()
	return l
}

func (l *link) writeLoop() {
	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case v := <-l.out:
			if err := l.ws.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				l.close()
				return
			}
			if err := l.ws.WriteJSON(v); err != nil {
				l.logger.Warn("websocket write failed", zap.Error(err))
				l.close()
				return
			}
		case <-ticker.C:
			if err := l.ws.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				l.close()
				return
			}
			if err := l.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				l.close()
				return
			}
		}
	}
}

func (l *link) send(ctx context.Context, v any) error {
	select {
	case <-l.done:
		return fmt.Errorf("send: connection closed: %w", ErrChannel)
	default:
	}
	select {
	case l.out <- v:
		return nil
	case <-l.done:
		return fmt.Errorf("send: connection closed: %w", ErrChannel)
	case <-ctx.Done():
		return fmt.Errorf("send: %w: %w", ErrChannel, ctx.Err())
	}
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = l.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
		_ = l.ws.Close()
	})
}

// readLoop decodes frames until the connection fails. Frames that do not decode
// are logged and skipped.
func readLoop[T any](l *link, decode func([]byte) (T, error), deliver func(T)) {
	defer l.close()

	if err := l.ws.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	l.ws.SetPongHandler(func(string) error {
		return l.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := l.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		v, err := decode(raw)
		if err != nil {
			l.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		deliver(v)
	}
}

// WSClient is the engine side of a websocket host connection. It implements Host.
type WSClient struct {
	l       *link
	inbound chan Message
}

// Dial connects to a host at rawURL
func Dial(ctx context.Context, rawURL string, logger *zap.Logger) (*WSClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w: %w", rawURL, ErrChannel, err)
	}
	c := &WSClient{
		l:       newLink(ws, logger.With(zap.String("peer", rawURL))),
		inbound: make(chan Message, wsOutboxSize),
	}
	go func() {
		defer close(c.inbound)
		readLoop(c.l, DecodeMessage, func(m Message) {
			select {
			case c.inbound <- m:
			case <-c.l.done:
			}
		})
	}()
	return c, nil
}

// Inbound returns the messages received from the host. It is closed when the
// connection ends.
func (c *WSClient) Inbound() <-chan Message {
	return c.inbound
}

// PushState sends a state snapshot
func (c *WSClient) PushState(ctx context.Context, s Snapshot) error {
	return c.l.send(ctx, Outbound{Type: TypeState, State: &s})
}

// SetFrameHeight sends the frame height the surface needs
func (c *WSClient) SetFrameHeight(ctx context.Context, px float64) error {
	return c.l.send(ctx, Outbound{Type: TypeFrameHeight, Height: px})
}

// Done is closed when the connection ends
func (c *WSClient) Done() <-chan struct{} {
	return c.l.done
}

// Close ends the connection
func (c *WSClient) Close() error {
	c.l.close()
	return nil
}

// Conn is the host side of one engine connection
type Conn struct {
	l *link
	// Query holds the query parameters of the upgrade request
	Query url.Values
}

// Send delivers a message to the engine
func (c *Conn) Send(ctx context.Context, m Message) error {
	return c.l.send(ctx, m)
}

// Close ends the connection
func (c *Conn) Close() error {
	c.l.close()
	return nil
}

// Handler serves engine connections on the host side
type Handler interface {
	// Open is called once the connection is up, typically to send init args
	Open(ctx context.Context, c *Conn) error
	// Receive is called for every frame the engine sends, in order
	Receive(ctx context.Context, c *Conn, out Outbound)
}

// Closer is implemented by handlers that keep per-connection state
type Closer interface {
	Closed(c *Conn)
}

// WSServer upgrades HTTP requests into engine connections
type WSServer struct {
	handler  Handler
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWSServer creates a server dispatching to h
func NewWSServer(h Handler, logger *zap.Logger) *WSServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSServer{
		handler: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// ServeHTTP implements http.Handler
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	l := newLink(ws, s.logger.With(zap.String("peer", r.RemoteAddr)))
	defer l.close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := &Conn{l: l, Query: r.URL.Query()}
	if err := s.handler.Open(ctx, conn); err != nil {
		s.logger.Warn("connection rejected", zap.String("peer", r.RemoteAddr), zap.Error(err))
		return
	}
	readLoop(l, decodeOutbound, func(out Outbound) {
		s.handler.Receive(ctx, conn, out)
	})
	if cl, ok := s.handler.(Closer); ok {
		cl.Closed(conn)
	}
}

func decodeOutbound(raw []byte) (Outbound, error) {
	var out Outbound
	if err := json.Unmarshal(raw, &out); err != nil {
		return Outbound{}, fmt.Errorf("decode outbound: %w", err)
	}
	out.Type = strings.ToLower(strings.TrimSpace(out.Type))
	switch out.Type {
	case TypeState:
		if out.State == nil {
			return Outbound{}, fmt.Errorf("state message without state")
		}
	case TypeFrameHeight:
	default:
		return Outbound{}, fmt.Errorf("unsupported outbound type %q", out.Type)
	}
	return out, nil
}
