// Package suggest coordinates the single outstanding label-suggestion request of a session.
//
// A request is identified by its target box id. A second request for the same
// target while one is Pending is suppressed. A request for another target
// supersedes the first, whose response is then discarded on arrival.
package suggest

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/bbox-annotator/pkg/debounce"
)

// RequestDelay is the settling window before a suggestion request is pushed to the host
const RequestDelay = 500 * time.Millisecond

var (
	// ErrStaleResponse is returned when a response does not match the active target
	ErrStaleResponse = errors.New("stale suggestion response")
	// ErrNotReady is returned by Accept when there are no suggestions to pick from
	ErrNotReady = errors.New("no suggestions ready")
	// ErrNoSuggestion is returned by Accept for an index outside the suggestion list
	ErrNoSuggestion = errors.New("suggestion index out of range")
)

// Status is the lifecycle state of the suggestion session
type Status int

const (
	// Idle has no request in flight and nothing to show
	Idle Status = iota
	// Pending waits for the host to answer the request for Target
	Pending
	// Ready holds suggestions for Target, or seeded ones with no target
	Ready
)

// String returns the lowercase state name
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	}
	return "idle"
}

// Response is a suggestion list pushed back by the host. An empty BoxID means the
// response is implicitly for the request in flight. Implicit responses are only
// trusted while no earlier pushed request has been given up.
type Response struct {
	BoxID       string   `json:"box_id,omitempty"`
	Suggestions []string `json:"suggestions"`
}

// Sender pushes a suggestion request for the given box across the host boundary
type Sender interface {
	SendSuggestionRequest(boxID string) error
}

// SenderFunc adapts a function to the Sender interface
type SenderFunc func(boxID string) error

// SendSuggestionRequest calls f(boxID)
func (f SenderFunc) SendSuggestionRequest(boxID string) error { return f(boxID) }

// Coordinator tracks one suggestion session. It is driven by the session's event
// loop and is not safe for concurrent use.
type Coordinator struct {
	sender      Sender
	push        *debounce.Debouncer
	timeout     time.Duration
	logger      *zap.Logger
	status      Status
	target      string
	suggestions []string
	since       time.Time
	sent        bool
	// abandoned is set once a pushed request was given up before its answer
	// arrived. From then on only responses naming their box are accepted.
	abandoned bool
	// dropped is the target of a pushed request whose box was removed
	dropped string
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithPendingTimeout returns a Pending session to Idle after d. Zero disables it.
func WithPendingTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithRequestDelay overrides the settling window before a request is pushed
func WithRequestDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.push = debounce.New(d) }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates an idle Coordinator that pushes requests through sender
func New(sender Sender, opts ...Option) *Coordinator {
	c := &Coordinator{
		sender: sender,
		push:   debounce.New(RequestDelay),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the current state
func (c *Coordinator) Status() Status { return c.status }

// Target returns the box id of the active request
func (c *Coordinator) Target() string { return c.target }

// Suggestions returns a copy of the current suggestion list
func (c *Coordinator) Suggestions() []string {
	if c.suggestions == nil {
		return nil
	}
	out := make([]string, len(c.suggestions))
	copy(out, c.suggestions)
	return out
}

// Request starts a suggestion session for boxID. It reports false when a request
// for the same target is already Pending.
func (c *Coordinator) Request(boxID string, now time.Time) bool {
	if boxID == "" {
		return false
	}
	if c.status == Pending && c.target == boxID {
		c.logger.Debug("duplicate suggestion request suppressed", zap.String("box", boxID))
		return false
	}
	if c.status == Pending {
		c.logger.Debug("suggestion request superseded", zap.String("old", c.target), zap.String("new", boxID))
		if c.sent {
			c.abandoned = true
		}
	}
	c.status = Pending
	c.target = boxID
	c.suggestions = nil
	c.since = now
	c.sent = false
	c.push.Trigger(now, func() { c.send(boxID) })
	return true
}

func (c *Coordinator) send(boxID string) {
	if c.status != Pending || c.target != boxID {
		return
	}
	if err := c.sender.SendSuggestionRequest(boxID); err != nil {
		c.logger.Warn("suggestion request push failed", zap.String("box", boxID), zap.Error(err))
		c.idle()
		return
	}
	c.sent = true
	c.logger.Debug("suggestion request pushed", zap.String("box", boxID))
}

// OnResponse applies a host response. Responses that do not belong to the active
// target are discarded with ErrStaleResponse. Repeated responses for the same
// target replace each other.
func (c *Coordinator) OnResponse(resp Response) error {
	id := resp.BoxID
	if id != "" && id == c.dropped && (c.status != Pending || c.target != id) {
		c.dropped = ""
		c.logger.Debug("discarding response for removed box", zap.String("box", id))
		return fmt.Errorf("response for removed box %q: %w", id, ErrStaleResponse)
	}
	if c.status != Pending && c.status != Ready {
		return fmt.Errorf("response for %q with no request: %w", id, ErrStaleResponse)
	}
	if id == "" {
		switch {
		case !c.sent:
			return fmt.Errorf("untagged response before a request was pushed: %w", ErrStaleResponse)
		case c.abandoned:
			return fmt.Errorf("untagged response after an earlier request was given up: %w", ErrStaleResponse)
		}
		id = c.target
	}
	if id != c.target {
		return fmt.Errorf("response for %q while targeting %q: %w", id, c.target, ErrStaleResponse)
	}
	c.push.Cancel()
	c.status = Ready
	c.suggestions = append([]string(nil), resp.Suggestions...)
	c.logger.Debug("suggestions ready", zap.String("box", c.target), zap.Int("count", len(c.suggestions)))
	return nil
}

// Seed shows an initial suggestion list that is not tied to any request
func (c *Coordinator) Seed(suggestions []string) {
	if len(suggestions) == 0 {
		return
	}
	c.idle()
	c.status = Ready
	c.suggestions = append([]string(nil), suggestions...)
}

// Reset forces the coordinator back to Idle. It is the host's completion or
// cancellation signal, so earlier requests are no longer expected to answer.
func (c *Coordinator) Reset() {
	c.idle()
	c.abandoned = false
	c.dropped = ""
}

func (c *Coordinator) idle() {
	c.push.Cancel()
	c.status = Idle
	c.target = ""
	c.suggestions = nil
	c.since = time.Time{}
	c.sent = false
}

// giveUp drops the active request. An answer already requested from the host
// is remembered so it is discarded on arrival.
func (c *Coordinator) giveUp() {
	if c.status == Pending && c.sent {
		c.abandoned = true
		c.dropped = c.target
	}
	c.idle()
}

// Invalidate returns to Idle when the target box no longer exists. A late
// response for it is discarded.
func (c *Coordinator) Invalidate(exists func(id string) bool) {
	if c.target == "" || exists(c.target) {
		return
	}
	c.logger.Debug("suggestion target removed", zap.String("box", c.target))
	c.giveUp()
}

// Accept writes suggestion index into the label of the target box through apply
// and returns to Idle. selected is used when the list was seeded without a target.
func (c *Coordinator) Accept(index int, selected string, apply func(boxID, label string) error) error {
	if c.status != Ready {
		return ErrNotReady
	}
	if index < 0 || index >= len(c.suggestions) {
		return fmt.Errorf("accept %d of %d: %w", index, len(c.suggestions), ErrNoSuggestion)
	}
	target := c.target
	if target == "" {
		target = selected
	}
	if err := apply(target, c.suggestions[index]); err != nil {
		return err
	}
	c.idle()
	return nil
}

// Deadline returns when the coordinator next needs a Tick
func (c *Coordinator) Deadline() (time.Time, bool) {
	next, ok := c.push.Deadline()
	if c.status == Pending && c.timeout > 0 {
		expiry := c.since.Add(c.timeout)
		if !ok || expiry.Before(next) {
			next, ok = expiry, true
		}
	}
	return next, ok
}

// Flush pushes a request still inside its settling window
func (c *Coordinator) Flush() bool {
	return c.push.Flush()
}

// Tick pushes a settled request and expires a Pending session past its timeout
func (c *Coordinator) Tick(now time.Time) {
	c.push.Fire(now)
	if c.status == Pending && c.timeout > 0 && !now.Before(c.since.Add(c.timeout)) {
		c.logger.Info("suggestion request timed out", zap.String("box", c.target), zap.Duration("after", c.timeout))
		c.giveUp()
	}
}
