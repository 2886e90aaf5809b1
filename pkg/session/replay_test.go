package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestReplay(t *testing.T) {
	script := `
# draw one box
{"kind":"pointer_down","x":10,"y":10}
{"kind":"pointer_move","x":40,"y":30}

{"kind":"pointer_up","x":40,"y":30,"wait_ms":15}
`
	ch := make(chan Event, 8)
	start := time.Now()
	require.NoError(t, Replay(context.Background(), strings.NewReader(script), ch))

	events := collect(ch)
	require.Len(t, events, 3)
	assert.Equal(t, PointerDown, events[0].Kind)
	assert.Equal(t, PointerUp, events[2].Kind)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestReplayStopsAtBadLine(t *testing.T) {
	ch := make(chan Event, 8)
	err := Replay(context.Background(), strings.NewReader("{\"kind\":\"key\",\"code\":\"Escape\"}\n{\"kind\":\"fly\"}\n"), ch)
	assert.ErrorContains(t, err, "line 2")
	assert.Len(t, collect(ch), 1)
}

func TestReplayHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch := make(chan Event)
	err := Replay(ctx, strings.NewReader(`{"kind":"key","code":"Escape","wait_ms":1000}`), ch)
	assert.ErrorIs(t, err, context.Canceled)
	_, ok := <-ch
	assert.False(t, ok)
}
