package bridge

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/bbox-annotator/pkg/types"
)

func TestSnapshotWireShape(t *testing.T) {
	boxes := []types.Box{
		{ID: "bbox-0", X: 10, Y: 10, Width: 50, Height: 50, Label: "A", Color: "#fff"},
		{ID: "bbox-1", X: 1, Y: 2, Width: 3, Height: 4},
	}
	s := NewSnapshot(types.ModeEdit, boxes, 1.5)

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"mode": "Edit",
		"boxes": [
			{"id": "bbox-0", "bbox": [10, 10, 50, 50], "label": "A"},
			{"id": "bbox-1", "bbox": [1, 2, 3, 4], "label": ""}
		],
		"scale": 1.5,
		"save_requested": false,
		"request_ocr": false
	}`, string(raw))

	raw, err = json.Marshal(s.ForSuggestions(boxes[0]))
	require.NoError(t, err)
	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Equal(t, true, generic["request_ocr"])
	assert.Equal(t, "bbox-0", generic["selected_box_id"])
	assert.Equal(t, []any{10.0, 10.0, 50.0, 50.0}, generic["selected_box_coords"])

	assert.True(t, s.ForSave().SaveRequested)
	assert.False(t, s.SaveRequested, "snapshots are values")
}

func TestSnapshotInitialBoxes(t *testing.T) {
	s := NewSnapshot(types.ModeDraw, []types.Box{{ID: "bbox-4", X: 1, Y: 2, Width: 30, Height: 40, Label: "x"}}, 1)
	assert.Equal(t, []types.InitialBox{{BBox: [4]float64{1, 2, 30, 40}, Label: "x"}}, s.InitialBoxes())
}

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{name: "init", raw: `{"type":"init","args":{"image_url":"a.png","image_size":[640,480],"bbox_info":[]}}`},
		{name: "type is normalised", raw: `{"type":" Suggestions ","data":{"ocr_suggestions":["a"]}}`},
		{name: "reset without boxes", raw: `{"type":"reset"}`},
		{name: "cancel", raw: `{"type":"cancel"}`},
		{name: "missing type", raw: `{}`, wantErr: "type is required"},
		{name: "unknown type", raw: `{"type":"nope"}`, wantErr: "unsupported"},
		{name: "render without args", raw: `{"type":"render"}`, wantErr: "without args"},
		{name: "suggestions without data", raw: `{"type":"suggestions"}`, wantErr: "without data"},
		{name: "garbage", raw: `{`, wantErr: "decode message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(tt.raw))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBothSuggestionPathsDecodeIdentically(t *testing.T) {
	async, err := DecodeMessage([]byte(`{"type":"suggestions","data":{"box_id":"bbox-2","ocr_suggestions":["cat","dog"]}}`))
	require.NoError(t, err)
	render, err := DecodeMessage([]byte(`{"type":"render","args":{"image_url":"x","ocr_suggestions":["cat","dog"],"target_box_id":"bbox-2"}}`))
	require.NoError(t, err)

	a, ok := async.SuggestionResponse()
	require.True(t, ok)
	r, ok := render.SuggestionResponse()
	require.True(t, ok)
	assert.Equal(t, a, r)

	plain, err := DecodeMessage([]byte(`{"type":"render","args":{"image_url":"x"}}`))
	require.NoError(t, err)
	_, ok = plain.SuggestionResponse()
	assert.False(t, ok, "a render without suggestions is not a response")
}

type recordingHandler struct {
	init     Message
	received chan Outbound
}

func (h *recordingHandler) Open(ctx context.Context, c *Conn) error {
	return c.Send(ctx, h.init)
}

func (h *recordingHandler) Receive(ctx context.Context, c *Conn, out Outbound) {
	h.received <- out
	if out.State != nil && out.State.RequestOCR {
		_ = c.Send(ctx, SuggestionsMessage(out.State.SelectedBoxID, []string{"cat"}))
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for message")
	}
	var zero T
	return zero
}

func TestWebsocketRoundTrip(t *testing.T) {
	h := &recordingHandler{
		init: Message{Type: TypeInit, Args: &InitArgs{
			ImageURL:  "img.png",
			ImageSize: [2]int{640, 480},
			BBoxInfo:  []types.InitialBox{{BBox: [4]float64{1, 2, 3, 4}, Label: "a"}},
		}},
		received: make(chan Outbound, 8),
	}
	srv := httptest.NewServer(NewWSServer(h, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	defer client.Close()

	init := receive(t, client.Inbound())
	assert.Equal(t, TypeInit, init.Type)
	require.NotNil(t, init.Args)
	assert.Equal(t, [2]int{640, 480}, init.Args.ImageSize)

	require.NoError(t, client.SetFrameHeight(ctx, 580))
	out := receive(t, h.received)
	assert.Equal(t, TypeFrameHeight, out.Type)
	assert.Equal(t, 580.0, out.Height)

	box := types.Box{ID: "bbox-0", X: 1, Y: 2, Width: 30, Height: 40}
	require.NoError(t, client.PushState(ctx, NewSnapshot(types.ModeDraw, []types.Box{box}, 1).ForSuggestions(box)))
	out = receive(t, h.received)
	require.NotNil(t, out.State)
	assert.Equal(t, "bbox-0", out.State.SelectedBoxID)

	reply := receive(t, client.Inbound())
	resp, ok := reply.SuggestionResponse()
	require.True(t, ok)
	assert.Equal(t, "bbox-0", resp.BoxID)
	assert.Equal(t, []string{"cat"}, resp.Suggestions)
}

func TestPushAfterCloseIsChannelError(t *testing.T) {
	h := &recordingHandler{init: Message{Type: TypeCancel}, received: make(chan Outbound, 8)}
	srv := httptest.NewServer(NewWSServer(h, nil))
	defer srv.Close()

	ctx := context.Background()
	client, err := Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	err = client.PushState(ctx, NewSnapshot(types.ModeDraw, nil, 1))
	assert.ErrorIs(t, err, ErrChannel)

	select {
	case <-client.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection did not close")
	}
}

func TestDialFailureIsChannelError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/nothing", nil)
	assert.ErrorIs(t, err, ErrChannel)
}

func TestLogHostAcceptsEverything(t *testing.T) {
	var h Host = LogHost{}
	assert.NoError(t, h.PushState(context.Background(), Snapshot{}))
	assert.NoError(t, h.SetFrameHeight(context.Background(), 10))
}
