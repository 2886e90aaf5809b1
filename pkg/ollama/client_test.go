package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeOllama(t *testing.T, answer string, seen *api.ChatRequest) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		w.Header().Set("Content-Type", "application/x-ndjson")
		_ = json.NewEncoder(w).Encode(api.ChatResponse{
			Model:   seen.Model,
			Message: api.Message{Role: "assistant", Content: answer},
			Done:    true,
		})
	}))
}

func TestSuggestLabels(t *testing.T) {
	var seen api.ChatRequest
	srv := fakeOllama(t, "```json\n{\"labels\": [\"stop sign\", \"sign\"]}\n```", &seen)
	defer srv.Close()

	c, err := NewClient(srv.URL + "/api/chat")
	require.NoError(t, err)

	img := base64.StdEncoding.EncodeToString([]byte("not really a jpeg"))
	res, err := c.SuggestLabels(context.Background(), "minicpm-v4", "name it", img)
	require.NoError(t, err)
	assert.Equal(t, []string{"stop sign", "sign"}, res.Labels)

	require.Len(t, seen.Messages, 1)
	assert.Equal(t, "name it", seen.Messages[0].Content)
	require.Len(t, seen.Messages[0].Images, 1)
	assert.Equal(t, "not really a jpeg", string(seen.Messages[0].Images[0]))
	assert.EqualValues(t, 4096, seen.Options["num_ctx"])
}

func TestSuggestLabelsEmptyAnswer(t *testing.T) {
	var seen api.ChatRequest
	srv := fakeOllama(t, "   ", &seen)
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	_, err = c.SuggestLabels(context.Background(), "llava", "name it", "")
	assert.Error(t, err)
}

func TestSimpleQueryRejectsBadImage(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1")
	require.NoError(t, err)
	_, err = c.SimpleQuery(context.Background(), "llava", "hi", "%%%")
	assert.ErrorContains(t, err, "base64")
}

func TestNewClientValidatesURL(t *testing.T) {
	_, err := NewClient("localhost")
	assert.Error(t, err)
}
