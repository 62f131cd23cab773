package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteSendsMessagesWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		var body struct {
			Model    string        `json:"model"`
			Messages []ChatMessage `json:"messages"`
			Stream   bool          `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "medgemma", body.Model)
		assert.False(t, body.Stream)
		assert.Len(t, body.Messages, 2)

		fmt.Fprint(w, `{"choices":[{"message":{"content":"Stay hydrated."}}]}`)
	}))
	defer srv.Close()

	gen := NewChatGenerator(NewOpenAICompatibleClient(), Endpoint{BaseURL: srv.URL + "/v1/", Model: "medgemma"})
	out, err := gen.Generate(context.Background(), []ChatMessage{
		{Role: "system", Content: "be kind"},
		{Role: "user", Content: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Stay hydrated.", out)
}

func TestCompleteSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewOpenAICompatibleClient().Complete(context.Background(), Endpoint{BaseURL: srv.URL, APIKey: "k"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestStreamCompleteConcatenatesDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Rest \"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"well\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n\n")
	}))
	defer srv.Close()

	var chunks []string
	full, err := NewOpenAICompatibleClient().StreamComplete(context.Background(), Endpoint{BaseURL: srv.URL}, nil, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Rest ", "well"}, chunks)
	assert.Equal(t, "Rest well", full)
}

func TestStreamCompleteStopsOnCallbackError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n")
	}))
	defer srv.Close()

	stop := fmt.Errorf("stop")
	calls := 0
	_, err := NewOpenAICompatibleClient().StreamComplete(context.Background(), Endpoint{BaseURL: srv.URL}, nil, func(string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestEmbedBatchOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var body struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"fever", "cough"}, body.Input)
		fmt.Fprint(w, `{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`)
	}))
	defer srv.Close()

	emb := NewEmbedder(NewOpenAICompatibleClient(), Endpoint{BaseURL: srv.URL})
	vectors, err := emb.EmbedBatch(context.Background(), []string{" fever ", "cough"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
}

func TestEmbedRejectsBlank(t *testing.T) {
	emb := NewEmbedder(NewOpenAICompatibleClient(), Endpoint{BaseURL: "http://127.0.0.1:1"})
	_, err := emb.Embed(context.Background(), "   ")
	assert.Error(t, err)
	_, err = emb.EmbedBatch(context.Background(), []string{"ok", ""})
	assert.Error(t, err)
}
