package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/medical/points/search", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":[
			{"id":7,"score":0.91,"payload":{"completion":"Drink water."}},
			{"id":"a-b","score":0.42,"payload":{"completion":"Rest."}}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL + "/", APIKey: "secret", Collection: "medical"})
	matches, err := c.Search(context.Background(), []float32{0.1, 0.2}, 2)
	require.NoError(t, err)

	require.Len(t, matches, 2)
	assert.Equal(t, "7", matches[0].ID)
	assert.Equal(t, "a-b", matches[1].ID)
	assert.InDelta(t, 0.91, matches[0].Score, 1e-9)
	assert.Equal(t, "Drink water.", matches[0].Payload["completion"])
	assert.Equal(t, float64(2), got["limit"])
	assert.Equal(t, true, got["with_payload"])
}

func TestSearchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, Collection: "medical"})
	_, err := c.Search(context.Background(), []float32{1}, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
