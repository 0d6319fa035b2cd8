package netadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/latticefact/runtime/internal/facts"
	"github.com/latticefact/runtime/internal/httpfetch"
	"github.com/stretchr/testify/require"
)

func TestAdapter_StreamFallsBackToHTTPWhenNoSocket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"references":[],"bookmark":"bm1"}` + "\n"))
	}))
	defer srv.Close()

	httpClient := httpfetch.NewClient(httpfetch.DefaultConfig(srv.URL))
	a := New(httpClient, nil, nil)

	ch, err := a.Stream(context.Background(), "f1", "bm0")
	require.NoError(t, err)
	chunk := <-ch
	require.Equal(t, "bm1", chunk.Bookmark)
}

func TestAdapter_WhichExistAndLoadDelegateToHTTP(t *testing.T) {
	ref := facts.Reference{Type: "Post", Hash: "abc"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Facts []facts.Envelope `json:"facts"`
		}{Facts: []facts.Envelope{{Fact: facts.Fact{Type: ref.Type, Hash: ref.Hash, Fields: map[string]facts.FieldValue{}, Predecessors: map[string]facts.Predecessor{}}}}})
	}))
	defer srv.Close()

	httpClient := httpfetch.NewClient(httpfetch.DefaultConfig(srv.URL))
	a := New(httpClient, nil, nil)

	existing, err := a.WhichExist(context.Background(), []facts.Reference{ref})
	require.NoError(t, err)
	require.Equal(t, []facts.Reference{ref}, existing)

	envs, err := a.Load(context.Background(), []facts.Reference{ref})
	require.NoError(t, err)
	require.Len(t, envs, 1)
}
