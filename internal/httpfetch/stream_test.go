package httpfetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClient_Stream_DecodesNDJSONChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/feeds/f1/stream", r.URL.Path)
		require.Equal(t, "bm0", r.URL.Query().Get("b"))
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"references":[{"type":"Post","hash":"abc"}],"bookmark":"bm1"}`)
		fmt.Fprintln(w, `{"references":[],"bookmark":"bm2"}`)
	}))
	defer srv.Close()

	c := NewClient(DefaultConfig(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, err := c.Stream(ctx, "f1", "bm0")
	require.NoError(t, err)

	first := <-ch
	require.Equal(t, "bm1", first.Bookmark)
	require.Len(t, first.Refs, 1)

	second := <-ch
	require.Equal(t, "bm2", second.Bookmark)
	require.Empty(t, second.Refs)

	_, ok := <-ch
	require.False(t, ok)
}
