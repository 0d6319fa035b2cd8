package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// echoServer upgrades every connection and forwards whatever bytes it reads
// verbatim to a channel the test can assert against, so the test drives the
// protocol from the client side without needing a full server stand-in.
func echoServer(t *testing.T, received chan<- []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case received <- data:
			default:
			}
		}
	}))
}

func TestSocket_ConnectAndSend(t *testing.T) {
	received := make(chan []byte, 4)
	srv := echoServer(t, received)
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	router := NewRouter(nil)
	defer router.Close()
	sock := NewSocket(cfg, router)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sock.Connect(ctx))
	require.Equal(t, Connected, sock.State())

	require.NoError(t, sock.Send(EncodeSub("feed-1", "bm0"), PriorityNormal))

	select {
	case data := <-received:
		require.Equal(t, EncodeSub("feed-1", "bm0"), string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the queued message")
	}
}

func TestSocket_CloseTransitionsToDisconnected(t *testing.T) {
	received := make(chan []byte, 4)
	srv := echoServer(t, received)
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.CloseTimeout = 200 * time.Millisecond
	router := NewRouter(nil)
	defer router.Close()
	sock := NewSocket(cfg, router)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sock.Connect(ctx))

	require.NoError(t, sock.Close())
	require.Equal(t, Disconnected, sock.State())
}

func TestSocket_SubscribeTracksActiveFeedForResubscribe(t *testing.T) {
	received := make(chan []byte, 4)
	srv := echoServer(t, received)
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	router := NewRouter(nil)
	defer router.Close()
	sock := NewSocket(cfg, router)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sock.Connect(ctx))
	require.NoError(t, sock.Subscribe("feed-1", "bm0"))

	<-received // drain the SUB send itself

	sock.mu.Lock()
	bookmark, ok := sock.activeSubs["feed-1"]
	sock.mu.Unlock()
	require.True(t, ok)
	require.Equal(t, "bm0", bookmark)
}

func TestBackoffDelay_DoublesThenCaps(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{10, 30 * time.Second},
	}
	for _, c := range cases {
		if got := backoffDelay(c.attempt); got != c.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestIsPingPong(t *testing.T) {
	require.True(t, isPingPong(`{"type":"ping","timestamp":1}`))
	require.True(t, isPingPong(`{"type":"pong","timestamp":1}`))
	require.False(t, isPingPong(`SUB`))
	require.False(t, isPingPong(`{"type":"other"}`))
}
