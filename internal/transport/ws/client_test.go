package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbell/internal/eventbus"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func TestEndpointDerivesScheme(t *testing.T) {
	cases := map[string]string{
		"http://tasks.local:8000":         "ws://tasks.local:8000/ws/notifications/",
		"https://tasks.example.com/a?b=1": "wss://tasks.example.com/ws/notifications/",
		"wss://push.example.com":          "wss://push.example.com/ws/notifications/",
	}
	for base, want := range cases {
		got, err := Endpoint(base, "")
		require.NoError(t, err, base)
		assert.Equal(t, want, got)
	}

	_, err := Endpoint("ftp://x", "")
	assert.ErrorIs(t, err, ErrBadBaseURL)
	_, err = Endpoint("http://", "")
	assert.ErrorIs(t, err, ErrBadBaseURL)
}

func TestClientDeliversTextFramesInOrder(t *testing.T) {
	var gotCookie, gotOrigin, gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie.Store(r.Header.Get("Cookie"))
		gotOrigin.Store(r.Header.Get("Origin"))
		gotPath.Store(r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"one"}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"two"}`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	bus := eventbus.New()
	states, unsub := bus.Subscribe(16)
	defer unsub()

	c, err := New(Config{BaseURL: srv.URL, Cookie: "sessionid=abc"}, WithBus(bus))
	require.NoError(t, err)

	out := make(chan []byte, 4)
	require.NoError(t, c.Start(context.Background(), out))
	defer func() { _ = c.Stop(context.Background()) }()

	var frames []string
	for range 2 {
		select {
		case b := <-out:
			frames = append(frames, string(b))
		case <-time.After(2 * time.Second):
			t.Fatal("frame not delivered")
		}
	}
	assert.Equal(t, []string{`{"message":"one"}`, `{"message":"two"}`}, frames)
	require.Eventually(t, func() bool { return c.State() == StateClosed }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "sessionid=abc", gotCookie.Load())
	assert.Equal(t, srv.URL, gotOrigin.Load())
	assert.Equal(t, DefaultPath, gotPath.Load())
	assert.Equal(t, uint64(2), c.Frames())

	require.Eventually(t, func() bool { return len(states) >= 3 }, time.Second, 5*time.Millisecond)
	var seen []State
	for len(states) > 0 {
		ev := <-states
		seen = append(seen, ev.Data.(StateChange).State)
	}
	assert.Equal(t, []State{StateConnecting, StateOpen, StateClosed}, seen)
}

func TestClientDoesNotReconnectByDefault(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background(), make(chan []byte, 1)))
	defer func() { _ = c.Stop(context.Background()) }()

	require.Eventually(t, func() bool {
		s := c.State()
		return s == StateFailed || s == StateClosed
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), dials.Load())
}

func TestClientReconnectGivesUpAfterBudget(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c, err := New(Config{
		BaseURL: srv.URL,
		Reconnect: ReconnectConfig{
			Enabled:     true,
			MinBackoff:  time.Millisecond,
			MaxBackoff:  5 * time.Millisecond,
			MaxAttempts: 2,
		},
	})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background(), make(chan []byte, 1)))
	defer func() { _ = c.Stop(context.Background()) }()

	require.Eventually(t, func() bool {
		snap := c.Supervisor().Snapshot()
		return snap.Active == 0 && dials.Load() == 3
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateFailed, c.State())
}

func TestStopClosesOpenConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background(), make(chan []byte)))
	require.Eventually(t, func() bool { return c.State() == StateOpen }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, StateDisconnected, c.State())
}
