package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// recorder collects transport events.
type recorder struct {
	mu       sync.Mutex
	opened   chan struct{}
	closed   chan struct{}
	messages []string
	errs     []error
	code     int
}

func newRecorder() *recorder {
	return &recorder{
		opened: make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (r *recorder) events() Events {
	return Events{
		OnOpen: func() { close(r.opened) },
		OnMessage: func(data []byte) {
			r.mu.Lock()
			r.messages = append(r.messages, string(data))
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnClose: func(code int, reason string) {
			r.mu.Lock()
			r.code = code
			r.mu.Unlock()
			close(r.closed)
		},
	}
}

func (r *recorder) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %s", what)
	}
}

func TestWebSocket_OpenAndClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	ws := NewWebSocket(DefaultWebSocketConfig(), nil)
	rec := newRecorder()
	ws.Open(wsURL(server), rec.events())
	waitFor(t, rec.opened, "open")

	require.NoError(t, ws.Close(CloseNormal, "bye"))
	waitFor(t, rec.closed, "close")

	assert.ErrorIs(t, ws.Send([]byte("x")), ErrClosed)
	assert.NoError(t, ws.Close(CloseNormal, "again"), "second close is a no-op")
}

func TestWebSocket_SendAndReceive(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			// Echo twice so ordering is observable
			conn.WriteMessage(websocket.TextMessage, append([]byte("1:"), msg...))
			conn.WriteMessage(websocket.TextMessage, append([]byte("2:"), msg...))
		}
	})
	defer server.Close()

	ws := NewWebSocket(DefaultWebSocketConfig(), nil)
	rec := newRecorder()
	ws.Open(wsURL(server), rec.events())
	waitFor(t, rec.opened, "open")
	defer ws.Close(CloseNormal, "")

	require.NoError(t, ws.Send([]byte(`{"test":"message"}`)))

	require.Eventually(t, func() bool { return len(rec.received()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{`1:{"test":"message"}`, `2:{"test":"message"}`}, rec.received())
}

func TestWebSocket_SendBeforeOpen(t *testing.T) {
	ws := NewWebSocket(DefaultWebSocketConfig(), nil)
	assert.ErrorIs(t, ws.Send([]byte("x")), ErrNotOpen)
	assert.ErrorIs(t, ws.Ping(), ErrNotOpen)
}

func TestWebSocket_DialFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(server)
	server.Close()

	ws := NewWebSocket(DefaultWebSocketConfig(), nil)
	rec := newRecorder()
	ws.Open(url, rec.events())
	waitFor(t, rec.closed, "close after failed dial")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.errs, 1)
	assert.Equal(t, CloseAbnormal, rec.code)
	select {
	case <-rec.opened:
		t.Fatal("open must not be reported for a failed dial")
	default:
	}
}

func TestWebSocket_ServerClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4001, "going away"))
		time.Sleep(50 * time.Millisecond)
	})
	defer server.Close()

	ws := NewWebSocket(DefaultWebSocketConfig(), nil)
	rec := newRecorder()
	ws.Open(wsURL(server), rec.events())
	waitFor(t, rec.closed, "close")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 4001, rec.code)
	assert.Empty(t, rec.errs, "a clean close frame is not an error")
}

func TestWebSocket_PingPong(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// The default ping handler answers with a pong while reading
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := DefaultWebSocketConfig()
	cfg.PongTimeout = time.Minute
	ws := NewWebSocket(cfg, nil)
	rec := newRecorder()
	ws.Open(wsURL(server), rec.events())
	waitFor(t, rec.opened, "open")
	defer ws.Close(CloseNormal, "")

	assert.NoError(t, ws.Ping())
}

func TestWebSocket_StalePing(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := DefaultWebSocketConfig()
	cfg.PongTimeout = time.Nanosecond
	ws := NewWebSocket(cfg, nil)
	rec := newRecorder()
	ws.Open(wsURL(server), rec.events())
	waitFor(t, rec.opened, "open")
	defer ws.Close(CloseNormal, "")

	time.Sleep(time.Millisecond)
	assert.ErrorIs(t, ws.Ping(), ErrStaleConnection)
}
