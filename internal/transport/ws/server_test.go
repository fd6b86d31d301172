package ws

import (
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialTest(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitSubscribers(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers() != want {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", h.Subscribers(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastReachesAllSubscribers(t *testing.T) {
	h := NewHub(log.New(io.Discard, "", 0))
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	c1 := dialTest(t, srv)
	defer c1.Close()
	c2 := dialTest(t, srv)
	defer c2.Close()
	waitSubscribers(t, h, 2)

	h.Broadcast([]byte(`{"event":"tick:complete"}`))

	for i, conn := range []*websocket.Conn{c1, c2} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("conn %d read: %v", i, err)
		}
		if kind != websocket.TextMessage || string(msg) != `{"event":"tick:complete"}` {
			t.Fatalf("conn %d got %d %q", i, kind, msg)
		}
	}
}

func TestHub_UnregistersOnClose(t *testing.T) {
	h := NewHub(log.New(io.Discard, "", 0))
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	conn := dialTest(t, srv)
	waitSubscribers(t, h, 1)
	conn.Close()
	waitSubscribers(t, h, 0)

	// Broadcasting into an empty hub is a no-op, not a panic.
	h.Broadcast([]byte("frame"))
}

func TestHub_SlowClientDoesNotStallBroadcast(t *testing.T) {
	h := NewHub(log.New(io.Discard, "", 0))
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	conn := dialTest(t, srv)
	defer conn.Close()
	waitSubscribers(t, h, 1)

	// Far more frames than one queue holds while the client reads
	// nothing. The writer may drain a few, but most overflow.
	for i := 0; i < subQueue*10; i++ {
		h.Broadcast([]byte{byte('a' + i%26)})
	}

	// The connection must survive and still deliver recent frames.
	h.Broadcast([]byte("final"))
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read after overflow: %v", err)
		}
		if string(msg) == "final" {
			return
		}
	}
}
