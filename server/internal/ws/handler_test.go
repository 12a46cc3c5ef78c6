package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/tdzsx789/xufei-agent/internal/protocol"
)

func TestHelloThenPublishedEvent(t *testing.T) {
	hub, baseURL := startTestServer(t)

	conn := connectClient(t, baseURL)
	defer conn.Close()

	waitForSubscribers(t, hub, 1)
	hub.Publish(protocol.Message{
		Type:  protocol.TypeImageStored,
		Image: &protocol.Image{FileName: "1_a.png", OriginalName: "a.png"},
	})

	msg := readUntil(t, conn, func(m protocol.Message) bool { return m.Type == protocol.TypeImageStored })
	if msg.Image == nil || msg.Image.FileName != "1_a.png" {
		t.Fatalf("unexpected event: %#v", msg)
	}
	if msg.TS == 0 {
		t.Fatal("expected publish to stamp ts")
	}
}

func TestPingPong(t *testing.T) {
	_, baseURL := startTestServer(t)

	conn := connectClient(t, baseURL)
	defer conn.Close()

	writeMsg(t, conn, protocol.Message{Type: protocol.TypePing, TS: 42})
	msg := readUntil(t, conn, func(m protocol.Message) bool { return m.Type == protocol.TypePong })
	if msg.TS != 42 {
		t.Fatalf("expected pong ts=42, got %d", msg.TS)
	}
}

func TestUnsupportedMessage(t *testing.T) {
	_, baseURL := startTestServer(t)

	conn := connectClient(t, baseURL)
	defer conn.Close()

	writeMsg(t, conn, protocol.Message{Type: "bogus"})
	readUntil(t, conn, func(m protocol.Message) bool {
		return m.Type == protocol.TypeError && m.Error != ""
	})
}

func TestDisconnectRemovesSubscriber(t *testing.T) {
	hub, baseURL := startTestServer(t)

	conn := connectClient(t, baseURL)
	waitForSubscribers(t, hub, 1)
	_ = conn.Close()
	waitForSubscribers(t, hub, 0)

	// Publishing with no subscribers must not block or panic.
	hub.Publish(protocol.Message{Type: protocol.TypeFolderCreated})
}

func startTestServer(t *testing.T) (*Hub, string) {
	t.Helper()

	hub := NewHub()
	e := echo.New()
	NewHandler(hub, "/tmp/stored_images").Register(e)
	httpServer := httptest.NewServer(e)
	t.Cleanup(httpServer.Close)

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	return hub, wsURL
}

func connectClient(t *testing.T, baseWSURL string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(baseWSURL+"/ws", nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	hello := readUntil(t, conn, func(m protocol.Message) bool { return m.Type == protocol.TypeHello })
	if hello.Folder != "/tmp/stored_images" {
		t.Fatalf("unexpected hello folder %q", hello.Folder)
	}
	return conn
}

func writeMsg(t *testing.T, conn *websocket.Conn, msg protocol.Message) {
	t.Helper()
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write json: %v", err)
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(protocol.Message) bool) protocol.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(4 * time.Second))
	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func waitForSubscribers(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Count() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d subscribers, have %d", want, hub.Count())
}
