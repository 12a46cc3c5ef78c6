package ws

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/tdzsx789/xufei-agent/internal/protocol"
)

const (
	writeTimeout = 5 * time.Second

	// SendTimeout bounds how long a publish may block on one subscriber.
	SendTimeout = 50 * time.Millisecond

	sendBuffer = 32
)

type subscriber struct {
	send chan protocol.Message
}

// Hub fans events out to every connected websocket.
type Hub struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish delivers msg to every subscriber. Slow subscribers miss the event
// rather than stall the publisher.
func (h *Hub) Publish(msg protocol.Message) {
	if msg.TS == 0 {
		msg.TS = time.Now().UnixMilli()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.send <- msg:
		case <-time.After(SendTimeout):
			slog.Warn("ws subscriber too slow, dropping event", "type", msg.Type)
		}
	}
}

func (h *Hub) add() *subscriber {
	sub := &subscriber{send: make(chan protocol.Message, sendBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.send)
	}
	h.mu.Unlock()
}

// Handler owns websocket transport for the event feed.
type Handler struct {
	hub      *Hub
	folder   string
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler publishing from hub. folder is
// reported in the hello message.
func NewHandler(hub *Hub, folder string) *Handler {
	return &Handler{
		hub:    hub,
		folder: folder,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds websocket routes on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.serveConn(conn)
	return nil
}

func (h *Handler) serveConn(conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(1 << 16)

	sub := h.hub.add()
	defer h.hub.remove(sub)
	slog.Debug("ws subscriber connected", "remote", conn.RemoteAddr().String(), "subscribers", h.hub.Count())

	// Everything sent to this connection goes through sub.send so writes stay
	// on one goroutine.
	sub.send <- protocol.Message{Type: protocol.TypeHello, Folder: h.folder, TS: time.Now().UnixMilli()}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for out := range sub.send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(out); err != nil {
				return
			}
		}
	}()

	for {
		var in protocol.Message
		if err := conn.ReadJSON(&in); err != nil {
			slog.Debug("ws subscriber disconnected", "err", err)
			return
		}
		reply := protocol.Message{Type: protocol.TypeError, Error: "unsupported message type"}
		if in.Type == protocol.TypePing {
			reply = protocol.Message{Type: protocol.TypePong, TS: in.TS}
		}
		select {
		case sub.send <- reply:
		case <-writerDone:
			return
		}
	}
}
