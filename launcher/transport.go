package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tdzsx789/xufei-agent/internal/protocol"
)

const (
	// connectTimeout bounds the websocket handshake with the image service.
	connectTimeout = 10 * time.Second

	// pingInterval is how often the feed checks that the service is alive.
	pingInterval = 30 * time.Second

	writeTimeout = 5 * time.Second
)

// ServiceFeed follows the image service's /ws event stream. Callbacks must
// be registered via Set* methods before calling Connect.
type ServiceFeed struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc

	writeMu sync.Mutex

	cbMu            sync.RWMutex
	onImageStored   func(protocol.Image, int)
	onFolderCreated func(string)
	onDisconnected  func()
}

// NewServiceFeed returns an unconnected feed.
func NewServiceFeed() *ServiceFeed {
	return &ServiceFeed{}
}

func (f *ServiceFeed) SetOnImageStored(fn func(protocol.Image, int)) {
	f.cbMu.Lock()
	f.onImageStored = fn
	f.cbMu.Unlock()
}

func (f *ServiceFeed) SetOnFolderCreated(fn func(string)) {
	f.cbMu.Lock()
	f.onFolderCreated = fn
	f.cbMu.Unlock()
}

func (f *ServiceFeed) SetOnDisconnected(fn func()) {
	f.cbMu.Lock()
	f.onDisconnected = fn
	f.cbMu.Unlock()
}

// Connected reports whether the feed holds a live connection.
func (f *ServiceFeed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn != nil
}

// Connect dials ws://addr/ws and starts reading events.
func (f *ServiceFeed) Connect(ctx context.Context, addr string) error {
	if f.Connected() {
		return fmt.Errorf("already connected")
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, connectTimeout)
	defer dialCancel()

	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.conn = conn
	f.cancel = cancel
	f.mu.Unlock()

	go f.readLoop(ctx, conn)
	go f.pingLoop(ctx, conn)
	return nil
}

// Close ends the connection without firing onDisconnected.
func (f *ServiceFeed) Close() {
	f.mu.Lock()
	conn, cancel := f.conn, f.cancel
	f.conn, f.cancel = nil, nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		f.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		f.writeMu.Unlock()
		_ = conn.Close()
	}
}

func (f *ServiceFeed) write(conn *websocket.Conn, msg protocol.Message) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

func (f *ServiceFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.write(conn, protocol.Message{Type: protocol.TypePing, TS: time.Now().UnixMilli()}); err != nil {
				slog.Debug("[feed] ping", "err", err)
				return
			}
		}
	}
}

// readLoop dispatches events until the connection drops. A drop that was
// not requested through Close fires onDisconnected.
func (f *ServiceFeed) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			f.mu.Lock()
			owned := f.conn == conn
			if owned {
				f.conn = nil
				if f.cancel != nil {
					f.cancel()
					f.cancel = nil
				}
			}
			f.mu.Unlock()
			_ = conn.Close()

			if owned && ctx.Err() == nil {
				slog.Warn("[feed] connection lost", "err", err)
				f.cbMu.RLock()
				onDisconnected := f.onDisconnected
				f.cbMu.RUnlock()
				if onDisconnected != nil {
					onDisconnected()
				}
			}
			return
		}

		f.cbMu.RLock()
		onImageStored := f.onImageStored
		onFolderCreated := f.onFolderCreated
		f.cbMu.RUnlock()

		switch msg.Type {
		case protocol.TypeHello:
			slog.Info("[feed] connected", "folder", msg.Folder)
		case protocol.TypeImageStored:
			if msg.Image != nil && onImageStored != nil {
				onImageStored(*msg.Image, msg.Total)
			}
		case protocol.TypeFolderCreated:
			if onFolderCreated != nil {
				onFolderCreated(msg.Folder)
			}
		case protocol.TypePong:
		case protocol.TypeError:
			slog.Warn("[feed] service error", "error", msg.Error)
		default:
			slog.Debug("[feed] unknown message", "type", msg.Type)
		}
	}
}

// connectWhenReady keeps dialing until the freshly spawned service accepts
// the connection or wait elapses.
func connectWhenReady(ctx context.Context, feed Feed, addr string, wait, every time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		err := feed.Connect(ctx, addr)
		if err == nil {
			return nil
		}
		if time.Now().Add(every).After(deadline) {
			return fmt.Errorf("image service not reachable at %s: %w", addr, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(every):
		}
	}
}
