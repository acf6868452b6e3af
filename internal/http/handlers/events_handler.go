// README: Websocket stream of a user's session events.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"trail/internal/modules/session"
)

const (
	sendBuffer   = 64
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

type EventsHandler struct {
	sessions *session.Manager
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewEventsHandler accepts any origin when allowOrigin is nil; the stream
// is authenticated by token, not by cookie.
func NewEventsHandler(sessions *session.Manager, logger *slog.Logger, allowOrigin func(*http.Request) bool) *EventsHandler {
	if allowOrigin == nil {
		allowOrigin = func(*http.Request) bool { return true }
	}
	return &EventsHandler{
		sessions: sessions,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     allowOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

type eventClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (cl *eventClient) stop() {
	cl.once.Do(func() { close(cl.done) })
}

// enqueue runs on the publisher's goroutine. A client that cannot keep up
// is disconnected rather than slowing the session down.
func (cl *eventClient) enqueue(data []byte) {
	select {
	case <-cl.done:
	case cl.send <- data:
	default:
		cl.stop()
	}
}

// Stream upgrades the request and forwards every bus event. The latest
// value of each state is replayed first so a client starts consistent.
func (h *EventsHandler) Stream(c *gin.Context) {
	uid := callerID(c)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("user_id", uid.String()), slog.Any("err", err))
		return
	}

	cl := &eventClient{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
	forward := func(e session.Event) {
		data, err := json.Marshal(e)
		if err != nil {
			h.logger.Error("marshal session event", slog.String("type", string(e.Type)), slog.Any("err", err))
			return
		}
		cl.enqueue(data)
	}

	// Latest is read after subscribing: it already reflects any event
	// delivered in between, so at worst the client sees a value twice.
	latest, unsubscribe := h.sessions.Subscribe(uid, forward)
	for _, e := range latest {
		forward(e)
	}

	go cl.readPump()
	cl.writePump()
	unsubscribe()
	h.logger.Debug("event stream closed", slog.String("user_id", uid.String()))
}

func (cl *eventClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()

	for {
		select {
		case data := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				cl.stop()
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cl.stop()
				return
			}
		case <-cl.done:
			_ = cl.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// readPump only services control frames; clients send nothing meaningful.
func (cl *eventClient) readPump() {
	defer cl.stop()

	cl.conn.SetReadLimit(512)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}
