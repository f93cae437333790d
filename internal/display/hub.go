package display

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/VladislavPavlyuk/timeserver/internal/protocol"
)

const (
	writeTimeout  = 5 * time.Second
	viewerBacklog = 4
)

// viewer is one WebSocket connection watching the feed
type viewer struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans every broadcast tick out to connected WebSocket viewers.
// The viewer set is owned by the Run loop; other goroutines talk to it
// through channels.
type Hub struct {
	logger *slog.Logger

	viewers    map[*viewer]bool
	register   chan *viewer
	unregister chan *viewer
	broadcast  chan []byte
	done       chan struct{}

	count    atomic.Int64
	upgrader websocket.Upgrader
}

// NewHub creates a hub; call Run to start delivering
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		viewers:    make(map[*viewer]bool),
		register:   make(chan *viewer),
		unregister: make(chan *viewer),
		broadcast:  make(chan []byte, 16),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  256,
			WriteBufferSize: 1024,
			// Viewers are read-only; any origin may watch the clock
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run delivers published messages until ctx is cancelled, then closes every viewer
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for v := range h.viewers {
				close(v.send)
				delete(h.viewers, v)
			}
			h.count.Store(0)
			return

		case v := <-h.register:
			h.viewers[v] = true
			h.count.Store(int64(len(h.viewers)))

		case v := <-h.unregister:
			if _, ok := h.viewers[v]; ok {
				close(v.send)
				delete(h.viewers, v)
				h.count.Store(int64(len(h.viewers)))
			}

		case message := <-h.broadcast:
			for v := range h.viewers {
				select {
				case v.send <- message:
				default:
					// Slow viewer, drop it
					close(v.send)
					delete(h.viewers, v)
				}
			}
			h.count.Store(int64(len(h.viewers)))
		}
	}
}

// Publish queues msg for every viewer. It never blocks the broadcaster.
func (h *Hub) Publish(msg protocol.TimeMessage) {
	data, err := msg.Encode()
	if err != nil {
		h.logger.Error("Failed to encode display message", slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Debug("Display feed backlog full, dropping tick", slog.String("time", msg.Time))
	}
}

// ViewerCount returns the number of connected viewers
func (h *Hub) ViewerCount() int {
	return int(h.count.Load())
}

// ServeHTTP upgrades the request and attaches the connection as a viewer
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	v := &viewer{conn: conn, send: make(chan []byte, viewerBacklog)}

	select {
	case h.register <- v:
	case <-h.done:
		conn.Close()
		return
	}

	h.logger.Debug("Display viewer connected", slog.String("remote_addr", r.RemoteAddr))

	go h.writePump(v)
	go h.readPump(v)
}

func (h *Hub) writePump(v *viewer) {
	defer v.conn.Close()

	for message := range v.send {
		v.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := v.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			h.drop(v)
			// Drain until the hub closes the channel
			for range v.send {
			}
			return
		}
	}

	v.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	v.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump only watches for the viewer going away
func (h *Hub) readPump(v *viewer) {
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			h.drop(v)
			return
		}
	}
}

func (h *Hub) drop(v *viewer) {
	select {
	case h.unregister <- v:
	case <-h.done:
	}
}
