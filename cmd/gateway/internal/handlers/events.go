package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/streaming"
)

const (
	subscriberBuffer = 256
	pingInterval     = 20 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventsHandler streams roster changes over WebSocket.
type EventsHandler struct {
	mgr    *streaming.Manager
	logger *zap.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(mgr *streaming.Manager, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		mgr:    mgr,
		logger: logger,
	}
}

// Stream handles GET /activities/events.
// Query: activity=<name> limits the stream to one activity, last_event_id=<n>
// replays buffered events after n first.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	topic := streaming.AllTopic
	if a := r.URL.Query().Get("activity"); a != "" {
		topic = a
	}
	var lastID uint64
	if q := r.URL.Query().Get("last_event_id"); q != "" {
		n, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			http.Error(w, "invalid last_event_id", http.StatusBadRequest)
			return
		}
		lastID = n
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// subscribe before replaying so nothing published in between is lost
	ch := h.mgr.Subscribe(topic, subscriberBuffer)
	defer h.mgr.Unsubscribe(topic, ch)

	sent := lastID
	if lastID > 0 {
		for _, ev := range h.mgr.ReplaySince(topic, lastID) {
			if err := h.write(conn, ev); err != nil {
				return
			}
			sent = ev.Seq
		}
	}

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	// reader pump: client messages are discarded, a read error ends the stream
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Seq <= sent {
				continue
			}
			if err := h.write(conn, ev); err != nil {
				return
			}
			sent = ev.Seq
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *EventsHandler) write(conn *websocket.Conn, ev streaming.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(ev); err != nil {
		h.logger.Debug("Stream write failed", zap.Error(err))
		return err
	}
	return nil
}
