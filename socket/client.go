package socket

import (
	"agora/internal/decision/model"
	"agora/pkg/logger"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 2 * pingPeriod
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWs subscribes the caller to a decision room, or to every decision when decisionId is "*".
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, userID string) {
	decisionID := r.URL.Query().Get("decisionId")
	if decisionID == "" {
		http.Error(w, "Missing decisionId parameter", http.StatusBadRequest)
		return
	}

	var snapshot []byte
	if decisionID != AllDecisions {
		var err error
		snapshot, err = hub.snapshot(r.Context(), decisionID)
		if err != nil {
			if errors.Is(err, model.ErrDecisionNotFound) {
				logger.Sugar.Warnf("Connection rejected: Decision %s not found", decisionID)
				http.Error(w, "Decision not found", http.StatusNotFound)
				return
			}
			logger.Sugar.Errorf("Database error loading decision %s: %v", decisionID, err)
			http.Error(w, "Database error", http.StatusInternalServerError)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	client := &Client{
		Hub:        hub,
		Conn:       conn,
		DecisionID: decisionID,
		UserID:     userID,
		Send:       make(chan []byte, 256),
	}
	if snapshot != nil {
		// Queued before registration so it is the first message the client sees.
		client.Send <- snapshot
	}

	select {
	case hub.Register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump drains inbound frames so pongs and close frames are processed. The feed is read-only,
// so any data message from the client is discarded.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
