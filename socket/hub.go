package socket

import (
	"agora/internal/decision/metrics"
	"agora/internal/decision/model"
	"agora/pkg/logger"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	SnapshotType        = "SNAPSHOT"         // Decision state sent to a client on join
	DecisionCreatedType = "DECISION_CREATED" // A new decision was submitted
	DecisionUpdatedType = "DECISION_UPDATED" // Owner edited a decision
	VoteCastType        = "VOTE_CAST"        // A vote was recorded, payload carries the new balance
	PresenceUpdateType  = "PRESENCE_UPDATE"  // A user joined or left

	// AllDecisions is the room that receives events for every decision.
	AllDecisions = "*"
)

type WSMessage struct {
	Type       string          `json:"type"`
	DecisionID string          `json:"decision_id"`
	UserID     string          `json:"user_id"`
	Payload    json.RawMessage `json:"payload"`
}

type UserStatus struct {
	UserID   string    `json:"user_id"`
	LastSeen time.Time `json:"last_seen"`
}

// DecisionLoader reads the state sent to clients joining a decision room.
type DecisionLoader interface {
	GetDecision(ctx context.Context, id string) (model.Decision, error)
	Balance(ctx context.Context, decisionID string) (int, error)
}

type Hub struct {
	Rooms      map[string]map[*Client]bool
	Broadcast  chan WSMessage
	Register   chan *Client
	Unregister chan *Client
	loader     DecisionLoader
	metrics    *metrics.Metrics
	mu         sync.Mutex
	Presence   map[string]map[string]UserStatus // decisionID -> userID -> status
	// conns counts open connections per user in each room; a user stays present until the last one closes.
	conns map[string]map[string]int
	done  chan struct{}
}

type Client struct {
	Hub        *Hub
	Conn       *websocket.Conn
	DecisionID string
	UserID     string
	Send       chan []byte
}

func NewHub(loader DecisionLoader, m *metrics.Metrics) *Hub {
	return &Hub{
		Rooms:      make(map[string]map[*Client]bool),
		Broadcast:  make(chan WSMessage, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		loader:     loader,
		metrics:    m,
		Presence:   make(map[string]map[string]UserStatus),
		conns:      make(map[string]map[string]int),
		done:       make(chan struct{}),
	}
}

// Publish queues msg for its room (and the all-decisions room) without blocking the caller.
func (h *Hub) Publish(msg WSMessage) {
	select {
	case h.Broadcast <- msg:
	default:
		logger.Sugar.Warnf("Broadcast queue full, dropping %s for decision %s", msg.Type, msg.DecisionID)
	}
}

// Run owns room membership until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.Register:
			h.mu.Lock()
			if h.Rooms[client.DecisionID] == nil {
				h.Rooms[client.DecisionID] = make(map[*Client]bool)
				h.Presence[client.DecisionID] = make(map[string]UserStatus)
				h.conns[client.DecisionID] = make(map[string]int)
			}
			h.Rooms[client.DecisionID][client] = true
			h.Presence[client.DecisionID][client.UserID] = UserStatus{UserID: client.UserID, LastSeen: time.Now().UTC()}
			h.conns[client.DecisionID][client.UserID]++
			h.mu.Unlock()
			h.metrics.FeedClientJoined()

			h.broadcastPresenceUpdate(client.DecisionID)

		case client := <-h.Unregister:
			h.mu.Lock()
			decisionID := client.DecisionID
			_, ok := h.Rooms[decisionID][client]
			if ok {
				delete(h.Rooms[decisionID], client)
				h.conns[decisionID][client.UserID]--
				if h.conns[decisionID][client.UserID] <= 0 {
					delete(h.conns[decisionID], client.UserID)
					delete(h.Presence[decisionID], client.UserID)
				}
				close(client.Send)

				if len(h.Rooms[decisionID]) == 0 {
					delete(h.Rooms, decisionID)
					delete(h.Presence, decisionID)
					delete(h.conns, decisionID)
					logger.Sugar.Infof("Closed empty room: %s", decisionID)
				}
			}
			roomLeft := h.Rooms[decisionID] != nil
			h.mu.Unlock()

			if ok {
				h.metrics.FeedClientLeft()
			}
			if roomLeft {
				h.broadcastPresenceUpdate(decisionID)
			}

		case msg := <-h.Broadcast:
			payload, err := json.Marshal(msg)
			if err != nil {
				logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
				continue
			}

			h.mu.Lock()
			clientsToSend := make([]*Client, 0, len(h.Rooms[msg.DecisionID])+len(h.Rooms[AllDecisions]))
			for client := range h.Rooms[msg.DecisionID] {
				clientsToSend = append(clientsToSend, client)
			}
			if msg.DecisionID != AllDecisions {
				for client := range h.Rooms[AllDecisions] {
					clientsToSend = append(clientsToSend, client)
				}
			}
			h.mu.Unlock()

			for _, client := range clientsToSend {
				select {
				case client.Send <- payload:
				default:
					// A lagging client must not block the hub; drop its connection and let readPump unregister it.
					logger.Sugar.Warnf("Client %s's send buffer is full. Disconnecting.", client.UserID)
					client.Conn.Close()
				}
			}
		}
	}
}

// RoomSize reports how many clients are connected to a room.
func (h *Hub) RoomSize(decisionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Rooms[decisionID])
}

// snapshot encodes the state a client receives when joining a decision room.
// It is called from the connecting request, never from Run.
func (h *Hub) snapshot(ctx context.Context, decisionID string) ([]byte, error) {
	d, err := h.loader.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	balance, err := h.loader.Balance(ctx, decisionID)
	if err != nil {
		return nil, fmt.Errorf("load balance of decision %s: %w", decisionID, err)
	}
	view := model.DecisionView{Decision: d, Balance: balance}
	if d.ClosedAt != nil {
		view.Closed, _ = d.IsClosed(time.Now().UTC())
	}

	viewPayload, err := json.Marshal(view)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WSMessage{Type: SnapshotType, DecisionID: decisionID, Payload: viewPayload})
}

func (h *Hub) broadcastPresenceUpdate(decisionID string) {
	var userStatuses []UserStatus
	var clientsToSend []*Client

	h.mu.Lock()
	if _, ok := h.Presence[decisionID]; ok {
		userStatuses = make([]UserStatus, 0, len(h.Presence[decisionID]))
		for _, status := range h.Presence[decisionID] {
			userStatuses = append(userStatuses, status)
		}

		clientsToSend = make([]*Client, 0, len(h.Rooms[decisionID]))
		for client := range h.Rooms[decisionID] {
			clientsToSend = append(clientsToSend, client)
		}
	}
	h.mu.Unlock()

	if len(clientsToSend) == 0 {
		return
	}

	payload, err := json.Marshal(userStatuses)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling presence broadcast: %v", err)
		return
	}
	broadcastPayload, _ := json.Marshal(WSMessage{Type: PresenceUpdateType, DecisionID: decisionID, Payload: payload})

	for _, client := range clientsToSend {
		select {
		case client.Send <- broadcastPayload:
		default:
			logger.Sugar.Warnf("Client %s's send buffer was full during presence update.", client.UserID)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.Rooms {
		for client := range clients {
			client.Conn.Close()
		}
	}
}
