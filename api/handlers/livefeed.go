package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/civicgrid/civic-issues-api/models"
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the feed carries public data only
	},
}

// LiveFeed pushes lifecycle transitions to connected dashboard clients.
// Viewers are anonymous; there is no per-user routing, every event goes to
// every socket.
type LiveFeed struct {
	clients map[string]*websocket.Conn
	mutex   sync.Mutex
}

// TransitionEvent is the wire format of one lifecycle change.
type TransitionEvent struct {
	IssueID    string             `json:"issueId"`
	FromStatus models.IssueStatus `json:"fromStatus"`
	ToStatus   models.IssueStatus `json:"toStatus"`
	Timestamp  time.Time          `json:"timestamp"`
}

// NewLiveFeed creates an empty feed hub.
func NewLiveFeed() *LiveFeed {
	return &LiveFeed{
		clients: make(map[string]*websocket.Conn),
	}
}

// ServeWS upgrades the connection and registers the client.
func (f *LiveFeed) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Errorf("WebSocket upgrade error: %v", err)
		return
	}

	clientID := uuid.New().String()

	f.mutex.Lock()
	f.clients[clientID] = conn
	f.mutex.Unlock()
	zap.S().Debugf("client %s connected to /live", clientID)

	conn.SetCloseHandler(func(code int, text string) error {
		f.mutex.Lock()
		delete(f.clients, clientID)
		f.mutex.Unlock()
		zap.S().Debugf("client %s disconnected from /live", clientID)
		return nil
	})

	// Keep connection alive; the feed is write-only, inbound frames are
	// drained and dropped.
	for {
		if _, _, err := conn.NextReader(); err != nil {
			conn.Close()
			f.mutex.Lock()
			delete(f.clients, clientID)
			f.mutex.Unlock()
			break
		}
	}
}

// BroadcastTransition pushes one lifecycle change to all connected clients.
// Send failures drop the client; they never fail the transition itself.
func (f *LiveFeed) BroadcastTransition(issueID string, from, to models.IssueStatus) {
	event := TransitionEvent{
		IssueID:    issueID,
		FromStatus: from,
		ToStatus:   to,
		Timestamp:  time.Now(),
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()

	for clientID, conn := range f.clients {
		err := conn.WriteJSON(map[string]interface{}{
			"event": "issue_transition",
			"data":  event,
		})
		if err != nil {
			zap.S().Debugf("dropping live feed client %s: %v", clientID, err)
			delete(f.clients, clientID)
			conn.Close()
		}
	}
}
