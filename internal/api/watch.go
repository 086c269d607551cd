/**
 * @description
 * WebSocket endpoint that streams subscription changes to the signed-in
 * user. On connect the current record (or null) is sent, then every change
 * observed by the service follows as an update message.
 */
package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veltra/subscription-service/internal/domain"
)

const (
	watchWriteWait  = 10 * time.Second
	watchPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Browser origins are already filtered by the CORS layer.
		return true
	},
}

// watchMessage is the envelope pushed to watch clients. Subscription is null
// when the user has none.
type watchMessage struct {
	Type         string               `json:"type"`
	Subscription *domain.Subscription `json:"subscription"`
}

func (h *Handler) handleWatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade watch connection for user %s: %v", userID, err)
		return
	}
	defer conn.Close()

	changes, cancel := h.service.Watch(userID)
	defer cancel()

	current, err := h.service.FetchSubscription(r.Context(), userID)
	if err != nil {
		log.Printf("Failed to load current subscription for watcher %s: %v", userID, err)
	}
	if err := writeWatchMessage(conn, watchMessage{Type: "current", Subscription: current}); err != nil {
		return
	}

	// Inbound frames are discarded; the read loop only notices the peer
	// going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(watchPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case sub, ok := <-changes:
			if !ok {
				return
			}
			if err := writeWatchMessage(conn, watchMessage{Type: "update", Subscription: sub}); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeWatchMessage(conn *websocket.Conn, msg watchMessage) error {
	conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
	return conn.WriteJSON(msg)
}
