package http

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"prarambh-quiz-service/internal/app"
)

// WSHandler streams public leaderboard snapshots to connected clients.
// Score-changing handlers publish through the view; every subscriber gets
// the fresh frame.
type WSHandler struct {
	leaderboard *app.LeaderboardView
	upgrader    websocket.Upgrader
}

func NewWSHandler(leaderboard *app.LeaderboardView) *WSHandler {
	return &WSHandler{
		leaderboard: leaderboard,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type outboundMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ServeWS upgrades the connection and forwards leaderboard updates until the
// client disconnects. The first frame is the current snapshot.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel, err := h.leaderboard.Subscribe(r.Context())
	if err != nil {
		_ = conn.WriteJSON(outboundMessage{Type: "error", Payload: map[string]string{"message": "leaderboard unavailable"}})
		return
	}
	defer cancel()

	// Reader goroutine only watches for the client closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case lb, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(outboundMessage{Type: "leaderboard", Payload: lb}); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
