package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"taskboard/services"
)

// WSHandler is the connection gate for the realtime channel.
type WSHandler struct {
	authService *services.AuthService
	relay       *services.Relay
}

func NewWSHandler(authService *services.AuthService, relay *services.Relay) *WSHandler {
	return &WSHandler{
		authService: authService,
		relay:       relay,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS policy is enforced at the REST layer
	},
}

// HandleWebSocket validates the connect-time token and, on success, binds
// the resolved identity to the connection and starts its pumps. Missing and
// invalid credentials get the same generic refusal, before any subscription
// state exists.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	identity, err := h.authService.VerifyToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("websocket upgrade failed: %v", err)
		return
	}

	conn := services.NewConn(h.relay, ws, identity)
	h.relay.Register(conn)

	go conn.WritePump()
	go conn.ReadPump()
}
