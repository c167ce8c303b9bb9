package handler

import (
	"net/http"

	"catwatch/internal/dto"
	"catwatch/internal/logger"
	wshub "catwatch/internal/services/websocket"
	"catwatch/internal/visibility"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler handles viewer connections over WebSocket. Each viewer
// gets status, log and cycle broadcasts and reports its page visibility back.
func ViewWebsocketHandler(session Session, hub *wshub.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		viewerID := uuid.NewString()
		var greeting [][]byte
		for _, msg := range session.Greeting() {
			data, err := wshub.Encode(msg)
			if err != nil {
				logger.Error("Error encoding greeting: %v", err)
				continue
			}
			greeting = append(greeting, data)
		}

		hub.Register(connection, greeting...)
		defer hub.Unregister(connection)
		defer session.ForgetViewer(viewerID)

		logger.Info("Viewer %s connected", viewerID)

		for {
			var msg dto.Message
			if err := connection.ReadJSON(&msg); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Viewer %s disconnected normally", viewerID)
				} else {
					logger.Error("Viewer %s disconnected with error: %v", viewerID, err)
				}
				break
			}
			if msg.Type != dto.MessageVisibility {
				logger.Warning("Viewer %s sent unknown message type %q", viewerID, msg.Type)
				continue
			}
			state, err := visibility.ParseState(msg.State)
			if err != nil {
				logger.Warning("Viewer %s: %v", viewerID, err)
				continue
			}
			session.UpdateVisibility(viewerID, state)
		}
	}
}
