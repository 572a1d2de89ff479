package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"wbcscan/internal/logger"
	"wbcscan/internal/service"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ProgressWebsocketHandler registers a viewer in the HubService so it receives
// detection and upload progress events. Messages sent by the viewer are ignored.
func ProgressWebsocketHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		hub := manager.GetWebsocketService()
		hub.Register(connection, currentUserID(r))
		defer hub.Unregister(connection)

		logger.Info("Progress viewer connected for user %d", currentUserID(r))

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Progress viewer disconnected normally")
				} else {
					logger.Warning("Progress viewer disconnected: %v", err)
				}
				break
			}
		}
	}
}
