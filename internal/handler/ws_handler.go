package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"roomchat/internal/pkg/logx"
)

// HandleWebSocket upgrades the request and hands the connection to the chat service.
// An optional ?token= authenticates the connection before its first event.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		logx.Debug("WebSocket connection established", "authenticated", token != "")

		// The request context ends when the handler returns, which is after the read pump exits.
		deps.Chat.Serve(r.Context(), conn, token)
	}
}
