// Package ws exposes the lobby protocol to browser clients over websockets.
package ws

import (
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/dungeon-lobby/internal/server"
)

// Handler upgrades the request and runs the lobby protocol on it until the
// client goes away. Each websocket gets the same handler state machine as a
// TCP connection and counts against the same lobby.
func Handler(srv *server.Server, writeTimeout time.Duration, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			logger.Debug("websocket accept failed", zap.Error(err))
			return
		}

		conn := NewConn(c, writeTimeout, logger)
		logger.Debug("websocket connected", zap.String("conn_id", conn.ID()), zap.String("remote", r.RemoteAddr))
		srv.ServeStream(r.Context(), conn)
	}
}
