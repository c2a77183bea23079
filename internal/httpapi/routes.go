// Package httpapi serves the admin endpoints and the websocket gateway.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/dungeon-lobby/internal/engine"
	"github.com/DoyleJ11/dungeon-lobby/internal/lobby"
	"github.com/DoyleJ11/dungeon-lobby/internal/server"
	"github.com/DoyleJ11/dungeon-lobby/internal/ws"
)

type Deps struct {
	Registry     *lobby.Registry
	Coordinator  *engine.Coordinator
	Server       *server.Server
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/lobby", GetLobby(d.Registry, d.Coordinator, logger))
	r.Get("/sessions", GetSessions(d.Coordinator, logger))
	if d.Server != nil {
		r.Get("/ws", ws.Handler(d.Server, d.WriteTimeout, logger.Named("ws")))
	}
	return r
}
