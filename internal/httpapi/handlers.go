package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/DoyleJ11/dungeon-lobby/internal/engine"
	"github.com/DoyleJ11/dungeon-lobby/internal/lobby"
)

type lobbyView struct {
	Clients  []string `json:"clients"`
	Capacity int      `json:"capacity"`
	Level    int      `json:"level"`
}

type sessionsView struct {
	Level  int             `json:"level"`
	Rounds []engine.Record `json:"rounds"`
}

// GetLobby reports current membership and the shared level.
func GetLobby(reg *lobby.Registry, coord *engine.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, lobbyView{
			Clients:  reg.Snapshot(),
			Capacity: reg.Capacity(),
			Level:    coord.Level(),
		})
	}
}

// GetSessions reports the recent level history, oldest first.
func GetSessions(coord *engine.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rounds := coord.History()
		if rounds == nil {
			rounds = []engine.Record{}
		}
		writeJSON(w, logger, http.StatusOK, sessionsView{Level: coord.Level(), Rounds: rounds})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("write response failed", zap.Error(err))
	}
}
