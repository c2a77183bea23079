package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/dungeon-lobby/internal/engine"
	"github.com/DoyleJ11/dungeon-lobby/internal/lobby"
	"github.com/DoyleJ11/dungeon-lobby/internal/protocol"
	"github.com/DoyleJ11/dungeon-lobby/internal/transport"
)

// Stream is a live client connection as seen by the handler. Both the TCP
// transport and the websocket gateway implement it.
type Stream interface {
	lobby.Handle
	ID() string
	Receive(ctx context.Context) (protocol.Message, error)
}

type connState int

const (
	stateConnected connState = iota
	stateJoined
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnected:
		return "connected"
	case stateJoined:
		return "joined"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// connHandler runs the protocol for one stream. state and clientID are only
// touched from the goroutine running run; cleanup is guarded by a Once so
// every exit path releases the stream exactly once.
type connHandler struct {
	stream      Stream
	registry    *lobby.Registry
	coordinator *engine.Coordinator
	logger      *zap.Logger

	state    connState
	clientID string

	cleanupOnce sync.Once
}

func newConnHandler(st Stream, reg *lobby.Registry, coord *engine.Coordinator, logger *zap.Logger) *connHandler {
	return &connHandler{
		stream:      st,
		registry:    reg,
		coordinator: coord,
		logger:      logger.With(zap.String("conn_id", st.ID())),
		state:       stateConnected,
	}
}

func (h *connHandler) run(ctx context.Context) {
	defer h.cleanup()
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("handler panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	for {
		msg, err := h.stream.Receive(ctx)
		if err != nil {
			h.logReadError(err)
			return
		}
		if !h.dispatch(ctx, msg) {
			return
		}
	}
}

// dispatch handles one message and reports whether the connection stays open.
func (h *connHandler) dispatch(ctx context.Context, msg protocol.Message) bool {
	switch m := msg.(type) {
	case protocol.Join:
		return h.handleJoin(m)
	case protocol.StartLevel:
		h.handleStartLevel(ctx, m)
		return true
	case protocol.Leave:
		h.logger.Debug("client left", zap.String("client_id", h.clientID))
		return false
	default:
		// Unknown types and server-to-client frames sent by a client.
		h.logger.Debug("ignoring message", zap.String("type", string(msg.Type())), zap.Stringer("state", h.state))
		return true
	}
}

func (h *connHandler) handleJoin(m protocol.Join) bool {
	if h.state == stateJoined {
		h.logger.Debug("ignoring join from joined client",
			zap.String("client_id", h.clientID), zap.String("requested", m.ClientID))
		return true
	}
	if m.ClientID == "" {
		return h.reply(protocol.Error{Message: protocol.ReasonNoClientID})
	}

	gate := newJoinGate(h.stream)
	defer gate.open()

	switch err := h.registry.Add(m.ClientID, gate); {
	case errors.Is(err, lobby.ErrLobbyFull):
		h.logger.Info("join rejected, lobby full", zap.String("client_id", m.ClientID))
		h.reply(protocol.Error{Message: protocol.ReasonLobbyFull})
		return false
	case errors.Is(err, lobby.ErrClientIDTaken):
		h.logger.Info("join rejected, id taken", zap.String("client_id", m.ClientID))
		return h.reply(protocol.Error{Message: protocol.ReasonClientIDTaken})
	case err != nil:
		h.logger.Warn("join failed", zap.String("client_id", m.ClientID), zap.Error(err))
		return h.reply(protocol.Error{Message: protocol.ReasonNoClientID})
	}

	h.clientID = m.ClientID
	h.state = stateJoined
	h.logger = h.logger.With(zap.String("client_id", m.ClientID))
	h.logger.Info("client joined", zap.Int("members", h.registry.Len()))

	if !h.reply(protocol.Joined{ClientID: m.ClientID}) {
		return false
	}
	gate.open()
	h.registry.Broadcast(protocol.LobbyUpdate{Clients: h.registry.Snapshot()})
	return true
}

func (h *connHandler) handleStartLevel(ctx context.Context, m protocol.StartLevel) {
	if h.state != stateJoined {
		h.logger.Debug("ignoring start_level before join", zap.Int("level", m.Level))
		return
	}

	players := len(h.registry.Snapshot())
	round := h.coordinator.StartLevel(ctx, m.Level, players)
	h.registry.Broadcast(protocol.LevelStarted{
		Level:       round.Level,
		PlayerCount: round.PlayerCount,
		Mobs:        wireMobs(round.Mobs),
	})
}

// joinGate is the handle registered for a joining client. Broadcasts from
// other handlers wait until open is called, so the caller's joined reply is
// always the first frame it sees after registration.
type joinGate struct {
	Stream

	ready    chan struct{}
	openOnce sync.Once

	closed    chan struct{}
	closeOnce sync.Once
}

func newJoinGate(st Stream) *joinGate {
	return &joinGate{
		Stream: st,
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (g *joinGate) open() {
	g.openOnce.Do(func() { close(g.ready) })
}

func (g *joinGate) Send(msg protocol.Message) error {
	select {
	case <-g.ready:
	case <-g.closed:
		return transport.ErrClosed
	}
	return g.Stream.Send(msg)
}

func (g *joinGate) Close() error {
	g.closeOnce.Do(func() { close(g.closed) })
	return g.Stream.Close()
}

// reply sends msg to this connection only and reports whether it was written.
func (h *connHandler) reply(msg protocol.Message) bool {
	if err := h.stream.Send(msg); err != nil {
		h.logger.Debug("reply failed", zap.String("type", string(msg.Type())), zap.Error(err))
		return false
	}
	return true
}

// cleanup leaves the lobby, announces the departure and closes the stream.
// Calling it more than once has no further effect.
func (h *connHandler) cleanup() {
	h.cleanupOnce.Do(func() {
		h.state = stateClosed
		_ = h.stream.Close()

		if h.clientID == "" || !h.registry.Remove(h.clientID) {
			return
		}
		h.logger.Info("client removed", zap.Int("members", h.registry.Len()))
		h.registry.Broadcast(protocol.LobbyUpdate{Clients: h.registry.Snapshot()})
	})
}

func (h *connHandler) logReadError(err error) {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, transport.ErrClosed),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, context.Canceled):
		h.logger.Debug("connection ended", zap.Error(err))
	default:
		h.logger.Warn("read failed", zap.Error(err))
	}
}

func wireMobs(mobs []engine.Mob) []protocol.Mob {
	out := make([]protocol.Mob, 0, len(mobs))
	for _, m := range mobs {
		out = append(out, protocol.Mob{
			Name:        m.Name,
			HP:          m.HP,
			Attack:      m.Attack,
			Defense:     m.Defense,
			CrystalDrop: m.CrystalDrop,
		})
	}
	return out
}
