// Package lobby holds the process-wide membership registry.
package lobby

import (
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/dungeon-lobby/internal/protocol"
)

// DefaultCapacity is the number of players a lobby admits.
const DefaultCapacity = 3

var (
	ErrLobbyFull     = errors.New("lobby full")
	ErrClientIDTaken = errors.New("client id already in lobby")
	ErrEmptyClientID = errors.New("empty client id")
)

// Handle is the part of a live connection the registry needs.
type Handle interface {
	Send(msg protocol.Message) error
	Close() error
}

// Registry maps client ids to handles. All methods are safe for concurrent
// use; nothing outside the registry touches the underlying map.
type Registry struct {
	mu       sync.Mutex
	capacity int
	order    []string
	clients  map[string]Handle
	logger   *zap.Logger
}

// NewRegistry returns an empty registry. capacity < 1 means DefaultCapacity.
func NewRegistry(capacity int, logger *zap.Logger) *Registry {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		capacity: capacity,
		clients:  make(map[string]Handle, capacity),
		logger:   logger,
	}
}

// Add registers h under id. It fails with ErrLobbyFull when the registry is
// at capacity and with ErrClientIDTaken when id is already registered.
func (r *Registry) Add(id string, h Handle) error {
	if id == "" {
		return ErrEmptyClientID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.clients) >= r.capacity {
		return ErrLobbyFull
	}
	if _, ok := r.clients[id]; ok {
		return ErrClientIDTaken
	}
	r.clients[id] = h
	r.order = append(r.order, id)
	return nil
}

// Remove drops id. Removing an absent id is a no-op; the result reports
// whether anything was removed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	return true
}

// Snapshot returns the registered ids in join order. The result is never nil.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append(make([]string, 0, len(r.order)), r.order...)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *Registry) Capacity() int { return r.capacity }

// Broadcast sends msg to every registered handle and returns how many sends
// succeeded. Handles are copied under the lock and written outside it, so a
// stalled peer never blocks Add or Remove. A handle whose send fails is
// closed; its own connection handler then removes it and announces the
// departure.
func (r *Registry) Broadcast(msg protocol.Message) int {
	type target struct {
		id string
		h  Handle
	}

	r.mu.Lock()
	targets := make([]target, 0, len(r.order))
	for _, id := range r.order {
		targets = append(targets, target{id: id, h: r.clients[id]})
	}
	r.mu.Unlock()

	delivered := 0
	for _, t := range targets {
		if err := t.h.Send(msg); err != nil {
			r.logger.Warn("broadcast send failed",
				zap.String("client_id", t.id),
				zap.String("type", string(msg.Type())),
				zap.Error(err))
			_ = t.h.Close()
			continue
		}
		delivered++
	}
	return delivered
}
