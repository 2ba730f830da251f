package synchub

import (
	"sync"
	"time"

	"github.com/theHdd4/trinity-orchestrator/pkg/models"
	"github.com/theHdd4/trinity-orchestrator/pkg/storage"
)

// Hub owns the rooms. One room exists per project key while it has at least
// one socket; empty rooms are dropped after their pending saves flush.
type Hub struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	docs     storage.DocStore
	debounce time.Duration
}

// NewHub creates a hub persisting through docs with the given debounce
// window.
func NewHub(docs storage.DocStore, debounce time.Duration) *Hub {
	return &Hub{
		rooms:    make(map[string]*Room),
		docs:     docs,
		debounce: debounce,
	}
}

// Room returns the project's room, creating it on first use.
func (h *Hub) Room(key models.ProjectContext) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[key.Key()]; ok {
		return r
	}
	r := newRoom(key, h.docs, h.debounce, func() { h.drop(key.Key()) })
	h.rooms[key.Key()] = r
	return r
}

// RoomCount reports the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Shutdown flushes every room's pending state synchronously.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	for _, r := range rooms {
		r.FlushAll()
	}
}

func (h *Hub) drop(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, key)
}
