// Package relay is the development signaling server: a websocket hub
// implementing the meeting signaling contract (join, roster snapshots,
// targeted offer/answer/candidate relay, chat acks, host-gated control
// commands) for local runs and tests.
package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/schoolyard/meetmesh/internal/config"
	"github.com/schoolyard/meetmesh/internal/domain"
)

type Hub struct {
	cfg     *config.Config
	limiter *JoinRateLimiter

	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewHub(cfg *config.Config) *Hub {
	return &Hub{
		cfg:     cfg,
		limiter: NewJoinRateLimiter(10, time.Minute),
		rooms:   make(map[domain.RoomID]*Room),
	}
}

func (h *Hub) CreateRoom() *Room {
	room := newRoom(domain.RoomID(uuid.NewString()), h.cfg.RoomCapacity)
	h.mu.Lock()
	h.rooms[room.id] = room
	h.mu.Unlock()
	log.Info().Str("module", "relay").Str("room", string(room.id)).Msg("room created")
	return room
}

func (h *Hub) GetRoom(id domain.RoomID) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[id]
	return room, ok
}

func (h *Hub) removeRoom(id domain.RoomID) {
	h.mu.Lock()
	delete(h.rooms, id)
	h.mu.Unlock()
	log.Info().Str("module", "relay").Str("room", string(id)).Msg("room removed")
}
