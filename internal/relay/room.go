package relay

import (
	"errors"
	"sync"

	"github.com/schoolyard/meetmesh/internal/domain"
)

var (
	ErrRoomFull  = errors.New("room full")
	ErrRoomEnded = errors.New("room ended")
)

type member struct {
	peer  domain.PeerID
	user  domain.UserID
	name  string
	role  domain.Role
	muted bool
	conn  *wsConn
}

// Room keeps dual-keyed membership: the ephemeral peer id routes
// envelopes, the durable user id carries identity and the host flag.
type Room struct {
	id       domain.RoomID
	capacity int

	mu     sync.RWMutex
	byPeer map[domain.PeerID]*member
	byUser map[domain.UserID]domain.PeerID
	order  []domain.PeerID
	hostID domain.UserID
	ended  bool
}

func newRoom(id domain.RoomID, capacity int) *Room {
	return &Room{
		id:       id,
		capacity: capacity,
		byPeer:   make(map[domain.PeerID]*member),
		byUser:   make(map[domain.UserID]domain.PeerID),
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

// add registers a member. The first joiner becomes host.
func (r *Room) add(m *member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return ErrRoomEnded
	}
	if r.capacity > 0 && len(r.byPeer) >= r.capacity {
		return ErrRoomFull
	}
	// A reconnect under the same durable id displaces the stale peer.
	if old, ok := r.byUser[m.user]; ok {
		r.removeLocked(old)
	}
	r.byPeer[m.peer] = m
	r.byUser[m.user] = m.peer
	r.order = append(r.order, m.peer)
	if r.hostID == "" {
		r.hostID = m.user
	}
	return nil
}

// remove drops a member and transfers host to the earliest remaining
// joiner when the host left. Reports whether the host changed.
func (r *Room) remove(peer domain.PeerID) (*member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byPeer[peer]
	if !ok {
		return nil, false
	}
	r.removeLocked(peer)
	hostChanged := false
	if m.user == r.hostID {
		r.hostID = ""
		if len(r.order) > 0 {
			r.hostID = r.byPeer[r.order[0]].user
		}
		hostChanged = true
	}
	return m, hostChanged
}

func (r *Room) removeLocked(peer domain.PeerID) {
	m, ok := r.byPeer[peer]
	if !ok {
		return
	}
	delete(r.byPeer, peer)
	if r.byUser[m.user] == peer {
		delete(r.byUser, m.user)
	}
	for i, p := range r.order {
		if p == peer {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Room) get(peer domain.PeerID) (*member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byPeer[peer]
	return m, ok
}

func (r *Room) isHost(user domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hostID == user
}

func (r *Room) setMuted(peer domain.PeerID, muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byPeer[peer]; ok {
		m.muted = muted
	}
}

func (r *Room) members() []*member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*member, 0, len(r.order))
	for _, peer := range r.order {
		out = append(out, r.byPeer[peer])
	}
	return out
}

// snapshot builds the authoritative roster in join order.
func (r *Room) snapshot() domain.Roster {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roster := domain.Roster{HostID: r.hostID}
	for _, peer := range r.order {
		m := r.byPeer[peer]
		roster.Entries = append(roster.Entries, domain.RosterEntry{
			Peer:        m.peer,
			UserID:      m.user,
			DisplayName: m.name,
			Role:        m.role,
			Muted:       m.muted,
		})
	}
	return roster
}

// end marks the room finished and hands back the members to notify.
func (r *Room) end() []*member {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = true
	out := make([]*member, 0, len(r.order))
	for _, peer := range r.order {
		out = append(out, r.byPeer[peer])
	}
	r.byPeer = make(map[domain.PeerID]*member)
	r.byUser = make(map[domain.UserID]domain.PeerID)
	r.order = nil
	return out
}
