package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/schoolyard/meetmesh/internal/domain"
	"github.com/schoolyard/meetmesh/internal/signal"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientSession is the relay-side state of one websocket connection.
type clientSession struct {
	hub  *Hub
	conn *wsConn

	peer   domain.PeerID
	user   domain.UserID
	name   string
	role   domain.Role
	roomID domain.RoomID
	room   *Room
	joined bool
}

// HandleWS upgrades the connection and runs the pumps. The first
// envelope must be a join.
func (h *Hub) HandleWS(ctx context.Context, c *gin.Context) {
	roomID := domain.RoomID(c.Param("room"))
	user := domain.UserID(c.GetString("user_id"))

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}

	cs := &clientSession{
		hub:    h,
		conn:   newWSConn(ws, h.cfg.ReadLimit, h.cfg.PingPeriod),
		peer:   domain.PeerID(uuid.NewString()),
		user:   user,
		roomID: roomID,
	}
	log.Info().Str("module", "relay").Str("peer", cs.peer.String()).Str("room", string(roomID)).Msg("new connection")

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		cs.conn.writePump(ctx)
		cancel()
	}()
	go cs.readPump(ctx, cancel)
}

func (cs *clientSession) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer func() {
		cancel()
		cs.leaveRoom()
		cs.conn.Close()
		log.Info().Str("module", "relay").Str("peer", cs.peer.String()).Msg("connection closed")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := cs.conn.conn.ReadMessage()
			if err != nil {
				return
			}
			cs.handle(data)
		}
	}
}

func (cs *clientSession) handle(data []byte) {
	var env signal.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad json")
		return
	}

	if !cs.joined && env.Kind != signal.EventJoin {
		log.Warn().Str("module", "relay").Str("type", string(env.Kind)).Msg("message before join")
		return
	}

	switch env.Kind {
	case signal.EventJoin:
		cs.handleJoin(env.Payload)
	case signal.EventOffer, signal.EventAnswer, signal.EventCandidate:
		cs.relayTo(env)
	case signal.EventChat:
		cs.handleChat(env.Payload)
	case signal.EventControl:
		cs.handleControl(env.Payload)
	case signal.EventLeave:
		cs.leaveRoom()
	default:
		log.Warn().Str("module", "relay").Str("type", string(env.Kind)).Msg("unknown signal")
	}
}

func (cs *clientSession) reject(reason string) {
	sendEnvelope(cs.conn, signal.EventJoinAck, signal.JoinAckPayload{OK: false, Reason: reason})
	cs.conn.Close()
}

func (cs *clientSession) handleJoin(raw json.RawMessage) {
	if cs.joined {
		return
	}
	var p signal.JoinPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad join payload")
		cs.reject("bad_payload")
		return
	}
	if !cs.hub.limiter.Allow(cs.user) {
		cs.reject("too_many_attempts")
		return
	}

	if cs.hub.cfg.RequireToken {
		user, err := VerifyToken(cs.hub.cfg.Secret, p.Token, cs.roomID)
		if err != nil {
			log.Warn().Err(err).Str("module", "relay").Str("room", string(cs.roomID)).Msg("token rejected")
			cs.reject("bad_token")
			return
		}
		// The token's subject is the durable identity.
		cs.user = user
	}

	room, ok := cs.hub.GetRoom(cs.roomID)
	if !ok {
		cs.reject("room_not_found")
		return
	}

	name := p.DisplayName
	if name == "" {
		name = "guest"
	}
	if len(name) > domain.MaxDisplayNameLen {
		name = name[:domain.MaxDisplayNameLen]
	}
	role := domain.Role(p.Role)
	if role == "" {
		role = domain.RoleGuest
	}

	m := &member{peer: cs.peer, user: cs.user, name: name, role: role, conn: cs.conn}
	if err := room.add(m); err != nil {
		switch {
		case errors.Is(err, ErrRoomFull):
			cs.reject("room_full")
		default:
			cs.reject("room_not_found")
		}
		return
	}
	cs.room = room
	cs.name = name
	cs.role = role
	cs.joined = true
	log.Info().Str("module", "relay").Str("peer", cs.peer.String()).Str("user", cs.user.String()).Str("room", string(cs.roomID)).Msg("joined")

	sendEnvelope(cs.conn, signal.EventJoinAck, signal.JoinAckPayload{
		OK:         true,
		Self:       cs.peer,
		UserID:     cs.user,
		Roster:     room.snapshot(),
		ICEServers: cs.hub.iceServers(),
	})
	// Pushed once after join; clients apply it to links created later.
	sendEnvelope(cs.conn, signal.EventICEServers, signal.ICEServersPayload{Servers: cs.hub.iceServers()})

	cs.broadcastExcept(cs.peer, signal.EventPeerJoined, signal.PeerJoinedPayload{
		Peer:        cs.peer,
		UserID:      cs.user,
		DisplayName: cs.name,
		Role:        cs.role,
	})
	cs.broadcastRoster()
}

func (h *Hub) iceServers() []signal.ICEServer {
	if len(h.cfg.STUNServers) == 0 {
		return nil
	}
	return []signal.ICEServer{{URLs: h.cfg.STUNServers}}
}

// relayTo forwards a targeted envelope verbatim, stamping the sender.
func (cs *clientSession) relayTo(env signal.Envelope) {
	target, ok := cs.room.get(env.To)
	if !ok {
		log.Warn().Str("module", "relay").Str("to", env.To.String()).Str("type", string(env.Kind)).Msg("relay: unknown target")
		return
	}
	env.From = cs.peer
	env.To = ""
	sendRaw(target.conn, env)
}

func (cs *clientSession) handleChat(raw json.RawMessage) {
	var p signal.ChatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad chat payload")
		return
	}
	p.SenderID = cs.user
	p.DisplayName = cs.name
	cs.broadcastExcept(cs.peer, signal.EventChat, p)
	sendEnvelope(cs.conn, signal.EventChatAck, signal.ChatAckPayload{ID: p.ID, OK: true})
}

// handleControl relays host commands. Only the host's durable identity
// may issue them; everyone else is dropped here, which is the server
// side of the client's trust boundary.
func (cs *clientSession) handleControl(raw json.RawMessage) {
	var cmd domain.ControlCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad control payload")
		return
	}
	if !cs.room.isHost(cs.user) {
		log.Warn().Str("module", "relay").Str("user", cs.user.String()).Str("kind", string(cmd.Kind)).Msg("control from non-host dropped")
		return
	}
	cmd.By = cs.user
	if err := cmd.Validate(); err != nil {
		log.Warn().Err(err).Str("module", "relay").Msg("invalid control command")
		return
	}

	switch cmd.Kind {
	case domain.ControlMute:
		cs.room.setMuted(cmd.Target, true)
		if target, ok := cs.room.get(cmd.Target); ok {
			sendEnvelope(target.conn, signal.EventControl, cmd)
		}
		cs.broadcastRoster()
	case domain.ControlRemove:
		if target, ok := cs.room.get(cmd.Target); ok {
			sendEnvelope(target.conn, signal.EventControl, cmd)
		}
	case domain.ControlEnd:
		members := cs.room.end()
		for _, m := range members {
			sendEnvelope(m.conn, signal.EventSessionEnded, nil)
		}
		cs.hub.removeRoom(cs.roomID)
		log.Info().Str("module", "relay").Str("room", string(cs.roomID)).Msg("session ended by host")
	}
}

func (cs *clientSession) leaveRoom() {
	if !cs.joined {
		return
	}
	cs.joined = false
	m, _ := cs.room.remove(cs.peer)
	if m == nil {
		return
	}
	log.Info().Str("module", "relay").Str("peer", cs.peer.String()).Str("room", string(cs.roomID)).Msg("left")
	cs.broadcastExcept(cs.peer, signal.EventPeerLeft, signal.PeerLeftPayload{Peer: cs.peer, UserID: cs.user})
	cs.broadcastRoster()
}

func (cs *clientSession) broadcastExcept(except domain.PeerID, kind signal.EventKind, payload any) {
	for _, m := range cs.room.members() {
		if m.peer == except {
			continue
		}
		sendEnvelope(m.conn, kind, payload)
	}
}

func (cs *clientSession) broadcastRoster() {
	snapshot := cs.room.snapshot()
	for _, m := range cs.room.members() {
		sendEnvelope(m.conn, signal.EventRoster, snapshot)
	}
}
