package session

import (
	"hash/fnv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/schoolyard/meetmesh/internal/domain"
)

// reconcile applies one roster snapshot: close links for peers the
// snapshot dropped, refresh participant records, update host flags by
// durable id, and call every newly introduced peer.
func (s *Session) reconcile(r domain.Roster) {
	if s.closed {
		return
	}
	peers := r.PeerSet(s.cfg.SelfPeer)

	for _, peer := range s.links.Peers() {
		if _, ok := peers[peer]; !ok {
			s.dropPeer(peer)
		}
	}
	for peer := range s.called {
		if _, ok := peers[peer]; !ok {
			delete(s.called, peer)
		}
	}
	for peer := range s.earlyCands {
		if _, ok := peers[peer]; !ok {
			delete(s.earlyCands, peer)
		}
	}

	current := make(map[domain.UserID]*domain.Participant, len(r.Entries))
	for _, e := range r.Entries {
		p, known := s.participants[e.UserID]
		if !known {
			p = &domain.Participant{UserID: e.UserID}
		}
		p.DisplayName = e.DisplayName
		p.Role = e.Role
		p.Muted = e.Muted
		current[e.UserID] = p
		if !known && s.cb.OnParticipantJoined != nil {
			s.cb.OnParticipantJoined(*p)
		}
	}
	for uid, p := range s.participants {
		if _, stays := current[uid]; !stays && s.cb.OnParticipantLeft != nil {
			s.cb.OnParticipantLeft(*p)
		}
	}
	s.participants = current

	s.peerUsers = make(map[domain.PeerID]domain.UserID, len(r.Entries))
	for _, e := range r.Entries {
		s.peerUsers[e.Peer] = e.UserID
	}

	// Host comparison is by durable identity, never by transport id.
	s.hostID = r.HostID
	for uid, p := range s.participants {
		p.IsHost = uid == r.HostID
	}

	_, ready := s.media.Tracks()
	for peer := range peers {
		if _, already := s.called[peer]; already {
			continue
		}
		if _, exists := s.links.Get(peer); exists {
			continue
		}
		if !ready {
			continue
		}
		s.initiateCall(peer)
	}

	if s.cb.OnRosterUpdate != nil {
		s.cb.OnRosterUpdate(r)
	}
}

func (s *Session) peerJoined(peer domain.PeerID, user domain.UserID, name string, role domain.Role) {
	if s.closed || peer == s.cfg.SelfPeer {
		return
	}
	s.peerUsers[peer] = user
	if _, known := s.participants[user]; !known {
		p := &domain.Participant{UserID: user, DisplayName: name, Role: role, IsHost: user == s.hostID}
		s.participants[user] = p
		if s.cb.OnParticipantJoined != nil {
			s.cb.OnParticipantJoined(*p)
		}
	}
}

// peerLeft handles an explicit leave: the connection goes away without
// waiting for the next roster snapshot.
func (s *Session) peerLeft(peer domain.PeerID, user domain.UserID) {
	if s.closed {
		return
	}
	s.dropPeer(peer)
	delete(s.called, peer)
	delete(s.peerUsers, peer)
	if p, ok := s.participants[user]; ok {
		delete(s.participants, user)
		if s.cb.OnParticipantLeft != nil {
			s.cb.OnParticipantLeft(*p)
		}
	}
}

func (s *Session) dropPeer(peer domain.PeerID) {
	s.links.Close(peer)
	delete(s.called, peer)
	delete(s.offerNames, peer)
	delete(s.earlyCands, peer)
}

// initiateCall marks the peer as called synchronously, before any
// asynchronous work, so overlapping roster events cannot double-call.
// The dispatch itself is staggered to reduce cross-offer glare.
func (s *Session) initiateCall(peer domain.PeerID) {
	s.called[peer] = struct{}{}
	delay := s.staggerDelay(peer)
	log.Debug().Str("module", "session").Str("peer", peer.String()).Dur("delay", delay).Msg("calling peer")
	if delay <= 0 {
		s.placeCall(peer)
		return
	}
	time.AfterFunc(delay, func() {
		s.post(func() { s.placeCall(peer) })
	})
}

// staggerDelay spreads two clients discovering each other at the same
// moment: base plus a per-peer offset from the peer id's FNV hash.
func (s *Session) staggerDelay(peer domain.PeerID) time.Duration {
	base := s.cfg.CallStagger
	if base <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(peer))
	return base + time.Duration(h.Sum32())%base
}

func (s *Session) placeCall(peer domain.PeerID) {
	if s.closed {
		return
	}
	if _, stillCalled := s.called[peer]; !stillCalled {
		return // peer left while the stagger timer ran
	}
	if _, exists := s.links.Get(peer); exists {
		return // they called us first
	}
	conn, _, err := s.ensureLink(peer)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("peer", peer.String()).Msg("call: link create failed")
		return
	}
	s.sendOfferFor(conn)
}

func (s *Session) displayNameFor(peer domain.PeerID) string {
	if uid, ok := s.peerUsers[peer]; ok {
		if p, ok := s.participants[uid]; ok {
			return p.DisplayName
		}
	}
	return s.offerNames[peer]
}
