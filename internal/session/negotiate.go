package session

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/schoolyard/meetmesh/internal/core"
	"github.com/schoolyard/meetmesh/internal/domain"
	"github.com/schoolyard/meetmesh/internal/rtc"
)

// maxEarlyCandidates bounds the per-peer parking of candidates that
// arrive before any link exists; reconcile drops parked peers absent
// from the snapshot.
const maxEarlyCandidates = 32

// offerQueue buffers inbound offers that arrive before local media has
// settled. It drains exactly once, in arrival order, then never buffers
// again: only the startup race is protected.
type offerQueue struct {
	entries []offerEntry
	drained bool
}

type offerEntry struct {
	from domain.PeerID
	sdp  webrtc.SessionDescription
}

func (q *offerQueue) buffering() bool { return !q.drained }

func (q *offerQueue) push(from domain.PeerID, sdp webrtc.SessionDescription) {
	q.entries = append(q.entries, offerEntry{from: from, sdp: sdp})
}

func (q *offerQueue) drain() []offerEntry {
	q.drained = true
	out := q.entries
	q.entries = nil
	return out
}

// ensureLink returns the peer's Conn, creating one seeded with the
// current local tracks and ICE servers when missing.
func (s *Session) ensureLink(peer domain.PeerID) (*rtc.Conn, bool, error) {
	tracks, _ := s.media.Tracks()
	seed := core.LinkSeed{ICEServers: s.iceServers, Tracks: tracks}
	conn, created, err := s.links.GetOrCreate(peer, seed, s.hooksFor(peer))
	if err != nil {
		return nil, false, err
	}
	if created {
		if held, ok := s.earlyCands[peer]; ok {
			conn.HeldCandidates = append(conn.HeldCandidates, held...)
			delete(s.earlyCands, peer)
		}
	}
	return conn, created, nil
}

// hooksFor wires the three reactions of a new link: candidates go out
// addressed to the owning peer, remote media surfaces to the embedder,
// and negotiation-needed signals come back through the task loop.
func (s *Session) hooksFor(peer domain.PeerID) core.LinkHooks {
	return core.LinkHooks{
		OnLocalCandidate: func(cand webrtc.ICECandidateInit) {
			if err := s.sender.SendCandidate(peer, cand); err != nil {
				log.Warn().Err(err).Str("module", "session").Str("peer", peer.String()).Msg("candidate send failed")
			}
		},
		OnRemoteTrack: func(t core.RemoteTrack) {
			s.post(func() {
				if s.closed || s.cb.OnRemoteTrack == nil {
					return
				}
				s.cb.OnRemoteTrack(peer, s.displayNameFor(peer), t)
			})
		},
		OnPathState: func(st core.PathState) {
			// Failed/disconnected paths are logged only: no per-link
			// retry, recovery is a full rejoin.
			s.post(func() {
				if st == core.PathFailed || st == core.PathDisconnected {
					log.Warn().Str("module", "session").Str("peer", peer.String()).Str("path", string(st)).Msg("path establishment failure")
				}
			})
		},
		OnNegotiationNeeded: func() {
			s.post(func() { s.negotiationNeeded(peer) })
		},
	}
}

// inboundOffer buffers while local media has not settled; afterwards
// offers run through processOffer synchronously.
func (s *Session) inboundOffer(from domain.PeerID, sdp webrtc.SessionDescription, fromName string) {
	if s.closed || from == s.cfg.SelfPeer {
		return
	}
	if fromName != "" {
		s.offerNames[from] = fromName
	}
	if s.queue.buffering() {
		s.queue.push(from, sdp)
		log.Info().Str("module", "session").Str("peer", from.String()).Msg("offer buffered, media not ready")
		return
	}
	s.processOffer(from, sdp)
}

// processOffer is the standard offer-handling algorithm: get-or-create,
// apply remote, create answer (applied locally by the link), send it. A
// failure at any step isolates to this one connection.
func (s *Session) processOffer(from domain.PeerID, sdp webrtc.SessionDescription) {
	conn, _, err := s.ensureLink(from)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("peer", from.String()).Msg("offer: link create failed")
		return
	}

	if conn.OfferPending {
		// Glare: both sides offered at once. The impolite side (smaller
		// peer id) keeps its own offer and discards the inbound one; the
		// polite side rolls back and answers.
		if !s.politeTo(from) {
			log.Warn().Str("module", "session").Str("peer", from.String()).Msg("glare: discarding colliding inbound offer")
			return
		}
		if err := conn.Link.RollbackLocal(); err != nil {
			s.failNegotiation(conn, err)
			return
		}
		conn.OfferPending = false
		log.Info().Str("module", "session").Str("peer", from.String()).Msg("glare: rolled back local offer")
	}

	if err := conn.Link.ApplyRemoteOffer(sdp); err != nil {
		s.failNegotiation(conn, err)
		return
	}
	conn.RemoteApplied = true
	s.flushHeld(conn)
	conn.Phase = rtc.PhaseNegotiating

	answer, err := conn.Link.CreateAnswer()
	if err != nil {
		s.failNegotiation(conn, err)
		return
	}
	if err := s.sender.SendAnswer(from, answer); err != nil {
		s.failNegotiation(conn, err)
		return
	}
	conn.Phase = rtc.PhaseStable
}

func (s *Session) inboundAnswer(from domain.PeerID, sdp webrtc.SessionDescription) {
	if s.closed {
		return
	}
	conn, ok := s.links.Get(from)
	if !ok {
		log.Warn().Str("module", "session").Str("peer", from.String()).Msg("answer for unknown peer")
		return
	}
	if !conn.OfferPending {
		log.Warn().Str("module", "session").Str("peer", from.String()).Msg("unexpected answer")
		return
	}
	if err := conn.Link.ApplyRemoteAnswer(sdp); err != nil {
		conn.OfferPending = false
		s.failNegotiation(conn, err)
		return
	}
	conn.RemoteApplied = true
	s.flushHeld(conn)
	conn.OfferPending = false
	conn.Phase = rtc.PhaseStable

	if conn.PendingRenegotiate {
		conn.PendingRenegotiate = false
		s.syncSenders(conn)
		s.sendOfferFor(conn)
	}
}

func (s *Session) inboundCandidate(from domain.PeerID, cand webrtc.ICECandidateInit) {
	if s.closed {
		return
	}
	conn, ok := s.links.Get(from)
	if !ok {
		// Candidates can outrun the offer that creates the link,
		// especially while offers sit in the startup queue.
		if len(s.earlyCands[from]) >= maxEarlyCandidates {
			log.Warn().Str("module", "session").Str("peer", from.String()).Msg("early candidate dropped, cap reached")
			return
		}
		s.earlyCands[from] = append(s.earlyCands[from], cand)
		return
	}
	if !conn.RemoteApplied {
		conn.HeldCandidates = append(conn.HeldCandidates, cand)
		return
	}
	if err := conn.Link.AddRemoteCandidate(cand); err != nil {
		log.Warn().Err(err).Str("module", "session").Str("peer", from.String()).Msg("add candidate failed")
	}
}

func (s *Session) flushHeld(conn *rtc.Conn) {
	for _, cand := range conn.HeldCandidates {
		if err := conn.Link.AddRemoteCandidate(cand); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("peer", conn.Peer.String()).Msg("held candidate failed")
		}
	}
	conn.HeldCandidates = nil
}

// mediaSettled runs once: renegotiate existing links against the settled
// track set, then drain the startup offer queue in arrival order.
func (s *Session) mediaSettled() {
	if s.closed {
		return
	}
	for _, peer := range s.links.Peers() {
		if conn, ok := s.links.Get(peer); ok {
			s.renegotiateConn(conn)
		}
	}
	for _, e := range s.queue.drain() {
		s.processOffer(e.from, e.sdp)
	}
}

// syncSenders brings one link's outbound senders up to the current track
// set: same-kind sender present means replace in place, absent means add.
// Returns whether a renegotiation round is needed.
func (s *Session) syncSenders(conn *rtc.Conn) bool {
	tracks, ready := s.media.Tracks()
	if !ready {
		return false
	}
	dirty := false
	for _, t := range tracks {
		if conn.Link.HasSender(t.Kind()) {
			if _, err := conn.Link.ReplaceTrack(t.Kind(), t); err != nil {
				log.Warn().Err(err).Str("module", "session").Str("peer", conn.Peer.String()).Msg("replace track failed")
			}
			continue
		}
		if err := conn.Link.AddTrack(t); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("peer", conn.Peer.String()).Msg("add track failed")
			continue
		}
		dirty = true
	}
	return dirty
}

// renegotiateConn syncs senders and, if the link got dirty, drives one
// fresh offer round, deferred when a negotiation is already in flight.
func (s *Session) renegotiateConn(conn *rtc.Conn) {
	if !s.syncSenders(conn) {
		return
	}
	if conn.OfferPending {
		conn.PendingRenegotiate = true
		return
	}
	s.sendOfferFor(conn)
}

// negotiationNeeded comes from the transport layer. Ignored while the
// initial or a pending negotiation covers it; the transport re-raises if
// the need persists once stable.
func (s *Session) negotiationNeeded(peer domain.PeerID) {
	if s.closed {
		return
	}
	conn, ok := s.links.Get(peer)
	if !ok {
		return
	}
	if conn.Phase == rtc.PhaseNew || conn.Phase == rtc.PhaseNegotiating || conn.OfferPending {
		return
	}
	s.sendOfferFor(conn)
}

func (s *Session) sendOfferFor(conn *rtc.Conn) {
	offer, err := conn.Link.CreateOffer()
	if err != nil {
		s.failNegotiation(conn, err)
		return
	}
	conn.Phase = rtc.PhaseNegotiating
	conn.OfferPending = true
	if err := s.sender.SendOffer(conn.Peer, offer, s.cfg.DisplayName); err != nil {
		conn.OfferPending = false
		s.failNegotiation(conn, err)
		return
	}
}

// failNegotiation leaves the one connection in a recoverable failed
// state; no retry until a fresh triggering event arrives.
func (s *Session) failNegotiation(conn *rtc.Conn, err error) {
	conn.Phase = rtc.PhaseFailed
	log.Error().Err(err).Str("module", "session").Str("peer", conn.Peer.String()).Msg("negotiation failed")
}

// politeTo reports whether we take the polite role against the peer:
// the larger id yields on glare, the smaller id is impolite.
func (s *Session) politeTo(peer domain.PeerID) bool {
	return s.cfg.SelfPeer > peer
}

func (s *Session) swapVideo(toScreen bool) {
	if s.closed {
		return
	}
	track, err := s.media.SwapVideo(toScreen)
	if err != nil {
		s.warn("video swap failed: " + err.Error())
		return
	}
	for _, peer := range s.links.Peers() {
		conn, ok := s.links.Get(peer)
		if !ok {
			continue
		}
		if conn.Link.HasSender(webrtc.RTPCodecTypeVideo) {
			// Same-kind swap: in place, never a renegotiation.
			if _, err := conn.Link.ReplaceTrack(webrtc.RTPCodecTypeVideo, track); err != nil {
				log.Warn().Err(err).Str("module", "session").Str("peer", peer.String()).Msg("video replace failed")
			}
			continue
		}
		if track == nil {
			continue
		}
		if err := conn.Link.AddTrack(track); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("peer", peer.String()).Msg("video add failed")
			continue
		}
		if conn.OfferPending {
			conn.PendingRenegotiate = true
			continue
		}
		s.sendOfferFor(conn)
	}
}

func (s *Session) applyMute(muted bool) {
	if s.closed {
		return
	}
	track := s.media.SetAudioEnabled(!muted)
	for _, peer := range s.links.Peers() {
		conn, ok := s.links.Get(peer)
		if !ok {
			continue
		}
		if conn.Link.HasSender(webrtc.RTPCodecTypeAudio) {
			// Same-kind swap in place, never a renegotiation.
			if _, err := conn.Link.ReplaceTrack(webrtc.RTPCodecTypeAudio, track); err != nil {
				log.Warn().Err(err).Str("module", "session").Str("peer", peer.String()).Msg("audio replace failed")
			}
			continue
		}
		if track == nil {
			continue
		}
		// A link built while muted carries no audio sender. Unmuting
		// adds the track and drives one offer round, parked if a
		// negotiation is already in flight.
		s.renegotiateConn(conn)
	}
	if p, ok := s.participants[s.cfg.SelfUser]; ok {
		p.Muted = muted
	}
	log.Info().Str("module", "session").Bool("muted", muted).Msg("local audio")
}
