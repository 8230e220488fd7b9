// Package session is the meeting-room controller. One Session owns all
// session-scoped mutable state (connection registry, called set, offer
// queue, roster maps) and processes every external event as a discrete
// task on a single goroutine, so handlers never race each other.
package session

import (
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/schoolyard/meetmesh/internal/core"
	"github.com/schoolyard/meetmesh/internal/domain"
	"github.com/schoolyard/meetmesh/internal/rtc"
)

type Config struct {
	Room        domain.RoomID
	SelfPeer    domain.PeerID
	SelfUser    domain.UserID
	DisplayName string

	// CallStagger is the base delay before dispatching an outbound call.
	// Zero or negative dispatches synchronously (tests).
	CallStagger time.Duration

	ICEServers []webrtc.ICEServer
}

// Callbacks surface session events to the embedder (UI layer). All fire
// on the session goroutine; handlers must not block.
type Callbacks struct {
	OnRemoteTrack       func(peer domain.PeerID, displayName string, track core.RemoteTrack)
	OnRosterUpdate      func(domain.Roster)
	OnParticipantJoined func(domain.Participant)
	OnParticipantLeft   func(domain.Participant)
	OnChat              func(displayName, text string)
	OnEnded             func(reason string)
	OnWarning           func(msg string)
}

type Session struct {
	cfg    Config
	sender core.SignalSender
	links  *rtc.Registry
	media  core.TrackSource
	cb     Callbacks

	tasks chan func()
	done  chan struct{}

	// Everything below is confined to the task goroutine.
	closed       bool
	participants map[domain.UserID]*domain.Participant
	peerUsers    map[domain.PeerID]domain.UserID
	offerNames   map[domain.PeerID]string
	hostID       domain.UserID
	called       map[domain.PeerID]struct{}
	queue        offerQueue
	earlyCands   map[domain.PeerID][]webrtc.ICECandidateInit
	iceServers   []webrtc.ICEServer
}

func New(cfg Config, sender core.SignalSender, factory core.LinkFactory, source core.TrackSource, cb Callbacks) *Session {
	return &Session{
		cfg:          cfg,
		sender:       sender,
		links:        rtc.NewRegistry(factory),
		media:        source,
		cb:           cb,
		tasks:        make(chan func(), 64),
		done:         make(chan struct{}),
		participants: make(map[domain.UserID]*domain.Participant),
		peerUsers:    make(map[domain.PeerID]domain.UserID),
		offerNames:   make(map[domain.PeerID]string),
		called:       make(map[domain.PeerID]struct{}),
		earlyCands:   make(map[domain.PeerID][]webrtc.ICECandidateInit),
		iceServers:   cfg.ICEServers,
	}
}

// Start launches the task loop.
func (s *Session) Start() {
	go s.loop()
}

func (s *Session) loop() {
	for {
		select {
		case <-s.done:
			return
		case task := <-s.tasks:
			task()
		}
	}
}

func (s *Session) post(task func()) {
	select {
	case s.tasks <- task:
	case <-s.done:
	}
}

// Done is closed once the session has torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Leave tears the session down along the same path a host-issued end
// takes: close every link, stop capture, send leave.
func (s *Session) Leave() {
	s.post(func() { s.teardown("left") })
}

// Chat sends a message through the signaling channel. The ack fires when
// the relay confirms delivery. Stateless, so it bypasses the task loop.
func (s *Session) Chat(text string, ack func(ok bool)) error {
	return s.sender.SendChat(text, ack)
}

// SetMuted flips the local microphone and updates every link's audio
// sender in place.
func (s *Session) SetMuted(muted bool) {
	s.post(func() { s.applyMute(muted) })
}

// SetScreenShare switches the published video between screen and camera.
// Links with a video sender get an in-place replace; links without one
// get the track added plus a renegotiation round.
func (s *Session) SetScreenShare(on bool) {
	s.post(func() { s.swapVideo(on) })
}

// MuteParticipant, RemoveParticipant and EndSession issue host commands.
// Authorization lives entirely on the signaling server.
func (s *Session) MuteParticipant(peer domain.PeerID) error {
	return s.sender.SendControl(domain.ControlCommand{Kind: domain.ControlMute, Target: peer, By: s.cfg.SelfUser})
}

func (s *Session) RemoveParticipant(peer domain.PeerID) error {
	return s.sender.SendControl(domain.ControlCommand{Kind: domain.ControlRemove, Target: peer, By: s.cfg.SelfUser})
}

func (s *Session) EndSession() error {
	return s.sender.SendControl(domain.ControlCommand{Kind: domain.ControlEnd, By: s.cfg.SelfUser})
}

// Handle* methods are the inbound edge: each posts one task. Wire them
// to signal.Events and to the media source's settle callback.

func (s *Session) HandleRoster(r domain.Roster) {
	s.post(func() { s.reconcile(r) })
}

func (s *Session) HandlePeerJoined(peer domain.PeerID, user domain.UserID, name string, role domain.Role) {
	s.post(func() { s.peerJoined(peer, user, name, role) })
}

func (s *Session) HandlePeerLeft(peer domain.PeerID, user domain.UserID) {
	s.post(func() { s.peerLeft(peer, user) })
}

func (s *Session) HandleOffer(from domain.PeerID, sdp webrtc.SessionDescription, fromName string) {
	s.post(func() { s.inboundOffer(from, sdp, fromName) })
}

func (s *Session) HandleAnswer(from domain.PeerID, sdp webrtc.SessionDescription) {
	s.post(func() { s.inboundAnswer(from, sdp) })
}

func (s *Session) HandleCandidate(from domain.PeerID, cand webrtc.ICECandidateInit) {
	s.post(func() { s.inboundCandidate(from, cand) })
}

func (s *Session) HandleControl(cmd domain.ControlCommand) {
	s.post(func() { s.control(cmd) })
}

func (s *Session) HandleChat(displayName, text string) {
	if s.cb.OnChat != nil {
		s.post(func() { s.cb.OnChat(displayName, text) })
	}
}

func (s *Session) HandleICEServers(servers []webrtc.ICEServer) {
	s.post(func() {
		if len(servers) > 0 {
			s.iceServers = servers
		}
	})
}

func (s *Session) HandleSessionEnded() {
	s.post(func() { s.teardown("session ended") })
}

func (s *Session) HandleSignalClosed(err error) {
	s.post(func() {
		if s.closed {
			return
		}
		log.Warn().Err(err).Str("module", "session").Msg("signaling lost, tearing down")
		s.teardown("signaling lost")
	})
}

// MediaSettled is wired as the media source's settle callback: sync
// tracks onto any existing links, then drain the buffered offers once.
func (s *Session) MediaSettled() {
	s.post(func() { s.mediaSettled() })
}

func (s *Session) warn(msg string) {
	log.Warn().Str("module", "session").Msg(msg)
	if s.cb.OnWarning != nil {
		s.cb.OnWarning(msg)
	}
}

func (s *Session) teardown(reason string) {
	if s.closed {
		return
	}
	s.closed = true
	s.links.CloseAll()
	s.media.Stop()
	if err := s.sender.SendLeave(); err != nil {
		log.Debug().Err(err).Str("module", "session").Msg("leave send failed")
	}
	log.Info().Str("module", "session").Str("reason", reason).Msg("session ended")
	if s.cb.OnEnded != nil {
		s.cb.OnEnded(reason)
	}
	close(s.done)
}
