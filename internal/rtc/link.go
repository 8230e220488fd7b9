// Package rtc adapts pion peer connections to the core.MediaLink seam
// and keeps the per-peer registry the session reconciles against.
package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/schoolyard/meetmesh/internal/core"
	"github.com/schoolyard/meetmesh/internal/domain"
)

// Factory builds pion-backed links. The webrtc.API must carry the same
// MediaEngine the local capture tracks were encoded for, otherwise
// AddTrack rejects them.
type Factory struct {
	api *webrtc.API
}

func NewFactory(api *webrtc.API) *Factory {
	return &Factory{api: api}
}

func (f *Factory) NewLink(seed core.LinkSeed, hooks core.LinkHooks) (core.MediaLink, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: seed.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	l := &Link{
		pc:      pc,
		peer:    seed.Peer,
		senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || hooks.OnLocalCandidate == nil {
			return
		}
		hooks.OnLocalCandidate(cand.ToJSON())
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("peer", seed.Peer.String()).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		if hooks.OnRemoteTrack != nil {
			hooks.OnRemoteTrack(track)
		}
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		st, ok := pathState(s)
		if !ok {
			return
		}
		ev := log.Info()
		if st == core.PathFailed || st == core.PathDisconnected {
			ev = log.Warn()
		}
		ev.Str("module", "rtc").Str("peer", seed.Peer.String()).Str("path", string(st)).Msg("path state")
		if hooks.OnPathState != nil {
			hooks.OnPathState(st)
		}
	})

	pc.OnNegotiationNeeded(func() {
		if hooks.OnNegotiationNeeded != nil {
			hooks.OnNegotiationNeeded()
		}
	})

	for _, t := range seed.Tracks {
		if err := l.AddTrack(t); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("seed track: %w", err)
		}
	}
	return l, nil
}

func pathState(s webrtc.ICEConnectionState) (core.PathState, bool) {
	switch s {
	case webrtc.ICEConnectionStateChecking:
		return core.PathChecking, true
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return core.PathConnected, true
	case webrtc.ICEConnectionStateFailed:
		return core.PathFailed, true
	case webrtc.ICEConnectionStateDisconnected:
		return core.PathDisconnected, true
	default:
		return "", false
	}
}

// Link wraps one *webrtc.PeerConnection. The mutex guards the sender map
// and the closed flag; pion invokes callbacks from its own goroutines.
type Link struct {
	pc   *webrtc.PeerConnection
	peer domain.PeerID

	mu      sync.Mutex
	senders map[webrtc.RTPCodecType]*webrtc.RTPSender
	closed  bool
}

func (l *Link) ApplyRemoteOffer(sdp webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(sdp)
}

func (l *Link) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	// Trickle: send the description right away, candidates follow as
	// network-path-candidate events.
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (l *Link) ApplyRemoteAnswer(sdp webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(sdp)
}

func (l *Link) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (l *Link) RollbackLocal() error {
	return l.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (l *Link) AddRemoteCandidate(cand webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(cand)
}

func (l *Link) AddTrack(t webrtc.TrackLocal) error {
	sender, err := l.pc.AddTrack(t)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.senders[t.Kind()] = sender
	l.mu.Unlock()
	return nil
}

func (l *Link) ReplaceTrack(kind webrtc.RTPCodecType, t webrtc.TrackLocal) (bool, error) {
	l.mu.Lock()
	sender, ok := l.senders[kind]
	l.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, sender.ReplaceTrack(t)
}

func (l *Link) HasSender(kind webrtc.RTPCodecType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.senders[kind]
	return ok
}

func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	if err := l.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("peer", l.peer.String()).Msg("close error")
		return err
	}
	log.Info().Str("module", "rtc").Str("peer", l.peer.String()).Msg("link closed")
	return nil
}
