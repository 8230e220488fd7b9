// Package core holds the seams between the session controller and its
// adapters. Concrete transports (websocket signaling, pion peer
// connections) live in their own packages and implement these interfaces;
// tests substitute in-process fakes.
package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/schoolyard/meetmesh/internal/domain"
)

// PathState mirrors the ICE connectivity of one peer link. Reaching Failed
// or Disconnected is logged only; there is no per-link retry.
type PathState string

const (
	PathChecking     PathState = "checking"
	PathConnected    PathState = "connected"
	PathFailed       PathState = "failed"
	PathDisconnected PathState = "disconnected"
)

// RemoteTrack is the slice of *webrtc.TrackRemote the session actually
// consumes. Narrowed to an interface so link fakes can deliver tracks
// without a live transport.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// LinkHooks are the reactions wired into every newly created link:
// locally gathered candidates go to the signaling channel addressed to the
// owning peer, remote media attaches to the participant's feed, path-state
// changes get logged, and a negotiation-needed signal is handed to the
// session's renegotiation driver.
type LinkHooks struct {
	OnLocalCandidate    func(webrtc.ICECandidateInit)
	OnRemoteTrack       func(RemoteTrack)
	OnPathState         func(PathState)
	OnNegotiationNeeded func()
}

// MediaLink abstracts one peer connection. Implemented by rtc.Link over
// pion; faked in session tests.
//
// The four SDP methods each perform the full local side of one negotiation
// step: Create* also applies the description locally before returning it.
type MediaLink interface {
	ApplyRemoteOffer(webrtc.SessionDescription) error
	CreateAnswer() (webrtc.SessionDescription, error)
	ApplyRemoteAnswer(webrtc.SessionDescription) error
	CreateOffer() (webrtc.SessionDescription, error)
	// RollbackLocal abandons a pending local offer so a colliding remote
	// offer can be applied. Used by the polite side of glare handling.
	RollbackLocal() error

	AddRemoteCandidate(webrtc.ICECandidateInit) error

	// AddTrack attaches a local track, creating a new sender.
	AddTrack(webrtc.TrackLocal) error
	// ReplaceTrack swaps the track on an existing same-kind sender in
	// place. Returns false when no such sender exists; the caller then
	// falls back to AddTrack plus a renegotiation round.
	ReplaceTrack(kind webrtc.RTPCodecType, t webrtc.TrackLocal) (bool, error)
	HasSender(kind webrtc.RTPCodecType) bool

	// Close releases the underlying connection. Safe to call repeatedly.
	Close() error
}

// LinkSeed carries everything a newly created link starts from.
type LinkSeed struct {
	Peer       domain.PeerID
	ICEServers []webrtc.ICEServer
	Tracks     []webrtc.TrackLocal
}

// LinkFactory builds links. The production factory wraps pion; session
// tests inject one producing fakes.
type LinkFactory interface {
	NewLink(seed LinkSeed, hooks LinkHooks) (MediaLink, error)
}
