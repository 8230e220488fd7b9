package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/schoolyard/meetmesh/internal/domain"
)

// SignalSender is the outbound half of the signaling channel as seen by the
// session. All sends are fire-and-forget except chat, which carries an
// acknowledgement callback. Owned by the adapter; the adapter must Close()
// the underlying transport.
type SignalSender interface {
	SendOffer(to domain.PeerID, sdp webrtc.SessionDescription, fromName string) error
	SendAnswer(to domain.PeerID, sdp webrtc.SessionDescription) error
	SendCandidate(to domain.PeerID, cand webrtc.ICECandidateInit) error
	// SendControl carries a moderation command; the relay enforces who may
	// issue it, the client only forwards.
	SendControl(cmd domain.ControlCommand) error
	// SendChat fires ack(true) when the server confirms delivery and
	// ack(false) if the confirmation never arrives.
	SendChat(text string, ack func(ok bool)) error
	SendLeave() error
}
