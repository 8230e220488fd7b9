// Package signal implements the client side of the meeting signaling
// channel: a websocket carrying JSON envelopes. The package is a dumb
// dispatcher, it decodes envelopes and hands them to callbacks and nothing
// more. All meeting logic lives in internal/session.
package signal

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/schoolyard/meetmesh/internal/domain"
)

type EventKind string

const (
	EventJoin         EventKind = "join"
	EventJoinAck      EventKind = "join-ack"
	EventRoster       EventKind = "roster"
	EventPeerJoined   EventKind = "participant-joined"
	EventPeerLeft     EventKind = "participant-left"
	EventOffer        EventKind = "offer"
	EventAnswer       EventKind = "answer"
	EventCandidate    EventKind = "candidate"
	EventControl      EventKind = "control"
	EventChat         EventKind = "chat"
	EventChatAck      EventKind = "chat-ack"
	EventICEServers   EventKind = "ice-servers"
	EventSessionEnded EventKind = "session-ended"
	EventLeave        EventKind = "leave"
	EventError        EventKind = "error"
)

// Envelope frames every message in both directions. To is set on targeted
// messages (offer/answer/candidate); From is stamped by the server on
// relayed ones.
type Envelope struct {
	Kind    EventKind       `json:"type"`
	From    domain.PeerID   `json:"from,omitempty"`
	To      domain.PeerID   `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(kind EventKind, to domain.PeerID, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: kind, To: to, Payload: raw}, nil
}

type JoinPayload struct {
	Room        string `json:"room"`
	Token       string `json:"token,omitempty"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role,omitempty"`
}

type JoinAckPayload struct {
	OK         bool          `json:"ok"`
	Reason     string        `json:"reason,omitempty"`
	Self       domain.PeerID `json:"self,omitempty"`
	UserID     domain.UserID `json:"userId,omitempty"`
	Roster     domain.Roster `json:"roster,omitempty"`
	ICEServers []ICEServer   `json:"iceServers,omitempty"`
}

// SDPPayload carries an offer or answer. FromName rides along on offers so
// the callee can label the tile before the roster catches up.
type SDPPayload struct {
	Type     string `json:"sdpType"`
	SDP      string `json:"sdp"`
	FromName string `json:"fromName,omitempty"`
}

func (p SDPPayload) Description() webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(p.Type),
		SDP:  p.SDP,
	}
}

// CandidatePayload is the wire form of one network-path candidate. The
// index stays a pointer so an absent field survives the round trip as
// absent, not as zero.
type CandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        string  `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

func CandidateFromInit(ci webrtc.ICECandidateInit) CandidatePayload {
	p := CandidatePayload{Candidate: ci.Candidate}
	if ci.SDPMid != nil {
		p.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		idx := *ci.SDPMLineIndex
		p.SDPMLineIndex = &idx
	}
	return p
}

func (p CandidatePayload) Init() webrtc.ICECandidateInit {
	ci := webrtc.ICECandidateInit{Candidate: p.Candidate}
	if p.SDPMid != "" {
		mid := p.SDPMid
		ci.SDPMid = &mid
	}
	if p.SDPMLineIndex != nil {
		idx := *p.SDPMLineIndex
		ci.SDPMLineIndex = &idx
	}
	return ci
}

type PeerJoinedPayload struct {
	Peer        domain.PeerID `json:"peerId"`
	UserID      domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName"`
	Role        domain.Role   `json:"role,omitempty"`
}

type PeerLeftPayload struct {
	Peer   domain.PeerID `json:"peerId"`
	UserID domain.UserID `json:"userId"`
}

type ChatPayload struct {
	ID          string        `json:"id"`
	Text        string        `json:"text"`
	SenderID    domain.UserID `json:"senderId,omitempty"`
	DisplayName string        `json:"displayName,omitempty"`
}

type ChatAckPayload struct {
	ID string `json:"id"`
	OK bool   `json:"ok"`
}

// ICEServer is the wire form of a connectivity-assist server entry. The
// server may push a refreshed set once after join.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type ICEServersPayload struct {
	Servers []ICEServer `json:"servers"`
}

func (p ICEServersPayload) WebRTC() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(p.Servers))
	for _, s := range p.Servers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}

type ErrorPayload struct {
	Reason string `json:"reason"`
}
