package rtc

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/schoolyard/meetmesh/internal/core"
	"github.com/schoolyard/meetmesh/internal/domain"
)

// Phase is the negotiation state of one peer link.
type Phase string

const (
	PhaseNew         Phase = "new"
	PhaseNegotiating Phase = "negotiating"
	PhaseStable      Phase = "stable"
	PhaseFailed      Phase = "failed"
	PhaseClosed      Phase = "closed"
)

// Conn is the registry's per-peer record: the media link plus the
// negotiation bookkeeping the session reads and writes. At most one Conn
// exists per PeerID.
type Conn struct {
	Peer domain.PeerID
	Link core.MediaLink

	Phase Phase

	// OfferPending is set from local-offer dispatch until the matching
	// answer is applied. At most one negotiation runs per peer; requests
	// arriving while it is set park in PendingRenegotiate.
	OfferPending       bool
	PendingRenegotiate bool

	// RemoteApplied flips once a remote description has been applied;
	// candidates arriving earlier wait in HeldCandidates.
	RemoteApplied  bool
	HeldCandidates []webrtc.ICECandidateInit
}

// Registry owns every live Conn. It is confined to the session task loop
// and therefore carries no lock of its own.
type Registry struct {
	factory core.LinkFactory
	conns   map[domain.PeerID]*Conn
}

func NewRegistry(factory core.LinkFactory) *Registry {
	return &Registry{
		factory: factory,
		conns:   make(map[domain.PeerID]*Conn),
	}
}

func (r *Registry) Get(peer domain.PeerID) (*Conn, bool) {
	c, ok := r.conns[peer]
	return c, ok
}

// GetOrCreate returns the existing Conn for peer or builds a new link
// from the seed. The bool reports whether a new one was created.
func (r *Registry) GetOrCreate(peer domain.PeerID, seed core.LinkSeed, hooks core.LinkHooks) (*Conn, bool, error) {
	if c, ok := r.conns[peer]; ok {
		return c, false, nil
	}
	seed.Peer = peer
	link, err := r.factory.NewLink(seed, hooks)
	if err != nil {
		return nil, false, err
	}
	c := &Conn{Peer: peer, Link: link, Phase: PhaseNew}
	r.conns[peer] = c
	log.Info().Str("module", "rtc").Str("peer", peer.String()).Int("tracks", len(seed.Tracks)).Msg("link created")
	return c, true, nil
}

// Close releases the peer's link and removes it. Idempotent.
func (r *Registry) Close(peer domain.PeerID) {
	c, ok := r.conns[peer]
	if !ok {
		return
	}
	delete(r.conns, peer)
	c.Phase = PhaseClosed
	_ = c.Link.Close()
	log.Info().Str("module", "rtc").Str("peer", peer.String()).Msg("link removed")
}

func (r *Registry) CloseAll() {
	for peer := range r.conns {
		r.Close(peer)
	}
}

func (r *Registry) Peers() []domain.PeerID {
	out := make([]domain.PeerID, 0, len(r.conns))
	for peer := range r.conns {
		out = append(out, peer)
	}
	return out
}

func (r *Registry) Len() int { return len(r.conns) }
