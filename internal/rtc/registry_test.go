package rtc

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolyard/meetmesh/internal/core"
	"github.com/schoolyard/meetmesh/internal/domain"
)

type stubLink struct {
	closed int
}

func (l *stubLink) ApplyRemoteOffer(webrtc.SessionDescription) error { return nil }
func (l *stubLink) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer}, nil
}
func (l *stubLink) ApplyRemoteAnswer(webrtc.SessionDescription) error { return nil }
func (l *stubLink) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer}, nil
}
func (l *stubLink) RollbackLocal() error                           { return nil }
func (l *stubLink) AddRemoteCandidate(webrtc.ICECandidateInit) error { return nil }
func (l *stubLink) AddTrack(webrtc.TrackLocal) error               { return nil }
func (l *stubLink) ReplaceTrack(webrtc.RTPCodecType, webrtc.TrackLocal) (bool, error) {
	return false, nil
}
func (l *stubLink) HasSender(webrtc.RTPCodecType) bool { return false }
func (l *stubLink) Close() error {
	l.closed++
	return nil
}

type stubFactory struct {
	built map[domain.PeerID]*stubLink
	fail  bool
}

func (f *stubFactory) NewLink(seed core.LinkSeed, _ core.LinkHooks) (core.MediaLink, error) {
	if f.fail {
		return nil, errors.New("boom")
	}
	l := &stubLink{}
	f.built[seed.Peer] = l
	return l, nil
}

func newStubFactory() *stubFactory {
	return &stubFactory{built: make(map[domain.PeerID]*stubLink)}
}

func TestGetOrCreateReturnsSameConn(t *testing.T) {
	f := newStubFactory()
	r := NewRegistry(f)

	c1, created, err := r.GetOrCreate("peer-a", core.LinkSeed{}, core.LinkHooks{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, PhaseNew, c1.Phase)
	assert.Equal(t, domain.PeerID("peer-a"), c1.Peer)

	c2, created, err := r.GetOrCreate("peer-a", core.LinkSeed{}, core.LinkHooks{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, c1, c2, "one connection per peer id")
	assert.Len(t, f.built, 1)
}

func TestGetOrCreatePropagatesFactoryError(t *testing.T) {
	f := newStubFactory()
	f.fail = true
	r := NewRegistry(f)

	_, _, err := r.GetOrCreate("peer-a", core.LinkSeed{}, core.LinkHooks{})
	require.Error(t, err)
	assert.Equal(t, 0, r.Len(), "failed creation leaves no entry")
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newStubFactory()
	r := NewRegistry(f)
	_, _, err := r.GetOrCreate("peer-a", core.LinkSeed{}, core.LinkHooks{})
	require.NoError(t, err)

	r.Close("peer-a")
	r.Close("peer-a")
	r.Close("never-existed")

	assert.Equal(t, 1, f.built["peer-a"].closed)
	assert.Equal(t, 0, r.Len())
}

func TestCloseAll(t *testing.T) {
	f := newStubFactory()
	r := NewRegistry(f)
	for _, peer := range []domain.PeerID{"a", "b", "c"} {
		_, _, err := r.GetOrCreate(peer, core.LinkSeed{}, core.LinkHooks{})
		require.NoError(t, err)
	}
	assert.ElementsMatch(t, []domain.PeerID{"a", "b", "c"}, r.Peers())

	r.CloseAll()
	assert.Equal(t, 0, r.Len())
	for peer, l := range f.built {
		assert.Equal(t, 1, l.closed, "peer %s", peer)
	}
}
