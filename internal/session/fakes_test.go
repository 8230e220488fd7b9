package session

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/schoolyard/meetmesh/internal/core"
	"github.com/schoolyard/meetmesh/internal/domain"
)

func audioTrack(t *testing.T) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "local")
	if err != nil {
		t.Fatalf("audio track: %v", err)
	}
	return track
}

func videoTrack(t *testing.T, id string) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, id, "local")
	if err != nil {
		t.Fatalf("video track: %v", err)
	}
	return track
}

type sentSDP struct {
	to  domain.PeerID
	sdp webrtc.SessionDescription
}

type fakeSender struct {
	offers     []sentSDP
	answers    []sentSDP
	candidates []domain.PeerID
	controls   []domain.ControlCommand
	chats      []string
	leaves     int
	failOffer  bool
	failAnswer bool
}

func (f *fakeSender) SendOffer(to domain.PeerID, sdp webrtc.SessionDescription, _ string) error {
	if f.failOffer {
		return errors.New("send failed")
	}
	f.offers = append(f.offers, sentSDP{to: to, sdp: sdp})
	return nil
}

func (f *fakeSender) SendAnswer(to domain.PeerID, sdp webrtc.SessionDescription) error {
	if f.failAnswer {
		return errors.New("send failed")
	}
	f.answers = append(f.answers, sentSDP{to: to, sdp: sdp})
	return nil
}

func (f *fakeSender) SendCandidate(to domain.PeerID, _ webrtc.ICECandidateInit) error {
	f.candidates = append(f.candidates, to)
	return nil
}

func (f *fakeSender) SendControl(cmd domain.ControlCommand) error {
	f.controls = append(f.controls, cmd)
	return nil
}

func (f *fakeSender) SendChat(text string, ack func(bool)) error {
	f.chats = append(f.chats, text)
	if ack != nil {
		ack(true)
	}
	return nil
}

func (f *fakeSender) SendLeave() error {
	f.leaves++
	return nil
}

type fakeLink struct {
	senders          map[webrtc.RTPCodecType]webrtc.TrackLocal
	remoteOffers     int
	remoteAnswers    int
	rollbacks        int
	candidates       []webrtc.ICECandidateInit
	added            int
	replaced         int
	closed           int
	failCreateAnswer bool
	failCreateOffer  bool
	failApplyRemote  bool
}

func newFakeLink() *fakeLink {
	return &fakeLink{senders: make(map[webrtc.RTPCodecType]webrtc.TrackLocal)}
}

func (l *fakeLink) ApplyRemoteOffer(webrtc.SessionDescription) error {
	if l.failApplyRemote {
		return errors.New("apply remote failed")
	}
	l.remoteOffers++
	return nil
}

func (l *fakeLink) CreateAnswer() (webrtc.SessionDescription, error) {
	if l.failCreateAnswer {
		return webrtc.SessionDescription{}, errors.New("create answer failed")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (l *fakeLink) ApplyRemoteAnswer(webrtc.SessionDescription) error {
	if l.failApplyRemote {
		return errors.New("apply remote failed")
	}
	l.remoteAnswers++
	return nil
}

func (l *fakeLink) CreateOffer() (webrtc.SessionDescription, error) {
	if l.failCreateOffer {
		return webrtc.SessionDescription{}, errors.New("create offer failed")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (l *fakeLink) RollbackLocal() error {
	l.rollbacks++
	return nil
}

func (l *fakeLink) AddRemoteCandidate(cand webrtc.ICECandidateInit) error {
	l.candidates = append(l.candidates, cand)
	return nil
}

func (l *fakeLink) AddTrack(t webrtc.TrackLocal) error {
	l.senders[t.Kind()] = t
	l.added++
	return nil
}

func (l *fakeLink) ReplaceTrack(kind webrtc.RTPCodecType, t webrtc.TrackLocal) (bool, error) {
	if _, ok := l.senders[kind]; !ok {
		return false, nil
	}
	l.senders[kind] = t
	l.replaced++
	return true, nil
}

func (l *fakeLink) HasSender(kind webrtc.RTPCodecType) bool {
	_, ok := l.senders[kind]
	return ok
}

func (l *fakeLink) Close() error {
	l.closed++
	return nil
}

type fakeFactory struct {
	links    map[domain.PeerID]*fakeLink
	hooks    map[domain.PeerID]core.LinkHooks
	seeds    map[domain.PeerID]core.LinkSeed
	prepared map[domain.PeerID]*fakeLink
	fail     bool
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		links:    make(map[domain.PeerID]*fakeLink),
		hooks:    make(map[domain.PeerID]core.LinkHooks),
		seeds:    make(map[domain.PeerID]core.LinkSeed),
		prepared: make(map[domain.PeerID]*fakeLink),
	}
}

func (f *fakeFactory) NewLink(seed core.LinkSeed, hooks core.LinkHooks) (core.MediaLink, error) {
	if f.fail {
		return nil, errors.New("factory failed")
	}
	l, ok := f.prepared[seed.Peer]
	if !ok {
		l = newFakeLink()
	}
	for _, t := range seed.Tracks {
		l.senders[t.Kind()] = t
	}
	f.links[seed.Peer] = l
	f.hooks[seed.Peer] = hooks
	f.seeds[seed.Peer] = seed
	return l, nil
}

type fakeSource struct {
	ready        bool
	audio        webrtc.TrackLocal
	camera       webrtc.TrackLocal
	screen       webrtc.TrackLocal
	sharing      bool
	audioEnabled bool
	stopped      bool
	swapErr      error
}

func (f *fakeSource) Tracks() ([]webrtc.TrackLocal, bool) {
	if !f.ready {
		return nil, false
	}
	var out []webrtc.TrackLocal
	if f.audio != nil && f.audioEnabled {
		out = append(out, f.audio)
	}
	v := f.camera
	if f.sharing {
		v = f.screen
	}
	if v != nil {
		out = append(out, v)
	}
	return out, true
}

func (f *fakeSource) SetAudioEnabled(enabled bool) webrtc.TrackLocal {
	f.audioEnabled = enabled
	if !enabled {
		return nil
	}
	return f.audio
}

func (f *fakeSource) SwapVideo(toScreen bool) (webrtc.TrackLocal, error) {
	if f.swapErr != nil {
		return nil, f.swapErr
	}
	f.sharing = toScreen
	if toScreen {
		return f.screen, nil
	}
	return f.camera, nil
}

func (f *fakeSource) Stop() { f.stopped = true }

func newTestSession(self domain.PeerID) (*Session, *fakeSender, *fakeFactory, *fakeSource) {
	sender := &fakeSender{}
	factory := newFakeFactory()
	source := &fakeSource{audioEnabled: true}
	s := New(Config{
		Room:        "room-1",
		SelfPeer:    self,
		SelfUser:    "user-" + domain.UserID(self),
		DisplayName: "Self",
	}, sender, factory, source, Callbacks{})
	return s, sender, factory, source
}

func entry(peer domain.PeerID, user domain.UserID, name string) domain.RosterEntry {
	return domain.RosterEntry{Peer: peer, UserID: user, DisplayName: name, Role: domain.RoleStudent}
}

func snapshot(host domain.UserID, entries ...domain.RosterEntry) domain.Roster {
	return domain.Roster{Entries: entries, HostID: host}
}

func offerSDP() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}
}

func answerSDP() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}
}
