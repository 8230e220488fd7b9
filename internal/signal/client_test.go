package signal_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolyard/meetmesh/internal/domain"
	"github.com/schoolyard/meetmesh/internal/signal"
)

var upgrader = websocket.Upgrader{}

// testServer is a scripted signaling endpoint: it answers the join
// handshake with a fixed ack and hands every later envelope to onEnvelope.
type testServer struct {
	srv        *httptest.Server
	ack        signal.JoinAckPayload
	push       []signal.Envelope
	onEnvelope func(conn *websocket.Conn, env signal.Envelope)
}

func newTestServer(t *testing.T, ack signal.JoinAckPayload) *testServer {
	t.Helper()
	ts := &testServer{ack: ack}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var join signal.Envelope
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		if join.Kind != signal.EventJoin {
			t.Errorf("first message %q, want join", join.Kind)
			return
		}

		ackEnv, _ := signal.NewEnvelope(signal.EventJoinAck, "", ts.ack)
		if err := conn.WriteJSON(ackEnv); err != nil {
			return
		}
		for _, env := range ts.push {
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}

		for {
			var env signal.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if ts.onEnvelope != nil {
				ts.onEnvelope(conn, env)
			}
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return strings.Replace(ts.srv.URL, "http", "ws", 1)
}

func okAck() signal.JoinAckPayload {
	return signal.JoinAckPayload{
		OK:     true,
		Self:   "peer-self",
		UserID: "user-self",
		Roster: domain.Roster{
			HostID: "user-self",
			Entries: []domain.RosterEntry{
				{Peer: "peer-self", UserID: "user-self", DisplayName: "Self"},
			},
		},
		ICEServers: []signal.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}},
	}
}

func TestConnectHandshake(t *testing.T) {
	ts := newTestServer(t, okAck())
	c := signal.New(signal.Options{URL: ts.wsURL()}, signal.Events{})
	defer c.Close()

	info, err := c.Connect(context.Background(), "room-1", signal.JoinPayload{DisplayName: "Self"})
	require.NoError(t, err)
	assert.Equal(t, domain.PeerID("peer-self"), info.Self)
	assert.Equal(t, domain.UserID("user-self"), info.UserID)
	require.Len(t, info.Roster.Entries, 1)
	require.Len(t, info.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, info.ICEServers[0].URLs)
}

func TestConnectRejected(t *testing.T) {
	ts := newTestServer(t, signal.JoinAckPayload{OK: false, Reason: "room_full"})
	c := signal.New(signal.Options{URL: ts.wsURL()}, signal.Events{})

	_, err := c.Connect(context.Background(), "room-1", signal.JoinPayload{})
	var joinErr *signal.JoinError
	require.ErrorAs(t, err, &joinErr)
	assert.Equal(t, "room_full", joinErr.Reason)
}

func TestConnectRetriesThenFails(t *testing.T) {
	c := signal.New(signal.Options{
		URL:      "ws://127.0.0.1:1",
		Attempts: 2,
		Backoff:  10 * time.Millisecond,
	}, signal.Events{})

	start := time.Now()
	_, err := c.Connect(context.Background(), "room-1", signal.JoinPayload{})
	require.Error(t, err)
	var joinErr *signal.JoinError
	assert.False(t, errors.As(err, &joinErr), "transport failure is not a join rejection")
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond, "backoff between attempts")
}

func TestEventsDispatchAfterRun(t *testing.T) {
	rosterEnv, _ := signal.NewEnvelope(signal.EventRoster, "", domain.Roster{
		HostID: "user-a",
		Entries: []domain.RosterEntry{
			{Peer: "peer-a", UserID: "user-a", DisplayName: "Alice"},
		},
	})
	offerEnv, _ := signal.NewEnvelope(signal.EventOffer, "", signal.SDPPayload{
		Type: "offer", SDP: "v=0", FromName: "Alice",
	})
	offerEnv.From = "peer-a"

	ts := newTestServer(t, okAck())
	ts.push = []signal.Envelope{rosterEnv, offerEnv}

	rosters := make(chan domain.Roster, 1)
	offers := make(chan domain.PeerID, 1)
	c := signal.New(signal.Options{URL: ts.wsURL()}, signal.Events{
		OnRoster: func(r domain.Roster) { rosters <- r },
		OnOffer: func(from domain.PeerID, sdp webrtc.SessionDescription, fromName string) {
			assert.Equal(t, webrtc.SDPTypeOffer, sdp.Type)
			assert.Equal(t, "Alice", fromName)
			offers <- from
		},
	})
	defer c.Close()

	_, err := c.Connect(context.Background(), "room-1", signal.JoinPayload{})
	require.NoError(t, err)
	c.Run()

	select {
	case r := <-rosters:
		assert.Equal(t, domain.UserID("user-a"), r.HostID)
	case <-time.After(2 * time.Second):
		t.Fatal("roster event never arrived")
	}
	select {
	case from := <-offers:
		assert.Equal(t, domain.PeerID("peer-a"), from)
	case <-time.After(2 * time.Second):
		t.Fatal("offer event never arrived")
	}
}

func TestChatAckRoundTrip(t *testing.T) {
	ts := newTestServer(t, okAck())
	ts.onEnvelope = func(conn *websocket.Conn, env signal.Envelope) {
		if env.Kind != signal.EventChat {
			return
		}
		var p signal.ChatPayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		ackEnv, _ := signal.NewEnvelope(signal.EventChatAck, "", signal.ChatAckPayload{ID: p.ID, OK: true})
		_ = conn.WriteJSON(ackEnv)
	}

	c := signal.New(signal.Options{URL: ts.wsURL()}, signal.Events{})
	defer c.Close()
	_, err := c.Connect(context.Background(), "room-1", signal.JoinPayload{})
	require.NoError(t, err)
	c.Run()

	acked := make(chan bool, 1)
	require.NoError(t, c.SendChat("hello", func(ok bool) { acked <- ok }))

	select {
	case ok := <-acked:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("chat ack never fired")
	}
}

func TestChatAckTimesOut(t *testing.T) {
	ts := newTestServer(t, okAck()) // never answers chat

	c := signal.New(signal.Options{URL: ts.wsURL(), AckTimeout: 50 * time.Millisecond}, signal.Events{})
	defer c.Close()
	_, err := c.Connect(context.Background(), "room-1", signal.JoinPayload{})
	require.NoError(t, err)
	c.Run()

	acked := make(chan bool, 1)
	require.NoError(t, c.SendChat("hello", func(ok bool) { acked <- ok }))

	select {
	case ok := <-acked:
		assert.False(t, ok, "silence resolves the ack negatively")
	case <-time.After(2 * time.Second):
		t.Fatal("ack timeout never fired")
	}
}

// A candidate without an sdpMLineIndex must come back without one, not
// with a pointer to zero.
func TestCandidatePayloadPreservesAbsentFields(t *testing.T) {
	ci := signal.CandidatePayload{Candidate: "candidate:1"}.Init()
	assert.Equal(t, "candidate:1", ci.Candidate)
	assert.Nil(t, ci.SDPMid)
	assert.Nil(t, ci.SDPMLineIndex)

	mid := "0"
	idx := uint16(1)
	round := signal.CandidateFromInit(webrtc.ICECandidateInit{
		Candidate:     "candidate:1",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}).Init()
	require.NotNil(t, round.SDPMid)
	assert.Equal(t, "0", *round.SDPMid)
	require.NotNil(t, round.SDPMLineIndex)
	assert.Equal(t, uint16(1), *round.SDPMLineIndex)
}

func TestSendAfterCloseReturnsErrClosed(t *testing.T) {
	ts := newTestServer(t, okAck())
	c := signal.New(signal.Options{URL: ts.wsURL()}, signal.Events{})
	_, err := c.Connect(context.Background(), "room-1", signal.JoinPayload{})
	require.NoError(t, err)
	c.Run()

	c.Close()
	<-c.Done()
	assert.ErrorIs(t, c.SendLeave(), signal.ErrClosed)
}
