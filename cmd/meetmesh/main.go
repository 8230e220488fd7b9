package main

import (
	"context"
	"errors"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/schoolyard/meetmesh/internal/config"
	"github.com/schoolyard/meetmesh/internal/core"
	"github.com/schoolyard/meetmesh/internal/domain"
	"github.com/schoolyard/meetmesh/internal/media"
	"github.com/schoolyard/meetmesh/internal/rtc"
	"github.com/schoolyard/meetmesh/internal/session"
	"github.com/schoolyard/meetmesh/internal/signal"
)

func main() {
	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Room == "" {
		log.Fatal().Msg("no room configured (set room in config or MEETMESH_ROOM)")
	}

	capture, screen, api, err := media.Platform()
	if err != nil {
		log.Fatal().Err(err).Msg("media platform setup")
	}
	if cfg.DisableCapture {
		capture, screen = nil, nil
	}

	var sess *session.Session
	client := signal.New(signal.Options{
		URL:        cfg.SignalURL,
		Attempts:   cfg.DialAttempts,
		Backoff:    cfg.DialBackoff,
		AckTimeout: cfg.ChatAckTimeout,
	}, signal.Events{
		OnRoster:     func(r domain.Roster) { sess.HandleRoster(r) },
		OnPeerJoined: func(p signal.PeerJoinedPayload) { sess.HandlePeerJoined(p.Peer, p.UserID, p.DisplayName, p.Role) },
		OnPeerLeft:   func(p signal.PeerLeftPayload) { sess.HandlePeerLeft(p.Peer, p.UserID) },
		OnOffer: func(from domain.PeerID, sdp webrtc.SessionDescription, name string) {
			sess.HandleOffer(from, sdp, name)
		},
		OnAnswer: func(from domain.PeerID, sdp webrtc.SessionDescription) {
			sess.HandleAnswer(from, sdp)
		},
		OnCandidate: func(from domain.PeerID, cand webrtc.ICECandidateInit) {
			sess.HandleCandidate(from, cand)
		},
		OnControl:    func(cmd domain.ControlCommand) { sess.HandleControl(cmd) },
		OnChat:       func(p signal.ChatPayload) { sess.HandleChat(p.DisplayName, p.Text) },
		OnICEServers: func(servers []webrtc.ICEServer) { sess.HandleICEServers(servers) },
		OnSessionEnded: func() { sess.HandleSessionEnded() },
		OnClosed:       func(err error) { sess.HandleSignalClosed(err) },
	})

	room := domain.RoomID(cfg.Room)
	info, err := client.Connect(ctx, room, signal.JoinPayload{
		Room:        cfg.Room,
		Token:       cfg.Token,
		DisplayName: cfg.DisplayName,
		Role:        cfg.Role,
	})
	if err != nil {
		var joinErr *signal.JoinError
		if errors.As(err, &joinErr) {
			log.Fatal().Str("reason", joinErr.Reason).Msg("join rejected")
		}
		log.Fatal().Err(err).Msg("connect failed")
	}

	source := media.NewSource(capture, screen, func() { sess.MediaSettled() })

	iceServers := info.ICEServers
	if len(iceServers) == 0 && len(cfg.STUNServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	}

	sess = session.New(session.Config{
		Room:        room,
		SelfPeer:    info.Self,
		SelfUser:    info.UserID,
		DisplayName: cfg.DisplayName,
		CallStagger: cfg.CallStagger,
		ICEServers:  iceServers,
	}, client, rtc.NewFactory(api), source, session.Callbacks{
		OnRemoteTrack: func(peer domain.PeerID, name string, track core.RemoteTrack) {
			log.Info().Str("peer", peer.String()).Str("name", name).Str("kind", track.Kind().String()).Msg("remote media attached")
		},
		OnParticipantJoined: func(p domain.Participant) {
			log.Info().Str("user", p.UserID.String()).Str("name", p.DisplayName).Msg("participant joined")
		},
		OnParticipantLeft: func(p domain.Participant) {
			log.Info().Str("user", p.UserID.String()).Str("name", p.DisplayName).Msg("participant left")
		},
		OnChat: func(name, text string) {
			log.Info().Str("from", name).Str("text", text).Msg("chat")
		},
		OnWarning: func(msg string) {
			log.Warn().Str("warning", msg).Msg("session warning")
		},
		OnEnded: func(reason string) {
			log.Info().Str("reason", reason).Msg("session ended")
			cancel()
		},
	})

	sess.Start()
	client.Run()
	sess.HandleRoster(info.Roster)
	source.Start(ctx)

	select {
	case <-ctx.Done():
		sess.Leave()
		<-sess.Done()
	case <-sess.Done():
	}
	client.Close()
	log.Info().Msg("exited gracefully")
}
