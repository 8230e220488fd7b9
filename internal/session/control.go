package session

import (
	"github.com/rs/zerolog/log"

	"github.com/schoolyard/meetmesh/internal/domain"
)

// control applies a host command. The signaling server already verified
// the sender is the host; the client performs no check of its own.
func (s *Session) control(cmd domain.ControlCommand) {
	if s.closed {
		return
	}
	if err := cmd.Validate(); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("bad control command")
		return
	}

	switch cmd.Kind {
	case domain.ControlMute:
		if cmd.Target != s.cfg.SelfPeer {
			return
		}
		// Mute is enforced by the target's own client.
		s.applyMute(true)
		s.warn("muted by host")
	case domain.ControlRemove:
		if cmd.Target != s.cfg.SelfPeer {
			return
		}
		s.teardown("removed by host")
	case domain.ControlEnd:
		s.teardown("ended by host")
	}
}
