package domain

import "errors"

var ErrUnknownControl = errors.New("unknown control kind")

// ControlKind enumerates the host-only commands relayed by the signaling
// server. The client trusts the server to have checked the sender is the
// host before relaying; it never re-checks.
type ControlKind string

const (
	ControlMute   ControlKind = "mute"
	ControlRemove ControlKind = "remove"
	ControlEnd    ControlKind = "end"
)

type ControlCommand struct {
	Kind   ControlKind `json:"kind"`
	Target PeerID      `json:"targetPeerId,omitempty"`
	By     UserID      `json:"byUserId"`
}

func (c ControlCommand) Validate() error {
	switch c.Kind {
	case ControlMute, ControlRemove:
		if c.Target == "" {
			return errors.New("control command missing target")
		}
		return nil
	case ControlEnd:
		return nil
	default:
		return ErrUnknownControl
	}
}
