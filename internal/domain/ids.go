// Package domain contains entities without logic, just meta-data.
package domain

// PeerID is the ephemeral identifier the signaling server assigns to one
// transport session. It is NOT stable across reconnects; anything that must
// survive a reconnect keys on UserID instead.
type PeerID string

// UserID is the durable identity of a participant on the platform.
type UserID string

type RoomID string

func (p PeerID) String() string { return string(p) }

func (u UserID) String() string { return string(u) }
