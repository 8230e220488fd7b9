package domain

import "errors"

const (
	MaxDisplayNameLen = 64
	MaxRoomIDLen      = 36
)

var (
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	RoleGuest   Role = "guest"
)

// Participant is the durable view of one meeting member. It is keyed by
// UserID everywhere; the transport PeerID maps onto it separately.
type Participant struct {
	UserID      UserID `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
	IsHost      bool   `json:"isHost"`
	Muted       bool   `json:"muted"`
}

// NewParticipant avoids raw struct literals in adapters and keeps the
// display-name rules in one place.
func NewParticipant(id UserID, displayName string, role Role) (*Participant, error) {
	if displayName == "" {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	if role == "" {
		role = RoleGuest
	}
	return &Participant{UserID: id, DisplayName: displayName, Role: role}, nil
}

func (p *Participant) SetDisplayName(name string) error {
	if name == "" {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	p.DisplayName = name
	return nil
}
