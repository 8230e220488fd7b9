package domain

// RosterEntry pairs one participant's durable identity with the ephemeral
// peer id it is currently reachable under.
type RosterEntry struct {
	Peer        PeerID `json:"peerId"`
	UserID      UserID `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
	Muted       bool   `json:"muted"`
}

// Roster is the authoritative participant snapshot pushed by the signaling
// server. HostID compares against UserID, never against PeerID.
type Roster struct {
	Entries []RosterEntry `json:"participants"`
	HostID  UserID        `json:"hostId"`
}

// PeerSet returns the set of peer ids in the snapshot, minus self.
func (r Roster) PeerSet(self PeerID) map[PeerID]RosterEntry {
	out := make(map[PeerID]RosterEntry, len(r.Entries))
	for _, e := range r.Entries {
		if e.Peer == self {
			continue
		}
		out[e.Peer] = e
	}
	return out
}

func (r Roster) Find(peer PeerID) (RosterEntry, bool) {
	for _, e := range r.Entries {
		if e.Peer == peer {
			return e, true
		}
	}
	return RosterEntry{}, false
}
