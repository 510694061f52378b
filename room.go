package main

import (
	"sync"
	"time"
)

// Participant is a logical player identity bound to a live connection. The
// connection id stays server-side; clients only ever see id/nickname/isHost.
type Participant struct {
	ID           string `json:"id"`
	ConnectionID string `json:"-"`
	Nickname     string `json:"nickname"`
	IsHost       bool   `json:"isHost"`
}

// Room is a single game session. All reads and mutations of a room happen
// under mu, so handler read-modify-broadcast sequences never interleave.
// Participant order is join order, which decides host succession.
type Room struct {
	mu sync.RWMutex

	id               string
	hostConnectionID string
	participants     []*Participant
	game             GameState

	createdAt  time.Time
	lastActive time.Time
}

func newRoom(id, hostConnectionID string) *Room {
	now := time.Now()
	return &Room{
		id:               id,
		hostConnectionID: hostConnectionID,
		game:             newGameState(),
		createdAt:        now,
		lastActive:       now,
	}
}

func (r *Room) participantByIDLocked(id string) *Participant {
	for _, p := range r.participants {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Room) participantByConnLocked(connectionID string) (int, *Participant) {
	for i, p := range r.participants {
		if p.ConnectionID == connectionID {
			return i, p
		}
	}
	return -1, nil
}

// joinLocked adds a participant, or rebinds an existing one when the same
// participant id joins again (reconnects keep their original join order).
func (r *Room) joinLocked(id, connectionID, nickname string) *Participant {
	if existing := r.participantByIDLocked(id); existing != nil {
		existing.Nickname = nickname
		existing.ConnectionID = connectionID
		if existing.IsHost {
			r.hostConnectionID = connectionID
		}
		return existing
	}

	p := &Participant{
		ID:           id,
		ConnectionID: connectionID,
		Nickname:     nickname,
		IsHost:       connectionID == r.hostConnectionID,
	}
	r.participants = append(r.participants, p)
	return p
}

func (r *Room) removeParticipantLocked(index int) {
	r.participants = append(r.participants[:index], r.participants[index+1:]...)
}

// promoteNextHostLocked hands host authority to the earliest-joined
// remaining participant. Returns nil when the room is empty.
func (r *Room) promoteNextHostLocked() *Participant {
	if len(r.participants) == 0 {
		return nil
	}

	next := r.participants[0]
	next.IsHost = true
	r.hostConnectionID = next.ConnectionID
	return next
}

// participantViewsLocked copies the participant list for broadcast, in join
// order.
func (r *Room) participantViewsLocked() []Participant {
	views := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		views = append(views, *p)
	}
	return views
}
