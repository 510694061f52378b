package main

import (
	"crypto/rand"
	"sync"
)

// Registry is the process-wide room map. Map operations are atomic under
// the registry lock; per-room state is serialized by each room's own lock,
// so unrelated rooms never contend.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

func newRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
	}
}

// getOrCreate returns the room for id, creating it with the given host
// connection if it does not exist yet. An existing room keeps its host.
func (reg *Registry) getOrCreate(id, hostConnectionID string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if room, ok := reg.rooms[id]; ok {
		return room, false
	}

	room := newRoom(id, hostConnectionID)
	reg.rooms[id] = room
	return room, true
}

func (reg *Registry) get(id string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	return reg.rooms[id]
}

// remove deletes the room only if it is still the registered one, so a
// removal racing a fresh host-connect never clobbers the new room.
func (reg *Registry) remove(id string, room *Room) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.rooms[id] == room {
		delete(reg.rooms, id)
	}
}

func (reg *Registry) list() []*Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// newRoomID generates a short shareable room ID (uppercase letters and
// digits, ambiguous characters excluded) and ensures it doesn't collide
// with existing rooms.
func (reg *Registry) newRoomID() string {
	const letters = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	for {
		buf := make([]byte, 4)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 4)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		reg.mu.Lock()
		_, exists := reg.rooms[id]
		reg.mu.Unlock()

		if !exists {
			return id
		}
	}
}
