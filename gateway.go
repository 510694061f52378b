package main

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection, tagged with the room it joined at
// handshake time. The connection id is transport-level and distinct from
// the participant id a client supplies on JOIN_REQUEST.
type Client struct {
	conn   *websocket.Conn
	send   chan any
	id     string
	roomID string
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// Gateway tracks which connections belong to which room id, independently
// of the room registry: a broadcast group can outlive its room record, and
// connections to a not-yet-created room simply have their messages dropped
// by the router.
type Gateway struct {
	mu     sync.Mutex
	groups map[string]map[*Client]bool
}

func newGateway() *Gateway {
	return &Gateway{
		groups: make(map[string]map[*Client]bool),
	}
}

func (g *Gateway) attach(c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.groups[c.roomID] == nil {
		g.groups[c.roomID] = make(map[*Client]bool)
	}
	g.groups[c.roomID][c] = true
}

func (g *Gateway) detach(c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	clients, ok := g.groups[c.roomID]
	if !ok {
		return
	}
	if clients[c] {
		delete(clients, c)
		close(c.send)
	}
	if len(clients) == 0 {
		delete(g.groups, c.roomID)
	}
}

// broadcast fans msg out to every connection presently tagged with roomID.
// Best-effort: a client whose send buffer is full is dropped rather than
// blocking the rest of the room.
func (g *Gateway) broadcast(roomID string, msg any) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for c := range g.groups[roomID] {
		select {
		case c.send <- msg:
		default:
			delete(g.groups[roomID], c)
			close(c.send)
		}
	}
}

// sendTo delivers msg to a single connection, with the same drop-on-full
// policy as broadcast.
func (g *Gateway) sendTo(c *Client, msg any) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.groups[c.roomID][c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(g.groups[c.roomID], c)
		close(c.send)
	}
}

// closeRoom disconnects every client in a room's broadcast group (used by
// the idle-room reaper).
func (g *Gateway) closeRoom(roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for c := range g.groups[roomID] {
		close(c.send)
		_ = c.conn.Close()
		delete(g.groups[roomID], c)
	}
	delete(g.groups, roomID)
}
