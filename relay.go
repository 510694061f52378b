// Partyrelay room coordinator
//
// A thin relay for realtime party games: clients connect over websockets,
// join a room by shareable ID, and exchange game messages the server fans
// out to the whole room. Game rules live in the clients; the relay keeps
// the authoritative participant list and host role.
//
// Features:
// - WebSocket handshake via query params: /ws?roomId=<id>&isHost=<bool>
// - Rooms created on first host connection, removed when the last
//   participant disconnects
// - Two-phase join: transport attach at handshake, logical join on
//   JOIN_REQUEST
// - Host authority for starting games, with host failover to the
//   earliest-joined survivor when the host drops
// - Per-room game phase, round counter, and score seeding; round results
//   and winners are client-reported and relayed, never computed server-side
// - Unrecognized message types relayed verbatim for forward compatibility
// - Idle rooms reaped after a configurable timeout
// - Shareable join links: /room redirects to a fresh 4-char room ID, with
//   a PNG QR code at /room/:roomid/qr backed by go-qrcode

package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Relay wires the connection gateway to the room registry and routes every
// inbound message to a handler or a room-wide broadcast.
type Relay struct {
	cfg     *Config
	gateway *Gateway
	rooms   *Registry
}

func newRelay(cfg *Config) *Relay {
	rl := &Relay{
		cfg:     cfg,
		gateway: newGateway(),
		rooms:   newRegistry(),
	}
	if cfg.roomTimeout > 0 {
		go rl.reaperLoop()
	}
	return rl
}

// serveWS is the websocket handshake: roomId is required, isHost defaults
// to false. A host connecting to an unregistered room id creates the room.
func (rl *Relay) serveWS() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := r.URL.Query().Get("roomId")
		if roomID == "" {
			http.Error(w, "missing roomId", http.StatusBadRequest)
			return
		}
		isHost, _ := strconv.ParseBool(r.URL.Query().Get("isHost"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:   conn,
			send:   make(chan any, 8),
			id:     uuid.NewString(),
			roomID: roomID,
		}

		// Attach before any message is routed, so broadcasts to the room
		// reach this connection from the first handled message onward.
		rl.gateway.attach(client)

		if isHost {
			if _, created := rl.rooms.getOrCreate(roomID, client.id); created {
				logf(rl.cfg, "ROOMS: Created room %s", roomID)
			}
		}

		go client.writePump()
		client.readPump(rl)
	}
}

func (c *Client) readPump(rl *Relay) {
	defer func() {
		rl.gateway.detach(c)
		rl.handleDisconnect(c)
		_ = c.conn.Close()
	}()

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		rl.route(c, msg)
	}
}

// route dispatches one inbound message. The room is looked up per message,
// never cached across messages: a miss means the room was torn down (or
// never created by a host) and the message is dropped as a benign race.
func (rl *Relay) route(c *Client, msg Message) {
	room := rl.rooms.get(c.roomID)
	if room == nil {
		logf(rl.cfg, "ROOMS: Dropped %s for unknown room %q", msg.Type, c.roomID)
		return
	}

	switch msg.Type {
	case msgJoinRequest:
		rl.handleJoin(c, room, msg)

	case msgGameStart:
		rl.handleGameStart(c, room, msg)

	case msgRoundResult:
		room.mu.Lock()
		room.lastActive = time.Now()
		room.game.advanceRound()
		rl.gateway.broadcast(c.roomID, msg)
		room.mu.Unlock()

	case msgGameResult:
		var p gameResultPayload
		_ = json.Unmarshal(msg.Payload, &p)

		room.mu.Lock()
		room.lastActive = time.Now()
		room.game.finish(p.Winner)
		rl.gateway.broadcast(c.roomID, msg)
		room.mu.Unlock()

	default:
		// TAP_EVENT, GAME_STATE_UPDATE, and any type this relay doesn't
		// know about: forward verbatim, fail open.
		room.mu.Lock()
		room.lastActive = time.Now()
		rl.gateway.broadcast(c.roomID, msg)
		room.mu.Unlock()
	}
}

// handleJoin turns a transport connection into a participant. The envelope
// sender is the client-supplied stable participant id; a repeat join with
// the same id rebinds that participant instead of appending a duplicate.
func (rl *Relay) handleJoin(c *Client, room *Room, msg Message) {
	var p joinRequestPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		logf(rl.cfg, "ROOMS: Malformed JOIN_REQUEST in room %s: %v", room.id, err)
		return
	}

	participantID := msg.Sender
	if participantID == "" {
		participantID = c.id
	}

	room.mu.Lock()
	room.lastActive = time.Now()

	joined := *room.joinLocked(participantID, c.id, p.Nickname)
	state := room.game.snapshot()
	views := room.participantViewsLocked()

	// Confirmation is private to the joiner; the roster update goes to
	// everyone, joiner included.
	rl.gateway.sendTo(c, serverMessage(msgJoinConfirmed, joinConfirmedPayload{
		Participant: joined,
		GameState:   state,
	}))
	rl.gateway.broadcast(room.id, serverMessage(msgPlayerListUpdate, playerListPayload{
		Participants: views,
	}))
	room.mu.Unlock()

	logf(rl.cfg, "ROOMS: %q joined room %s", p.Nickname, room.id)
}

// handleGameStart resets the room's game state and announces the new game.
// Host-only: anyone else gets a private ERROR and nothing is broadcast.
func (rl *Relay) handleGameStart(c *Client, room *Room, msg Message) {
	var p gameStartPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		logf(rl.cfg, "ROOMS: Malformed GAME_START in room %s: %v", room.id, err)
		return
	}

	room.mu.Lock()
	room.lastActive = time.Now()

	if c.id != room.hostConnectionID {
		room.mu.Unlock()
		logf(rl.cfg, "ROOMS: Rejected GAME_START from non-host in room %s", room.id)
		rl.gateway.sendTo(c, serverMessage(msgError, errorPayload{
			Message: "only the host may start a game",
		}))
		return
	}

	room.game.start(p.GameType, p.Rounds, room.participants)
	state := room.game.snapshot()

	rl.gateway.broadcast(room.id, serverMessage(msgGameStart, gameStartPayload{
		GameType:  p.GameType,
		GameState: &state,
	}))
	room.mu.Unlock()

	logf(rl.cfg, "ROOMS: Started %q game in room %s", p.GameType, room.id)
}

// handleDisconnect runs when a connection's read loop ends, after the
// gateway has detached it. It removes the owning participant, migrates the
// host role if needed, and tears the room down once empty.
func (rl *Relay) handleDisconnect(c *Client) {
	room := rl.rooms.get(c.roomID)
	if room == nil {
		return
	}

	room.mu.Lock()
	room.lastActive = time.Now()

	index, gone := room.participantByConnLocked(c.id)
	if gone == nil {
		// Connection closed before its logical join completed. A host
		// that never joined still owns the room record; drop it rather
		// than leaking an unreachable room.
		abandoned := len(room.participants) == 0 && room.hostConnectionID == c.id
		room.mu.Unlock()
		if abandoned {
			rl.rooms.remove(room.id, room)
			logf(rl.cfg, "ROOMS: Removed abandoned room %s", room.id)
		}
		return
	}

	room.removeParticipantLocked(index)

	rl.gateway.broadcast(room.id, serverMessage(msgDisconnectNotice, disconnectNoticePayload{
		ParticipantID: gone.ID,
		Nickname:      gone.Nickname,
	}))

	if gone.IsHost {
		if next := room.promoteNextHostLocked(); next != nil {
			rl.gateway.broadcast(room.id, serverMessage(msgHostChange, hostChangePayload{
				NewHostID:       next.ID,
				NewHostNickname: next.Nickname,
			}))
			logf(rl.cfg, "ROOMS: Host of room %s migrated to %q", room.id, next.Nickname)
		}
	}

	empty := len(room.participants) == 0
	room.mu.Unlock()

	if empty {
		rl.rooms.remove(room.id, room)
		logf(rl.cfg, "ROOMS: Removed empty room %s", room.id)
	}

	logf(rl.cfg, "ROOMS: %q left room %s", gone.Nickname, room.id)
}

// reaperLoop periodically removes rooms that have been idle longer than the
// configured timeout, disconnecting any lingering clients.
func (rl *Relay) reaperLoop() {
	ticker := time.NewTicker(rl.cfg.roomTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-rl.cfg.roomTimeout)

		for _, room := range rl.rooms.list() {
			room.mu.RLock()
			last := room.lastActive
			room.mu.RUnlock()

			if last.Before(cutoff) {
				rl.rooms.remove(room.id, room)
				rl.gateway.closeRoom(room.id)
				logf(rl.cfg, "ROOMS: Reaped idle room %s", room.id)
			}
		}
	}
}

func serveRoomPage(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_, _ = w.Write([]byte(newPage("partyrelay", "Room "+roomID)))
	}
}

// qrHandler generates a PNG QR code for the room join URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /room/:roomid/qr; strip trailing "/qr" to get the join URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// redirectNewRoom handles GET /room by generating a fresh shareable room ID
// and redirecting to its page. The room itself isn't registered until a
// host connects to it.
func redirectNewRoom(cfg *Config, path string, rl *Relay) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := rl.rooms.newRoomID()
		logf(cfg, "ROOMS: Issued room id %s", roomID)
		http.Redirect(w, r, path+"/"+roomID, http.StatusTemporaryRedirect)
	}
}

// registerRelay sets up routes so that:
//   - /ws                → websocket handshake (?roomId=<id>&isHost=<bool>)
//   - $path              → redirects to a new random room ID
//   - $path/:roomid      → room landing page
//   - $path/:roomid/qr   → PNG QR code for that room URL
func registerRelay(cfg *Config, path string, mux *httprouter.Router, rl *Relay) {
	mux.GET(cfg.prefix+"/ws", rl.serveWS())

	mux.GET(cfg.prefix+path, redirectNewRoom(cfg, path, rl))

	mux.GET(cfg.prefix+path+"/:roomid", serveRoomPage(cfg))

	mux.GET(cfg.prefix+path+"/:roomid/qr", qrHandler)
}
