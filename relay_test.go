package main

import (
	"encoding/json"
	"testing"
	"time"
)

func testConfig() *Config {
	return &Config{
		bind: "127.0.0.1",
		port: 8080,
	}
}

func clientMessage(msgType, sender string, payload any) Message {
	raw, _ := json.Marshal(payload)
	return Message{
		Type:      msgType,
		Sender:    sender,
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	}
}

func newTestClient(rl *Relay, id, roomID string) *Client {
	c := &Client{
		send:   make(chan any, 16),
		id:     id,
		roomID: roomID,
	}
	rl.gateway.attach(c)
	return c
}

func nextMessage(t *testing.T, c *Client) Message {
	t.Helper()

	select {
	case raw := <-c.send:
		msg, ok := raw.(Message)
		if !ok {
			t.Fatalf("expected Message, got %T", raw)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received within timeout")
	}
	return Message{}
}

func expectMessage(t *testing.T, c *Client, msgType string) Message {
	t.Helper()

	msg := nextMessage(t, c)
	if msg.Type != msgType {
		t.Fatalf("expected %s, got %s", msgType, msg.Type)
	}
	return msg
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()

	select {
	case raw := <-c.send:
		t.Fatalf("unexpected message: %+v", raw)
	default:
	}
}

func decodePayload(t *testing.T, msg Message, v any) {
	t.Helper()

	if err := json.Unmarshal(msg.Payload, v); err != nil {
		t.Fatalf("decode %s payload: %v", msg.Type, err)
	}
}

func disconnect(rl *Relay, c *Client) {
	rl.gateway.detach(c)
	rl.handleDisconnect(c)
}

func join(rl *Relay, c *Client, participantID, nickname string) {
	rl.route(c, clientMessage(msgJoinRequest, participantID, joinRequestPayload{Nickname: nickname}))
}

func TestJoinConfirmationAndRoster(t *testing.T) {
	rl := newRelay(testConfig())
	host := newTestClient(rl, "conn-host", "AB12")
	rl.rooms.getOrCreate("AB12", host.id)

	join(rl, host, "host-1", "Ada")

	confirmed := expectMessage(t, host, msgJoinConfirmed)
	var cp joinConfirmedPayload
	decodePayload(t, confirmed, &cp)
	if cp.Participant.ID != "host-1" || !cp.Participant.IsHost {
		t.Errorf("expected host-1 confirmed as host, got %+v", cp.Participant)
	}
	if cp.GameState.Status != statusWaiting {
		t.Errorf("expected waiting game state, got %q", cp.GameState.Status)
	}

	expectMessage(t, host, msgPlayerListUpdate)

	p1 := newTestClient(rl, "conn-p1", "AB12")
	join(rl, p1, "p1", "Kim")

	confirmed = expectMessage(t, p1, msgJoinConfirmed)
	decodePayload(t, confirmed, &cp)
	if cp.Participant.IsHost {
		t.Error("joining participant should not be host")
	}

	roster := expectMessage(t, p1, msgPlayerListUpdate)
	var lp playerListPayload
	decodePayload(t, roster, &lp)
	if len(lp.Participants) != 2 {
		t.Fatalf("expected 2 participants in roster, got %d", len(lp.Participants))
	}
	if lp.Participants[0].Nickname != "Ada" || lp.Participants[1].Nickname != "Kim" {
		t.Errorf("unexpected roster order: %+v", lp.Participants)
	}

	// The whole room sees the update, the host included.
	expectMessage(t, host, msgPlayerListUpdate)
}

func TestDuplicateJoinDoesNotDuplicateRoster(t *testing.T) {
	rl := newRelay(testConfig())
	host := newTestClient(rl, "conn-host", "AB12")
	rl.rooms.getOrCreate("AB12", host.id)

	join(rl, host, "host-1", "Ada")
	join(rl, host, "host-1", "Ada")

	expectMessage(t, host, msgJoinConfirmed)
	expectMessage(t, host, msgPlayerListUpdate)
	expectMessage(t, host, msgJoinConfirmed)

	roster := expectMessage(t, host, msgPlayerListUpdate)
	var lp playerListPayload
	decodePayload(t, roster, &lp)
	if len(lp.Participants) != 1 {
		t.Errorf("duplicate join should not duplicate the roster, got %d entries", len(lp.Participants))
	}
}

func TestGameStartBroadcast(t *testing.T) {
	rl := newRelay(testConfig())
	host := newTestClient(rl, "conn-host", "AB12")
	rl.rooms.getOrCreate("AB12", host.id)
	p1 := newTestClient(rl, "conn-p1", "AB12")

	join(rl, host, "host-1", "Ada")
	join(rl, p1, "p1", "Kim")
	drain(host)
	drain(p1)

	rl.route(host, clientMessage(msgGameStart, "host-1", gameStartPayload{GameType: "chill", Rounds: 3}))

	for _, c := range []*Client{host, p1} {
		started := expectMessage(t, c, msgGameStart)
		var sp gameStartPayload
		decodePayload(t, started, &sp)
		if sp.GameType != "chill" {
			t.Errorf("expected gameType chill, got %q", sp.GameType)
		}
		if sp.GameState == nil {
			t.Fatal("expected game state in GAME_START broadcast")
		}
		if sp.GameState.Status != statusRunning || sp.GameState.CurrentRound != 1 {
			t.Errorf("unexpected game state: %+v", sp.GameState)
		}
		if len(sp.GameState.Scores) != 2 {
			t.Fatalf("expected 2 score entries, got %d", len(sp.GameState.Scores))
		}
		for id, score := range sp.GameState.Scores {
			if score != 0 {
				t.Errorf("expected zero score for %s, got %d", id, score)
			}
		}
	}
}

func TestGameStartRejectedForNonHost(t *testing.T) {
	rl := newRelay(testConfig())
	host := newTestClient(rl, "conn-host", "AB12")
	rl.rooms.getOrCreate("AB12", host.id)
	p1 := newTestClient(rl, "conn-p1", "AB12")

	join(rl, host, "host-1", "Ada")
	join(rl, p1, "p1", "Kim")
	drain(host)
	drain(p1)

	rl.route(p1, clientMessage(msgGameStart, "p1", gameStartPayload{GameType: "chill"}))

	expectMessage(t, p1, msgError)
	assertNoMessage(t, p1)
	assertNoMessage(t, host)

	room := rl.rooms.get("AB12")
	room.mu.RLock()
	defer room.mu.RUnlock()
	if room.game.Status != statusWaiting {
		t.Errorf("rejected start should not change game state, got %q", room.game.Status)
	}
}

func TestHostMigrationOnDisconnect(t *testing.T) {
	rl := newRelay(testConfig())
	host := newTestClient(rl, "conn-host", "AB12")
	rl.rooms.getOrCreate("AB12", host.id)
	p2 := newTestClient(rl, "conn-p2", "AB12")
	p3 := newTestClient(rl, "conn-p3", "AB12")

	join(rl, host, "host-1", "Ada")
	join(rl, p2, "p2", "Kim")
	join(rl, p3, "p3", "Sam")
	drain(p2)
	drain(p3)

	disconnect(rl, host)

	for _, c := range []*Client{p2, p3} {
		notice := expectMessage(t, c, msgDisconnectNotice)
		var np disconnectNoticePayload
		decodePayload(t, notice, &np)
		if np.ParticipantID != "host-1" || np.Nickname != "Ada" {
			t.Errorf("unexpected disconnect notice: %+v", np)
		}

		change := expectMessage(t, c, msgHostChange)
		var hp hostChangePayload
		decodePayload(t, change, &hp)
		if hp.NewHostID != "p2" {
			t.Errorf("expected earliest-joined survivor p2 promoted, got %q", hp.NewHostID)
		}
	}

	room := rl.rooms.get("AB12")
	room.mu.RLock()
	defer room.mu.RUnlock()
	if !room.participants[0].IsHost || room.participants[0].ID != "p2" {
		t.Errorf("expected p2 as host, got %+v", room.participants[0])
	}
	if room.hostConnectionID != "conn-p2" {
		t.Errorf("expected host connection conn-p2, got %q", room.hostConnectionID)
	}
}

func TestNonHostDisconnectKeepsHost(t *testing.T) {
	rl := newRelay(testConfig())
	host := newTestClient(rl, "conn-host", "AB12")
	rl.rooms.getOrCreate("AB12", host.id)
	p2 := newTestClient(rl, "conn-p2", "AB12")

	join(rl, host, "host-1", "Ada")
	join(rl, p2, "p2", "Kim")
	drain(host)

	disconnect(rl, p2)

	expectMessage(t, host, msgDisconnectNotice)
	assertNoMessage(t, host)

	room := rl.rooms.get("AB12")
	room.mu.RLock()
	defer room.mu.RUnlock()
	if room.hostConnectionID != "conn-host" {
		t.Error("host should be unchanged when a non-host disconnects")
	}
}

func TestRoomTeardownAfterLastDisconnect(t *testing.T) {
	rl := newRelay(testConfig())
	host := newTestClient(rl, "conn-host", "AB12")
	rl.rooms.getOrCreate("AB12", host.id)

	join(rl, host, "host-1", "Ada")
	disconnect(rl, host)

	if rl.rooms.get("AB12") != nil {
		t.Fatal("room should be removed after its last participant disconnects")
	}

	// Messages for the torn-down room are dropped without fanfare.
	straggler := newTestClient(rl, "conn-late", "AB12")
	rl.route(straggler, clientMessage(msgTapEvent, "late", map[string]int{"x": 1}))
	assertNoMessage(t, straggler)
}

func TestHostDisconnectBeforeJoinRemovesRoom(t *testing.T) {
	rl := newRelay(testConfig())
	host := newTestClient(rl, "conn-host", "AB12")
	rl.rooms.getOrCreate("AB12", host.id)

	disconnect(rl, host)

	if rl.rooms.get("AB12") != nil {
		t.Error("a room whose host never joined should be removed on disconnect")
	}
}

func TestDisconnectBeforeJoinIsNoOp(t *testing.T) {
	rl := newRelay(testConfig())
	host := newTestClient(rl, "conn-host", "AB12")
	rl.rooms.getOrCreate("AB12", host.id)
	p2 := newTestClient(rl, "conn-p2", "AB12")

	join(rl, host, "host-1", "Ada")
	drain(host)

	// p2 attached at transport level but never sent JOIN_REQUEST.
	disconnect(rl, p2)

	assertNoMessage(t, host)
	if rl.rooms.get("AB12") == nil {
		t.Error("room should survive the disconnect of a never-joined connection")
	}
}

func TestTapEventRelayedVerbatim(t *testing.T) {
	rl := newRelay(testConfig())
	host := newTestClient(rl, "conn-host", "AB12")
	rl.rooms.getOrCreate("AB12", host.id)
	p1 := newTestClient(rl, "conn-p1", "AB12")

	join(rl, host, "host-1", "Ada")
	join(rl, p1, "p1", "Kim")
	drain(host)
	drain(p1)

	sent := clientMessage(msgTapEvent, "p1", map[string]any{"x": 3, "y": 7})
	rl.route(p1, sent)

	for _, c := range []*Client{host, p1} {
		got := expectMessage(t, c, msgTapEvent)
		if got.Sender != "p1" {
			t.Errorf("expected sender p1 preserved, got %q", got.Sender)
		}
		if string(got.Payload) != string(sent.Payload) {
			t.Errorf("payload should pass through untouched: %s", got.Payload)
		}
	}
}

func TestUnknownTypeRelayedVerbatim(t *testing.T) {
	rl := newRelay(testConfig())
	host := newTestClient(rl, "conn-host", "AB12")
	rl.rooms.getOrCreate("AB12", host.id)

	join(rl, host, "host-1", "Ada")
	drain(host)

	rl.route(host, clientMessage("EMOTE", "host-1", map[string]string{"emoji": "🎉"}))

	got := expectMessage(t, host, "EMOTE")
	if got.Sender != "host-1" {
		t.Errorf("expected sender preserved, got %q", got.Sender)
	}
}

func TestRoundAndGameResultProjection(t *testing.T) {
	rl := newRelay(testConfig())
	host := newTestClient(rl, "conn-host", "AB12")
	rl.rooms.getOrCreate("AB12", host.id)

	join(rl, host, "host-1", "Ada")
	drain(host)
	rl.route(host, clientMessage(msgGameStart, "host-1", gameStartPayload{GameType: "chill"}))
	drain(host)

	rl.route(host, clientMessage(msgRoundResult, "host-1", map[string]any{"scores": map[string]int{"host-1": 5}}))
	expectMessage(t, host, msgRoundResult)

	room := rl.rooms.get("AB12")
	room.mu.RLock()
	if room.game.CurrentRound != 2 {
		t.Errorf("expected round 2 after a round result, got %d", room.game.CurrentRound)
	}
	if room.game.Scores["host-1"] != 0 {
		t.Error("the relay should not interpret client-reported scores")
	}
	room.mu.RUnlock()

	rl.route(host, clientMessage(msgGameResult, "host-1", gameResultPayload{Winner: "host-1"}))
	expectMessage(t, host, msgGameResult)

	room.mu.RLock()
	defer room.mu.RUnlock()
	if room.game.Status != statusFinished {
		t.Errorf("expected finished status, got %q", room.game.Status)
	}
	if room.game.Winner != "host-1" {
		t.Errorf("expected winner host-1, got %q", room.game.Winner)
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}
