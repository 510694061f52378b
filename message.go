package main

import (
	"encoding/json"
	"log"
	"time"
)

// Client-originated message types handled by the relay. Anything else is
// forwarded to the sender's room verbatim.
const (
	msgJoinRequest     = "JOIN_REQUEST"
	msgGameStart       = "GAME_START"
	msgGameStateUpdate = "GAME_STATE_UPDATE"
	msgTapEvent        = "TAP_EVENT"
	msgRoundResult     = "ROUND_RESULT"
	msgGameResult      = "GAME_RESULT"
)

// Server-originated message types.
const (
	msgJoinConfirmed    = "JOIN_CONFIRMED"
	msgPlayerListUpdate = "PLAYER_LIST_UPDATE"
	msgDisconnectNotice = "DISCONNECT_NOTICE"
	msgHostChange       = "HOST_CHANGE"
	msgError            = "ERROR"
)

const serverSender = "server"

// Message is the wire envelope shared by both directions. Payloads stay
// raw so unrecognized types pass through untouched.
type Message struct {
	Type      string          `json:"type"`
	Sender    string          `json:"sender,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func serverMessage(msgType string, payload any) Message {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("marshal error for %s payload: %v", msgType, err)
	}

	return Message{
		Type:      msgType,
		Sender:    serverSender,
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	}
}

type joinRequestPayload struct {
	Nickname string `json:"nickname"`
}

type joinConfirmedPayload struct {
	Participant Participant `json:"participant"`
	GameState   GameState   `json:"gameState"`
}

type playerListPayload struct {
	Participants []Participant `json:"participants"`
}

// gameStartPayload doubles as the inbound request ({gameType, rounds}) and
// the outbound broadcast, which adds the freshly reset game state.
type gameStartPayload struct {
	GameType  string     `json:"gameType"`
	Rounds    int        `json:"rounds,omitempty"`
	GameState *GameState `json:"gameState,omitempty"`
}

type gameResultPayload struct {
	Winner string `json:"winner,omitempty"`
}

type disconnectNoticePayload struct {
	ParticipantID string `json:"participantId"`
	Nickname      string `json:"nickname"`
}

type hostChangePayload struct {
	NewHostID       string `json:"newHostId"`
	NewHostNickname string `json:"newHostNickname"`
}

type errorPayload struct {
	Message string `json:"message"`
}
