package main

const (
	statusWaiting  = "waiting"
	statusRunning  = "running"
	statusFinished = "finished"
)

// GameState is per-room game metadata the relay stores and forwards. The
// relay never computes scores or win conditions server-side; clients report
// results and the relay only tracks phase and round progression.
type GameState struct {
	Status       string         `json:"status"`
	Type         string         `json:"type,omitempty"`
	CurrentRound int            `json:"currentRound"`
	RoundsTotal  int            `json:"roundsTotal"`
	Scores       map[string]int `json:"scores"`
	Winner       string         `json:"winner,omitempty"`
}

func newGameState() GameState {
	return GameState{
		Status: statusWaiting,
		Scores: make(map[string]int),
	}
}

// start resets the state for a fresh game, seeding a zero score for every
// participant present at start time.
func (g *GameState) start(gameType string, rounds int, participants []*Participant) {
	g.Status = statusRunning
	g.Type = gameType
	g.CurrentRound = 1
	g.RoundsTotal = rounds
	g.Winner = ""

	g.Scores = make(map[string]int, len(participants))
	for _, p := range participants {
		g.Scores[p.ID] = 0
	}
}

// advanceRound moves to the next round on a client-reported round result.
// Rounds only advance while a game is running.
func (g *GameState) advanceRound() {
	if g.Status != statusRunning {
		return
	}
	g.CurrentRound++
}

// finish records a client-reported game end.
func (g *GameState) finish(winner string) {
	if g.Status != statusRunning {
		return
	}
	g.Status = statusFinished
	g.Winner = winner
}

// snapshot returns a copy safe to hand to the write side while the room
// keeps mutating the original.
func (g *GameState) snapshot() GameState {
	out := *g
	out.Scores = make(map[string]int, len(g.Scores))
	for id, score := range g.Scores {
		out.Scores[id] = score
	}
	return out
}
