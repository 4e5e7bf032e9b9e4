package relay

import "time"

// PlayerView is the public projection of a participant. Connection ids and
// player tokens never leave the server through it.
type PlayerView struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

type MoveView struct {
	MoveData
	Player    string `json:"player"`
	Timestamp int64  `json:"timestamp"`
}

// GameView is the JSON shape of a session sent to clients and operators.
type GameView struct {
	ID         string      `json:"id"`
	White      *PlayerView `json:"white"`
	Black      *PlayerView `json:"black"`
	FEN        string      `json:"fen"`
	Status     Status      `json:"status"`
	Moves      []MoveView  `json:"moves"`
	CreatedAt  int64       `json:"createdAt"`
	LastMoveAt *int64      `json:"lastMoveAt"`
	FinishedAt *int64      `json:"finishedAt,omitempty"`
	Winner     Winner      `json:"winner,omitempty"`
	EndReason  Reason      `json:"endReason,omitempty"`
}

// View projects a session into its wire shape.
func (s *Session) View() GameView {
	v := GameView{
		ID:        s.ID,
		White:     playerView(s.First),
		Black:     playerView(s.Second),
		FEN:       s.FEN,
		Status:    s.Status,
		Moves:     make([]MoveView, 0, len(s.Moves)),
		CreatedAt: millis(s.CreatedAt),
	}
	for _, m := range s.Moves {
		v.Moves = append(v.Moves, MoveView{MoveData: m.MoveData, Player: m.Player.Color(), Timestamp: millis(m.At)})
	}
	if !s.LastMoveAt.IsZero() {
		t := millis(s.LastMoveAt)
		v.LastMoveAt = &t
	}
	if !s.FinishedAt.IsZero() {
		t := millis(s.FinishedAt)
		v.FinishedAt = &t
	}
	if s.Outcome != nil {
		v.Winner = s.Outcome.Winner
		v.EndReason = s.Outcome.Reason
	}
	return v
}

func playerView(p *Participant) *PlayerView {
	if p == nil {
		return nil
	}
	return &PlayerView{Name: p.Name, Connected: p.Connected}
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
