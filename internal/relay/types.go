package relay

import (
	"strings"
	"time"
)

// StartFEN is the position every session starts from.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Status represents a session lifecycle state. Values are the wire names.
type Status string

const (
	StatusOpen     Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

func (s Status) rank() int {
	switch s {
	case StatusOpen:
		return 0
	case StatusActive:
		return 1
	case StatusFinished:
		return 2
	default:
		return -1
	}
}

// Slot identifies one of the two participant seats.
type Slot int

const (
	SlotFirst Slot = iota
	SlotSecond
)

// Color returns the chess side bound to the slot.
func (s Slot) Color() string {
	if s == SlotSecond {
		return "black"
	}
	return "white"
}

func (s Slot) Other() Slot {
	if s == SlotFirst {
		return SlotSecond
	}
	return SlotFirst
}

func (s Slot) Winner() Winner {
	if s == SlotSecond {
		return WinnerSecond
	}
	return WinnerFirst
}

func (s Slot) String() string { return s.Color() }

// Winner designates the winning side of a finished session.
type Winner string

const (
	WinnerFirst  Winner = "white"
	WinnerSecond Winner = "black"
	WinnerDraw   Winner = "draw"
)

// Reason is why a session finished.
type Reason string

const (
	ReasonResignation Reason = "resignation"
	ReasonAgreement   Reason = "agreement"
	ReasonAbandonment Reason = "abandonment"
	ReasonCheckmate   Reason = "checkmate"
	ReasonStalemate   Reason = "stalemate"
)

type Outcome struct {
	Winner Winner `json:"winner"`
	Reason Reason `json:"reason"`
}

// Participant is one player seated in a session.
// ConnID is a weak reference; it is cleared when the transport goes away.
type Participant struct {
	ConnID    string
	Token     string
	Name      string
	Connected bool
}

// MoveData is the client-supplied move descriptor. It is relayed verbatim.
type MoveData struct {
	From          string `json:"from"`
	To            string `json:"to"`
	FEN           string `json:"fen"`
	PrevX         int    `json:"prevX"`
	PrevY         int    `json:"prevY"`
	NewX          int    `json:"newX"`
	NewY          int    `json:"newY"`
	PromotedPiece string `json:"promotedPiece,omitempty"`
	MadeBy        string `json:"madeBy,omitempty"`
}

func (m MoveData) normalized() MoveData {
	m.From = strings.ToLower(strings.TrimSpace(m.From))
	m.To = strings.ToLower(strings.TrimSpace(m.To))
	m.FEN = strings.TrimSpace(m.FEN)
	m.PromotedPiece = strings.TrimSpace(m.PromotedPiece)
	return m
}

// MoveRecord is one recorded ply.
type MoveRecord struct {
	MoveData
	Player Slot
	At     time.Time
}

// Session is one chess game tracked by the relay.
// Values handed out by the Store are deep copies.
type Session struct {
	ID         string
	First      *Participant
	Second     *Participant
	FEN        string
	Status     Status
	Moves      []MoveRecord
	CreatedAt  time.Time
	LastMoveAt time.Time
	FinishedAt time.Time
	Outcome    *Outcome
}

// Participant returns the participant seated in slot, or nil.
func (s *Session) Participant(slot Slot) *Participant {
	if slot == SlotSecond {
		return s.Second
	}
	return s.First
}

// SlotOf reports which slot connID occupies.
func (s *Session) SlotOf(connID string) (Slot, bool) {
	if connID == "" {
		return 0, false
	}
	if s.First != nil && s.First.ConnID == connID {
		return SlotFirst, true
	}
	if s.Second != nil && s.Second.ConnID == connID {
		return SlotSecond, true
	}
	return 0, false
}

// SlotOfToken reports which slot owns the player token.
func (s *Session) SlotOfToken(token string) (Slot, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, false
	}
	if s.First != nil && s.First.Token == token {
		return SlotFirst, true
	}
	if s.Second != nil && s.Second.Token == token {
		return SlotSecond, true
	}
	return 0, false
}

// ConnIDs returns the bound connection ids of both participants.
func (s *Session) ConnIDs() []string {
	out := make([]string, 0, 2)
	for _, p := range []*Participant{s.First, s.Second} {
		if p != nil && p.ConnID != "" {
			out = append(out, p.ConnID)
		}
	}
	return out
}

// SideToMove returns the slot expected to move next by ply alternation.
func (s *Session) SideToMove() Slot {
	if len(s.Moves)%2 == 0 {
		return SlotFirst
	}
	return SlotSecond
}

func (s *Session) clone() Session {
	out := *s
	if s.First != nil {
		p := *s.First
		out.First = &p
	}
	if s.Second != nil {
		p := *s.Second
		out.Second = &p
	}
	out.Moves = append([]MoveRecord(nil), s.Moves...)
	if s.Outcome != nil {
		o := *s.Outcome
		out.Outcome = &o
	}
	return out
}

// advance moves the session forward in its lifecycle. Backward or repeated
// transitions are rejected.
func (s *Session) advance(next Status) bool {
	if next.rank() <= s.Status.rank() {
		return false
	}
	s.Status = next
	return true
}

// finish stamps the outcome once. It reports false when the session is not
// active, which makes late or concurrent finishers no-ops.
func (s *Session) finish(o Outcome, at time.Time) bool {
	if s.Status != StatusActive || s.Outcome != nil {
		return false
	}
	if !s.advance(StatusFinished) {
		return false
	}
	s.Outcome = &o
	s.FinishedAt = at
	return true
}

// OpenGame is a lobby listing entry.
type OpenGame struct {
	ID        string `json:"id"`
	WhiteName string `json:"whiteName"`
	CreatedAt int64  `json:"createdAt"`
}

// Seat is returned by the pairing operations.
type Seat struct {
	Session Session
	Slot    Slot
	Token   string
}

// Counts summarises the store by status.
type Counts struct {
	Total    int
	Open     int
	Active   int
	Finished int
}
