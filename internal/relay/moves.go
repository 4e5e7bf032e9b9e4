package relay

import (
	"fmt"

	"github.com/park285/chess-relay/internal/obslog"
	"go.uber.org/zap"
)

// Referee inspects a client-supplied position for a terminal state.
// It is advisory only and never used to reject a move.
type Referee interface {
	Terminal(fen string) (checkmate, stalemate bool, err error)
}

// MoveRelay records moves and rebroadcasts them to both participants.
type MoveRelay struct {
	store   *Store
	life    *Lifecycle
	referee Referee
	auto    bool
}

type MoveOption func(*MoveRelay)

// WithReferee enables terminal position detection after each move.
func WithReferee(r Referee) MoveOption {
	return func(m *MoveRelay) {
		m.referee = r
		m.auto = r != nil
	}
}

// WithAutoFinish toggles terminal detection without removing the referee.
func WithAutoFinish(on bool) MoveOption {
	return func(m *MoveRelay) { m.auto = on }
}

func NewMoveRelay(store *Store, life *Lifecycle, opts ...MoveOption) *MoveRelay {
	m := &MoveRelay{store: store, life: life}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit records md as the next ply of the session. The resulting position
// is trusted verbatim.
func (m *MoveRelay) Submit(id, connID string, md MoveData) (Session, error) {
	md = md.normalized()
	var out Session
	var ended *Outcome
	err := m.store.update(id, func(t *txn) error {
		if t.s.Status != StatusActive {
			return ErrNotActive
		}
		slot, ok := t.s.SlotOf(connID)
		if !ok {
			return ErrNotAParticipant
		}
		if md.From == "" || md.To == "" || md.FEN == "" {
			return fmt.Errorf("%w: from, to and fen are required", ErrValidation)
		}
		if slot != t.s.SideToMove() {
			return ErrNotYourTurn
		}

		now := m.store.now()
		t.s.Moves = append(t.s.Moves, MoveRecord{MoveData: md, Player: slot, At: now})
		t.s.FEN = md.FEN
		t.s.LastMoveAt = now

		t.broadcast(Event{Name: EventMoveMade, Data: MoveMadePayload{
			FEN:  md.FEN,
			Move: md,
			Game: t.s.View(),
		}})

		if o, ok := m.verdict(t.s.ID, md.FEN, slot); ok {
			if m.life.finish(t, o) {
				ended = &o
			}
		}
		out = t.s.clone()
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	obslog.L().Debug("relay_move",
		zap.String("game_id", out.ID),
		zap.String("conn_id", connID),
		zap.String("from", md.From),
		zap.String("to", md.To),
		zap.Int("ply", len(out.Moves)),
	)
	if ended != nil {
		obslog.L().Info("relay_game_over",
			zap.String("game_id", out.ID),
			zap.String("winner", string(ended.Winner)),
			zap.String("reason", string(ended.Reason)),
		)
	}
	return out, nil
}

func (m *MoveRelay) verdict(id, fen string, mover Slot) (Outcome, bool) {
	if !m.auto || m.referee == nil {
		return Outcome{}, false
	}
	mate, stale, err := m.referee.Terminal(fen)
	if err != nil {
		obslog.L().Warn("relay_fen_unparsable", zap.String("game_id", id), zap.String("fen", fen), zap.Error(err))
		return Outcome{}, false
	}
	switch {
	case mate:
		return Outcome{Winner: mover.Winner(), Reason: ReasonCheckmate}, true
	case stale:
		return Outcome{Winner: WinnerDraw, Reason: ReasonStalemate}, true
	}
	return Outcome{}, false
}
