package relay

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/park285/chess-relay/internal/obslog"
	"go.uber.org/zap"
)

const maxNameRunes = 32

// Lobby pairs waiting players into sessions and rebinds reconnecting ones.
type Lobby struct {
	store *Store
	life  *Lifecycle
	token func() string
}

func NewLobby(store *Store, life *Lifecycle) *Lobby {
	return &Lobby{store: store, life: life, token: uuid.NewString}
}

// Create opens a session with the caller seated first.
func (l *Lobby) Create(connID, name string) (Seat, error) {
	name, err := displayName(name, "Player 1")
	if err != nil {
		return Seat{}, err
	}
	if err := l.leavePrevious(connID, ""); err != nil {
		return Seat{}, err
	}

	owner := Participant{ConnID: connID, Token: l.token(), Name: name, Connected: true}
	var seat Seat
	err = l.store.create(owner, func(t *txn) error {
		seat = Seat{Session: t.s.clone(), Slot: SlotFirst, Token: owner.Token}
		t.send(connID, Event{Name: EventGameCreated, Data: SeatPayload{
			GameID:      t.s.ID,
			Color:       SlotFirst.Color(),
			PlayerToken: owner.Token,
			Game:        t.s.View(),
		}})
		return nil
	})
	if err != nil {
		return Seat{}, err
	}
	obslog.L().Info("relay_game_create",
		zap.String("game_id", seat.Session.ID),
		zap.String("conn_id", connID),
		zap.String("name", name),
	)
	return seat, nil
}

// ListOpen returns the joinable sessions, newest first.
func (l *Lobby) ListOpen() []OpenGame {
	out := make([]OpenGame, 0)
	for _, s := range l.store.List() {
		if s.Status != StatusOpen || s.Second != nil {
			continue
		}
		out = append(out, OpenGame{ID: s.ID, WhiteName: s.First.Name, CreatedAt: millis(s.CreatedAt)})
	}
	return out
}

// Join seats the caller second and starts the session.
func (l *Lobby) Join(id, connID, name string) (Seat, error) {
	id = strings.TrimSpace(strings.ToUpper(id))
	if id == "" {
		return Seat{}, fmt.Errorf("%w: missing game id", ErrValidation)
	}
	name, err := displayName(name, "Player 2")
	if err != nil {
		return Seat{}, err
	}
	if err := l.leavePrevious(connID, id); err != nil {
		return Seat{}, err
	}

	token := l.token()
	var seat Seat
	err = l.store.update(id, func(t *txn) error {
		if t.s.Status != StatusOpen {
			return ErrAlreadyStarted
		}
		if t.s.Second != nil {
			return ErrAlreadyFull
		}
		if t.s.First != nil && t.s.First.ConnID == connID {
			return fmt.Errorf("%w: cannot join own game", ErrValidation)
		}
		t.s.Second = &Participant{ConnID: connID, Token: token, Name: name, Connected: true}
		t.s.advance(StatusActive)
		t.bind = append(t.bind, connID)

		view := t.s.View()
		t.broadcast(Event{Name: EventGameStarted, Data: GameStartedPayload{
			Game:  view,
			White: view.White,
			Black: view.Black,
		}})
		t.send(connID, Event{Name: EventGameJoined, Data: SeatPayload{
			GameID:      t.s.ID,
			Color:       SlotSecond.Color(),
			PlayerToken: token,
			Game:        view,
		}})
		seat = Seat{Session: t.s.clone(), Slot: SlotSecond, Token: token}
		return nil
	})
	if err != nil {
		return Seat{}, err
	}
	obslog.L().Info("relay_game_join",
		zap.String("game_id", id),
		zap.String("conn_id", connID),
		zap.String("white", seat.Session.First.Name),
		zap.String("black", name),
	)
	return seat, nil
}

// Rejoin binds a new connection to the slot that owns token.
func (l *Lobby) Rejoin(id, token, connID string) (Seat, error) {
	id = strings.TrimSpace(strings.ToUpper(id))
	if id == "" || strings.TrimSpace(token) == "" {
		return Seat{}, fmt.Errorf("%w: missing game id or token", ErrValidation)
	}
	if err := l.leavePrevious(connID, id); err != nil {
		return Seat{}, err
	}
	var seat Seat
	err := l.store.update(id, func(t *txn) error {
		slot, ok := t.s.SlotOfToken(token)
		if !ok {
			return ErrNotAParticipant
		}
		p := t.s.Participant(slot)
		if p.ConnID != "" && p.ConnID != connID {
			// 이전 연결은 더 이상 이 좌석을 대표하지 않는다
			t.unbind = append(t.unbind, p.ConnID)
		}
		p.ConnID = connID
		p.Connected = true
		t.bind = append(t.bind, connID)

		t.send(connID, Event{Name: EventGameRejoined, Data: SeatPayload{
			GameID: t.s.ID,
			Color:  slot.Color(),
			Game:   t.s.View(),
		}})
		if t.s.Status == StatusActive {
			t.sendTo(slot.Other(), Event{Name: EventOpponentReconnected, Data: empty{}})
		}
		key := timerKey{id: t.s.ID, slot: slot}
		t.after = append(t.after, func() { l.life.cancel(key) })
		seat = Seat{Session: t.s.clone(), Slot: slot, Token: p.Token}
		return nil
	})
	if err != nil {
		return Seat{}, err
	}
	obslog.L().Info("relay_game_rejoin",
		zap.String("game_id", id),
		zap.String("conn_id", connID),
		zap.String("slot", seat.Slot.String()),
	)
	return seat, nil
}

// leavePrevious detaches connID from the session it is bound to, unless
// that session is next. An open session it created is removed. A seat in
// an active session cannot be left this way; the connection must resign
// or disconnect first.
func (l *Lobby) leavePrevious(connID, next string) error {
	id, ok := l.store.SessionIDFor(connID)
	if !ok || id == next {
		return nil
	}
	dropped := false
	err := l.store.update(id, func(t *txn) error {
		t.unbind = append(t.unbind, connID)
		slot, ok := t.s.SlotOf(connID)
		if !ok {
			t.quiet = true
			return nil
		}
		switch t.s.Status {
		case StatusActive:
			return fmt.Errorf("%w: already playing game %s", ErrValidation, t.s.ID)
		case StatusOpen:
			t.drop = true
			dropped = true
		}
		p := t.s.Participant(slot)
		p.Connected = false
		p.ConnID = ""
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if dropped {
		obslog.L().Info("relay_stale_lobby_removed", zap.String("game_id", id), zap.String("conn_id", connID))
	}
	return nil
}

func displayName(raw, fallback string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return fallback, nil
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		return "", fmt.Errorf("%w: name longer than %d characters", ErrValidation, maxNameRunes)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: name contains control characters", ErrValidation)
		}
	}
	return name, nil
}
