package relay

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/park285/chess-relay/internal/obslog"
	"go.uber.org/zap"
)

const (
	DefaultGracePeriod = 60 * time.Second
	maxChatRunes       = 500
)

var errStaleTimer = errors.New("stale abandonment timer")

type timerKey struct {
	id   string
	slot Slot
}

type graceTimer struct {
	gen uint64
	t   Timer
}

// Lifecycle ends sessions: resignation, draw agreement and abandonment after
// a disconnect grace period. It also relays draw offers and chat.
type Lifecycle struct {
	store *Store
	sched Scheduler
	grace time.Duration

	mu     sync.Mutex
	seq    uint64
	timers map[timerKey]graceTimer
}

type LifecycleOption func(*Lifecycle)

func WithGracePeriod(d time.Duration) LifecycleOption {
	return func(l *Lifecycle) {
		if d > 0 {
			l.grace = d
		}
	}
}

func WithScheduler(s Scheduler) LifecycleOption {
	return func(l *Lifecycle) {
		if s != nil {
			l.sched = s
		}
	}
}

func NewLifecycle(store *Store, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		store:  store,
		sched:  RealScheduler,
		grace:  DefaultGracePeriod,
		timers: make(map[timerKey]graceTimer),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Resign ends the session in favour of the other participant.
func (l *Lifecycle) Resign(id, connID string) (Session, error) {
	var out Session
	var winner Winner
	err := l.store.update(id, func(t *txn) error {
		if t.s.Status != StatusActive {
			return ErrNotActive
		}
		slot, ok := t.s.SlotOf(connID)
		if !ok {
			return ErrNotAParticipant
		}
		winner = slot.Other().Winner()
		l.finish(t, Outcome{Winner: winner, Reason: ReasonResignation})
		out = t.s.clone()
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	obslog.L().Info("relay_resign",
		zap.String("game_id", out.ID),
		zap.String("conn_id", connID),
		zap.String("winner", string(winner)),
	)
	return out, nil
}

// OfferDraw forwards a draw offer to the opponent. The session is not mutated.
func (l *Lifecycle) OfferDraw(id, connID string) error {
	err := l.store.update(id, func(t *txn) error {
		t.quiet = true
		if t.s.Status != StatusActive {
			return ErrNotActive
		}
		slot, ok := t.s.SlotOf(connID)
		if !ok {
			return ErrNotAParticipant
		}
		t.sendTo(slot.Other(), Event{Name: EventDrawOffered, Data: empty{}})
		return nil
	})
	if err != nil {
		return err
	}
	obslog.L().Info("relay_draw_offer", zap.String("game_id", id), zap.String("conn_id", connID))
	return nil
}

// AcceptDraw ends the session as a draw by agreement.
func (l *Lifecycle) AcceptDraw(id, connID string) (Session, error) {
	var out Session
	err := l.store.update(id, func(t *txn) error {
		if t.s.Status != StatusActive {
			return ErrNotActive
		}
		if _, ok := t.s.SlotOf(connID); !ok {
			return ErrNotAParticipant
		}
		l.finish(t, Outcome{Winner: WinnerDraw, Reason: ReasonAgreement})
		out = t.s.clone()
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	obslog.L().Info("relay_draw_agreed", zap.String("game_id", out.ID))
	return out, nil
}

// Chat relays a message from a participant to both participants.
func (l *Lifecycle) Chat(id, connID, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return fmt.Errorf("%w: empty message", ErrValidation)
	}
	if utf8.RuneCountInString(message) > maxChatRunes {
		return fmt.Errorf("%w: message too long", ErrValidation)
	}
	return l.store.update(id, func(t *txn) error {
		t.quiet = true
		slot, ok := t.s.SlotOf(connID)
		if !ok {
			return ErrNotAParticipant
		}
		t.broadcast(Event{Name: EventChatMessage, Data: ChatPayload{
			PlayerName: t.s.Participant(slot).Name,
			Message:    message,
			Timestamp:  l.store.now().UnixMilli(),
		}})
		return nil
	})
}

// Disconnect handles a closed transport connection. Open sessions owned by
// the connection are deleted; in active sessions the participant is marked
// disconnected and the abandonment timer starts.
func (l *Lifecycle) Disconnect(connID string) {
	id, ok := l.store.SessionIDFor(connID)
	if !ok {
		return
	}
	var status Status
	err := l.store.update(id, func(t *txn) error {
		t.unbind = append(t.unbind, connID)
		slot, ok := t.s.SlotOf(connID)
		if !ok {
			t.quiet = true
			return nil
		}
		p := t.s.Participant(slot)
		p.Connected = false
		p.ConnID = ""
		status = t.s.Status
		switch t.s.Status {
		case StatusOpen:
			t.drop = true
		case StatusActive:
			t.sendTo(slot.Other(), Event{Name: EventOpponentDisconnected, Data: empty{}})
			key := timerKey{id: t.s.ID, slot: slot}
			t.after = append(t.after, func() { l.schedule(key) })
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		obslog.L().Error("relay_disconnect_error", zap.String("conn_id", connID), zap.Error(err))
		return
	}
	obslog.L().Info("relay_disconnect",
		zap.String("game_id", id),
		zap.String("conn_id", connID),
		zap.String("status", string(status)),
	)
}

// Pending reports whether an abandonment timer is armed for the slot.
func (l *Lifecycle) Pending(id string, slot Slot) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.timers[timerKey{id: id, slot: slot}]
	return ok
}

// Stop cancels every armed timer.
func (l *Lifecycle) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, gt := range l.timers {
		gt.t.Stop()
		delete(l.timers, k)
	}
}

// finish stamps the outcome inside a transaction, announces it and cancels
// every timer of the session once committed.
func (l *Lifecycle) finish(t *txn, o Outcome) bool {
	if !t.s.finish(o, l.store.now()) {
		return false
	}
	t.broadcast(gameEnded(o))
	id := t.s.ID
	t.after = append(t.after, func() { l.cancelSession(id) })
	return true
}

func (l *Lifecycle) schedule(key timerKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.timers[key]; ok {
		prev.t.Stop()
	}
	l.seq++
	gen := l.seq
	t := l.sched.AfterFunc(l.grace, func() { l.abandon(key, gen) })
	l.timers[key] = graceTimer{gen: gen, t: t}
}

func (l *Lifecycle) cancel(key timerKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gt, ok := l.timers[key]; ok {
		gt.t.Stop()
		delete(l.timers, key)
	}
}

func (l *Lifecycle) cancelSession(id string) {
	l.cancel(timerKey{id: id, slot: SlotFirst})
	l.cancel(timerKey{id: id, slot: SlotSecond})
}

func (l *Lifecycle) current(key timerKey, gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	gt, ok := l.timers[key]
	return ok && gt.gen == gen
}

func (l *Lifecycle) forget(key timerKey, gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gt, ok := l.timers[key]; ok && gt.gen == gen {
		delete(l.timers, key)
	}
}

// abandon runs when a grace timer fires. It is a no-op unless the timer is
// still the armed one, the session is active and the participant has not
// come back.
func (l *Lifecycle) abandon(key timerKey, gen uint64) {
	var outcome Outcome
	err := l.store.update(key.id, func(t *txn) error {
		if !l.current(key, gen) {
			return errStaleTimer
		}
		p := t.s.Participant(key.slot)
		if t.s.Status != StatusActive || p == nil || p.Connected {
			return errStaleTimer
		}
		outcome = Outcome{Winner: key.slot.Other().Winner(), Reason: ReasonAbandonment}
		l.finish(t, outcome)
		return nil
	})
	l.forget(key, gen)
	if err != nil {
		if !errors.Is(err, errStaleTimer) && !errors.Is(err, ErrNotFound) {
			obslog.L().Error("relay_abandon_error", zap.String("game_id", key.id), zap.Error(err))
		}
		return
	}
	obslog.L().Info("relay_abandoned",
		zap.String("game_id", key.id),
		zap.String("slot", key.slot.String()),
		zap.String("winner", string(outcome.Winner)),
	)
}
