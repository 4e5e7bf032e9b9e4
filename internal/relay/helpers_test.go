package relay

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type sentEvent struct {
	connID string
	ev     Event
}

type recordingOutbox struct {
	mu     sync.Mutex
	events []sentEvent
}

func (o *recordingOutbox) Send(connID string, ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, sentEvent{connID: connID, ev: ev})
}

func (o *recordingOutbox) names(connID string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, e := range o.events {
		if e.connID == connID {
			out = append(out, e.ev.Name)
		}
	}
	return out
}

func (o *recordingOutbox) last(connID, name string) (Event, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.events) - 1; i >= 0; i-- {
		if e := o.events[i]; e.connID == connID && e.ev.Name == name {
			return e.ev, true
		}
	}
	return Event{}, false
}

func (o *recordingOutbox) reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = nil
}

type manualTimer struct {
	s       *manualScheduler
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

// manualScheduler fires timers only when the test advances it.
type manualScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, at: s.now + d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	var due []*manualTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired && t.at <= s.now {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// fireAll runs every timer ever scheduled, including stopped ones, to
// simulate callbacks that raced with Stop.
func (s *manualScheduler) fireAll() {
	s.mu.Lock()
	all := append([]*manualTimer(nil), s.timers...)
	s.mu.Unlock()
	for _, t := range all {
		t.f()
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	changes []Change
}

func (o *recordingObserver) Observe(c Change) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changes = append(o.changes, c)
}

func (o *recordingObserver) snapshot() []Change {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Change(nil), o.changes...)
}

type fakeReferee struct {
	mate  map[string]bool
	stale map[string]bool
}

func (r fakeReferee) Terminal(fen string) (bool, bool, error) {
	if fen == "garbage" {
		return false, false, fmt.Errorf("bad fen")
	}
	return r.mate[fen], r.stale[fen], nil
}

type fixture struct {
	store *Store
	out   *recordingOutbox
	obs   *recordingObserver
	sched *manualScheduler
	life  *Lifecycle
	lobby *Lobby
	moves *MoveRelay
	clock time.Time
}

func newFixture(t *testing.T, moveOpts ...MoveOption) *fixture {
	t.Helper()
	f := &fixture{
		out:   &recordingOutbox{},
		obs:   &recordingObserver{},
		sched: &manualScheduler{},
		clock: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	var seq int
	f.store = NewStore(
		WithOutbox(f.out),
		WithObserver(f.obs),
		WithIDGenerator(func() (string, error) {
			seq++
			return fmt.Sprintf("G%06d", seq), nil
		}),
		WithClock(func() time.Time {
			f.clock = f.clock.Add(time.Second)
			return f.clock
		}),
	)
	f.life = NewLifecycle(f.store, WithScheduler(f.sched), WithGracePeriod(60*time.Second))
	f.lobby = NewLobby(f.store, f.life)
	f.moves = NewMoveRelay(f.store, f.life, moveOpts...)
	return f
}

// paired creates a session for alice and seats bob.
func (f *fixture) paired(t *testing.T) (Seat, Seat) {
	t.Helper()
	a, err := f.lobby.Create("alice", "Alice")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := f.lobby.Join(a.Session.ID, "bob", "Bob")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	return a, b
}

func move(from, to, fen string) MoveData {
	return MoveData{From: from, To: to, FEN: fen}
}
