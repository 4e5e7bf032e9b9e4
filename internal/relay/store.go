package relay

import (
	"crypto/rand"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	idLength      = 7
	maxIDAttempts = 8
)

type ChangeKind string

const (
	ChangeSaved   ChangeKind = "saved"
	ChangeRemoved ChangeKind = "removed"
)

// Change is a committed store mutation.
type Change struct {
	Kind ChangeKind
	ID   string
	Game GameView
}

// Observer receives every committed change in per-session order.
// Observe is called with the session lock held and must not block.
type Observer interface {
	Observe(Change)
}

// Outbox is the outbound event enqueue API. Send must not block.
type Outbox interface {
	Send(connID string, ev Event)
}

type discardOutbox struct{}

func (discardOutbox) Send(string, Event) {}

type entry struct {
	mu      sync.Mutex
	s       *Session
	removed bool
}

// Store is the in-memory session registry. Each session is guarded by its
// own mutex; the maps are guarded by mu. Lock order is session, then store.
type Store struct {
	mu     sync.RWMutex
	games  map[string]*entry
	byConn map[string]string

	observers []Observer
	outbox    Outbox
	newID     func() (string, error)
	now       func() time.Time
}

type StoreOption func(*Store)

func WithObserver(o Observer) StoreOption {
	return func(s *Store) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

func WithOutbox(o Outbox) StoreOption {
	return func(s *Store) {
		if o != nil {
			s.outbox = o
		}
	}
}

func WithIDGenerator(fn func() (string, error)) StoreOption {
	return func(s *Store) { s.newID = fn }
}

func WithClock(fn func() time.Time) StoreOption {
	return func(s *Store) { s.now = fn }
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		games:  make(map[string]*entry),
		byConn: make(map[string]string),
		outbox: discardOutbox{},
		newID:  codeGen,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new open session owned by owner.
func (st *Store) Create(owner Participant) (Session, error) {
	var out Session
	err := st.create(owner, func(t *txn) error {
		out = t.s.clone()
		return nil
	})
	return out, err
}

func (st *Store) create(owner Participant, fn func(t *txn) error) error {
	now := st.now()
	first := owner
	s := &Session{
		ID:        "",
		First:     &first,
		FEN:       StartFEN,
		Status:    StatusOpen,
		Moves:     []MoveRecord{},
		CreatedAt: now,
	}
	e := &entry{s: s}
	// The entry is unreachable until inserted, so locking it before the
	// store lock keeps the session-then-store order.
	e.mu.Lock()
	defer e.mu.Unlock()

	st.mu.Lock()
	for i := 0; i < maxIDAttempts; i++ {
		c, err := st.newID()
		if err != nil {
			st.mu.Unlock()
			return err
		}
		if _, taken := st.games[c]; !taken {
			s.ID = c
			break
		}
	}
	if s.ID == "" {
		st.mu.Unlock()
		return ErrIDExhausted
	}
	st.games[s.ID] = e
	if first.ConnID != "" {
		st.byConn[first.ConnID] = s.ID
	}
	st.mu.Unlock()

	t := &txn{s: s, st: st}
	if fn != nil {
		if err := fn(t); err != nil {
			st.dropLocked(e)
			return err
		}
	}
	st.commitLocked(e, t)
	return nil
}

// Get returns a copy of the session.
func (st *Store) Get(id string) (Session, bool) {
	e := st.lookup(id)
	if e == nil {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Session{}, false
	}
	return e.s.clone(), true
}

// FindByConnection returns the session the connection is bound to.
func (st *Store) FindByConnection(connID string) (Session, bool) {
	st.mu.RLock()
	id, ok := st.byConn[connID]
	st.mu.RUnlock()
	if !ok {
		return Session{}, false
	}
	return st.Get(id)
}

// SessionIDFor returns the id of the session bound to connID.
func (st *Store) SessionIDFor(connID string) (string, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.byConn[connID]
	return id, ok
}

// Remove deletes the session. It reports whether it existed.
func (st *Store) Remove(id string) bool {
	e := st.lookup(id)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return false
	}
	st.dropLocked(e)
	return true
}

// List returns copies of every session, newest first.
func (st *Store) List() []Session {
	entries := st.entries()
	out := make([]Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed {
			out = append(out, e.s.clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (st *Store) Counts() Counts {
	var c Counts
	for _, s := range st.List() {
		c.Total++
		switch s.Status {
		case StatusOpen:
			c.Open++
		case StatusActive:
			c.Active++
		case StatusFinished:
			c.Finished++
		}
	}
	return c
}

// EvictFinished removes finished sessions whose finish time is older than
// olderThan and returns how many were removed.
func (st *Store) EvictFinished(olderThan time.Duration) int {
	cutoff := st.now().Add(-olderThan)
	n := 0
	for _, e := range st.entries() {
		e.mu.Lock()
		if !e.removed && e.s.Status == StatusFinished && e.s.FinishedAt.Before(cutoff) {
			st.dropLocked(e)
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// update runs fn against a working copy of the session under its lock and
// commits the copy only when fn succeeds.
func (st *Store) update(id string, fn func(t *txn) error) error {
	e := st.lookup(id)
	if e == nil {
		return ErrNotFound
	}
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return ErrNotFound
	}
	work := e.s.clone()
	t := &txn{s: &work, st: st}
	if err := fn(t); err != nil {
		e.mu.Unlock()
		return err
	}
	*e.s = work
	st.commitLocked(e, t)
	e.mu.Unlock()
	for _, f := range t.after {
		f()
	}
	return nil
}

func (st *Store) commitLocked(e *entry, t *txn) {
	if t.drop {
		st.dropLocked(e)
	} else {
		if len(t.bind) > 0 || len(t.unbind) > 0 {
			st.mu.Lock()
			for _, c := range t.unbind {
				if st.byConn[c] == e.s.ID {
					delete(st.byConn, c)
				}
			}
			for _, c := range t.bind {
				st.byConn[c] = e.s.ID
			}
			st.mu.Unlock()
		}
		if !t.quiet {
			st.notify(Change{Kind: ChangeSaved, ID: e.s.ID, Game: e.s.View()})
		}
	}
	for _, out := range t.out {
		st.outbox.Send(out.connID, out.ev)
	}
}

func (st *Store) dropLocked(e *entry) {
	e.removed = true
	st.mu.Lock()
	delete(st.games, e.s.ID)
	for c, id := range st.byConn {
		if id == e.s.ID {
			delete(st.byConn, c)
		}
	}
	st.mu.Unlock()
	st.notify(Change{Kind: ChangeRemoved, ID: e.s.ID, Game: e.s.View()})
}

func (st *Store) notify(c Change) {
	for _, o := range st.observers {
		o.Observe(c)
	}
}

// lookup resolves id case-insensitively; generated ids are upper case.
func (st *Store) lookup(id string) *entry {
	id = strings.ToUpper(strings.TrimSpace(id))
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.games[id]
}

func (st *Store) entries() []*entry {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*entry, 0, len(st.games))
	for _, e := range st.games {
		out = append(out, e)
	}
	return out
}

type outbound struct {
	connID string
	ev     Event
}

// txn collects the side effects of one session mutation. They are applied
// only if the mutation commits.
type txn struct {
	s      *Session
	st     *Store
	bind   []string
	unbind []string
	drop   bool
	quiet  bool
	out    []outbound
	after  []func()
}

func (t *txn) send(connID string, ev Event) {
	if connID == "" {
		return
	}
	t.out = append(t.out, outbound{connID: connID, ev: ev})
}

func (t *txn) broadcast(ev Event) {
	for _, c := range t.s.ConnIDs() {
		t.send(c, ev)
	}
}

func (t *txn) sendTo(slot Slot, ev Event) {
	if p := t.s.Participant(slot); p != nil && p.Connected {
		t.send(p.ConnID, ev)
	}
}

// codeGen returns idLength upper-case alphanumerics.
func codeGen() (string, error) {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, idLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b), nil
}
