package relay

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResign(t *testing.T) {
	f := newFixture(t)
	a, _ := f.paired(t)
	f.out.reset()

	s, err := f.life.Resign(a.Session.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, s.Status)
	assert.Equal(t, Outcome{Winner: WinnerSecond, Reason: ReasonResignation}, *s.Outcome)
	assert.False(t, s.FinishedAt.IsZero())

	for _, conn := range []string{"alice", "bob"} {
		ev, ok := f.out.last(conn, EventGameEnded)
		require.True(t, ok)
		assert.Equal(t, GameEndedPayload{Winner: WinnerSecond, Reason: ReasonResignation}, ev.Data)
	}

	_, err = f.life.Resign(a.Session.ID, "bob")
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestResignErrors(t *testing.T) {
	f := newFixture(t)
	open, _ := f.lobby.Create("carol", "Carol")
	a, _ := f.paired(t)

	_, err := f.life.Resign("MISSING", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.life.Resign(open.Session.ID, "carol")
	assert.ErrorIs(t, err, ErrNotActive)
	_, err = f.life.Resign(a.Session.ID, "mallory")
	assert.ErrorIs(t, err, ErrNotAParticipant)
}

func TestDrawOfferAndAccept(t *testing.T) {
	f := newFixture(t)
	a, _ := f.paired(t)
	id := a.Session.ID
	f.out.reset()
	before := len(f.obs.snapshot())

	require.NoError(t, f.life.OfferDraw(id, "alice"))
	assert.Equal(t, []string{EventDrawOffered}, f.out.names("bob"))
	assert.Empty(t, f.out.names("alice"))
	assert.Len(t, f.obs.snapshot(), before, "offer does not mutate the session")

	assert.ErrorIs(t, f.life.OfferDraw(id, "mallory"), ErrNotAParticipant)

	_, err := f.life.AcceptDraw(id, "mallory")
	assert.ErrorIs(t, err, ErrNotAParticipant)

	s, err := f.life.AcceptDraw(id, "bob")
	require.NoError(t, err)
	assert.Equal(t, Outcome{Winner: WinnerDraw, Reason: ReasonAgreement}, *s.Outcome)
	assert.Contains(t, f.out.names("alice"), EventGameEnded)

	assert.ErrorIs(t, f.life.OfferDraw(id, "alice"), ErrNotActive)
	_, err = f.life.AcceptDraw(id, "alice")
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestChat(t *testing.T) {
	f := newFixture(t)
	a, _ := f.paired(t)
	id := a.Session.ID
	f.out.reset()

	require.NoError(t, f.life.Chat(id, "bob", "  good luck  "))
	for _, conn := range []string{"alice", "bob"} {
		ev, ok := f.out.last(conn, EventChatMessage)
		require.True(t, ok)
		p := ev.Data.(ChatPayload)
		assert.Equal(t, "Bob", p.PlayerName)
		assert.Equal(t, "good luck", p.Message)
		assert.NotZero(t, p.Timestamp)
	}

	assert.ErrorIs(t, f.life.Chat(id, "bob", "   "), ErrValidation)
	assert.ErrorIs(t, f.life.Chat(id, "bob", strings.Repeat("a", maxChatRunes+1)), ErrValidation)
	assert.ErrorIs(t, f.life.Chat(id, "mallory", "hi"), ErrNotAParticipant)
	assert.ErrorIs(t, f.life.Chat("MISSING", "bob", "hi"), ErrNotFound)
}

func TestAbandonmentAfterGrace(t *testing.T) {
	f := newFixture(t)
	a, _ := f.paired(t)
	id := a.Session.ID
	f.out.reset()

	f.life.Disconnect("bob")
	assert.Equal(t, []string{EventOpponentDisconnected}, f.out.names("alice"))
	s, _ := f.store.Get(id)
	assert.Equal(t, StatusActive, s.Status)
	assert.False(t, s.Second.Connected)
	require.True(t, f.life.Pending(id, SlotSecond))

	f.sched.Advance(59 * time.Second)
	s, _ = f.store.Get(id)
	assert.Equal(t, StatusActive, s.Status)

	f.sched.Advance(time.Second)
	s, _ = f.store.Get(id)
	assert.Equal(t, StatusFinished, s.Status)
	assert.Equal(t, Outcome{Winner: WinnerFirst, Reason: ReasonAbandonment}, *s.Outcome)
	assert.False(t, f.life.Pending(id, SlotSecond))

	ev, ok := f.out.last("alice", EventGameEnded)
	require.True(t, ok)
	assert.Equal(t, GameEndedPayload{Winner: WinnerFirst, Reason: ReasonAbandonment}, ev.Data)
}

func TestResignDuringGraceMakesTimerNoop(t *testing.T) {
	f := newFixture(t)
	a, _ := f.paired(t)
	id := a.Session.ID

	f.life.Disconnect("bob")
	s, err := f.life.Resign(id, "alice")
	require.NoError(t, err)
	assert.Equal(t, Outcome{Winner: WinnerSecond, Reason: ReasonResignation}, *s.Outcome)
	assert.False(t, f.life.Pending(id, SlotSecond))

	f.out.reset()
	f.sched.fireAll()
	s, _ = f.store.Get(id)
	assert.Equal(t, Outcome{Winner: WinnerSecond, Reason: ReasonResignation}, *s.Outcome)
	assert.Empty(t, f.out.names("alice"))
}

func TestReconnectCancelsAbandonment(t *testing.T) {
	f := newFixture(t)
	a, b := f.paired(t)
	id := a.Session.ID

	f.life.Disconnect("bob")
	f.sched.Advance(30 * time.Second)
	_, err := f.lobby.Rejoin(id, b.Token, "bob-2")
	require.NoError(t, err)

	f.sched.Advance(time.Hour)
	f.sched.fireAll()
	s, _ := f.store.Get(id)
	assert.Equal(t, StatusActive, s.Status)
	assert.Nil(t, s.Outcome)
}

func TestSecondDisconnectRearmsTimer(t *testing.T) {
	f := newFixture(t)
	a, b := f.paired(t)
	id := a.Session.ID

	f.life.Disconnect("bob")
	f.sched.Advance(50 * time.Second)
	_, err := f.lobby.Rejoin(id, b.Token, "bob-2")
	require.NoError(t, err)
	f.life.Disconnect("bob-2")

	f.sched.Advance(50 * time.Second)
	s, _ := f.store.Get(id)
	assert.Equal(t, StatusActive, s.Status, "grace restarts on every disconnect")

	f.sched.Advance(10 * time.Second)
	s, _ = f.store.Get(id)
	assert.Equal(t, StatusFinished, s.Status)
}

func TestBothDisconnectFirstTimerWins(t *testing.T) {
	f := newFixture(t)
	a, _ := f.paired(t)
	id := a.Session.ID

	f.life.Disconnect("bob")
	f.sched.Advance(10 * time.Second)
	f.life.Disconnect("alice")
	f.sched.Advance(time.Hour)

	s, _ := f.store.Get(id)
	require.NotNil(t, s.Outcome)
	assert.Equal(t, Outcome{Winner: WinnerFirst, Reason: ReasonAbandonment}, *s.Outcome)
	assert.False(t, f.life.Pending(id, SlotFirst))
}

func TestDisconnectUnknownConnection(t *testing.T) {
	f := newFixture(t)
	f.paired(t)
	f.life.Disconnect("nobody")
	assert.Equal(t, 1, f.store.Counts().Active)
}

func TestLifecycleStop(t *testing.T) {
	f := newFixture(t)
	a, _ := f.paired(t)
	f.life.Disconnect("bob")
	f.life.Stop()
	assert.False(t, f.life.Pending(a.Session.ID, SlotSecond))
	f.sched.Advance(time.Hour)
	s, _ := f.store.Get(a.Session.ID)
	assert.Equal(t, StatusActive, s.Status)
}

func TestRealSchedulerFires(t *testing.T) {
	done := make(chan struct{})
	RealScheduler.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timer did not fire")
	}
}
