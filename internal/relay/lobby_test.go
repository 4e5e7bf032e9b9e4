package relay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLobbyCreateJoinList(t *testing.T) {
	f := newFixture(t)

	a, err := f.lobby.Create("alice", "  Alice ")
	require.NoError(t, err)
	assert.Equal(t, SlotFirst, a.Slot)
	assert.NotEmpty(t, a.Token)
	assert.Equal(t, "Alice", a.Session.First.Name)

	ev, ok := f.out.last("alice", EventGameCreated)
	require.True(t, ok)
	created := ev.Data.(SeatPayload)
	assert.Equal(t, a.Session.ID, created.GameID)
	assert.Equal(t, "white", created.Color)
	assert.Equal(t, a.Token, created.PlayerToken)

	open := f.lobby.ListOpen()
	require.Len(t, open, 1)
	assert.Equal(t, OpenGame{ID: a.Session.ID, WhiteName: "Alice", CreatedAt: a.Session.CreatedAt.UnixMilli()}, open[0])

	b, err := f.lobby.Join(a.Session.ID, "bob", "Bob")
	require.NoError(t, err)
	assert.Equal(t, SlotSecond, b.Slot)
	assert.Equal(t, StatusActive, b.Session.Status)
	assert.NotEqual(t, a.Token, b.Token)

	assert.Equal(t, []string{EventGameCreated, EventGameStarted}, f.out.names("alice"))
	assert.Equal(t, []string{EventGameStarted, EventGameJoined}, f.out.names("bob"))

	started, _ := f.out.last("alice", EventGameStarted)
	payload := started.Data.(GameStartedPayload)
	assert.Equal(t, "Alice", payload.White.Name)
	assert.Equal(t, "Bob", payload.Black.Name)

	joined, _ := f.out.last("bob", EventGameJoined)
	assert.Equal(t, "black", joined.Data.(SeatPayload).Color)

	assert.Empty(t, f.lobby.ListOpen())
}

func TestLobbyTokenNeverSentToOpponent(t *testing.T) {
	f := newFixture(t)
	a, b := f.paired(t)
	for _, e := range f.out.events {
		if sp, ok := e.ev.Data.(SeatPayload); ok && sp.PlayerToken != "" {
			switch e.connID {
			case "alice":
				assert.Equal(t, a.Token, sp.PlayerToken)
			case "bob":
				assert.Equal(t, b.Token, sp.PlayerToken)
			}
		}
	}
}

func TestLobbyListNewestFirst(t *testing.T) {
	f := newFixture(t)
	first, _ := f.lobby.Create("c1", "One")
	second, _ := f.lobby.Create("c2", "Two")
	open := f.lobby.ListOpen()
	require.Len(t, open, 2)
	assert.Equal(t, second.Session.ID, open[0].ID)
	assert.Equal(t, first.Session.ID, open[1].ID)
}

func TestLobbyJoinErrors(t *testing.T) {
	f := newFixture(t)
	a, _ := f.paired(t)

	_, err := f.lobby.Join("MISSING", "carol", "Carol")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.lobby.Join(a.Session.ID, "carol", "Carol")
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	_, err = f.lobby.Join("", "carol", "Carol")
	assert.ErrorIs(t, err, ErrValidation)

	own, _ := f.lobby.Create("dave", "Dave")
	_, err = f.lobby.Join(own.Session.ID, "dave", "Dave")
	assert.ErrorIs(t, err, ErrValidation)

	s, _ := f.store.Get(a.Session.ID)
	assert.Equal(t, "Bob", s.Second.Name, "failed join leaves the session untouched")
}

func TestLobbyJoinLowercaseID(t *testing.T) {
	f := newFixture(t)
	a, _ := f.lobby.Create("alice", "Alice")
	_, err := f.lobby.Join(strings.ToLower(a.Session.ID), "bob", "Bob")
	require.NoError(t, err)
}

func TestLobbyDefaultNames(t *testing.T) {
	f := newFixture(t)
	a, err := f.lobby.Create("alice", "   ")
	require.NoError(t, err)
	b, err := f.lobby.Join(a.Session.ID, "bob", "")
	require.NoError(t, err)
	assert.Equal(t, "Player 1", b.Session.First.Name)
	assert.Equal(t, "Player 2", b.Session.Second.Name)
}

func TestLobbyRejectsBadNames(t *testing.T) {
	f := newFixture(t)
	_, err := f.lobby.Create("alice", strings.Repeat("x", maxNameRunes+1))
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.lobby.Create("alice", "bad\x00name")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, f.store.Counts().Total)
}

func TestLobbyRepeatedCreateDropsStaleLobby(t *testing.T) {
	f := newFixture(t)
	first, _ := f.lobby.Create("alice", "Alice")
	second, err := f.lobby.Create("alice", "Alice")
	require.NoError(t, err)

	_, ok := f.store.Get(first.Session.ID)
	assert.False(t, ok)
	open := f.lobby.ListOpen()
	require.Len(t, open, 1)
	assert.Equal(t, second.Session.ID, open[0].ID)
}

func TestLobbyCreatorDisconnectRemovesOpenSession(t *testing.T) {
	f := newFixture(t)
	a, _ := f.lobby.Create("alice", "Alice")
	f.life.Disconnect("alice")

	_, ok := f.store.Get(a.Session.ID)
	assert.False(t, ok)
	assert.Empty(t, f.lobby.ListOpen())
	assert.False(t, f.life.Pending(a.Session.ID, SlotFirst))

	_, err := f.lobby.Join(a.Session.ID, "bob", "Bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLobbyRejoin(t *testing.T) {
	f := newFixture(t)
	a, b := f.paired(t)
	id := a.Session.ID

	f.life.Disconnect("bob")
	require.True(t, f.life.Pending(id, SlotSecond))

	_, err := f.lobby.Rejoin(id, a.Token+"x", "bob-2")
	assert.ErrorIs(t, err, ErrNotAParticipant)
	_, err = f.lobby.Rejoin("MISSING", b.Token, "bob-2")
	assert.ErrorIs(t, err, ErrNotFound)

	seat, err := f.lobby.Rejoin(id, b.Token, "bob-2")
	require.NoError(t, err)
	assert.Equal(t, SlotSecond, seat.Slot)
	assert.True(t, seat.Session.Second.Connected)
	assert.Equal(t, "bob-2", seat.Session.Second.ConnID)
	assert.False(t, f.life.Pending(id, SlotSecond))

	assert.Contains(t, f.out.names("bob-2"), EventGameRejoined)
	assert.Contains(t, f.out.names("alice"), EventOpponentReconnected)

	s, ok := f.store.FindByConnection("bob-2")
	require.True(t, ok)
	assert.Equal(t, id, s.ID)
	_, ok = f.store.FindByConnection("bob")
	assert.False(t, ok)
}

func TestLobbyRejoinFinishedSession(t *testing.T) {
	f := newFixture(t)
	a, _ := f.paired(t)
	_, err := f.life.Resign(a.Session.ID, "bob")
	require.NoError(t, err)
	f.life.Disconnect("alice")

	seat, err := f.lobby.Rejoin(a.Session.ID, a.Token, "alice-2")
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, seat.Session.Status)
	assert.NotContains(t, f.out.names("bob"), EventOpponentReconnected)
}

func TestLobbySeatedPlayerCannotOpenAnotherGame(t *testing.T) {
	f := newFixture(t)
	a, _ := f.paired(t)
	id := a.Session.ID
	other, err := f.lobby.Create("carol", "Carol")
	require.NoError(t, err)

	_, err = f.lobby.Create("alice", "Alice")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.lobby.Join(other.Session.ID, "alice", "Alice")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.lobby.Rejoin(other.Session.ID, other.Token, "alice")
	assert.ErrorIs(t, err, ErrValidation)

	s, ok := f.store.FindByConnection("alice")
	require.True(t, ok)
	assert.Equal(t, id, s.ID)
	assert.Len(t, f.lobby.ListOpen(), 1, "carol's lobby untouched")

	f.out.reset()
	f.life.Disconnect("alice")
	assert.True(t, f.life.Pending(id, SlotFirst))
	assert.Contains(t, f.out.names("bob"), EventOpponentDisconnected)
}

func TestLobbyCreateAfterFinishReleasesOldSeat(t *testing.T) {
	f := newFixture(t)
	a, _ := f.paired(t)
	_, err := f.life.Resign(a.Session.ID, "bob")
	require.NoError(t, err)

	next, err := f.lobby.Create("alice", "Alice")
	require.NoError(t, err)

	old, ok := f.store.Get(a.Session.ID)
	require.True(t, ok)
	assert.False(t, old.First.Connected)
	assert.Empty(t, old.First.ConnID)
	s, ok := f.store.FindByConnection("alice")
	require.True(t, ok)
	assert.Equal(t, next.Session.ID, s.ID)
}

func TestLobbyRejoinDropsOwnLobby(t *testing.T) {
	f := newFixture(t)
	a, _ := f.paired(t)
	id := a.Session.ID
	f.life.Disconnect("alice")

	lobby, err := f.lobby.Create("alice-2", "Alice")
	require.NoError(t, err)
	_, err = f.lobby.Rejoin(strings.ToLower(id), a.Token, "alice-2")
	require.NoError(t, err)

	_, ok := f.store.Get(lobby.Session.ID)
	assert.False(t, ok)
	assert.Empty(t, f.lobby.ListOpen())

	f.life.Disconnect("alice-2")
	assert.True(t, f.life.Pending(id, SlotFirst), "disconnect reaches the rejoined game")
}
