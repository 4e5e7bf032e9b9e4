package relay

import (
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestSessionInvariantsHold drives random operation sequences against one
// store and checks the lifecycle invariants after every step.
func TestSessionInvariantsHold(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t, WithReferee(fakeReferee{mate: map[string]bool{"mate": true}, stale: map[string]bool{"stale": true}}))
		conns := []string{"c0", "c1", "c2", "c3"}
		tokens := map[string]string{}
		seen := map[string]Session{}

		conn := rapid.SampledFrom(conns)
		fen := rapid.SampledFrom([]string{"p", "q", "mate", "stale", "garbage"})

		pickID := func(rt *rapid.T) string {
			ids := []string{"MISSING"}
			for _, s := range f.store.List() {
				ids = append(ids, s.ID)
			}
			return rapid.SampledFrom(ids).Draw(rt, "id")
		}

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 8).Draw(rt, "op") {
			case 0:
				c := conn.Draw(rt, "conn")
				if seat, err := f.lobby.Create(c, ""); err == nil {
					tokens[seat.Session.ID+"/0"] = seat.Token
				}
			case 1:
				c := conn.Draw(rt, "conn")
				if seat, err := f.lobby.Join(pickID(rt), c, ""); err == nil {
					tokens[seat.Session.ID+"/1"] = seat.Token
				}
			case 2:
				_, _ = f.moves.Submit(pickID(rt), conn.Draw(rt, "conn"), move("a1", "a2", fen.Draw(rt, "fen")))
			case 3:
				_, _ = f.life.Resign(pickID(rt), conn.Draw(rt, "conn"))
			case 4:
				_ = f.life.OfferDraw(pickID(rt), conn.Draw(rt, "conn"))
				_, _ = f.life.AcceptDraw(pickID(rt), conn.Draw(rt, "conn"))
			case 5:
				f.life.Disconnect(conn.Draw(rt, "conn"))
			case 6:
				id := pickID(rt)
				slot := rapid.IntRange(0, 1).Draw(rt, "slot")
				_, _ = f.lobby.Rejoin(id, tokens[fmt.Sprintf("%s/%d", id, slot)], conn.Draw(rt, "conn"))
			case 7:
				f.sched.Advance(time.Duration(rapid.IntRange(1, 90).Draw(rt, "secs")) * time.Second)
			case 8:
				_ = f.life.Chat(pickID(rt), conn.Draw(rt, "conn"), "hi")
			}

			for _, s := range f.store.List() {
				checkInvariants(rt, s)
				if prev, ok := seen[s.ID]; ok {
					checkProgress(rt, prev, s)
				}
				seen[s.ID] = s
			}
		}
	})
}

func checkInvariants(rt *rapid.T, s Session) {
	if s.First == nil {
		rt.Fatalf("%s: missing creator", s.ID)
	}
	if (s.Outcome != nil) != (s.Status == StatusFinished) {
		rt.Fatalf("%s: outcome=%v status=%s", s.ID, s.Outcome, s.Status)
	}
	if s.Status == StatusOpen && (s.Second != nil || len(s.Moves) > 0) {
		rt.Fatalf("%s: open session with second participant or moves", s.ID)
	}
	for i, m := range s.Moves {
		if m.Player != Slot(i%2) {
			rt.Fatalf("%s: ply %d made by %s", s.ID, i, m.Player)
		}
	}
}

func checkProgress(rt *rapid.T, prev, cur Session) {
	if cur.Status.rank() < prev.Status.rank() {
		rt.Fatalf("%s: status went back %s -> %s", cur.ID, prev.Status, cur.Status)
	}
	if len(cur.Moves) < len(prev.Moves) {
		rt.Fatalf("%s: move log shrank", cur.ID)
	}
	for i := range prev.Moves {
		if cur.Moves[i].MoveData != prev.Moves[i].MoveData {
			rt.Fatalf("%s: move %d rewritten", cur.ID, i)
		}
	}
	if prev.Outcome != nil && *cur.Outcome != *prev.Outcome {
		rt.Fatalf("%s: outcome changed %v -> %v", cur.ID, *prev.Outcome, *cur.Outcome)
	}
}
