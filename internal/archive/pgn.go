package archive

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/chess-relay/internal/position"
	"github.com/park285/chess-relay/internal/relay"
)

func resultToPGN(w relay.Winner) string {
	switch w {
	case relay.WinnerFirst:
		return "1-0"
	case relay.WinnerSecond:
		return "0-1"
	case relay.WinnerDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// sanMoves replays the log against each move's preceding position.
// Moves the chess library cannot decode keep their coordinate form.
func sanMoves(g relay.GameView) []string {
	out := make([]string, 0, len(g.Moves))
	prev := relay.StartFEN
	for _, m := range g.Moves {
		san, err := position.SAN(prev, m.From, m.To, m.PromotedPiece)
		if err != nil || san == "" {
			san = m.From + m.To
		}
		out = append(out, san)
		if strings.TrimSpace(m.FEN) != "" {
			prev = m.FEN
		}
	}
	return out
}

func uciMoves(g relay.GameView) []string {
	out := make([]string, 0, len(g.Moves))
	for _, m := range g.Moves {
		out = append(out, m.From+m.To)
	}
	return out
}

func playerName(p *relay.PlayerView) string {
	if p == nil {
		return "?"
	}
	return p.Name
}

// buildPGN renders headers and numbered movetext.
func buildPGN(g relay.GameView, san []string, end time.Time) string {
	result := resultToPGN(g.Winner)
	var b strings.Builder
	b.WriteString("[Event \"Chess Relay\"]\n")
	b.WriteString("[Site \"chess-relay\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", end.Year(), int(end.Month()), end.Day()))
	b.WriteString(fmt.Sprintf("[Round \"%s\"]\n", sanitizePGN(g.ID)))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(playerName(g.White))))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(playerName(g.Black))))
	if g.EndReason != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(string(g.EndReason))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

	for i := 0; i < len(san); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, san[i]))
		if i+1 < len(san) {
			b.WriteString(" ")
			b.WriteString(san[i+1])
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", "")
	s = strings.ReplaceAll(s, "\"", "'")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
