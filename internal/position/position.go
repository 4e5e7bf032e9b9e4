// Package position inspects client-supplied FEN strings. It is advisory:
// the relay never rejects a move because of what it reports.
package position

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var ErrEmptyFEN = errors.New("empty fen")

// Info summarises a position.
type Info struct {
	Turn       string
	Checkmate  bool
	Stalemate  bool
	LegalMoves int
}

// Terminal reports whether the side to move has no legal moves.
func (i Info) Terminal() bool { return i.Checkmate || i.Stalemate }

func load(fen string) (*nchess.Game, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" {
		return nil, ErrEmptyFEN
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("decode fen: %w", err)
	}
	return nchess.NewGame(opt), nil
}

// Inspect decodes fen and classifies the position.
func Inspect(fen string) (Info, error) {
	game, err := load(fen)
	if err != nil {
		return Info{}, err
	}
	turn := "black"
	if game.Position().Turn() == nchess.White {
		turn = "white"
	}
	method := game.Method()
	return Info{
		Turn:       turn,
		Checkmate:  method == nchess.Checkmate,
		Stalemate:  method == nchess.Stalemate,
		LegalMoves: len(game.ValidMoves()),
	}, nil
}

// SAN encodes the coordinate move from-to played in fen as standard
// algebraic notation.
func SAN(fen, from, to, promo string) (string, error) {
	game, err := load(fen)
	if err != nil {
		return "", err
	}
	uci := strings.ToLower(strings.TrimSpace(from)) + strings.ToLower(strings.TrimSpace(to)) + promoLetter(promo)
	pos := game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return "", fmt.Errorf("decode move %s: %w", uci, err)
	}
	return nchess.AlgebraicNotation{}.Encode(pos, mv), nil
}

// Board returns the piece placement of fen.
func Board(fen string) (*nchess.Board, error) {
	game, err := load(fen)
	if err != nil {
		return nil, err
	}
	return game.Position().Board(), nil
}

// promoLetter maps client promotion tags ("q", "Queen", "wQ", ...) to the
// UCI suffix.
func promoLetter(raw string) string {
	p := strings.ToLower(strings.TrimSpace(raw))
	if len(p) == 2 && (p[0] == 'w' || p[0] == 'b') {
		p = p[1:]
	}
	switch p {
	case "q", "queen":
		return "q"
	case "r", "rook":
		return "r"
	case "b", "bishop":
		return "b"
	case "n", "knight":
		return "n"
	default:
		return ""
	}
}

// Referee adapts Inspect to the relay's terminal position hook.
type Referee struct{}

func (Referee) Terminal(fen string) (checkmate, stalemate bool, err error) {
	info, err := Inspect(fen)
	if err != nil {
		return false, false, err
	}
	return info.Checkmate, info.Stalemate, nil
}
