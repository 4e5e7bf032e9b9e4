package boardimg

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Piece outlines on a 45x45 canvas. Each entry is an element without its
// closing "/>" so fill and stroke can be appended per colour.
var glyphs = map[nchess.PieceType][]string{
	nchess.Pawn: {
		`<circle cx="22.5" cy="14" r="6"`,
		`<path d="M15 22 h15 l3 14 h-21 z"`,
		`<rect x="10" y="36" width="25" height="4"`,
	},
	nchess.Rook: {
		`<path d="M11 9 h5 v4 h4 v-4 h5 v4 h4 v-4 h5 v8 l-3 3 v12 l3 3 v5 h-23 v-5 l3 -3 v-12 l-3 -3 z"`,
	},
	nchess.Knight: {
		`<path d="M14 39 h20 c0 -10 -1 -22 -9 -27 l-1 -5 l-3 5 c-5 2 -9 7 -10 13 l3 2 l5 -3 c1 3 -2 7 -5 15 z"`,
	},
	nchess.Bishop: {
		`<circle cx="22.5" cy="8" r="2.5"`,
		`<path d="M22.5 11 c-6 4 -9 9 -8 15 h16 c1 -6 -2 -11 -8 -15 z"`,
		`<rect x="14" y="28" width="17" height="3"`,
		`<path d="M9 38 c5 -1 9 -3 13.5 -6 c4.5 3 8.5 5 13.5 6 v2 h-27 z"`,
	},
	nchess.Queen: {
		`<path d="M9 26 l-3 -14 l7 9 l2 -12 l7.5 11 l7.5 -11 l2 12 l7 -9 l-3 14 z"`,
		`<rect x="9" y="28" width="27" height="4"`,
		`<rect x="10" y="34" width="25" height="5"`,
	},
	nchess.King: {
		`<path d="M20.5 4 h4 v4 h4 v4 h-4 v5 h-4 v-5 h-4 v-4 h4 z"`,
		`<path d="M11 30 c-5 -8 2 -14 11.5 -10 c9.5 -4 16.5 2 11.5 10 z"`,
		`<rect x="11" y="32" width="23" height="7"`,
	},
}

const (
	whiteFill   = "#f8f8f8"
	whiteStroke = "#1a1a1a"
	blackFill   = "#202020"
	blackStroke = "#e0e0e0"
)

func pieceSVG(piece nchess.Piece) ([]byte, error) {
	parts, ok := glyphs[piece.Type()]
	if !ok {
		return nil, fmt.Errorf("no glyph for %s", piece)
	}
	fill, stroke := whiteFill, whiteStroke
	if piece.Color() == nchess.Black {
		fill, stroke = blackFill, blackStroke
	}
	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="45" height="45" viewBox="0 0 45 45">`)
	for _, p := range parts {
		fmt.Fprintf(&b, `%s fill="%s" stroke="%s" stroke-width="1.5" stroke-linejoin="round"/>`, p, fill, stroke)
	}
	b.WriteString(`</svg>`)
	return []byte(b.String()), nil
}
