// Package boardimg draws PNG thumbnails of a chess position.
package boardimg

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/chess-relay/internal/position"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	DefaultSquareSize = 48
	minSquareSize     = 16
	maxSquareSize     = 128
	margin            = 20
)

// Options controls a render.
type Options struct {
	// Flip draws the board from black's side.
	Flip       bool
	SquareSize int
	// LastFrom and LastTo are coordinates such as "e2"; empty disables the overlay.
	LastFrom string
	LastTo   string
}

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	frameColor      = color.RGBA{40, 44, 58, 255}
	labelColor      = color.RGBA{220, 224, 236, 255}
	lastMoveOverlay = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
)

// Render decodes fen and draws it.
func Render(fen string, opts Options) ([]byte, error) {
	board, err := position.Board(fen)
	if err != nil {
		return nil, err
	}
	return RenderBoard(board, opts)
}

func RenderBoard(board *nchess.Board, opts Options) ([]byte, error) {
	if board == nil {
		return nil, fmt.Errorf("board is nil")
	}
	size := opts.SquareSize
	switch {
	case size == 0:
		size = DefaultSquareSize
	case size < minSquareSize:
		size = minSquareSize
	case size > maxSquareSize:
		size = maxSquareSize
	}

	total := size*8 + margin*2
	img := image.NewRGBA(image.Rect(0, 0, total, total))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(frameColor), image.Point{}, imagedraw.Src)
	origin := image.Point{X: margin, Y: margin}

	l := layout{size: size, origin: origin, flip: opts.Flip}
	l.drawSquares(img)
	for _, coord := range []string{opts.LastFrom, opts.LastTo} {
		if sq, ok := parseSquare(coord); ok {
			l.overlay(img, sq, lastMoveOverlay)
		}
	}
	if err := l.drawPieces(img, board); err != nil {
		return nil, err
	}
	l.drawLabels(img)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

type layout struct {
	size   int
	origin image.Point
	flip   bool
}

// cell returns the top-left pixel of sq.
func (l layout) cell(sq nchess.Square) image.Point {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
	if l.flip {
		col, row = 7-col, 7-row
	}
	return image.Point{X: l.origin.X + col*l.size, Y: l.origin.Y + row*l.size}
}

func (l layout) rect(sq nchess.Square) image.Rectangle {
	p := l.cell(sq)
	return image.Rect(p.X, p.Y, p.X+l.size, p.Y+l.size)
}

func (l layout) drawSquares(dst *image.RGBA) {
	for sq := nchess.A1; sq <= nchess.H8; sq++ {
		imagedraw.Draw(dst, l.rect(sq), image.NewUniform(squareColor(sq)), image.Point{}, imagedraw.Src)
	}
}

func (l layout) overlay(dst *image.RGBA, sq nchess.Square, clr color.Color) {
	imagedraw.Draw(dst, l.rect(sq), image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

func (l layout) drawPieces(dst *image.RGBA, board *nchess.Board) error {
	for sq, piece := range board.SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		img, err := pieceImage(piece, l.size)
		if err != nil {
			return err
		}
		r := l.rect(sq)
		imagedraw.Draw(dst, r, img, image.Point{}, imagedraw.Over)
	}
	return nil
}

func (l layout) drawLabels(dst *image.RGBA) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: dst, Src: image.NewUniform(labelColor), Face: face}
	ascent := face.Metrics().Ascent.Ceil()
	for i := 0; i < 8; i++ {
		file := nchess.File(i)
		rank := nchess.Rank(i)
		fileSq := l.cell(nchess.NewSquare(file, nchess.Rank1))
		rankSq := l.cell(nchess.NewSquare(nchess.FileA, rank))

		centered(drawer, file.String(), fileSq.X+l.size/2, l.origin.Y+8*l.size+ascent+2)
		centered(drawer, rank.String(), l.origin.X/2, rankSq.Y+l.size/2+ascent/2)
	}
}

func centered(d *font.Drawer, text string, cx, baseline int) {
	w := d.MeasureString(text).Ceil()
	d.Dot = fixed.P(cx-w/2, baseline)
	d.DrawString(text)
}

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}

func parseSquare(s string) (nchess.Square, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.NoSquare, false
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), true
}

type pieceKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

func pieceImage(piece nchess.Piece, size int) (image.Image, error) {
	key := pieceKey{piece: piece, size: size}
	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	data, err := pieceSVG(piece)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()
	return img, nil
}
