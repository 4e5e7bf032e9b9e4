// Package httpapi serves the read-only HTTP surface and mounts the
// websocket endpoint next to it.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/park285/chess-relay/internal/boardimg"
	"github.com/park285/chess-relay/internal/msgcat"
	"github.com/park285/chess-relay/internal/position"
	"github.com/park285/chess-relay/internal/relay"
	"go.uber.org/zap"
)

// MirrorReader reads snapshots back from an external mirror.
type MirrorReader interface {
	ListLobby(ctx context.Context) ([]string, error)
	LoadGame(ctx context.Context, id string) (*relay.GameView, error)
}

// Deps are the collaborators of the router. WS and Mirror are optional.
type Deps struct {
	Store   *relay.Store
	WS      http.Handler
	Mirror  MirrorReader
	Catalog *msgcat.Catalog
	Logger  *zap.Logger
	Now     func() time.Time
}

// NewRouter builds the gin engine.
func NewRouter(d Deps) *gin.Engine {
	if d.Catalog == nil {
		d.Catalog = msgcat.MustDefault()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(d.Logger))

	router.GET("/health", handleHealth(d))
	api := router.Group("/api")
	api.GET("/games", handleListGames(d))
	api.GET("/games/:id", handleGetGame(d))
	api.GET("/games/:id/board.png", handleBoard(d))
	if d.Mirror != nil {
		api.GET("/mirror/lobby", handleMirrorLobby(d))
		api.GET("/mirror/games/:id", handleMirrorGame(d))
	}
	return router
}

// NewHandler serves d.WS at /ws beside the gin engine. The websocket
// upgrade must reach the raw ResponseWriter, which gin's writer does not
// hand out once it has flushed the handshake headers.
func NewHandler(d Deps) http.Handler {
	router := NewRouter(d)
	if d.WS == nil {
		return router
	}
	mux := http.NewServeMux()
	mux.Handle("/ws", d.WS)
	mux.Handle("/", router)
	return mux
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func handleHealth(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": d.Now().UnixMilli(),
		})
	}
}

func handleListGames(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions := d.Store.List()
		games := make([]relay.GameView, 0, len(sessions))
		for i := range sessions {
			games = append(games, sessions[i].View())
		}
		counts := d.Store.Counts()
		c.JSON(http.StatusOK, gin.H{
			"games":         games,
			"totalGames":    counts.Total,
			"activeGames":   counts.Active,
			"waitingGames":  counts.Open,
			"finishedGames": counts.Finished,
		})
	}
}

func handleGetGame(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := lookup(d, c)
		if !ok {
			return
		}
		body := gin.H{"game": s.View()}
		if info, err := position.Inspect(s.FEN); err == nil {
			body["turn"] = info.Turn
			body["legalMoves"] = info.LegalMoves
			body["checkmate"] = info.Checkmate
			body["stalemate"] = info.Stalemate
		}
		c.JSON(http.StatusOK, body)
	}
}

func handleBoard(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := lookup(d, c)
		if !ok {
			return
		}
		opts := boardimg.Options{Flip: truthy(c.Query("flip"))}
		if n, err := strconv.Atoi(c.Query("size")); err == nil {
			opts.SquareSize = n
		}
		if len(s.Moves) > 0 {
			last := s.Moves[len(s.Moves)-1]
			opts.LastFrom, opts.LastTo = last.From, last.To
		}
		png, err := boardimg.Render(s.FEN, opts)
		if err != nil {
			d.Logger.Warn("http_board_render_failed", zap.String("game_id", s.ID), zap.Error(err))
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": d.Catalog.Text("http.board_unavailable", nil, "Board image unavailable")})
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "image/png", png)
	}
}

func handleMirrorLobby(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids, err := d.Mirror.ListLobby(c.Request.Context())
		if err != nil {
			d.Logger.Warn("http_mirror_lobby_failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ids": ids})
	}
}

func handleMirrorGame(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.ToUpper(strings.TrimSpace(c.Param("id")))
		g, err := d.Mirror.LoadGame(c.Request.Context(), id)
		if err != nil {
			d.Logger.Warn("http_mirror_game_failed", zap.String("game_id", id), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if g == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": d.Catalog.Text("http.game_not_found", nil, "Game not found")})
			return
		}
		c.JSON(http.StatusOK, gin.H{"game": g})
	}
}

func lookup(d Deps, c *gin.Context) (relay.Session, bool) {
	id := strings.ToUpper(strings.TrimSpace(c.Param("id")))
	s, ok := d.Store.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": d.Catalog.Text("http.game_not_found", nil, "Game not found")})
		return relay.Session{}, false
	}
	return s, true
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "black":
		return true
	}
	return false
}
