// Package archive stores finished games in Postgres together with their PGN.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"
	"github.com/park285/chess-relay/internal/relay"
	"go.uber.org/zap"
)

const (
	DefaultQueueSize = 256
	saveTimeout      = 5 * time.Second
)

const schema = `CREATE TABLE IF NOT EXISTS relay_games (
    game_id      TEXT PRIMARY KEY,
    white_name   TEXT NOT NULL,
    black_name   TEXT NOT NULL,
    result       TEXT NOT NULL,
    result_method TEXT NOT NULL,
    moves_uci    JSONB NOT NULL,
    moves_san    JSONB NOT NULL,
    pgn          TEXT NOT NULL,
    started_at   TIMESTAMPTZ NOT NULL,
    ended_at     TIMESTAMPTZ NOT NULL,
    duration_ms  BIGINT NOT NULL
)`

const upsert = `INSERT INTO relay_games (
    game_id, white_name, black_name, result, result_method,
    moves_uci, moves_san, pgn, started_at, ended_at, duration_ms
  ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
  ON CONFLICT (game_id) DO UPDATE SET
    white_name=EXCLUDED.white_name,
    black_name=EXCLUDED.black_name,
    result=EXCLUDED.result,
    result_method=EXCLUDED.result_method,
    moves_uci=EXCLUDED.moves_uci,
    moves_san=EXCLUDED.moves_san,
    pgn=EXCLUDED.pgn,
    started_at=EXCLUDED.started_at,
    ended_at=EXCLUDED.ended_at,
    duration_ms=EXCLUDED.duration_ms`

// Execer is the subset of *sql.DB the repository writes through.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Repository struct {
	db   Execer
	sqlc *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db, sqlc: db}, nil
}

// NewRepositoryWith wraps an existing executor.
func NewRepositoryWith(db Execer) *Repository { return &Repository{db: db} }

func (r *Repository) Close() error {
	if r == nil || r.sqlc == nil {
		return nil
	}
	return r.sqlc.Close()
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Record is one archived row.
type Record struct {
	GameID     string
	WhiteName  string
	BlackName  string
	Result     string
	Method     string
	MovesUCI   []string
	MovesSAN   []string
	PGN        string
	StartedAt  time.Time
	EndedAt    time.Time
	DurationMS int64
}

// RecordFor derives the archive row of a finished game.
func RecordFor(g relay.GameView) Record {
	start := time.UnixMilli(g.CreatedAt).UTC()
	end := start
	if g.FinishedAt != nil {
		end = time.UnixMilli(*g.FinishedAt).UTC()
	}
	san := sanMoves(g)
	d := end.Sub(start).Milliseconds()
	if d < 0 {
		d = 0
	}
	return Record{
		GameID:     g.ID,
		WhiteName:  playerName(g.White),
		BlackName:  playerName(g.Black),
		Result:     resultToPGN(g.Winner),
		Method:     string(g.EndReason),
		MovesUCI:   uciMoves(g),
		MovesSAN:   san,
		PGN:        buildPGN(g, san, end),
		StartedAt:  start,
		EndedAt:    end,
		DurationMS: d,
	}
}

// SaveResult upserts the row for a finished game.
func (r *Repository) SaveResult(ctx context.Context, g relay.GameView) error {
	if r == nil || r.db == nil {
		return nil
	}
	if g.Status != relay.StatusFinished {
		return fmt.Errorf("game %s is %s, not finished", g.ID, g.Status)
	}
	rec := RecordFor(g)
	uci, _ := json.Marshal(rec.MovesUCI)
	san, _ := json.Marshal(rec.MovesSAN)
	_, err := r.db.ExecContext(ctx, upsert,
		rec.GameID, rec.WhiteName, rec.BlackName, rec.Result, rec.Method,
		string(uci), string(san), rec.PGN, rec.StartedAt, rec.EndedAt, rec.DurationMS,
	)
	return err
}

// Saver persists finished games.
type Saver interface {
	SaveResult(ctx context.Context, g relay.GameView) error
}

// Archiver is a relay.Observer that hands finished snapshots to a Saver
// on its own goroutine.
type Archiver struct {
	saver  Saver
	queue  chan relay.GameView
	logger *zap.Logger

	mu     sync.Mutex
	seen   map[string]struct{}
	closed bool

	dropped atomic.Int64
	saved   atomic.Int64

	startOnce sync.Once
	done      chan struct{}
}

func NewArchiver(s Saver, queueSize int, logger *zap.Logger) *Archiver {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		saver:  s,
		queue:  make(chan relay.GameView, queueSize),
		logger: logger,
		seen:   make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

func (a *Archiver) Start() {
	a.startOnce.Do(func() { go a.run() })
}

// Observe queues each finished game once. Games finished after Close are
// counted as dropped.
func (a *Archiver) Observe(c relay.Change) {
	if c.Kind == relay.ChangeRemoved {
		a.mu.Lock()
		delete(a.seen, c.ID)
		a.mu.Unlock()
		return
	}
	if c.Game.Status != relay.StatusFinished {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.seen[c.ID]; ok {
		return
	}
	if a.closed {
		a.dropped.Add(1)
		a.logger.Warn("archive_closed", zap.String("game_id", c.ID))
		return
	}
	a.seen[c.ID] = struct{}{}

	select {
	case a.queue <- c.Game:
	default:
		a.dropped.Add(1)
		a.logger.Warn("archive_queue_full", zap.String("game_id", c.ID))
	}
}

func (a *Archiver) Dropped() int64 { return a.dropped.Load() }
func (a *Archiver) Saved() int64   { return a.saved.Load() }

// Close drains pending games and waits for the worker or ctx.
func (a *Archiver) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		a.Start()
		close(a.queue)
	}
	a.mu.Unlock()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Archiver) run() {
	defer close(a.done)
	for g := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		err := a.saver.SaveResult(ctx, g)
		cancel()
		if err != nil {
			a.logger.Warn("archive_save_failed", zap.String("game_id", g.ID), zap.Error(err))
			continue
		}
		a.saved.Add(1)
		a.logger.Info("archive_saved",
			zap.String("game_id", g.ID),
			zap.String("winner", string(g.Winner)),
			zap.String("reason", string(g.EndReason)),
			zap.Int("moves", len(g.Moves)),
		)
	}
}
