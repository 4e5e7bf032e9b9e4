// Package mirror copies session snapshots into Redis so operators and
// other processes can read them without touching the relay.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/park285/chess-relay/internal/relay"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultTTL       = 24 * time.Hour
	DefaultQueueSize = 1024
	writeTimeout     = 3 * time.Second
)

func keyGame(id string) string { return "relay:game:" + strings.TrimSpace(id) }
func keyLobby() string         { return "relay:lobby" }

// Dial parses a redis:// URL and pings the server.
func Dial(ctx context.Context, rawURL string) (*redis.Client, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, errors.New("redis url is empty")
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

type Options struct {
	TTL       time.Duration
	QueueSize int
	Logger    *zap.Logger
}

// Mirror is a relay.Observer backed by a single writer goroutine.
type Mirror struct {
	rdb    *redis.Client
	ttl    time.Duration
	queue  chan relay.Change
	logger *zap.Logger

	dropped atomic.Int64
	written atomic.Int64

	mu     sync.Mutex
	closed bool

	startOnce sync.Once
	done      chan struct{}
}

func New(rdb *redis.Client, opts Options) *Mirror {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Mirror{
		rdb:    rdb,
		ttl:    opts.TTL,
		queue:  make(chan relay.Change, opts.QueueSize),
		logger: opts.Logger,
		done:   make(chan struct{}),
	}
}

// Start launches the writer.
func (m *Mirror) Start() {
	m.startOnce.Do(func() { go m.run() })
}

// Observe queues the change. A full queue or a closed mirror drops it.
func (m *Mirror) Observe(c relay.Change) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.dropped.Add(1)
		return
	}
	select {
	case m.queue <- c:
	default:
		m.dropped.Add(1)
		m.logger.Warn("mirror_queue_full", zap.String("game_id", c.ID), zap.String("kind", string(c.Kind)))
	}
}

// Dropped returns how many changes were discarded.
func (m *Mirror) Dropped() int64 { return m.dropped.Load() }

// Written returns how many changes reached Redis.
func (m *Mirror) Written() int64 { return m.written.Load() }

// Close stops accepting work, drains the queue and waits for the writer
// or ctx. It does not close the Redis client.
func (m *Mirror) Close(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		m.Start()
		close(m.queue)
	}
	m.mu.Unlock()
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mirror) run() {
	defer close(m.done)
	for c := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := m.apply(ctx, c)
		cancel()
		if err != nil {
			m.logger.Warn("mirror_write_failed", zap.String("game_id", c.ID), zap.Error(err))
			continue
		}
		m.written.Add(1)
	}
}

func (m *Mirror) apply(ctx context.Context, c relay.Change) error {
	switch c.Kind {
	case relay.ChangeRemoved:
		_, err := m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, keyGame(c.ID))
			p.SRem(ctx, keyLobby(), c.ID)
			return nil
		})
		return err
	case relay.ChangeSaved:
		raw, err := json.Marshal(c.Game)
		if err != nil {
			return err
		}
		_, err = m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, keyGame(c.ID), raw, m.ttl)
			if c.Game.Status == relay.StatusOpen {
				p.SAdd(ctx, keyLobby(), c.ID)
			} else {
				p.SRem(ctx, keyLobby(), c.ID)
			}
			return nil
		})
		return err
	default:
		return fmt.Errorf("unknown change kind %q", c.Kind)
	}
}

// LoadGame returns the mirrored snapshot, or nil when absent.
func (m *Mirror) LoadGame(ctx context.Context, id string) (*relay.GameView, error) {
	raw, err := m.rdb.Get(ctx, keyGame(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var g relay.GameView
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// ListLobby returns the mirrored open game ids, sorted.
func (m *Mirror) ListLobby(ctx context.Context) ([]string, error) {
	ids, err := m.rdb.SMembers(ctx, keyLobby()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}
