package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/chess-relay/internal/archive"
	"github.com/park285/chess-relay/internal/config"
	"github.com/park285/chess-relay/internal/gateway"
	"github.com/park285/chess-relay/internal/httpapi"
	"github.com/park285/chess-relay/internal/janitor"
	"github.com/park285/chess-relay/internal/mirror"
	"github.com/park285/chess-relay/internal/msgcat"
	"github.com/park285/chess-relay/internal/obslog"
	"github.com/park285/chess-relay/internal/position"
	"github.com/park285/chess-relay/internal/relay"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Long:  "Serves the websocket endpoint at /ws and the read-only HTTP API until SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, nil)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	return cmd
}

// app is the assembled server. Optional parts are nil when unconfigured.
type app struct {
	cfg     *config.AppConfig
	logger  *zap.Logger
	store   *relay.Store
	life    *relay.Lifecycle
	gw      *gateway.Gateway
	handler http.Handler

	rdb      *redis.Client
	mirror   *mirror.Mirror
	repo     *archive.Repository
	archiver *archive.Archiver
	janitor  *janitor.Janitor
}

func buildApp(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*app, error) {
	cat, err := msgcat.New(cfg.Messages.Dir)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	hub := gateway.NewHub(logger)
	storeOpts := []relay.StoreOption{relay.WithOutbox(hub)}

	if cfg.Redis.URL != "" {
		rdb, err := mirror.Dial(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		a.rdb = rdb
		a.mirror = mirror.New(rdb, mirror.Options{TTL: cfg.Redis.TTL, QueueSize: cfg.Redis.QueueSize, Logger: logger})
		a.mirror.Start()
		storeOpts = append(storeOpts, relay.WithObserver(a.mirror))
		logger.Info("redis_mirror_enabled", zap.Duration("ttl", cfg.Redis.TTL))
	}
	if cfg.Database.URL != "" {
		repo, err := archive.NewRepository(cfg.Database.URL)
		if err != nil {
			a.close(context.Background())
			return nil, fmt.Errorf("archive: %w", err)
		}
		a.repo = repo
		if err := repo.EnsureSchema(ctx); err != nil {
			a.close(context.Background())
			return nil, fmt.Errorf("archive schema: %w", err)
		}
		a.archiver = archive.NewArchiver(repo, cfg.Database.QueueSize, logger)
		a.archiver.Start()
		storeOpts = append(storeOpts, relay.WithObserver(a.archiver))
		logger.Info("archive_enabled")
	}

	a.store = relay.NewStore(storeOpts...)
	a.life = relay.NewLifecycle(a.store, relay.WithGracePeriod(cfg.Relay.GracePeriod))
	lobby := relay.NewLobby(a.store, a.life)
	moves := relay.NewMoveRelay(a.store, a.life,
		relay.WithReferee(position.Referee{}),
		relay.WithAutoFinish(cfg.Relay.AutoFinish),
	)

	d := gateway.NewDispatcher(gateway.Services{Lobby: lobby, Moves: moves, Life: a.life}, hub, cat, logger)
	a.gw = gateway.New(gateway.Config{
		MaxMessageBytes: cfg.Conn.MaxMessageBytes,
		SendBuffer:      cfg.Conn.SendBuffer,
		RatePerSecond:   cfg.Conn.RatePerSecond,
		RateBurst:       cfg.Conn.RateBurst,
		PingInterval:    cfg.Conn.PingInterval,
		WriteTimeout:    cfg.Conn.WriteTimeout,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
	}, hub, d, a.life, logger)

	deps := httpapi.Deps{Store: a.store, WS: a.gw, Catalog: cat, Logger: logger}
	if a.mirror != nil {
		deps.Mirror = a.mirror
	}
	a.handler = httpapi.NewHandler(deps)

	if cfg.Relay.FinishedTTL > 0 {
		j, err := janitor.New(a.store, cfg.Relay.FinishedTTL, cfg.Relay.SweepSchedule, logger)
		if err != nil {
			a.close(context.Background())
			return nil, err
		}
		a.janitor = j
		j.Start()
	}
	return a, nil
}

// close stops background work and releases clients, newest first.
func (a *app) close(ctx context.Context) {
	if a.gw != nil {
		if err := a.gw.Shutdown(ctx); err != nil {
			a.logger.Warn("gateway_shutdown", zap.Error(err))
		}
	}
	if a.life != nil {
		a.life.Stop()
	}
	if a.janitor != nil {
		_ = a.janitor.Stop(ctx)
	}
	if a.archiver != nil {
		if err := a.archiver.Close(ctx); err != nil {
			a.logger.Warn("archive_drain", zap.Error(err))
		}
	}
	if a.mirror != nil {
		if err := a.mirror.Close(ctx); err != nil {
			a.logger.Warn("mirror_drain", zap.Error(err))
		}
	}
	if a.repo != nil {
		_ = a.repo.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}

// runServe blocks until ctx ends. ready, when set, receives the bound address.
func runServe(ctx context.Context, cfg *config.AppConfig, ready chan<- string) error {
	flush, err := obslog.Init(obslog.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Caller: cfg.Log.Caller,
	})
	if err != nil {
		return err
	}
	defer flush()
	logger := obslog.L()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		a.close(context.Background())
		return fmt.Errorf("listen %s: %w", cfg.HTTP.Addr, err)
	}
	srv := &http.Server{Handler: a.handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	logger.Info("relay_listening",
		zap.String("addr", ln.Addr().String()),
		zap.Strings("allowed_origins", cfg.HTTP.AllowedOrigins),
		zap.Duration("grace_period", cfg.Relay.GracePeriod),
	)
	if ready != nil {
		ready <- ln.Addr().String()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	logger.Info("relay_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	// 웹소켓 연결을 먼저 닫아야 Shutdown이 hijacked conn을 기다리지 않음
	a.close(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown", zap.Error(err))
	}
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	logger.Info("relay_stopped")
	return nil
}
