package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/chess-arena/internal/bot"
	"github.com/park285/chess-arena/internal/bot/uci"
	"github.com/park285/chess-arena/internal/config"
	"github.com/park285/chess-arena/internal/game"
	"github.com/park285/chess-arena/internal/matchmaking"
	"github.com/park285/chess-arena/internal/msgcat"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/persistence"
	"github.com/park285/chess-arena/internal/presence"
	"github.com/park285/chess-arena/internal/statusapi"
	"github.com/park285/chess-arena/internal/wsapi"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chess-arena: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = pflag.String("config", "", "YAML config file (overrides CONFIG_FILE)")
		addr       = pflag.String("addr", "", "WebSocket listen address (overrides LISTEN_ADDR)")
		statusAddr = pflag.String("status-addr", "", "status API listen address (overrides STATUS_ADDR)")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *statusAddr != "" {
		cfg.StatusAddr = *statusAddr
	}

	if err := obslog.Init(obslog.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Console: cfg.LogConsole,
		ToFile:  cfg.LogToFile,
		File:    cfg.LogFile,
		Caller:  cfg.LogCaller,
	}); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer obslog.Sync()
	log := obslog.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := game.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	gw, err := openGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = gw.Close() }()

	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return fmt.Errorf("messages: %w", err)
	}

	hub := presence.NewHub(0, 0)
	defer hub.Close()
	registry := presence.NewRegistry()

	machine := game.NewMachine(game.NewStore(rdb, cfg.SnapshotTTL()), hub, gw, game.Options{
		ClockPolicy:     cfg.ClockPolicy,
		DisconnectGrace: cfg.DisconnectGrace(),
	})
	defer machine.Close()

	supplier, closeSupplier, err := openSupplier(cfg)
	if err != nil {
		return err
	}
	defer closeSupplier()
	driver := game.NewBotDriver(machine, supplier, bot.Delay(cfg.BotDelayScale))

	coord := matchmaking.New(machine, hub, registry, gw, msgs, matchmaking.Options{
		StartDelay:         cfg.StartDelay(),
		DefaultTimeControl: cfg.DefaultTimeControl,
	})
	coord.AttachBot(driver)

	ws := wsapi.New(wsapi.Deps{
		Hub:            hub,
		Registry:       registry,
		Machine:        machine,
		Coordinator:    coord,
		Messages:       msgs,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	status := statusapi.New(statusapi.Deps{
		Machine:     machine,
		Registry:    registry,
		Hub:         hub,
		Coordinator: coord,
		Bot:         driver,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("ws_listen", zap.String("addr", cfg.ListenAddr), zap.String("clock_policy", cfg.ClockPolicy))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("websocket server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := status.ListenAndServe(cfg.StatusAddr); err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown_begin")
		status.Drain()

		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			log.Warn("ws_shutdown_error", zap.Error(err))
		}
		if err := status.Shutdown(sctx); err != nil {
			log.Warn("status_shutdown_error", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	log.Info("shutdown_complete", zap.Int("sessions_dropped", machine.Store().Count()), zap.Error(err))
	return err
}

func openGateway(ctx context.Context, cfg *config.AppConfig) (persistence.Gateway, error) {
	if cfg.DatabaseURL == "" {
		obslog.L().Warn("persistence_memory", zap.String("reason", "DATABASE_URL not set"))
		return persistence.NewMemory(), nil
	}
	pg, err := persistence.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		_ = pg.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return pg, nil
}

func openSupplier(cfg *config.AppConfig) (game.MoveSupplier, func(), error) {
	builtin := bot.NewBuiltin(0)
	if cfg.StockfishPath == "" {
		return builtin, func() {}, nil
	}
	pool, err := uci.NewPool(uci.PoolConfig{BinaryPath: cfg.StockfishPath, Capacity: cfg.StockfishCapacity})
	if err != nil {
		return nil, nil, fmt.Errorf("stockfish pool: %w", err)
	}
	sf := bot.NewStockfish(pool, builtin)
	obslog.L().Info("bot_engine_ready", zap.String("path", cfg.StockfishPath))
	return sf, func() { _ = sf.Close() }, nil
}
