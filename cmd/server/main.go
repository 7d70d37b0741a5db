package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"taleweave.ai/internal/config"
	"taleweave.ai/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./taleweave.yaml", "config file (optional)")
		addr       = flag.String("addr", "", "http listen address")
		mcpListen  = flag.String("mcp_listen", "", "embedded MCP listen address (\"-\" to disable)")
		mcpSecret  = flag.String("mcp_hmac_secret", "", "embedded MCP hmac secret (or set TALEWEAVE_MCP_HMAC_SECRET)")
		gameDir    = flag.String("game", "", "game content directory")
		saveDir    = flag.String("save", "", "save directory")
		branch     = flag.String("branch", "", "timeline to check out (created from the current tip if missing)")
		player     = flag.String("player", "", "player name used for interaction matching")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "mcp_listen":
			cfg.MCPListen = *mcpListen
			if cfg.MCPListen == "-" {
				cfg.MCPListen = ""
			}
		case "mcp_hmac_secret":
			cfg.MCPHMACSecret = *mcpSecret
		case "game":
			cfg.GameDir = *gameDir
		case "save":
			cfg.SaveDir = *saveDir
		case "branch":
			cfg.Branch = *branch
		case "player":
			cfg.PlayerName = *player
		case "v":
			if *verbose {
				cfg.LogLevel = "debug"
			}
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.LogLevel != "" {
		lvl, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	embedded, err := startEmbeddedMCP(ctx, cfg, rt, logger.Named("mcp"))
	if err != nil {
		return err
	}
	defer embedded.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(rt),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("listening",
		zap.String("addr", cfg.Addr),
		zap.String("game", rt.game.Manifest.ID),
		zap.Int("tools", len(rt.registry.Describe())))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx2)
	})
	err = g.Wait()
	logger.Info("shutting down")
	return err
}

func newMux(rt *gameRuntime) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/tools", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(rt.registry.Describe())
	})
	mux.HandleFunc("/v1/ws", ws.NewServer(rt.orch, rt.hub, rt.log.Named("ws")).Handler())
	return mux
}
