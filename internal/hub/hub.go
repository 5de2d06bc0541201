// Package hub is the orchestrator that ties the hub's components together:
// store, auth, WebSocket fan-out, invocation engine, MCP tool server, and
// the liveness sweeper.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/talkto-ai/talkto/internal/api"
	"github.com/talkto-ai/talkto/internal/auth"
	"github.com/talkto-ai/talkto/internal/config"
	"github.com/talkto-ai/talkto/internal/invoke"
	"github.com/talkto-ai/talkto/internal/liveness"
	"github.com/talkto-ai/talkto/internal/mcpserver"
	"github.com/talkto-ai/talkto/internal/prompt"
	"github.com/talkto-ai/talkto/internal/store"
	"github.com/talkto-ai/talkto/internal/ws"
)

// Hub is the running hub process.
type Hub struct {
	cfg     *config.Config
	store   store.Store
	ws      *ws.Manager
	invoke  *invoke.Engine
	sweeper *liveness.Sweeper
	api     *api.Server
	mcp     *mcpserver.Server
	logger  *slog.Logger
}

// New wires a hub from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	if cfg.Storage.Driver == "sqlite" {
		if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := store.New(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := store.Seed(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed storage: %w", err)
	}

	authSvc := auth.NewService(db)
	wsm := ws.NewManager(logger)
	prompts := prompt.NewEngine(cfg.Paths.PromptsDir)

	engine := invoke.NewEngine(db, wsm, prompts, logger, invoke.Options{
		PromptTimeout: cfg.Invoke.PromptTimeout.Duration,
		HealthTimeout: cfg.Invoke.HealthTimeout.Duration,
		MaxChainDepth: cfg.Invoke.MaxChainDepth,
	})
	sweeper := liveness.NewSweeper(db, logger, liveness.Options{
		Interval:     cfg.Invoke.SweepInterval.Duration,
		ProbeTimeout: cfg.Invoke.HealthTimeout.Duration,
	})

	apiSrv := api.NewServer(db, authSvc, wsm, engine, sweeper, logger, api.Options{
		Network:      cfg.Server.Network,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		AllowedOrigins: []string{
			"*",
		},
	})
	mcpSrv := mcpserver.NewServer(db, wsm, engine, prompts, logger)

	return &Hub{
		cfg:     cfg,
		store:   db,
		ws:      wsm,
		invoke:  engine,
		sweeper: sweeper,
		api:     apiSrv,
		mcp:     mcpSrv,
		logger:  logger.With("component", "hub"),
	}, nil
}

// Handler returns the combined HTTP handler: REST + /ws on the chi mux,
// /mcp on the MCP streamable transport.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/mcp", h.mcp.Handler())
	mux.Handle("/", h.api.Handler())
	return mux
}

// Run serves HTTP and runs background sweeps until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    h.cfg.Addr(),
		Handler: h.Handler(),
	}

	sweepCtx, stopSweeps := context.WithCancel(ctx)
	defer stopSweeps()
	go h.sweeper.Run(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("hub listening", "addr", h.cfg.Addr(), "base_url", h.cfg.BaseURL())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		h.logger.Info("shutting down hub gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		}

		_ = h.store.Close()
		h.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		_ = h.store.Close()
		return err
	}
}
