// Command margin runs the annotation authority: the HTTP API the review
// controller polls, the agent endpoints, and optionally the MCP tool
// surface over stdio.
package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/margin/dbopen"
	"github.com/hazyhaar/margin/service"
	"github.com/hazyhaar/margin/shield"
)

func main() {
	cfg, err := loadConfig(os.Getenv("MARGIN_CONFIG"))
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	if cfg.Secret == "" {
		slog.Error("SESSION_SECRET is required")
		os.Exit(1)
	}
	// Derive a 32-byte signing secret from whatever the operator supplied.
	secretHash := sha256.Sum256([]byte(cfg.Secret))
	secret := secretHash[:]

	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(), dbopen.WithSchema(service.Schema))
	if err != nil {
		slog.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	svc, err := service.New(service.Config{
		Store:        service.NewStore(db),
		Agents:       service.NewAgentKeys(db),
		Secret:       secret,
		StaleAfter:   cfg.StaleAfter,
		ReapInterval: cfg.ReapInterval,
		Logger:       logger,
	})
	if err != nil {
		slog.Error("service", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack() {
		r.Use(mw)
	}
	limiter := shield.NewRateLimiter([]shield.RateLimitRule{
		{Prefix: "/annotations", MaxRequests: 120, Window: time.Minute},
		{Prefix: "/validate", MaxRequests: 30, Window: time.Minute},
	})
	limiter.StartGC(ctx.Done(), 5*time.Minute)
	r.Use(limiter.Middleware)
	r.Mount("/", svc.Router())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server starting", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		svc.Run(ctx)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.MCPTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "margin",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv, cfg.AgentName)
		g.Go(func() error {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
