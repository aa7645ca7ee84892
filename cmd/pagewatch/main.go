// Command pagewatch runs the scheduled crawl engine with its admin HTTP API
// and, optionally, MCP tools on stdio.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pagewatch/crawl"
	"github.com/hazyhaar/pagewatch/dbopen"
	"github.com/hazyhaar/pagewatch/observability"
)

var version = "dev"

func main() {
	cfg, err := crawl.LoadConfig(os.Getenv)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// stdout belongs to the MCP stream when it runs on stdio.
	var logOut io.Writer = os.Stdout
	if cfg.MCPTransport == "stdio" {
		logOut = os.Stderr
	}
	logger := observability.NewLogger(logOut, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(), dbopen.WithMigration(crawl.Migrate))
	if err != nil {
		slog.Error("open db", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	svc, err := crawl.New(db, cfg, logger)
	if err != nil {
		slog.Error("pagewatch service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	svc.Start(ctx)

	if cfg.MCPTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "pagewatch", Version: version}, nil)
		svc.RegisterMCP(mcpSrv)
		go func() {
			slog.Info("MCP stdio starting")
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("MCP stdio", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Manual extraction can take a full fetch plus AI retries.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("pagewatch starting", "port", cfg.Port, "db", cfg.DBPath, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}
