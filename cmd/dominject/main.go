// CLAUDE:SUMMARY CLI entry point for dominject: decorate pages from a YAML config or a single URL, optional integrations DB, HTTP control API and MCP over stdio.
// Command dominject keeps injected controls on the items of live pages.
//
// Usage:
//
//	dominject -config dominject.yaml                       # pages from YAML config
//	dominject -url https://example.com/thread -integration support-comment
//	dominject -config dominject.yaml -db integrations.db   # hot-reloaded integrations
//	dominject -config dominject.yaml -listen :8086 -mcp    # control API and MCP tools
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/dominject"
)

func main() {
	configPath := flag.String("config", "", "path to dominject.yaml config file")
	singleURL := flag.String("url", "", "decorate a single URL")
	integrations := flag.String("integration", "", "comma-separated integrations for -url (default: all)")
	dbPath := flag.String("db", "", "SQLite database of extra integrations, watched for changes")
	listen := flag.String("listen", "", "HTTP control API address (overrides config)")
	mcpStdio := flag.Bool("mcp", false, "serve MCP tools on stdin/stdout (events go to stderr)")
	headful := flag.Bool("headful", false, "show the browser window")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(*configPath, *singleURL, *integrations)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "usage: dominject -config <file> | -url <url> [-integration a,b] [-db file] [-listen addr] [-mcp]")
		os.Exit(2)
	}
	if *headful {
		cfg.Browser.Headful = true
	}
	if *dbPath != "" {
		cfg.Database = *dbPath
	}
	if *listen != "" {
		cfg.HTTP.Listen = *listen
	}

	if err := run(ctx, logger, cfg, *mcpStdio); err != nil {
		logger.Error("dominject: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path, url, integrations string) (*dominject.Config, error) {
	if path != "" {
		return dominject.LoadConfigFile(path)
	}
	if url == "" {
		return nil, errors.New("dominject: -config or -url is required")
	}
	cfg := &dominject.Config{
		Browser: dominject.BrowserConfig{
			Headful:         true,
			RecycleInterval: 4 * time.Hour,
			MemoryLimit:     1 << 30,
		},
		Pages: []dominject.PageConfig{{URL: url, Integrations: splitList(integrations)}},
	}
	if err := cfg.Prepare(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, logger *slog.Logger, cfg *dominject.Config, mcpStdio bool) error {
	if mcpStdio {
		// stdout carries the MCP protocol.
		for i := range cfg.Sinks {
			if cfg.Sinks[i].Type == "stdout" && cfg.Sinks[i].Path == "" {
				cfg.Sinks[i].Path = "/dev/stderr"
			}
		}
	}
	sinks, err := dominject.OpenSinks(cfg, logger)
	if err != nil {
		return err
	}

	inj, err := dominject.New(cfg, logger, sinks...)
	if err != nil {
		return err
	}
	defer inj.Stop()

	if cfg.Database != "" {
		db, err := dominject.OpenIntegrationDB(cfg.Database)
		if err != nil {
			return fmt.Errorf("integrations db: %w", err)
		}
		defer db.Close()
		if err := inj.WatchDatabase(ctx, db); err != nil {
			return fmt.Errorf("integrations db: %w", err)
		}
	}

	if err := inj.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	if cfg.HTTP.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           inj.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("dominject: http listening", "addr", cfg.HTTP.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("dominject: http", "error", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()
	}

	if mcpStdio {
		srv := mcp.NewServer(&mcp.Implementation{Name: "dominject", Version: "1.0.0"}, nil)
		inj.RegisterMCP(srv)
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("dominject: mcp", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("dominject: shutting down")
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
