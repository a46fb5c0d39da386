package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/tariku1234/ticketdesk/internal/api"
	"github.com/tariku1234/ticketdesk/internal/authority"
	"github.com/tariku1234/ticketdesk/internal/config"
	"github.com/tariku1234/ticketdesk/internal/connectivity"
	"github.com/tariku1234/ticketdesk/internal/correlation"
	"github.com/tariku1234/ticketdesk/internal/metrics"
	"github.com/tariku1234/ticketdesk/internal/realtime"
	"github.com/tariku1234/ticketdesk/internal/storage"
	"github.com/tariku1234/ticketdesk/internal/syncer"
)

// maxLocalConns caps concurrent connections to the local API.
const maxLocalConns = 64

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the sync engine and local API (foreground)",
	Long: `Run the sync engine and local API in the foreground.

The engine probes the authority, drains queued tickets whenever it becomes
reachable, and follows the authority's push stream. With --mcp the same
engine is also exposed as an MCP server over stdio.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, withMCP)
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP over stdin/stdout")
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func newDialer(a config.AuthorityConfig) realtime.Dialer {
	if a.Transport == config.TransportWebSocket {
		return &realtime.WebSocketDialer{URL: a.StreamEndpoint(), Token: a.Token}
	}
	return &realtime.SSEDialer{URL: a.StreamEndpoint(), Token: a.Token}
}

// engine is the wired set of components behind `ticketdesk start`.
type engine struct {
	store   *storage.Store
	metrics *metrics.Metrics
	monitor *connectivity.Monitor
	channel *realtime.Channel
	orch    *syncer.Orchestrator
	worker  *syncer.Worker
}

func buildEngine(cfg config.Config, logger *slog.Logger) (*engine, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	m := metrics.New()
	client := authority.New(cfg.Authority.BaseURL,
		authority.WithTimeout(cfg.Authority.RequestTimeout),
		authority.WithToken(cfg.Authority.Token),
	)
	monitor := connectivity.New(client,
		connectivity.WithInterval(cfg.Sync.ProbeInterval),
		connectivity.WithMetrics(m),
		connectivity.WithLogger(logger.With("component", "connectivity")),
	)
	orch := syncer.New(store, client, monitor, correlation.New(), syncer.Options{
		Scope:   cfg.Sync.Scope(),
		Metrics: m,
		Logger:  logger.With("component", "syncer"),
	})
	orch.Load()

	channel := realtime.NewChannel(newDialer(cfg.Authority), orch,
		realtime.WithRetryer(realtime.FixedDelayRetryer{Delay: cfg.Sync.ReconnectDelay}),
		realtime.WithMetrics(m),
		realtime.WithLogger(logger.With("component", "realtime")),
	)

	// The channel subscribes first so the stream is open before the
	// reconnect sync refreshes the view.
	monitor.Subscribe(channel)
	monitor.Subscribe(orch)

	return &engine{
		store:   store,
		metrics: m,
		monitor: monitor,
		channel: channel,
		orch:    orch,
		worker:  syncer.NewWorker(orch, store, nil, cfg.Sync.RetryInterval),
	}, nil
}

func runServer(ctx context.Context, withMCP bool) error {
	fmt.Fprintf(os.Stderr, "ticketdesk version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level, os.Stderr)
	slog.SetDefault(logger)

	eng, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	handler := api.NewAppHandler(api.AppDeps{
		Engine:  eng.orch,
		Metrics: eng.metrics,
		Token:   cfg.Server.APIToken,
		Logger:  logger.With("component", "api"),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	ln = netutil.LimitListener(ln, maxLocalConns)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := eng.monitor.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("connectivity monitor: %w", err)
		}
		return nil
	})

	if eng.worker.Enabled() {
		g.Go(func() error {
			eng.worker.Run(gctx)
			return nil
		})
	} else {
		slog.Info("periodic retry disabled", "sync.retry_interval", cfg.Sync.RetryInterval)
	}

	g.Go(func() error {
		slog.Info("ticketdesk listening", "addr", addr, "authority", cfg.Authority.BaseURL, "transport", cfg.Authority.Transport)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		eng.channel.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Engine: eng.orch, Version: version})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			// The MCP client closing stdin ends the process.
			defer cancel()
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}
