package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tariku1234/ticketdesk/internal/config"
	"github.com/tariku1234/ticketdesk/internal/fakeauthority"
	"github.com/tariku1234/ticketdesk/internal/storage"
	"github.com/tariku1234/ticketdesk/internal/syncer"
	"github.com/tariku1234/ticketdesk/internal/ticket"
)

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine and connectivity status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return showStatus(cmd.Context(), client, os.Stdout)
	},
}

func showStatus(ctx context.Context, client *apiClient, w io.Writer) error {
	resp, err := client.get(ctx, "/status")
	if err != nil {
		printStatus(w, "Engine", "stopped")
		return nil
	}
	var st syncer.Status
	if err := decodeJSON(resp, &st); err != nil {
		return err
	}

	printStatus(w, "Engine", "running at %s", client.baseURL)
	if st.Reachable {
		printStatus(w, "Authority", "%s", successColor.Sprint("reachable"))
	} else {
		printStatus(w, "Authority", "%s", warnColor.Sprint("unreachable"))
	}
	printStatus(w, "Tickets", "%d", st.Tickets)
	printStatus(w, "Queued", "%d", st.Pending)
	if st.Syncing {
		printStatus(w, "Sync", "in progress")
	}
	if st.LastSync.IsZero() {
		printStatus(w, "Last sync", "never")
	} else {
		printStatus(w, "Last sync", "%s", st.LastSync.Local().Format(time.RFC1123))
	}
	return nil
}

// --- create ---

var createCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a ticket",
	Long: `Create a ticket. When the authority is unreachable the ticket is queued
locally and submitted on reconnect.

Examples:
  ticketdesk create "Printer jam on 3rd floor" --category Hardware --priority low
  ticketdesk create "VPN drops every hour" -c Network -p high`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		priority, _ := cmd.Flags().GetString("priority")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		t, err := createTicket(cmd.Context(), client, ticket.Draft{
			Title:    args[0],
			Category: category,
			Priority: ticket.Priority(priority),
		})
		if err != nil {
			return err
		}
		if ticket.IsOffline(t.ID) {
			printWarning("Authority unreachable; queued %s for sync", t.ID)
			return nil
		}
		printSuccess("Created %s", t.ID)
		return nil
	},
}

func init() {
	createCmd.Flags().StringP("category", "c", "", "ticket category (required)")
	createCmd.Flags().StringP("priority", "p", "MEDIUM", "LOW, MEDIUM or HIGH")
	createCmd.MarkFlagRequired("category")
}

func createTicket(ctx context.Context, client *apiClient, d ticket.Draft) (ticket.Ticket, error) {
	d, err := d.Normalize()
	if err != nil {
		return ticket.Ticket{}, err
	}
	resp, err := client.post(ctx, "/tickets", d)
	if err != nil {
		return ticket.Ticket{}, err
	}
	var t ticket.Ticket
	if err := decodeJSON(resp, &t); err != nil {
		return ticket.Ticket{}, err
	}
	return t, nil
}

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tickets, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		priority, _ := cmd.Flags().GetString("priority")
		query, _ := cmd.Flags().GetString("query")
		limit, _ := cmd.Flags().GetInt("limit")

		f := ticket.Filter{Search: query}
		if priority != "" {
			p, err := ticket.ParsePriority(priority)
			if err != nil {
				return err
			}
			f.Priority = p
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ts, err := listTickets(cmd.Context(), client, f)
		if err != nil {
			return err
		}
		if limit > 0 && len(ts) > limit {
			ts = ts[:limit]
		}
		return renderTickets(os.Stdout, ts, time.Now())
	},
}

func init() {
	listCmd.Flags().StringP("priority", "p", "", "only tickets with this priority")
	listCmd.Flags().StringP("query", "q", "", "case-insensitive match on title or category")
	listCmd.Flags().Int("limit", 50, "maximum number of tickets to list")
}

func listTickets(ctx context.Context, client *apiClient, f ticket.Filter) ([]ticket.Ticket, error) {
	path := "/tickets"
	if v := f.Values(); len(v) > 0 {
		path += "?" + v.Encode()
	}
	resp, err := client.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var ts []ticket.Ticket
	if err := decodeJSON(resp, &ts); err != nil {
		return nil, err
	}
	return ts, nil
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Submit queued tickets and refresh from the authority",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		rep, err := runSync(cmd.Context(), client)
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
			printWarning("Authority unreachable; queued tickets will sync on reconnect")
			return nil
		}
		if err != nil {
			return err
		}
		if rep.Skipped {
			printStep("A sync is already running")
			return nil
		}
		if rep.Failed > 0 {
			printWarning("%d submitted, %d still queued", rep.Confirmed, rep.Failed)
		} else {
			printSuccess("%d submitted", rep.Confirmed)
		}
		if rep.RefreshFailed {
			printWarning("Refresh from authority failed; showing cached tickets")
		}
		return nil
	},
}

func runSync(ctx context.Context, client *apiClient) (syncer.Report, error) {
	resp, err := client.post(ctx, "/sync", nil)
	if err != nil {
		return syncer.Report{}, err
	}
	var rep syncer.Report
	if err := decodeJSON(resp, &rep); err != nil {
		return syncer.Report{}, err
	}
	return rep, nil
}

// --- queue ---

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show tickets waiting to be submitted",
	Long: `Show tickets waiting to be submitted. Reads the local store directly,
so it works whether or not the engine is running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		pending, err := store.PendingMutations()
		if err != nil {
			return err
		}
		return renderQueue(os.Stdout, pending)
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Printf("Settings: %s\n", config.SettingsLocation())
		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", labelColor.Sprint(k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

// --- authority ---

var authorityCmd = &cobra.Command{
	Use:   "authority",
	Short: "Run an in-memory development authority",
	Long: `Run an in-memory development authority speaking the ticket API,
server-sent events on /events and websocket on /ws.

Examples:
  ticketdesk authority --port 3001
  ticketdesk authority --seed tickets.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		seedPath, _ := cmd.Flags().GetString("seed")

		srv := fakeauthority.New()
		if seedPath != "" {
			ts, err := fakeauthority.LoadSeed(seedPath)
			if err != nil {
				return err
			}
			srv.Seed(ts...)
			printStep("Seeded %d tickets from %s", len(ts), seedPath)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serveAuthority(ctx, srv, "127.0.0.1:"+strconv.Itoa(port))
	},
}

func init() {
	authorityCmd.Flags().Int("port", 3001, "port to listen on")
	authorityCmd.Flags().String("seed", "", "YAML file of tickets to preload")
}

func serveAuthority(ctx context.Context, srv *fakeauthority.Server, addr string) error {
	hs := &http.Server{Addr: addr, Handler: srv.Handler()}

	errCh := make(chan error, 1)
	go func() {
		printSuccess("Authority listening on %s", (&url.URL{Scheme: "http", Host: addr}).String())
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Streams never end on their own.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return hs.Close()
	}
	return nil
}
