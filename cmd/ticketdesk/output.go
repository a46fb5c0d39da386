package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/tariku1234/ticketdesk/internal/ticket"
)

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)
	stepColor    = color.New(color.FgCyan)
	labelColor   = color.New(color.Bold)
)

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, successColor.Sprint("✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, errorColor.Sprint("✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, warnColor.Sprint("⚠ "+fmt.Sprintf(format, args...)))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(os.Stderr, stepColor.Sprint("→ "+fmt.Sprintf(format, args...)))
}

func printStatus(w io.Writer, label string, format string, args ...any) {
	fmt.Fprintf(w, "  %s %s\n", labelColor.Sprint(label+":"), fmt.Sprintf(format, args...))
}

func priorityLabel(p ticket.Priority) string {
	switch p {
	case ticket.PriorityHigh:
		return color.New(color.FgRed).Sprint(string(p))
	case ticket.PriorityMedium:
		return color.New(color.FgYellow).Sprint(string(p))
	default:
		return color.New(color.FgHiBlack).Sprint(string(p))
	}
}

func originLabel(id string) string {
	switch ticket.OriginOf(id) {
	case ticket.OriginOffline:
		return color.New(color.FgHiMagenta).Sprint("[queued]")
	case ticket.OriginOptimistic:
		return color.New(color.FgCyan).Sprint("[sending]")
	default:
		return ""
	}
}

// renderTickets writes ts as an aligned table. Ages are relative to now.
func renderTickets(w io.Writer, ts []ticket.Ticket, now time.Time) error {
	if len(ts) == 0 {
		_, err := fmt.Fprintln(w, "No tickets found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPRIORITY\tCATEGORY\tTITLE\tAGE")
	for _, t := range ts {
		title := t.Title
		if o := originLabel(t.ID); o != "" {
			title += " " + o
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", shortID(t.ID), priorityLabel(t.Priority), t.Category, truncate(title, 60), age(now.Sub(t.CreatedAt)))
	}
	return tw.Flush()
}

// renderQueue writes the pending mutations, oldest first.
func renderQueue(w io.Writer, pending []ticket.PendingMutation) error {
	if len(pending) == 0 {
		_, err := fmt.Fprintln(w, "Queue is empty.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tATTEMPTS\tLAST ERROR")
	for _, m := range pending {
		lastErr := m.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", shortID(m.ID), truncate(m.Title, 40), m.Attempts, truncate(lastErr, 60))
	}
	return tw.Flush()
}

// shortID keeps the origin prefix and the first uuid group.
func shortID(id string) string {
	for _, prefix := range []string{ticket.OfflinePrefix, ticket.OptimisticPrefix} {
		if rest, ok := strings.CutPrefix(id, prefix); ok && len(rest) > 8 {
			return prefix + rest[:8]
		}
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func age(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
