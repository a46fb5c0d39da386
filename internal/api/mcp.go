package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tariku1234/ticketdesk/internal/syncer"
	"github.com/tariku1234/ticketdesk/internal/ticket"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Engine Engine
	// Version is reported in the server handshake.
	Version string
}

// NewMCPServer creates an MCP server with the ticket tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"ticketdesk",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("ticketdesk: offline-first service desk. Tickets created while the authority is unreachable are queued and submitted on reconnect."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("create_ticket",
			mcp.WithDescription("Create a service-desk ticket. Works offline; the ticket is queued until the authority is reachable."),
			mcp.WithString("title", mcp.Description("Short summary of the problem"), mcp.Required()),
			mcp.WithString("category", mcp.Description("Category, e.g. Hardware or Network"), mcp.Required()),
			mcp.WithString("priority", mcp.Description("LOW, MEDIUM or HIGH (default MEDIUM)")),
		),
		mcpCreateTicket(deps),
	)

	s.AddTool(
		mcp.NewTool("list_tickets",
			mcp.WithDescription("List tickets in the local view, newest first."),
			mcp.WithString("priority", mcp.Description("Only tickets with this priority")),
			mcp.WithString("query", mcp.Description("Case-insensitive match on title or category")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpListTickets(deps),
	)

	s.AddTool(
		mcp.NewTool("sync_now",
			mcp.WithDescription("Submit queued tickets and refresh the local view from the authority."),
		),
		mcpSyncNow(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"tickets://pending",
			"Pending Tickets",
			mcp.WithResourceDescription("Tickets waiting to be submitted to the authority"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePending(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"tickets://status",
			"Sync Status",
			mcp.WithResourceDescription("Reachability, queue depth and last sync time"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStatus(deps),
	)

	return s
}

func mcpCreateTicket(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}
		category, err := req.RequireString("category")
		if err != nil {
			return mcpError("category is required"), nil
		}
		d := ticket.Draft{
			Title:    title,
			Category: category,
			Priority: ticket.Priority(req.GetString("priority", "")),
		}

		t, err := deps.Engine.Create(ctx, d)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to create ticket: %v", err)), nil
		}

		switch ticket.OriginOf(t.ID) {
		case ticket.OriginOffline:
			return mcpText(fmt.Sprintf("Authority unreachable; queued ticket %s for sync", t.ID)), nil
		default:
			return mcpText(fmt.Sprintf("Created ticket %s", t.ID)), nil
		}
	}
}

func mcpListTickets(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		f := ticket.Filter{Search: req.GetString("query", "")}
		if p := req.GetString("priority", ""); p != "" {
			pr, err := ticket.ParsePriority(p)
			if err != nil {
				return mcpError(err.Error()), nil
			}
			f.Priority = pr
		}

		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}

		ts := deps.Engine.Tickets(f)
		if len(ts) > limit {
			ts = ts[:limit]
		}
		if len(ts) == 0 {
			return mcpText("No tickets found."), nil
		}

		var sb strings.Builder
		for _, t := range ts {
			fmt.Fprintf(&sb, "%s [%s] %s (%s)\n", t.ID, t.Priority, t.Title, t.Category)
		}
		return mcpText(sb.String()), nil
	}
}

func mcpSyncNow(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rep, err := deps.Engine.Sync(ctx)
		if errors.Is(err, syncer.ErrUnreachable) {
			return mcpError("authority is unreachable; queued tickets will sync on reconnect"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("sync failed: %v", err)), nil
		}
		if rep.Skipped {
			return mcpText("A sync is already running."), nil
		}
		return mcpText(fmt.Sprintf("Synced: %d confirmed, %d failed, %d tickets refreshed", rep.Confirmed, rep.Failed, rep.Refreshed)), nil
	}
}

func mcpResourcePending(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		pending, err := deps.Engine.Pending()
		if err != nil {
			return nil, fmt.Errorf("failed to read queue: %w", err)
		}
		if pending == nil {
			pending = []ticket.PendingMutation{}
		}
		return jsonResource(req.Params.URI, pending)
	}
}

func mcpResourceStatus(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return jsonResource(req.Params.URI, deps.Engine.Status())
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
