package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tariku1234/ticketdesk/internal/syncer"
	"github.com/tariku1234/ticketdesk/internal/ticket"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T, online bool) (MCPDeps, *fakeEngine) {
	t.Helper()
	eng := &fakeEngine{online: online}
	return MCPDeps{Engine: eng}, eng
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPServerRegisters(t *testing.T) {
	deps, _ := newTestMCPDeps(t, true)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_CreateTicket(t *testing.T) {
	deps, eng := newTestMCPDeps(t, true)
	handler := mcpCreateTicket(deps)

	result, err := handler(context.Background(), makeCallToolRequest("create_ticket", map[string]interface{}{
		"title":    "Printer jam",
		"category": "Hardware",
		"priority": "high",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); text != "Created ticket srv-1" {
		t.Errorf("text = %q", text)
	}
	if len(eng.tickets) != 1 || eng.tickets[0].Priority != ticket.PriorityHigh {
		t.Errorf("tickets = %+v", eng.tickets)
	}
}

func TestMCPTool_CreateTicketOffline(t *testing.T) {
	deps, _ := newTestMCPDeps(t, false)
	handler := mcpCreateTicket(deps)

	result, err := handler(context.Background(), makeCallToolRequest("create_ticket", map[string]interface{}{
		"title":    "VPN down",
		"category": "Network",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); !strings.Contains(text, "queued ticket offline-") {
		t.Errorf("text = %q", text)
	}
}

func TestMCPTool_CreateTicketMissingArgs(t *testing.T) {
	deps, eng := newTestMCPDeps(t, true)
	handler := mcpCreateTicket(deps)

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"no title", map[string]interface{}{"category": "Hardware"}},
		{"no category", map[string]interface{}{"title": "x"}},
		{"blank title", map[string]interface{}{"title": " ", "category": "Hardware"}},
		{"bad priority", map[string]interface{}{"title": "x", "category": "y", "priority": "urgent"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := handler(context.Background(), makeCallToolRequest("create_ticket", tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Fatalf("expected error result, got %q", toolText(t, result))
			}
		})
	}
	if len(eng.tickets) != 0 {
		t.Errorf("engine has %d tickets, want 0", len(eng.tickets))
	}
}

func TestMCPTool_ListTickets(t *testing.T) {
	deps, eng := newTestMCPDeps(t, true)
	ctx := context.Background()
	eng.Create(ctx, ticket.Draft{Title: "Printer jam", Category: "Hardware", Priority: ticket.PriorityLow})
	eng.Create(ctx, ticket.Draft{Title: "VPN down", Category: "Network", Priority: ticket.PriorityHigh})
	handler := mcpListTickets(deps)

	result, err := handler(ctx, makeCallToolRequest("list_tickets", map[string]interface{}{"priority": "HIGH"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := toolText(t, result)
	if !strings.Contains(text, "srv-2 [HIGH] VPN down (Network)") || strings.Contains(text, "Printer") {
		t.Errorf("text = %q", text)
	}

	result, _ = handler(ctx, makeCallToolRequest("list_tickets", map[string]interface{}{"query": "nothing matches"}))
	if text := toolText(t, result); text != "No tickets found." {
		t.Errorf("text = %q", text)
	}

	result, _ = handler(ctx, makeCallToolRequest("list_tickets", map[string]interface{}{"limit": float64(1)}))
	if lines := strings.Count(toolText(t, result), "\n"); lines != 1 {
		t.Errorf("got %d lines, want 1", lines)
	}
}

func TestMCPTool_SyncNow(t *testing.T) {
	deps, eng := newTestMCPDeps(t, false)
	handler := mcpSyncNow(deps)

	result, err := handler(context.Background(), makeCallToolRequest("sync_now", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError || !strings.Contains(toolText(t, result), "unreachable") {
		t.Errorf("offline sync = %q, IsError=%v", toolText(t, result), result.IsError)
	}

	eng.online = true
	eng.pending = []ticket.PendingMutation{{}, {}}
	result, _ = handler(context.Background(), makeCallToolRequest("sync_now", nil))
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "2 confirmed") {
		t.Errorf("text = %q", toolText(t, result))
	}
}

func TestMCPResource_Pending(t *testing.T) {
	deps, eng := newTestMCPDeps(t, false)
	eng.Create(context.Background(), ticket.Draft{Title: "a", Category: "b"})
	handler := mcpResourcePending(deps)

	contents, err := handler(context.Background(), makeReadResourceRequest("tickets://pending"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var pending []ticket.PendingMutation
	if err := json.Unmarshal([]byte(tc.Text), &pending); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(pending) != 1 || pending[0].IdempotencyKey == "" {
		t.Errorf("pending = %+v", pending)
	}
}

func TestMCPResource_Status(t *testing.T) {
	deps, _ := newTestMCPDeps(t, true)
	handler := mcpResourceStatus(deps)

	contents, err := handler(context.Background(), makeReadResourceRequest("tickets://status"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc := contents[0].(mcp.TextResourceContents)
	var st syncer.Status
	if err := json.Unmarshal([]byte(tc.Text), &st); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !st.Reachable {
		t.Error("expected reachable status")
	}
	if tc.URI != "tickets://status" {
		t.Errorf("URI = %q", tc.URI)
	}
}
