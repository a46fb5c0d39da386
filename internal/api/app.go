package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tariku1234/ticketdesk/internal/metrics"
	"github.com/tariku1234/ticketdesk/internal/syncer"
	"github.com/tariku1234/ticketdesk/internal/ticket"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Engine is the part of the sync orchestrator the local surfaces use.
type Engine interface {
	Tickets(f ticket.Filter) []ticket.Ticket
	Create(ctx context.Context, d ticket.Draft) (ticket.Ticket, error)
	Pending() ([]ticket.PendingMutation, error)
	Status() syncer.Status
	Sync(ctx context.Context) (syncer.Report, error)
}

type AppDeps struct {
	Engine  Engine
	Metrics *metrics.Metrics
	// Token enables bearer auth on every route except /health when non-empty.
	Token  string
	Logger *slog.Logger
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(requireToken(deps.Token))
		r.Get("/tickets", handleListTickets(deps))
		r.Post("/tickets", handleCreateTicket(deps))
		r.Get("/queue", handleQueue(deps))
		r.Get("/status", handleStatus(deps))
		r.Post("/sync", handleSync(deps))
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleListTickets(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if p := q.Get("priority"); p != "" {
			if _, err := ticket.ParsePriority(p); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, deps.Engine.Tickets(ticket.FilterFromValues(q)))
	}
}

func handleCreateTicket(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var d ticket.Draft
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		t, err := deps.Engine.Create(r.Context(), d)
		switch {
		case errors.Is(err, ticket.ErrInvalidDraft):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case err != nil:
			deps.Logger.Error("creating ticket", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create ticket: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, t)
	}
}

func handleQueue(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending, err := deps.Engine.Pending()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading queue: %v", err)
			return
		}
		if pending == nil {
			pending = []ticket.PendingMutation{}
		}
		writeJSON(w, http.StatusOK, pending)
	}
}

func handleStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Engine.Status())
	}
}

func handleSync(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := deps.Engine.Sync(r.Context())
		switch {
		case errors.Is(err, syncer.ErrUnreachable):
			httpError(w, http.StatusConflict, "unreachable_error", "authority is unreachable; queued tickets will sync on reconnect")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "sync failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
