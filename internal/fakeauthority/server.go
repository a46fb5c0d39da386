// Package fakeauthority is an in-memory ticket authority speaking the same
// HTTP, server-sent events and websocket protocol as the real service.
//
// It backs the integration tests and the `ticketdesk authority` command,
// and can inject failures: rejected creates, creates whose response is held
// back after the push broadcast, and raw push payloads.
package fakeauthority

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tariku1234/ticketdesk/internal/ticket"
)

const maxRequestBodySize = 1 << 20

// Server holds the authority's ticket set and its push subscribers.
type Server struct {
	mu          sync.Mutex
	tickets     []ticket.Ticket
	byKey       map[string]ticket.Ticket
	nextID      int
	creates     int
	failCreates int
	hold        chan struct{}
	subs        map[chan []byte]struct{}

	now      func() time.Time
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New returns an empty Server.
func New() *Server {
	return &Server{
		byKey:  make(map[string]ticket.Ticket),
		subs:   make(map[chan []byte]struct{}),
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
}

// Handler returns the HTTP routes of the authority.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/tickets", s.handleList)
	r.Post("/tickets", s.handleCreate)
	r.Get("/events", s.handleEvents)
	r.Get("/ws", s.handleWebSocket)
	return r
}

// Seed adds tickets as if they had been created earlier. Seeded ids of the
// form srv-N advance the id counter.
func (s *Server) Seed(ts ...ticket.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range ts {
		var n int
		if _, err := fmt.Sscanf(t.ID, "srv-%d", &n); err == nil && n > s.nextID {
			s.nextID = n
		}
		s.tickets = append(s.tickets, t)
	}
}

// Tickets returns a copy of the authority's ticket set, newest first.
func (s *Server) Tickets() []ticket.Ticket {
	s.mu.Lock()
	out := append([]ticket.Ticket(nil), s.tickets...)
	s.mu.Unlock()
	ticket.SortNewestFirst(out)
	return out
}

// CreateCount returns how many create requests were accepted, including
// idempotent replays.
func (s *Server) CreateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

// FailCreates makes the next n create requests fail with 503.
func (s *Server) FailCreates(n int) {
	s.mu.Lock()
	s.failCreates = n
	s.mu.Unlock()
}

// HoldCreates makes create requests broadcast their push event and then
// wait before responding, until release is called.
func (s *Server) HoldCreates() (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.hold = ch
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.hold == ch {
				s.hold = nil
			}
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of open push connections.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Publish announces t as a new ticket to every push subscriber without
// adding it to the ticket set.
func (s *Server) Publish(t ticket.Ticket) {
	b, _ := json.Marshal(map[string]any{"type": "new-ticket", "ticket": t})
	s.PublishRaw(b)
}

// PublishRaw sends payload verbatim to every push subscriber.
func (s *Server) PublishRaw(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- payload:
		default:
			s.logger.Warn("push subscriber too slow, dropping event")
		}
	}
}

func (s *Server) subscribe() chan []byte {
	ch := make(chan []byte, 64)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan []byte) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	f := ticket.FilterFromValues(r.URL.Query())
	writeJSON(w, http.StatusOK, f.Apply(s.Tickets()))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var d ticket.Draft
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON: %v", err)
		return
	}
	d, err := d.Normalize()
	if err != nil {
		httpError(w, http.StatusBadRequest, "%v", err)
		return
	}
	key := r.Header.Get("Idempotency-Key")

	s.mu.Lock()
	if s.failCreates > 0 {
		s.failCreates--
		s.mu.Unlock()
		httpError(w, http.StatusServiceUnavailable, "injected failure")
		return
	}
	s.creates++
	if prev, ok := s.byKey[key]; ok && key != "" {
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, prev)
		return
	}
	s.nextID++
	t := ticket.Ticket{
		ID:        fmt.Sprintf("srv-%d", s.nextID),
		Title:     d.Title,
		Category:  d.Category,
		Priority:  d.Priority,
		CreatedAt: s.now(),
	}
	s.tickets = append(s.tickets, t)
	if key != "" {
		s.byKey[key] = t
	}
	hold := s.hold
	s.mu.Unlock()

	s.Publish(t)

	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload := <-ch:
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	// Reader detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case payload := <-ch:
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"message": fmt.Sprintf(format, args...)},
	})
}
