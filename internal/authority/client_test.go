package authority

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tariku1234/ticketdesk/internal/ticket"
)

func TestListTicketsSendsFilter(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tickets" {
			t.Errorf("path = %q, want /tickets", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode([]ticket.Ticket{{ID: "srv-1", Title: "VPN", Category: "Network", Priority: ticket.PriorityHigh}})
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	got, err := c.ListTickets(context.Background(), ticket.Filter{Priority: ticket.PriorityHigh, Search: "vpn"})
	if err != nil {
		t.Fatalf("ListTickets: %v", err)
	}
	if len(got) != 1 || got[0].ID != "srv-1" {
		t.Errorf("ListTickets = %+v", got)
	}
	if gotQuery != "priority=HIGH&q=vpn" {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestCreateTicketSendsBodyAndKey(t *testing.T) {
	var gotBody map[string]any
	var gotKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(ticket.Ticket{ID: "srv-7", Title: "VPN", Category: "Network", Priority: ticket.PriorityLow, CreatedAt: time.Now()})
	}))
	defer srv.Close()

	c := New(srv.URL, WithToken("secret"))
	got, err := c.CreateTicket(context.Background(), ticket.Draft{Title: "VPN", Category: "Network", Priority: ticket.PriorityLow}, "key-1")
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if got.ID != "srv-7" {
		t.Errorf("ID = %q, want srv-7", got.ID)
	}
	if gotKey != "key-1" {
		t.Errorf("Idempotency-Key = %q", gotKey)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	// Only content fields go on the wire.
	if _, ok := gotBody["id"]; ok {
		t.Error("request body carries an id")
	}
	if len(gotBody) != 3 {
		t.Errorf("body = %v, want title/category/priority", gotBody)
	}
}

func TestCreateTicketRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad priority", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := New(srv.URL).CreateTicket(context.Background(), ticket.Draft{Title: "x", Category: "y"}, "")
	var re *RejectionError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *RejectionError", err)
	}
	if re.StatusCode != http.StatusUnprocessableEntity || re.Body != "bad priority" {
		t.Errorf("RejectionError = %+v", re)
	}
	if IsNetwork(err) {
		t.Error("rejection classified as network error")
	}
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url)
	_, err := c.ListTickets(context.Background(), ticket.Filter{})
	if !IsNetwork(err) {
		t.Errorf("ListTickets on closed server = %v, want NetworkError", err)
	}
	if c.Ping(context.Background()) {
		t.Error("Ping on closed server = true")
	}
}

func TestPingAnyStatusIsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if !New(srv.URL).Ping(context.Background()) {
		t.Error("Ping = false, want true for any HTTP response")
	}
}

func TestRequestTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c := New(srv.URL, WithTimeout(50*time.Millisecond))
	_, err := c.ListTickets(context.Background(), ticket.Filter{})
	if !IsNetwork(err) {
		t.Errorf("err = %v, want NetworkError on timeout", err)
	}
}
