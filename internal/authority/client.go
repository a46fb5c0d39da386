// Package authority is the HTTP client for the remote ticket service, the
// source of truth for ticket identity.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tariku1234/ticketdesk/internal/ticket"
)

const (
	defaultTimeout = 15 * time.Second
	probeTimeout   = 2 * time.Second
	maxErrorBody   = 4 << 10
)

// NetworkError means the authority could not be reached at all.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("authority %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RejectionError means the authority answered with a non-success status.
type RejectionError struct {
	StatusCode int
	Body       string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("authority rejected request (HTTP %d): %s", e.StatusCode, e.Body)
}

// IsNetwork reports whether err is a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// Client talks to the authority over HTTP.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each request. Zero keeps the default of 15s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client targeting the given authority base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    defaultTimeout,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the authority root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// Ping reports whether the authority answers HTTP at all. Any response,
// including an error status, counts as reachable.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/tickets?limit=1", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	return true
}

// ListTickets fetches the tickets matching f.
func (c *Client) ListTickets(ctx context.Context, f ticket.Filter) ([]ticket.Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	path := "/tickets"
	if q := f.Values().Encode(); q != "" {
		path += "?" + q
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "list", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, rejection(resp)
	}

	var out []ticket.Ticket
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &NetworkError{Op: "list", Err: fmt.Errorf("decoding response: %w", err)}
	}
	return out, nil
}

// CreateTicket submits d and returns the ticket with its authority-assigned
// id. The idempotency key lets the authority collapse retries of the same
// submission.
func (c *Client) CreateTicket(ctx context.Context, d ticket.Draft, idempotencyKey string) (ticket.Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(d)
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("marshaling draft: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/tickets", bytes.NewReader(body))
	if err != nil {
		return ticket.Ticket{}, err
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ticket.Ticket{}, &NetworkError{Op: "create", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return ticket.Ticket{}, rejection(resp)
	}

	var t ticket.Ticket
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return ticket.Ticket{}, &NetworkError{Op: "create", Err: fmt.Errorf("decoding response: %w", err)}
	}
	if t.ID == "" {
		return ticket.Ticket{}, &RejectionError{StatusCode: resp.StatusCode, Body: "response has no id"}
	}
	return t, nil
}

func rejection(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &RejectionError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
