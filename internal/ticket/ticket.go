// Package ticket defines the service-desk ticket record, the draft submitted
// by a user, and the identifier conventions that tag where a record came from.
package ticket

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority is the urgency of a ticket.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// ErrInvalidDraft is returned when a draft fails validation.
var ErrInvalidDraft = errors.New("invalid ticket draft")

// ParsePriority accepts LOW, MEDIUM or HIGH in any case. The empty string
// maps to MEDIUM.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return PriorityMedium, nil
	case "LOW":
		return PriorityLow, nil
	case "MEDIUM":
		return PriorityMedium, nil
	case "HIGH":
		return PriorityHigh, nil
	}
	return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidDraft, s)
}

// Ticket is a single service-desk request.
type Ticket struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	Priority  Priority  `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
}

// Draft is the user-entered content of a ticket that has no identity yet.
// It is also the request body for creating a ticket on the authority.
type Draft struct {
	Title    string   `json:"title"`
	Category string   `json:"category"`
	Priority Priority `json:"priority"`
}

// Normalize trims the draft and fills in the default priority.
func (d Draft) Normalize() (Draft, error) {
	d.Title = strings.TrimSpace(d.Title)
	d.Category = strings.TrimSpace(d.Category)
	if d.Title == "" {
		return Draft{}, fmt.Errorf("%w: title is required", ErrInvalidDraft)
	}
	if d.Category == "" {
		return Draft{}, fmt.Errorf("%w: category is required", ErrInvalidDraft)
	}
	p, err := ParsePriority(string(d.Priority))
	if err != nil {
		return Draft{}, err
	}
	d.Priority = p
	return d, nil
}

// Draft returns the content fields of t.
func (t Ticket) Draft() Draft {
	return Draft{Title: t.Title, Category: t.Category, Priority: t.Priority}
}

// Content reports whether t carries the same user-entered content as d.
func (t Ticket) Content(d Draft) bool {
	return t.Title == d.Title && t.Category == d.Category && t.Priority == d.Priority
}

// PendingMutation is a locally created ticket waiting to be submitted to the
// authority.
type PendingMutation struct {
	Ticket
	IdempotencyKey string `json:"idempotencyKey"`
	Attempts       int    `json:"attempts"`
	LastError      string `json:"lastError,omitempty"`
}

// SortNewestFirst orders tickets by creation time, newest first. Ties are
// broken by id so the order is stable across calls.
func SortNewestFirst(ts []Ticket) {
	sort.SliceStable(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.After(ts[j].CreatedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}

// NewIdempotencyKey returns a fresh key for a create request.
func NewIdempotencyKey() string {
	return uuid.NewString()
}
