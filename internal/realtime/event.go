// Package realtime keeps a push stream open to the authority while it is
// reachable and hands every announced ticket to the sync engine.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tariku1234/ticketdesk/internal/ticket"
)

// EventNewTicket announces a ticket created on the authority by any client.
const EventNewTicket = "new-ticket"

// Event is one push message.
type Event struct {
	Type   string         `json:"type"`
	Ticket *ticket.Ticket `json:"ticket,omitempty"`
}

// MalformedEventError is returned for a payload that cannot be decoded.
// The event is dropped and the stream stays open.
type MalformedEventError struct {
	Payload string
	Err     error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed push event %q: %v", truncate(e.Payload, 120), e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// Decode parses a push payload. Only new-ticket events are validated
// beyond being JSON objects.
func Decode(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, &MalformedEventError{Payload: string(payload), Err: err}
	}
	if ev.Type == EventNewTicket && (ev.Ticket == nil || ev.Ticket.ID == "") {
		return Event{}, &MalformedEventError{Payload: string(payload), Err: errors.New("new-ticket event without ticket id")}
	}
	return ev, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
