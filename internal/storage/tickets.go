package storage

import (
	"database/sql"
	"errors"
	"time"

	"github.com/tariku1234/ticketdesk/internal/ticket"
)

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertTicket(db execer, t ticket.Ticket) error {
	_, err := db.Exec(`
		INSERT INTO tickets (id, title, category, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			category = excluded.category,
			priority = excluded.priority,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		t.ID, t.Title, t.Category, string(t.Priority), formatTime(t.CreatedAt), formatTime(time.Now()),
	)
	return err
}

// UpsertTicket inserts t or replaces the record with the same id.
func (s *Store) UpsertTicket(t ticket.Ticket) error {
	return wrap("upsert ticket", upsertTicket(s.db, t))
}

// DeleteTicket removes the ticket with id. Deleting a missing id is not an error.
func (s *Store) DeleteTicket(id string) error {
	_, err := s.db.Exec(`DELETE FROM tickets WHERE id = ?`, id)
	return wrap("delete ticket", err)
}

// GetTicket returns the ticket with id or ErrNotFound.
func (s *Store) GetTicket(id string) (ticket.Ticket, error) {
	var t ticket.Ticket
	var priority, createdAt string
	err := s.db.QueryRow(`SELECT id, title, category, priority, created_at FROM tickets WHERE id = ?`, id).
		Scan(&t.ID, &t.Title, &t.Category, &priority, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ticket.Ticket{}, ErrNotFound
	}
	if err != nil {
		return ticket.Ticket{}, wrap("get ticket", err)
	}
	t.Priority = ticket.Priority(priority)
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

// AllTickets returns every cached ticket, newest first.
func (s *Store) AllTickets() ([]ticket.Ticket, error) {
	rows, err := s.db.Query(`SELECT id, title, category, priority, created_at FROM tickets`)
	if err != nil {
		return nil, wrap("list tickets", err)
	}
	defer rows.Close()

	var out []ticket.Ticket
	for rows.Next() {
		var t ticket.Ticket
		var priority, createdAt string
		if err := rows.Scan(&t.ID, &t.Title, &t.Category, &priority, &createdAt); err != nil {
			return nil, wrap("list tickets", err)
		}
		t.Priority = ticket.Priority(priority)
		t.CreatedAt = parseTime(createdAt)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list tickets", err)
	}
	ticket.SortNewestFirst(out)
	return out, nil
}

// CountTickets returns the number of cached tickets.
func (s *Store) CountTickets() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM tickets`).Scan(&n)
	return n, wrap("count tickets", err)
}
