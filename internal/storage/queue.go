package storage

import (
	"time"

	"github.com/tariku1234/ticketdesk/internal/ticket"
)

func enqueueMutation(db execer, m ticket.PendingMutation) error {
	res, err := db.Exec(`
		INSERT INTO sync_queue (id, title, category, priority, created_at, idempotency_key, attempts, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		m.ID, m.Title, m.Category, string(m.Priority), formatTime(m.CreatedAt),
		m.IdempotencyKey, m.Attempts, m.LastError, formatTime(time.Now()),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

// EnqueueMutation appends m to the queue. It returns ErrDuplicate when a
// mutation with the same id is already queued.
func (s *Store) EnqueueMutation(m ticket.PendingMutation) error {
	return wrap("enqueue mutation", enqueueMutation(s.db, m))
}

// liveMember matches queue rows whose id carries the offline prefix. The
// comparison is byte-exact, unlike LIKE, to agree with ticket.IsOffline.
const liveMember = `substr(id, 1, length(?1)) = ?1`

// PendingMutations returns a snapshot of queued offline-origin mutations in
// the order they were enqueued.
func (s *Store) PendingMutations() ([]ticket.PendingMutation, error) {
	rows, err := s.db.Query(`
		SELECT id, title, category, priority, created_at, idempotency_key, attempts, last_error
		FROM sync_queue
		WHERE `+liveMember+`
		ORDER BY seq ASC`, ticket.OfflinePrefix)
	if err != nil {
		return nil, wrap("list mutations", err)
	}
	defer rows.Close()

	var out []ticket.PendingMutation
	for rows.Next() {
		var m ticket.PendingMutation
		var priority, createdAt string
		if err := rows.Scan(&m.ID, &m.Title, &m.Category, &priority, &createdAt, &m.IdempotencyKey, &m.Attempts, &m.LastError); err != nil {
			return nil, wrap("list mutations", err)
		}
		m.Priority = ticket.Priority(priority)
		m.CreatedAt = parseTime(createdAt)
		out = append(out, m)
	}
	return out, wrap("list mutations", rows.Err())
}

// CountMutations returns the number of mutations PendingMutations would
// return.
func (s *Store) CountMutations() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sync_queue WHERE `+liveMember, ticket.OfflinePrefix).Scan(&n)
	return n, wrap("count mutations", err)
}

// RemoveMutation deletes the queued mutation with id. Removing a missing id
// is not an error.
func (s *Store) RemoveMutation(id string) error {
	_, err := s.db.Exec(`DELETE FROM sync_queue WHERE id = ?`, id)
	return wrap("remove mutation", err)
}

// RecordMutationFailure bumps the attempt count of a queued mutation and
// stores the last error. The mutation stays queued.
func (s *Store) RecordMutationFailure(id, errMsg string) error {
	res, err := s.db.Exec(`
		UPDATE sync_queue SET attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ?`, errMsg, formatTime(time.Now()), id)
	if err != nil {
		return wrap("record failure", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// StageOffline stores an offline-created ticket and its mutation together.
func (s *Store) StageOffline(m ticket.PendingMutation) error {
	return s.PromoteToOffline("", m)
}

// PromoteToOffline replaces the placeholder oldID, if any, with the
// offline-origin record m and queues m for submission. Both containers are
// written in one transaction.
func (s *Store) PromoteToOffline(oldID string, m ticket.PendingMutation) error {
	tx, err := s.db.Begin()
	if err != nil {
		return wrap("stage offline", err)
	}
	defer tx.Rollback()

	if oldID != "" && oldID != m.ID {
		if _, err := tx.Exec(`DELETE FROM tickets WHERE id = ?`, oldID); err != nil {
			return wrap("stage offline", err)
		}
	}
	if err := upsertTicket(tx, m.Ticket); err != nil {
		return wrap("stage offline", err)
	}
	if err := enqueueMutation(tx, m); err != nil {
		return wrap("stage offline", err)
	}
	return wrap("stage offline", tx.Commit())
}

// ReconcileMutation applies an authority confirmation: the confirmed record
// replaces the placeholder and the mutation leaves the queue, all in one
// transaction. Replaying it is harmless.
func (s *Store) ReconcileMutation(placeholderID string, confirmed ticket.Ticket) error {
	tx, err := s.db.Begin()
	if err != nil {
		return wrap("reconcile", err)
	}
	defer tx.Rollback()

	if err := upsertTicket(tx, confirmed); err != nil {
		return wrap("reconcile", err)
	}
	if placeholderID != confirmed.ID {
		if _, err := tx.Exec(`DELETE FROM tickets WHERE id = ?`, placeholderID); err != nil {
			return wrap("reconcile", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM sync_queue WHERE id = ?`, placeholderID); err != nil {
		return wrap("reconcile", err)
	}
	return wrap("reconcile", tx.Commit())
}
