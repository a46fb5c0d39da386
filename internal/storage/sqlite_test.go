package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tariku1234/ticketdesk/internal/ticket"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testTicket(id string, offset time.Duration) ticket.Ticket {
	return ticket.Ticket{
		ID:        id,
		Title:     "Ticket " + id,
		Category:  "General",
		Priority:  ticket.PriorityMedium,
		CreatedAt: baseTime.Add(offset),
	}
}

func testMutation(id string, offset time.Duration) ticket.PendingMutation {
	return ticket.PendingMutation{Ticket: testTicket(id, offset), IdempotencyKey: "key-" + id}
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.StageOffline(testMutation("offline-a", 0)); err != nil {
		t.Fatalf("StageOffline: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	pending, err := s2.PendingMutations()
	if err != nil {
		t.Fatalf("PendingMutations: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "offline-a" || pending[0].IdempotencyKey != "key-offline-a" {
		t.Errorf("pending after reopen = %+v", pending)
	}
}

func TestUpsertAndAllTickets(t *testing.T) {
	s := openTestStore(t)

	for i, id := range []string{"srv-1", "srv-2", "srv-3"} {
		if err := s.UpsertTicket(testTicket(id, time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("UpsertTicket(%s): %v", id, err)
		}
	}
	updated := testTicket("srv-1", 0)
	updated.Title = "Renamed"
	if err := s.UpsertTicket(updated); err != nil {
		t.Fatalf("UpsertTicket(update): %v", err)
	}

	all, err := s.AllTickets()
	if err != nil {
		t.Fatalf("AllTickets: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(AllTickets) = %d, want 3", len(all))
	}
	if all[0].ID != "srv-3" || all[2].ID != "srv-1" {
		t.Errorf("order = %s,%s,%s, want newest first", all[0].ID, all[1].ID, all[2].ID)
	}
	if all[2].Title != "Renamed" {
		t.Errorf("Title = %q, want %q", all[2].Title, "Renamed")
	}
	if !all[0].CreatedAt.Equal(baseTime.Add(2 * time.Minute)) {
		t.Errorf("CreatedAt = %v", all[0].CreatedAt)
	}
}

func TestGetTicketNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetTicket("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTicket error = %v, want ErrNotFound", err)
	}
}

func TestDeleteAndCount(t *testing.T) {
	s := openTestStore(t)
	for i, id := range []string{"srv-1", "srv-2"} {
		if err := s.UpsertTicket(testTicket(id, time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("UpsertTicket(%s): %v", id, err)
		}
	}
	if err := s.EnqueueMutation(testMutation("offline-a", 0)); err != nil {
		t.Fatalf("EnqueueMutation: %v", err)
	}

	if err := s.DeleteTicket("srv-1"); err != nil {
		t.Fatalf("DeleteTicket: %v", err)
	}
	if err := s.DeleteTicket("srv-1"); err != nil {
		t.Errorf("deleting a missing ticket: %v", err)
	}
	if n, err := s.CountTickets(); err != nil || n != 1 {
		t.Errorf("CountTickets = %d, %v; want 1", n, err)
	}

	if err := s.RemoveMutation("offline-a"); err != nil {
		t.Fatalf("RemoveMutation: %v", err)
	}
	if err := s.RemoveMutation("offline-a"); err != nil {
		t.Errorf("removing a missing mutation: %v", err)
	}
	if n, err := s.CountMutations(); err != nil || n != 0 {
		t.Errorf("CountMutations = %d, %v; want 0", n, err)
	}
}

func TestEnqueueDuplicate(t *testing.T) {
	s := openTestStore(t)
	m := testMutation("offline-a", 0)
	if err := s.EnqueueMutation(m); err != nil {
		t.Fatalf("EnqueueMutation: %v", err)
	}
	if err := s.EnqueueMutation(m); !errors.Is(err, ErrDuplicate) {
		t.Errorf("second EnqueueMutation error = %v, want ErrDuplicate", err)
	}
}

func TestPendingMutationsOrderAndPrefix(t *testing.T) {
	s := openTestStore(t)

	// Enqueue order, not creation time, decides drain order.
	ids := []string{"offline-c", "offline-a", "offline-b"}
	for i, id := range ids {
		if err := s.EnqueueMutation(testMutation(id, -time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("EnqueueMutation(%s): %v", id, err)
		}
	}
	// Rows without the exact lowercase prefix are not live members.
	for _, stray := range []string{"temp-x", "OFFLINE-x", "Offline-y"} {
		if err := s.EnqueueMutation(testMutation(stray, 0)); err != nil {
			t.Fatalf("EnqueueMutation(%s): %v", stray, err)
		}
	}

	pending, err := s.PendingMutations()
	if err != nil {
		t.Fatalf("PendingMutations: %v", err)
	}
	if len(pending) != len(ids) {
		t.Fatalf("len(pending) = %d, want %d", len(pending), len(ids))
	}
	if n, err := s.CountMutations(); err != nil || n != len(ids) {
		t.Errorf("CountMutations = %d, %v; want %d", n, err, len(ids))
	}
	for i, id := range ids {
		if pending[i].ID != id {
			t.Errorf("pending[%d] = %s, want %s", i, pending[i].ID, id)
		}
	}
}

func TestRecordMutationFailure(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnqueueMutation(testMutation("offline-a", 0)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := s.RecordMutationFailure("offline-a", fmt.Sprintf("boom %d", i)); err != nil {
			t.Fatalf("RecordMutationFailure: %v", err)
		}
	}
	pending, _ := s.PendingMutations()
	if len(pending) != 1 || pending[0].Attempts != 2 || pending[0].LastError != "boom 1" {
		t.Errorf("pending = %+v", pending)
	}
	if err := s.RecordMutationFailure("offline-missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RecordMutationFailure(missing) = %v, want ErrNotFound", err)
	}
}

func TestStageOfflineWritesBothContainers(t *testing.T) {
	s := openTestStore(t)
	m := testMutation("offline-a", 0)
	if err := s.StageOffline(m); err != nil {
		t.Fatalf("StageOffline: %v", err)
	}
	if _, err := s.GetTicket("offline-a"); err != nil {
		t.Errorf("ticket not cached: %v", err)
	}
	if n, _ := s.CountMutations(); n != 1 {
		t.Errorf("CountMutations = %d, want 1", n)
	}

	// A failed enqueue rolls back the ticket write too.
	dup := testMutation("offline-a", time.Hour)
	dup.Title = "changed"
	if err := s.StageOffline(dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("StageOffline(dup) = %v, want ErrDuplicate", err)
	}
	got, _ := s.GetTicket("offline-a")
	if got.Title != m.Title {
		t.Errorf("Title = %q, want unchanged %q", got.Title, m.Title)
	}
}

func TestPromoteToOffline(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertTicket(testTicket("temp-1", 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.PromoteToOffline("temp-1", testMutation("offline-1", 0)); err != nil {
		t.Fatalf("PromoteToOffline: %v", err)
	}
	if _, err := s.GetTicket("temp-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("temp-1 still cached: %v", err)
	}
	pending, _ := s.PendingMutations()
	if len(pending) != 1 || pending[0].ID != "offline-1" {
		t.Errorf("pending = %+v", pending)
	}
}

func TestReconcileMutation(t *testing.T) {
	s := openTestStore(t)
	if err := s.StageOffline(testMutation("offline-a", 0)); err != nil {
		t.Fatal(err)
	}
	confirmed := testTicket("srv-1", 0)

	// Replaying the reconcile converges to the same state.
	for i := 0; i < 2; i++ {
		if err := s.ReconcileMutation("offline-a", confirmed); err != nil {
			t.Fatalf("ReconcileMutation #%d: %v", i, err)
		}
	}

	all, _ := s.AllTickets()
	if len(all) != 1 || all[0].ID != "srv-1" {
		t.Errorf("tickets = %+v, want only srv-1", all)
	}
	if n, _ := s.CountMutations(); n != 0 {
		t.Errorf("CountMutations = %d, want 0", n)
	}
}

func TestStorageErrorAfterClose(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	_, err = s.AllTickets()
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("AllTickets after close = %v, want *StorageError", err)
	}
	if se.Op != "list tickets" {
		t.Errorf("Op = %q", se.Op)
	}
}
