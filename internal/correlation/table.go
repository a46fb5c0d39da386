// Package correlation tracks identifiers of tickets this client created so
// that push echoes of its own creations can be recognised and discarded.
package correlation

import "sync"

// Table is a set of identifiers with an atomic swap from a provisional id to
// the authority-assigned one. The zero value is not usable; call New.
type Table struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func New() *Table {
	return &Table{ids: make(map[string]struct{})}
}

// MarkPending records a provisional id for an in-flight create.
func (t *Table) MarkPending(id string) {
	t.mu.Lock()
	t.ids[id] = struct{}{}
	t.mu.Unlock()
}

// Resolve replaces tempID with realID in one step, so an observer never sees
// neither of them.
func (t *Table) Resolve(tempID, realID string) {
	t.mu.Lock()
	delete(t.ids, tempID)
	t.ids[realID] = struct{}{}
	t.mu.Unlock()
}

// Has reports whether id is tracked.
func (t *Table) Has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ids[id]
	return ok
}

// Release stops tracking id.
func (t *Table) Release(id string) {
	t.mu.Lock()
	delete(t.ids, id)
	t.mu.Unlock()
}

// Claim releases id and reports whether it was tracked. A given id is
// claimed at most once.
func (t *Table) Claim(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ids[id]; !ok {
		return false
	}
	delete(t.ids, id)
	return true
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}
