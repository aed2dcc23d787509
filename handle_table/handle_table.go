// Package handle_table owns attached process handles. Every OS handle stored
// here is closed exactly once, and never while a borrower is using it.
package handle_table

import (
	"fmt"
	"sync"

	"memlink/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// Closer frees the OS resource behind a handle.
type Closer interface {
	Close(h *process.ProcessHandle) error
}

type entry struct {
	// mu is held shared by borrowers and exclusively by Release, so a
	// release waits for in-flight reads and writes.
	mu     sync.RWMutex
	handle *process.ProcessHandle
}

// HandleTable maps HandleIDs to the handles they own.
type HandleTable struct {
	closer Closer
	log    *logger.Logger

	mu      sync.Mutex
	nextID  process.HandleID
	entries map[process.HandleID]*entry
	byPID   map[process.ProcessID]process.HandleID
}

// New returns an empty table that closes released handles through closer.
func New(closer Closer) *HandleTable {
	return &HandleTable{
		closer:  closer,
		log:     logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "handle-table")),
		entries: make(map[process.HandleID]*entry),
		byPID:   make(map[process.ProcessID]process.HandleID),
	}
}

// Store takes ownership of h and returns its id. Storing a second handle for
// a pid that is already present is an invariant violation: the attacher
// serializes attaches per pid and must release a stale handle first.
func (t *HandleTable) Store(h *process.ProcessHandle) process.HandleID {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.byPID[h.PID]; ok {
		panic(fmt.Sprintf("handle table corrupted: pid %d already stored as %s", h.PID, id))
	}

	t.nextID++
	id := t.nextID
	t.entries[id] = &entry{handle: h}
	t.byPID[h.PID] = id

	t.log.Debugln("Stored", id, "for pid", h.PID)
	return id
}

// Get returns the handle stored under id.
func (t *HandleTable) Get(id process.HandleID) (*process.ProcessHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", process.ErrHandleNotFound, id)
	}
	return e.handle, nil
}

// Lookup returns the id of the handle attached to pid, if any.
func (t *HandleTable) Lookup(pid process.ProcessID) (process.HandleID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.byPID[pid]
	return id, ok
}

// Borrow runs fn with the handle stored under id. The handle cannot be
// released until fn returns, and fn must not retain it afterwards.
func (t *HandleTable) Borrow(id process.HandleID, fn func(h *process.ProcessHandle) error) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", process.ErrHandleNotFound, id)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	// released between the map lookup and the lock
	if !e.handle.Valid() {
		return fmt.Errorf("%w: %s", process.ErrHandleNotFound, id)
	}

	return fn(e.handle)
}

// Release removes id from the table and closes its handle. Releasing an
// unknown or already released id is a no-op.
func (t *HandleTable) Release(id process.HandleID) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
		if t.byPID[e.handle.PID] == id {
			delete(t.byPID, e.handle.PID)
		}
	}
	t.mu.Unlock()

	if !ok {
		return nil
	}

	// wait for borrowers
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.handle.Invalidate() {
		return nil
	}

	t.log.Debugln("Releasing", id, "for pid", e.handle.PID)

	if err := t.closer.Close(e.handle); err != nil {
		return fmt.Errorf("close %s: %w", id, err)
	}
	return nil
}

// ReleaseAll releases every stored handle and returns the first close error.
func (t *HandleTable) ReleaseAll() error {
	t.mu.Lock()
	ids := make([]process.HandleID, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	var first error
	for _, id := range ids {
		if err := t.Release(id); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Len returns the number of stored handles.
func (t *HandleTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
