package worker

import "sync"

// ButcherMutex is the reentrant, owner-aware mutex named in spec §5
// ("Mutual exclusion") and glossary ("Butcher-knife mutex"): data-plane
// reads/writes to a stage's external resource (camera handle, encoder,
// audio SDK) acquire it, and the restart/kill path acquires it too, so a
// reader is never killed mid-read. Reentrant for the same owner; any other
// owner blocks until released.
type ButcherMutex struct {
	mu      sync.Mutex
	cond    *sync.Cond
	held    bool
	owner   int64
	depth   int
}

// NewButcherMutex creates an unlocked mutex.
func NewButcherMutex() *ButcherMutex {
	m := &ButcherMutex{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Lock acquires the mutex for ownerID. If ownerID already holds it, this
// increments the reentrancy depth instead of blocking.
func (m *ButcherMutex) Lock(ownerID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.held && m.owner != ownerID {
		m.cond.Wait()
	}
	m.held = true
	m.owner = ownerID
	m.depth++
}

// Unlock releases one level of ownerID's hold. Panics if ownerID does not
// currently hold the mutex, since that indicates a caller bug (unbalanced
// lock/unlock), not a runtime condition to recover from.
func (m *ButcherMutex) Unlock(ownerID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held || m.owner != ownerID {
		panic("worker: ButcherMutex Unlock by non-owner")
	}
	m.depth--
	if m.depth == 0 {
		m.held = false
		m.owner = 0
		m.cond.Broadcast()
	}
}

// ForceRelease unconditionally releases the mutex regardless of depth,
// for a holder whose goroutine can no longer unwind its own defers. No
// stage calls it at present.
func (m *ButcherMutex) ForceRelease() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = false
	m.owner = 0
	m.depth = 0
	m.cond.Broadcast()
}

// Holder returns the current owner id and whether the mutex is held.
func (m *ButcherMutex) Holder() (ownerID int64, held bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner, m.held
}
