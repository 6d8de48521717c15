package lock

import "github.com/cadecode/dlock/v1/store"

// Holder carries the reentrancy state of one logical lock owner. It replaces
// the thread-local map of classic reentrant locks with an explicit value: the
// owning goroutine creates it, passes it to every engine call, and must not
// share it. Single ownership is what makes it need no locking of its own.
//
// A Holder must be used with a single engine: the engines key entries by lock
// name only.
type Holder struct {
	id      Identity
	entries map[string]*entry
}

// entry tracks one held lock name: the reentrant count plus the backend
// handle keeping the lock alive (open row transaction or lease renewer).
type entry struct {
	count int
	tx    store.RowTx
	renew *renewer
}

// leaseLost reports whether the renewer gave up on the lease. Only meaningful
// for TTL entries.
func (e *entry) leaseLost() bool {
	if e.renew == nil {
		return false
	}
	select {
	case <-e.renew.lost:
		return true
	default:
		return false
	}
}

// NewHolder returns a Holder with a fresh local identity.
func NewHolder() *Holder {
	return &Holder{id: LocalIdentity(), entries: make(map[string]*entry)}
}

// Identity returns the holder's identity.
func (h *Holder) Identity() Identity {
	return h.id
}

// Held reports whether the holder currently owns name, and at what reentrant
// depth.
func (h *Holder) Held(name string) (int, bool) {
	e, ok := h.entries[name]
	if !ok {
		return 0, false
	}
	return e.count, true
}

func (h *Holder) entry(name string) *entry {
	return h.entries[name]
}

func (h *Holder) put(name string, e *entry) {
	h.entries[name] = e
}

func (h *Holder) remove(name string) {
	delete(h.entries, name)
}
