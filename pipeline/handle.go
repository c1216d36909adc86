package pipeline

import "sync/atomic"

// Handle is a counted reference from one material to one PSO. It is the
// only coupling between the two: creating a handle registers the material
// with the PSO's reference set, releasing it deregisters exactly once and
// tells the manager, which may then destroy an unreferenced PSO.
//
// Handles transfer, they do not copy: pass the *Handle along and let the
// final owner call Release. A released handle stays inert; Release is
// idempotent and PSO returns nil afterwards.
type Handle struct {
	m        *Manager
	pso      *StateObject
	owner    Referencer
	released atomic.Bool
}

// newHandle wraps an already-registered reference in the owning handle.
// Only the manager creates handles, and it registers the owner with the
// PSO before dropping its table lock; no other code path can touch the
// reference set.
func newHandle(m *Manager, pso *StateObject, owner Referencer) *Handle {
	return &Handle{m: m, pso: pso, owner: owner}
}

// PSO returns the referenced state object, or nil after Release.
func (h *Handle) PSO() *StateObject {
	if h == nil || h.released.Load() {
		return nil
	}
	return h.pso
}

// Release deregisters the owner from the PSO and reports whether this
// call performed the release. A second Release is a no-op returning
// false.
func (h *Handle) Release() bool {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return false
	}
	if h.pso.removeReference(h.owner) {
		h.m.onUnreferenced(h.pso)
	}
	return true
}
