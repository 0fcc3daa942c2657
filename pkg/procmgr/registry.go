package procmgr

import (
	"sort"
	"sync"
)

// Registry is the single source of truth for "is something currently tracked
// as running". Every mutation and lookup is one atomic step under one lock.
type Registry struct {
	mu        sync.Mutex
	processes map[ProcessID]Handle
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		processes: make(map[ProcessID]Handle),
	}
}

// Get returns the handle tracked for id
func (r *Registry) Get(id ProcessID) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.processes[id]
	return h, ok
}

// Insert tracks h under id unless a live handle is already tracked there, in
// which case the live handle is returned with ok=false. A dead handle left
// behind is replaced.
func (r *Registry) Insert(id ProcessID, h Handle) (existing Handle, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, found := r.processes[id]; found && cur.Alive() {
		return cur, false
	}
	r.processes[id] = h
	return h, true
}

// Remove stops tracking id and returns what was tracked
func (r *Registry) Remove(id ProcessID) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.processes[id]
	if ok {
		delete(r.processes, id)
	}
	return h, ok
}

// RemoveIf stops tracking id only if h is still the tracked handle
func (r *Registry) RemoveIf(id ProcessID, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.processes[id]; ok && cur == h {
		delete(r.processes, id)
		return true
	}
	return false
}

// Len returns the number of tracked handles
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.processes)
}

// AnyAlive reports whether any tracked process is still running
func (r *Registry) AnyAlive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.processes {
		if h.Alive() {
			return true
		}
	}
	return false
}

// IDs returns the tracked ids in sorted order
func (r *Registry) IDs() []ProcessID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]ProcessID, 0, len(r.processes))
	for id := range r.processes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
