package engine

import "sync"

// Registry maps live connection handles to identities and keeps at most one
// handle per user id.
type Registry struct {
	mu       sync.Mutex
	byHandle map[string]Identity
	byUser   map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byHandle: make(map[string]Identity),
		byUser:   make(map[string]string),
	}
}

// Bind records id as the live connection for its user. If another handle
// held that user it is dropped from the registry and returned, so the caller
// can close it.
func (r *Registry) Bind(id Identity) (superseded string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, held := r.byUser[id.UserID]; held && prev != id.Handle {
		delete(r.byHandle, prev)
		superseded, ok = prev, true
	}
	r.byHandle[id.Handle] = id
	r.byUser[id.UserID] = id.Handle
	return superseded, ok
}

// Release drops handle. onRelease runs under the registry lock, only for the
// caller that actually removed the mapping, so release side effects happen
// exactly once and cannot interleave with a concurrent Bind for the same user.
func (r *Registry) Release(handle string, onRelease func(Identity)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byHandle[handle]
	if !ok {
		return false
	}
	delete(r.byHandle, handle)
	if r.byUser[id.UserID] == handle {
		delete(r.byUser, id.UserID)
	}
	if onRelease != nil {
		onRelease(id)
	}
	return true
}

// Lookup returns the identity bound to handle.
func (r *Registry) Lookup(handle string) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byHandle[handle]
	return id, ok
}

// HandleFor returns the live handle for a user id.
func (r *Registry) HandleFor(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byUser[userID]
	return h, ok
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byHandle)
}
