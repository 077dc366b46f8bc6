// Package presence maps user identities to their single active connection.
package presence

import (
	"context"
	"sync"
)

// Registry tracks which connection currently speaks for a user identity.
// At most one connection is bound to an identity; a later Register replaces the earlier one.
type Registry interface {
	// Register binds userID to connID, replacing any prior binding for userID.
	Register(ctx context.Context, userID, connID string) error
	// Resolve returns the connection bound to userID, if any.
	Resolve(ctx context.Context, userID string) (string, bool, error)
	// Unregister drops whatever identity is bound to connID. Unknown ids are a no-op.
	Unregister(ctx context.Context, connID string) error
	// Count returns the number of bound identities.
	Count(ctx context.Context) (int, error)
}

// MemoryRegistry is a process-local Registry. The forward and reverse maps are
// always mutated together under mu.
type MemoryRegistry struct {
	mu     sync.RWMutex
	byUser map[string]string // userID -> connID
	byConn map[string]string // connID -> userID
}

func NewMemory() *MemoryRegistry {
	return &MemoryRegistry{
		byUser: make(map[string]string),
		byConn: make(map[string]string),
	}
}

var _ Registry = (*MemoryRegistry)(nil)

func (r *MemoryRegistry) Register(_ context.Context, userID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byUser[userID]; ok && prev != connID {
		delete(r.byConn, prev)
	}
	// A connection re-registering under another identity gives up the old one.
	if prevUser, ok := r.byConn[connID]; ok && prevUser != userID {
		delete(r.byUser, prevUser)
	}
	r.byUser[userID] = connID
	r.byConn[connID] = userID
	return nil
}

func (r *MemoryRegistry) Resolve(_ context.Context, userID string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.byUser[userID]
	return connID, ok, nil
}

func (r *MemoryRegistry) Unregister(_ context.Context, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return nil
	}
	delete(r.byConn, connID)
	if r.byUser[userID] == connID {
		delete(r.byUser, userID)
	}
	return nil
}

func (r *MemoryRegistry) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser), nil
}
