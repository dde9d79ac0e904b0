// Package session tracks which channel each authenticated session is bound to.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/luciancaetano/actornet"
)

// Registry is the process-wide session table. Session IDs are issued from a
// monotonic counter and never reused, so a stale ID can only miss, never
// resolve to another channel.
type Registry struct {
	nextID atomic.Int64

	mu        sync.RWMutex
	byChannel map[string]int64
	bySession map[int64]actornet.Channel
}

var _ actornet.SessionRegistry = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		byChannel: make(map[string]int64),
		bySession: make(map[int64]actornet.Channel),
	}
}

// Bind issues a new session ID for ch.
func (r *Registry) Bind(ch actornet.Channel) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byChannel[ch.ID()]; ok {
		return 0, actornet.ErrAlreadyBound
	}

	id := r.nextID.Add(1)
	r.byChannel[ch.ID()] = id
	r.bySession[id] = ch
	return id, nil
}

// Lookup returns the session bound to ch, or 0 if it has none.
func (r *Registry) Lookup(ch actornet.Channel) int64 {
	if ch == nil {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byChannel[ch.ID()]
}

func (r *Registry) Channel(sessionID int64) (actornet.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.bySession[sessionID]
	return ch, ok
}

// Remove deletes both directions of the mapping for sessionID.
func (r *Registry) Remove(sessionID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.bySession[sessionID]
	if !ok {
		return false
	}
	delete(r.bySession, sessionID)
	if r.byChannel[ch.ID()] == sessionID {
		delete(r.byChannel, ch.ID())
	}
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySession)
}
