package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/luciancaetano/actornet"
)

// Registry maps command IDs to handler prototypes. It is filled during startup
// and frozen before the first dispatch; once frozen, Lookup takes no lock.
type Registry struct {
	mu       sync.RWMutex
	frozen   atomic.Bool
	handlers map[uint32]actornet.Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[uint32]actornet.Handler)}
}

func (r *Registry) Register(commandID uint32, h actornet.Handler) error {
	if h == nil {
		return fmt.Errorf("%w: command 0x%X", actornet.ErrNilHandler, commandID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return fmt.Errorf("%w: command 0x%X", actornet.ErrRegistryFrozen, commandID)
	}
	if _, ok := r.handlers[commandID]; ok {
		return fmt.Errorf("%w: command 0x%X", actornet.ErrDuplicateHandler, commandID)
	}
	r.handlers[commandID] = h
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

func (r *Registry) Frozen() bool { return r.frozen.Load() }

func (r *Registry) Lookup(commandID uint32) (actornet.Handler, bool) {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	h, ok := r.handlers[commandID]
	return h, ok
}

func (r *Registry) Len() int {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	return len(r.handlers)
}
