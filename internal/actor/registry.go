package actor

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/luciancaetano/actornet"
)

// Registry owns the mailboxes of all active entities.
type Registry struct {
	logger *logrus.Logger
	log    *logrus.Entry

	mu        sync.RWMutex
	mailboxes map[int64]*Mailbox
	// retiring holds the drained signal of unloaded mailboxes that still
	// have queued actions.
	retiring map[int64]<-chan struct{}
}

var _ actornet.EntityManager = (*Registry)(nil)

func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		logger:    logger,
		log:       logger.WithField("scope", "actor.Registry"),
		mailboxes: make(map[int64]*Mailbox),
		retiring:  make(map[int64]<-chan struct{}),
	}
}

// Activate returns the mailbox of entityID, creating it if the entity is not
// active yet. A mailbox created while the entity's previous one is still
// draining starts running only after that drain completes.
func (r *Registry) Activate(entityID int64) (*Mailbox, error) {
	if entityID <= 0 {
		return nil, fmt.Errorf("%w: %d", actornet.ErrInvalidEntityID, entityID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.mailboxes[entityID]; ok {
		return m, nil
	}
	m := newMailboxAfter(entityID, r.logger, r.retiring[entityID])
	r.mailboxes[entityID] = m
	r.log.WithField("entity_id", entityID).Debug("entity activated")
	return m, nil
}

// Unload retires the mailbox of entityID and forgets it. The returned channel is
// closed when its queued actions have finished; it is nil if the entity was not
// active.
func (r *Registry) Unload(entityID int64) <-chan struct{} {
	r.mu.Lock()
	m, ok := r.mailboxes[entityID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.mailboxes, entityID)
	drained := m.Retire()
	r.retiring[entityID] = drained
	r.mu.Unlock()

	go r.forget(entityID, drained)

	r.log.WithField("entity_id", entityID).Debug("entity unloaded")
	return drained
}

func (r *Registry) forget(entityID int64, drained <-chan struct{}) {
	<-drained

	r.mu.Lock()
	if r.retiring[entityID] == drained {
		delete(r.retiring, entityID)
	}
	r.mu.Unlock()
}

func (r *Registry) ActorFor(entityID int64) (actornet.Actor, bool) {
	m, ok := r.Mailbox(entityID)
	if !ok {
		return nil, false
	}
	return m, true
}

func (r *Registry) Mailbox(entityID int64) (*Mailbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mailboxes[entityID]
	return m, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mailboxes)
}
