// Package actor implements per-entity mailboxes: serialized execution queues that
// guarantee at most one running action per entity.
package actor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"

	"github.com/luciancaetano/actornet"
)

type State int

const (
	StateIdle State = iota
	StateDraining
	StateRetired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StateRetired:
		return "retired"
	default:
		return "unknown"
	}
}

type envelope struct {
	ctx    context.Context
	action actornet.Action
}

// Mailbox runs submitted actions one at a time in submission order. A drain
// goroutine exists only while the queue is non-empty.
type Mailbox struct {
	entityID int64
	log      *logrus.Entry

	// after, when set, is the drained signal of the entity's previous
	// mailbox. Nothing runs here before it is closed.
	after <-chan struct{}

	mu       sync.Mutex
	pending  *queue.Queue
	draining bool
	retired  bool
	drained  chan struct{}
}

var _ actornet.Actor = (*Mailbox)(nil)

func NewMailbox(entityID int64, logger *logrus.Logger) *Mailbox {
	return &Mailbox{
		entityID: entityID,
		log: logger.WithFields(logrus.Fields{
			"scope":     "actor.Mailbox",
			"entity_id": entityID,
		}),
		pending: queue.New(),
	}
}

// newMailboxAfter returns a mailbox whose first action waits until prev is
// closed.
func newMailboxAfter(entityID int64, logger *logrus.Logger, prev <-chan struct{}) *Mailbox {
	m := NewMailbox(entityID, logger)
	m.after = prev
	return m
}

func (m *Mailbox) EntityID() int64 { return m.entityID }

// Submit enqueues action and returns without waiting for it to run.
func (m *Mailbox) Submit(ctx context.Context, action actornet.Action) error {
	if action == nil {
		return actornet.ErrNilHandler
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.retired {
		return fmt.Errorf("%w: entity %d retired", actornet.ErrActorUnavailable, m.entityID)
	}

	m.pending.Add(envelope{ctx: ctx, action: action})
	if !m.draining {
		m.draining = true
		go m.drain()
	}
	return nil
}

// Retire rejects all further submissions. Actions already queued still run; the
// returned channel is closed once the queue is empty.
func (m *Mailbox) Retire() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.drained == nil {
		m.drained = make(chan struct{})
		m.retired = true
		if !m.draining {
			if m.after == nil {
				close(m.drained)
			} else {
				go func(after <-chan struct{}, drained chan struct{}) {
					<-after
					close(drained)
				}(m.after, m.drained)
			}
		}
	}
	return m.drained
}

func (m *Mailbox) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.retired:
		return StateRetired
	case m.draining:
		return StateDraining
	default:
		return StateIdle
	}
}

// Len returns the number of queued actions, excluding the running one.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending.Length()
}

func (m *Mailbox) drain() {
	if m.after != nil {
		<-m.after
	}

	for {
		m.mu.Lock()
		if m.pending.Length() == 0 {
			m.draining = false
			if m.retired {
				close(m.drained)
			}
			m.mu.Unlock()
			return
		}
		env := m.pending.Remove().(envelope)
		m.mu.Unlock()

		m.run(env)
	}
}

// run executes one action, containing its failure so the drain keeps going.
func (m *Mailbox) run(env envelope) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithError(fmt.Errorf("%w: %v", actornet.ErrHandlerPanic, r)).
				WithField("stack", string(debug.Stack())).
				Error("entity action failed")
		}
	}()

	if err := env.action(env.ctx); err != nil {
		m.log.WithError(err).Error("entity action failed")
	}
}
