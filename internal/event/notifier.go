// Package event delivers fire-and-forget session events to decoupled listeners.
package event

import (
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/luciancaetano/actornet"
)

const DefaultBuffer = 1024

// Notifier queues events and delivers them from a single goroutine.
// EventMessageReceived is best effort: Fire drops it when the buffer is full.
// Session lifecycle events are never dropped; Fire waits for buffer space, and
// after Close delivers them on the caller's goroutine.
type Notifier struct {
	log *logrus.Entry

	mu        sync.RWMutex
	listeners map[actornet.EventKind][]actornet.EventListener

	// closeMu orders every send on events before Close, so the final drain
	// sees all of them.
	closeMu sync.RWMutex
	closed  bool

	events  chan actornet.Event
	done    chan struct{}
	stopped chan struct{}
}

func NewNotifier(logger *logrus.Logger, buffer int) *Notifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	n := &Notifier{
		log:       logger.WithField("scope", "event.Notifier"),
		listeners: make(map[actornet.EventKind][]actornet.EventListener),
		events:    make(chan actornet.Event, buffer),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go n.run()
	return n
}

// Subscribe adds listener for kind. Listeners run on the delivery goroutine
// and must not call Fire.
func (n *Notifier) Subscribe(kind actornet.EventKind, listener actornet.EventListener) {
	if listener == nil {
		return
	}
	n.mu.Lock()
	n.listeners[kind] = append(n.listeners[kind], listener)
	n.mu.Unlock()
}

func lossy(kind actornet.EventKind) bool {
	return kind == actornet.EventMessageReceived
}

// Fire queues an event for sessionID.
func (n *Notifier) Fire(sessionID int64, kind actornet.EventKind) {
	e := actornet.Event{SessionID: sessionID, Kind: kind}

	n.closeMu.RLock()
	if n.closed {
		n.closeMu.RUnlock()
		if !lossy(kind) {
			n.deliver(e)
		}
		return
	}
	defer n.closeMu.RUnlock()

	if !lossy(kind) {
		n.events <- e
		return
	}

	select {
	case n.events <- e:
	default:
		n.log.WithFields(logrus.Fields{
			"session_id": sessionID,
			"event":      kind.String(),
		}).Warn("event buffer full, dropping event")
	}
}

// Close delivers the events already queued and stops the delivery goroutine.
func (n *Notifier) Close() {
	n.closeMu.Lock()
	if !n.closed {
		n.closed = true
		close(n.done)
	}
	n.closeMu.Unlock()
	<-n.stopped
}

func (n *Notifier) run() {
	defer close(n.stopped)

	for {
		select {
		case e := <-n.events:
			n.deliver(e)
		case <-n.done:
			for {
				select {
				case e := <-n.events:
					n.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) deliver(e actornet.Event) {
	n.mu.RLock()
	listeners := n.listeners[e.Kind]
	n.mu.RUnlock()

	for _, l := range listeners {
		n.call(l, e)
	}
}

func (n *Notifier) call(l actornet.EventListener, e actornet.Event) {
	defer func() {
		if r := recover(); r != nil {
			n.log.WithFields(logrus.Fields{
				"session_id": e.SessionID,
				"event":      e.Kind.String(),
				"stack":      string(debug.Stack()),
			}).Errorf("event listener panicked: %v", r)
		}
	}()
	l(e)
}
