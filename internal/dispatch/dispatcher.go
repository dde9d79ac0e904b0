// Package dispatch routes decoded messages to their handlers: inline for
// stateless handlers, onto the target entity's mailbox for entity handlers.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/luciancaetano/actornet"
)

const tracerName = "github.com/luciancaetano/actornet/internal/dispatch"

// SessionLookup resolves the session bound to a channel.
type SessionLookup interface {
	Lookup(ch actornet.Channel) int64
}

// EventFirer receives best-effort session events.
type EventFirer interface {
	Fire(sessionID int64, kind actornet.EventKind)
}

type Config struct {
	Handlers *Registry
	Sessions SessionLookup
	Entities actornet.EntityManager
	Events   EventFirer
	Logger   *logrus.Logger

	// ResolveRetries is how many more times an entity ID resolving to 0 is
	// retried before the message is dropped. The default drops immediately.
	ResolveRetries    int
	ResolveRetryDelay time.Duration

	TracerProvider trace.TracerProvider
	Now            func() time.Time
}

type Dispatcher struct {
	handlers *Registry
	sessions SessionLookup
	entities actornet.EntityManager
	events   EventFirer
	log      *logrus.Entry
	tracer   trace.Tracer
	now      func() time.Time

	resolveRetries    int
	resolveRetryDelay time.Duration
}

func New(cfg Config) *Dispatcher {
	if cfg.Handlers == nil {
		cfg.Handlers = NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ResolveRetryDelay <= 0 {
		cfg.ResolveRetryDelay = 50 * time.Millisecond
	}

	return &Dispatcher{
		handlers:          cfg.Handlers,
		sessions:          cfg.Sessions,
		entities:          cfg.Entities,
		events:            cfg.Events,
		log:               cfg.Logger.WithField("scope", "dispatch.Dispatcher"),
		tracer:            cfg.TracerProvider.Tracer(tracerName),
		now:               cfg.Now,
		resolveRetries:    cfg.ResolveRetries,
		resolveRetryDelay: cfg.ResolveRetryDelay,
	}
}

func (d *Dispatcher) Handlers() *Registry { return d.handlers }

// Dispatch routes msg to its handler. Every failure is logged and contained
// here; the returned error only reports what happened to the message.
func (d *Dispatcher) Dispatch(ctx context.Context, ch actornet.Channel, msg *actornet.Message) (err error) {
	if msg == nil {
		return nil
	}
	if ch == nil {
		d.log.WithField("command_id", fmt.Sprintf("0x%X", msg.ID)).Error("dispatch without a channel")
		return fmt.Errorf("%w: nil channel", actornet.ErrConnectionClosed)
	}

	ctx, span := d.tracer.Start(ctx, "actornet.dispatch", trace.WithAttributes(
		attribute.Int64("actornet.command_id", int64(msg.ID)),
		attribute.String("actornet.channel_id", ch.ID()),
	))
	log := d.log.WithFields(logrus.Fields{
		"command_id": fmt.Sprintf("0x%X", msg.ID),
		"channel_id": ch.ID(),
	})

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", actornet.ErrHandlerPanic, r)
			log.WithError(err).WithField("stack", string(debug.Stack())).Error("dispatch failed")
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	h, ok := d.handlers.Lookup(msg.ID)
	if !ok {
		log.Error("unhandled message type")
		return fmt.Errorf("%w: 0x%X", actornet.ErrUnhandledMessage, msg.ID)
	}

	var sessionID int64
	if d.sessions != nil {
		sessionID = d.sessions.Lookup(ch)
	}
	if sessionID > 0 && d.events != nil {
		d.events.Fire(sessionID, actornet.EventMessageReceived)
	}

	log = log.WithFields(logrus.Fields{
		"handler":    fmt.Sprintf("%T", h),
		"session_id": sessionID,
	})
	span.SetAttributes(attribute.Int64("actornet.session_id", sessionID))

	if log.Logger.IsLevelEnabled(logrus.TraceLevel) && msg.Body != nil {
		log.Trace(spew.Sdump(msg.Body))
	}

	call := &actornet.Call{
		Time:      d.now(),
		Channel:   ch,
		Message:   msg,
		SessionID: sessionID,
	}

	if eh, ok := h.(actornet.EntityHandler); ok {
		return d.dispatchToEntity(ctx, log, span, eh, call)
	}

	if err := h.Handle(ctx, call); err != nil {
		log.WithError(err).Error("handler failed")
		return err
	}
	return nil
}

func (d *Dispatcher) dispatchToEntity(ctx context.Context, log *logrus.Entry, span trace.Span, h actornet.EntityHandler, call *actornet.Call) error {
	entityID, err := d.resolveEntity(ctx, h, call)
	if err != nil {
		log.WithError(err).Error("entity id unresolved for this message")
		return fmt.Errorf("%w: %v", actornet.ErrEntityUnresolved, err)
	}
	if entityID <= 0 {
		log.Error("entity id unresolved for this message")
		return actornet.ErrEntityUnresolved
	}

	log = log.WithField("entity_id", entityID)
	span.SetAttributes(attribute.Int64("actornet.entity_id", entityID))

	var (
		actor actornet.Actor
		found bool
	)
	if d.entities != nil {
		actor, found = d.entities.ActorFor(entityID)
	}
	if !found || actor == nil {
		log.Error("actor unavailable")
		return fmt.Errorf("%w: entity %d", actornet.ErrActorUnavailable, entityID)
	}

	// Queued entity work outlives the connection that submitted it.
	err = actor.Submit(context.WithoutCancel(ctx), func(ctx context.Context) error {
		return h.Handle(ctx, call)
	})
	if err != nil {
		log.WithError(err).Error("actor unavailable")
		return err
	}
	return nil
}

func (d *Dispatcher) resolveEntity(ctx context.Context, h actornet.EntityHandler, call *actornet.Call) (int64, error) {
	for attempt := 0; ; attempt++ {
		id, err := h.EntityID(ctx, call)
		if err != nil {
			return 0, err
		}
		if id > 0 || attempt >= d.resolveRetries {
			return id, nil
		}

		timer := time.NewTimer(d.resolveRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C:
		}
	}
}
