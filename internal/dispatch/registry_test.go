package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/luciancaetano/actornet"
)

func noop(context.Context, *actornet.Call) error { return nil }

func TestRegistryRegister(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(r *Registry)
		cmd     uint32
		handler actornet.Handler
		wantErr error
	}{
		{
			name:    "first registration",
			cmd:     cmdPing,
			handler: actornet.HandlerFunc(noop),
		},
		{
			name:    "nil handler",
			cmd:     cmdPing,
			handler: nil,
			wantErr: actornet.ErrNilHandler,
		},
		{
			name:    "duplicate command",
			setup:   func(r *Registry) { _ = r.Register(cmdPing, actornet.HandlerFunc(noop)) },
			cmd:     cmdPing,
			handler: actornet.HandlerFunc(noop),
			wantErr: actornet.ErrDuplicateHandler,
		},
		{
			name:    "after freeze",
			setup:   func(r *Registry) { r.Freeze() },
			cmd:     cmdMove,
			handler: actornet.HandlerFunc(noop),
			wantErr: actornet.ErrRegistryFrozen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := NewRegistry()
			if tt.setup != nil {
				tt.setup(r)
			}

			err := r.Register(tt.cmd, tt.handler)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Register() unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Register() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistryLookup(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_ = r.Register(cmdPing, actornet.HandlerFunc(noop))
	_ = r.Register(cmdMove, actornet.EntityHandlerFunc{Resolve: staticResolver(1), Action: noop})

	if _, ok := r.Lookup(cmdNone); ok {
		t.Error("Lookup(unregistered) found a handler")
	}

	r.Freeze()
	if !r.Frozen() {
		t.Fatal("Frozen() = false after Freeze")
	}

	h, ok := r.Lookup(cmdMove)
	if !ok {
		t.Fatal("Lookup(cmdMove) found nothing")
	}
	if _, isEntity := h.(actornet.EntityHandler); !isEntity {
		t.Errorf("Lookup(cmdMove) = %T, want an EntityHandler", h)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestRegistryConcurrentLookup(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_ = r.Register(cmdPing, actornet.HandlerFunc(noop))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, ok := r.Lookup(cmdPing); !ok {
					t.Error("Lookup(cmdPing) missed")
					return
				}
			}
		}()
	}
	r.Freeze()
	wg.Wait()
}
