package actor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/luciancaetano/actornet"
)

func TestRegistryActivate(t *testing.T) {
	t.Parallel()

	r := NewRegistry(quietLogger())

	m1, err := r.Activate(7)
	if err != nil {
		t.Fatalf("Activate(7) failed: %v", err)
	}
	m2, _ := r.Activate(7)
	if m1 != m2 {
		t.Error("Activate() created a second mailbox for a live entity")
	}

	actor, ok := r.ActorFor(7)
	if !ok || actor != actornet.Actor(m1) {
		t.Errorf("ActorFor(7) = %v, %v, want the activated mailbox", actor, ok)
	}
	if _, ok := r.ActorFor(8); ok {
		t.Error("ActorFor(8) resolved an inactive entity")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryActivateRejectsSentinel(t *testing.T) {
	t.Parallel()

	r := NewRegistry(quietLogger())
	for _, id := range []int64{0, -1} {
		if _, err := r.Activate(id); !errors.Is(err, actornet.ErrInvalidEntityID) {
			t.Errorf("Activate(%d) error = %v, want ErrInvalidEntityID", id, err)
		}
	}
}

func TestRegistryUnload(t *testing.T) {
	t.Parallel()

	r := NewRegistry(quietLogger())
	m, _ := r.Activate(7)

	waitClosed(t, r.Unload(7))

	if _, ok := r.ActorFor(7); ok {
		t.Error("ActorFor() resolved an unloaded entity")
	}
	if err := m.Submit(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, actornet.ErrActorUnavailable) {
		t.Errorf("Submit() on unloaded mailbox error = %v, want ErrActorUnavailable", err)
	}
	if r.Unload(7) != nil {
		t.Error("Unload() of an inactive entity returned a channel")
	}

	fresh, _ := r.Activate(7)
	if fresh == m {
		t.Error("reactivation reused the retired mailbox")
	}
}

func TestRegistryReactivateWaitsForDrain(t *testing.T) {
	t.Parallel()

	r := NewRegistry(quietLogger())

	var (
		running, maxRunning atomic.Int32
		mu                  sync.Mutex
		order               []string
	)
	action := func(name string, d time.Duration) actornet.Action {
		return func(context.Context) error {
			n := running.Add(1)
			for {
				seen := maxRunning.Load()
				if n <= seen || maxRunning.CompareAndSwap(seen, n) {
					break
				}
			}
			time.Sleep(d)
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			running.Add(-1)
			return nil
		}
	}

	old, _ := r.Activate(7)
	_ = old.Submit(context.Background(), action("old", 50*time.Millisecond))
	oldDrained := r.Unload(7)

	fresh, err := r.Activate(7)
	if err != nil {
		t.Fatalf("Activate(7) after Unload failed: %v", err)
	}
	if fresh == old {
		t.Fatal("reactivation reused the retired mailbox")
	}
	_ = fresh.Submit(context.Background(), action("fresh", 0))

	waitClosed(t, oldDrained)
	waitClosed(t, r.Unload(7))

	if got := maxRunning.Load(); got != 1 {
		t.Errorf("max concurrent actions for entity 7 = %d, want 1", got)
	}
	if diff := cmp.Diff([]string{"old", "fresh"}, order); diff != "" {
		t.Errorf("execution order mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistryReactivateThroughIdleMailbox(t *testing.T) {
	t.Parallel()

	r := NewRegistry(quietLogger())

	release := make(chan struct{})
	var oldDone atomic.Bool
	first, _ := r.Activate(7)
	_ = first.Submit(context.Background(), func(context.Context) error {
		<-release
		oldDone.Store(true)
		return nil
	})
	r.Unload(7)

	// Activated and unloaded without ever receiving an action.
	_, _ = r.Activate(7)
	idleDrained := r.Unload(7)
	select {
	case <-idleDrained:
		t.Fatal("idle mailbox reported drained before its predecessor")
	case <-time.After(20 * time.Millisecond):
	}

	third, _ := r.Activate(7)
	ran := make(chan bool, 1)
	_ = third.Submit(context.Background(), func(context.Context) error {
		ran <- oldDone.Load()
		return nil
	})

	close(release)
	select {
	case sawOld := <-ran:
		if !sawOld {
			t.Error("third mailbox ran before the first one drained")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("third mailbox never ran")
	}
	waitClosed(t, idleDrained)
}

func TestRegistryForgetsDrainedMailboxes(t *testing.T) {
	t.Parallel()

	r := NewRegistry(quietLogger())
	_, _ = r.Activate(7)
	waitClosed(t, r.Unload(7))

	deadline := time.Now().Add(5 * time.Second)
	for {
		r.mu.RLock()
		n := len(r.retiring)
		r.mu.RUnlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d drained mailboxes still tracked", n)
		}
		time.Sleep(time.Millisecond)
	}
}
