package core

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRegistryAddAssignsSequentialIDs(t *testing.T) {
	r := NewRegistry()

	a := r.Add(7, "10.0.0.1", 50001)
	b := r.Add(9, "10.0.0.2", 50002)

	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("expected ids 1 and 2, got %d and %d", a.ID, b.ID)
	}
	if a.Status != StatusConnected {
		t.Fatalf("new client should start connected, got %v", a.Status)
	}
	if a.UserID != -1 {
		t.Fatalf("new client should have no identity, got user id %d", a.UserID)
	}
	if a.TraceID == "" || a.TraceID == b.TraceID {
		t.Fatalf("trace ids must be unique and non-empty: %q vs %q", a.TraceID, b.TraceID)
	}
}

func TestRegistryAddIsIdempotent(t *testing.T) {
	r := NewRegistry()

	first := r.Add(7, "10.0.0.1", 50001)
	second := r.Add(7, "10.0.0.9", 60000)

	if second.ID != first.ID || second.RemoteIP != "10.0.0.1" {
		t.Fatalf("re-adding a handle must return the original entry, got %+v", second)
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 entry, got %d", r.Count())
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	r.Add(7, "10.0.0.1", 50001)

	r.Remove(7)
	r.Remove(7) // idempotent

	if _, ok := r.FindByHandle(7); ok {
		t.Fatal("entry should be gone after remove")
	}
	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Count())
	}
}

func TestRegistryIDsNotReusedAfterRemove(t *testing.T) {
	r := NewRegistry()

	a := r.Add(7, "10.0.0.1", 50001)
	r.Remove(7)
	b := r.Add(7, "10.0.0.1", 50001)

	if b.ID <= a.ID {
		t.Fatalf("connection ids must be monotonic, got %d after %d", b.ID, a.ID)
	}
}

func TestRegistryBindIdentity(t *testing.T) {
	r := NewRegistry()
	r.Add(7, "10.0.0.1", 50001)

	if err := r.BindIdentity(7, 1000, "alice"); err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	c, ok := r.FindByUsername("alice")
	if !ok || c.Handle != 7 || c.UserID != 1000 || c.Status != StatusAuthenticated {
		t.Fatalf("unexpected entry after bind: %+v", c)
	}
}

func TestRegistryBindIdentityUnknownHandle(t *testing.T) {
	r := NewRegistry()
	if err := r.BindIdentity(42, 1000, "alice"); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("expected ErrUnknownHandle, got %v", err)
	}
}

func TestRegistryRejectsSecondBindingOfSameUsername(t *testing.T) {
	r := NewRegistry()
	r.Add(1, "10.0.0.1", 50001)
	r.Add(2, "10.0.0.2", 50002)

	if err := r.BindIdentity(1, 1000, "alice"); err != nil {
		t.Fatalf("first bind failed: %v", err)
	}
	if err := r.BindIdentity(2, 1000, "alice"); !errors.Is(err, ErrUsernameBound) {
		t.Fatalf("expected ErrUsernameBound, got %v", err)
	}

	// After unbinding, the name is free again.
	r.UnbindIdentity(1)
	if err := r.BindIdentity(2, 1000, "alice"); err != nil {
		t.Fatalf("bind after unbind failed: %v", err)
	}
}

func TestRegistryUnbindIdentity(t *testing.T) {
	r := NewRegistry()
	r.Add(7, "10.0.0.1", 50001)
	if err := r.BindIdentity(7, 1000, "alice"); err != nil {
		t.Fatal(err)
	}

	username, wasBound := r.UnbindIdentity(7)
	if !wasBound || username != "alice" {
		t.Fatalf("unbind should return the bound identity, got %q ok=%v", username, wasBound)
	}

	c, ok := r.FindByHandle(7)
	if !ok {
		t.Fatal("entry should survive unbind")
	}
	if c.Status != StatusConnected || c.Username != "" || c.UserID != -1 {
		t.Fatalf("unbind should reset identity, got %+v", c)
	}
	if _, ok := r.FindByUsername("alice"); ok {
		t.Fatal("unbound username must not match")
	}
}

func TestRegistryUnbindIdentityUnboundHandle(t *testing.T) {
	r := NewRegistry()
	r.Add(7, "10.0.0.1", 50001)

	if _, ok := r.UnbindIdentity(7); ok {
		t.Fatal("unbinding a never-bound handle must report false")
	}
	if _, ok := r.UnbindIdentity(42); ok {
		t.Fatal("unbinding an unknown handle must report false")
	}
}

// An explicit logout and a transport disconnect can race on the same
// handle; exactly one of them may claim the binding.
func TestRegistryUnbindIdentityClaimedOnce(t *testing.T) {
	r := NewRegistry()
	r.Add(7, "10.0.0.1", 50001)
	if err := r.BindIdentity(7, 1000, "alice"); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var claims atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.UnbindIdentity(7); ok {
				claims.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := claims.Load(); got != 1 {
		t.Fatalf("binding claimed %d times, want exactly 1", got)
	}
}

func TestRegistryFindByUsernameIgnoresEmpty(t *testing.T) {
	r := NewRegistry()
	r.Add(7, "10.0.0.1", 50001) // unbound, Username == ""

	if _, ok := r.FindByUsername(""); ok {
		t.Fatal("empty username must never match")
	}
}

func TestRegistryReturnsCopies(t *testing.T) {
	r := NewRegistry()
	r.Add(7, "10.0.0.1", 50001)

	c, _ := r.FindByHandle(7)
	c.Username = "mallory"
	c.Status = StatusAuthenticated

	fresh, _ := r.FindByHandle(7)
	if fresh.Username != "" || fresh.Status != StatusConnected {
		t.Fatalf("mutating a returned copy must not affect the registry: %+v", fresh)
	}
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry()
	r.Add(1, "10.0.0.1", 50001)
	r.Add(2, "10.0.0.2", 50002)

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}

	r.Remove(1)
	if len(snap) != 2 {
		t.Fatal("snapshot must be stable after registry mutation")
	}
}
