// Package memory holds users in process memory. It is the default
// credential store; accounts live until the server exits.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vovakirdan/pipechat-server/internal/proto"
	"github.com/vovakirdan/pipechat-server/internal/store"
)

// firstUserID is where identity numbering starts. Identities are never
// reused.
const firstUserID = 1000

// Store is an in-memory UserStore.
type Store struct {
	mu     sync.RWMutex
	byName map[string]*store.User
	byID   map[int64]*store.User
	nextID int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		byName: make(map[string]*store.User),
		byID:   make(map[int64]*store.User),
		nextID: firstUserID,
	}
}

// NewWithDefaults returns a store seeded with the demo accounts.
func NewWithDefaults() *Store {
	s := New()
	s.SeedDefaults()
	return s
}

// SeedDefaults registers the demo accounts used by the interactive
// client walkthrough.
func (s *Store) SeedDefaults() {
	ctx := context.Background()
	for _, u := range []struct{ name, credential string }{
		{"admin", "admin123"},
		{"alice", "alice123"},
		{"bob", "bob123"},
		{"charlie", "charlie123"},
	} {
		_, _ = s.Add(ctx, u.name, u.credential)
	}
}

// LookupByName retrieves a user by username.
func (s *Store) LookupByName(_ context.Context, username string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byName[username]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// LookupByID retrieves a user by numeric identity.
func (s *Store) LookupByID(_ context.Context, id int64) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// Add registers a new active user with a fresh identity.
func (s *Store) Add(_ context.Context, username, credential string) (*store.User, error) {
	if !proto.ValidUsername(username) {
		return nil, store.ErrInvalidUsername
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[username]; exists {
		return nil, store.ErrUserExists
	}

	u := &store.User{
		ID:           s.nextID,
		Username:     username,
		Credential:   credential,
		RegisteredAt: time.Now(),
		Active:       true,
	}
	s.nextID++
	s.byName[username] = u
	s.byID[u.ID] = u

	cp := *u
	return &cp, nil
}

// Authenticate compares the stored credential byte for byte.
func (s *Store) Authenticate(_ context.Context, username, credential string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byName[username]
	if !ok || !u.Active {
		return false
	}
	return u.Credential == credential
}

// SetActive flips the account's active flag.
func (s *Store) SetActive(_ context.Context, username string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byName[username]
	if !ok {
		return store.ErrUserNotFound
	}
	u.Active = active
	return nil
}

// Count returns the number of registered users.
func (s *Store) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byName)
}

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }
