package store

import (
	"context"
	"errors"
	"time"
)

// User is a registered account. Credential holds the stored material:
// plaintext in the memory store, a bcrypt hash in the sqlite store.
// Authenticate is the only place that interprets it, so swapping the
// comparison strategy stays local to the store.
type User struct {
	ID           int64
	Username     string
	Credential   string
	RegisteredAt time.Time
	Active       bool
}

var (
	// ErrUserNotFound is returned by lookups for unknown usernames or ids.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when adding a username that is taken.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when a name fails the username rules.
	ErrInvalidUsername = errors.New("invalid username")
)

// UserStore is the credential store consulted by the session manager
// and the router.
type UserStore interface {
	// LookupByName retrieves a user by username.
	LookupByName(ctx context.Context, username string) (*User, error)

	// LookupByID retrieves a user by numeric identity.
	LookupByID(ctx context.Context, id int64) (*User, error)

	// Add registers a new user. Fails on duplicate names and names
	// that do not match the username rules.
	Add(ctx context.Context, username, credential string) (*User, error)

	// Authenticate reports whether the user exists, is active, and
	// the credential matches.
	Authenticate(ctx context.Context, username, credential string) bool

	// SetActive flips the account's active flag.
	SetActive(ctx context.Context, username string, active bool) error

	// Count returns the number of registered users.
	Count(ctx context.Context) int
}

// Store is a UserStore with a lifecycle.
type Store interface {
	UserStore

	// Close releases the underlying resources.
	Close() error
}
