package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a connection's lifecycle state.
type Status int

const (
	StatusConnected Status = iota
	StatusAuthenticated
	StatusError
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusAuthenticated:
		return "authenticated"
	case StatusError:
		return "error"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client is a live connection as tracked by the registry. UserID and
// Username are set only while Status is StatusAuthenticated.
type Client struct {
	Handle      int
	ID          int64
	UserID      int64
	Username    string
	Status      Status
	RemoteIP    string
	RemotePort  int
	TraceID     string
	ConnectedAt time.Time
	LastActive  time.Time
}

// Registry is the single source of truth about attached connections.
// Every operation is mutually exclusive; callers receive value copies,
// never the owned entries.
type Registry struct {
	mu      sync.Mutex
	clients map[int]*Client
	nextID  int64
}

// NewRegistry returns an empty registry. Connection ids start at 1.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[int]*Client),
		nextID:  1,
	}
}

// Add inserts a connection in status Connected. Idempotent: adding an
// existing handle returns the current entry untouched.
func (r *Registry) Add(handle int, ip string, port int) Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.clients[handle]; ok {
		return *existing
	}

	now := time.Now()
	c := &Client{
		Handle:      handle,
		ID:          r.nextID,
		UserID:      -1,
		Status:      StatusConnected,
		RemoteIP:    ip,
		RemotePort:  port,
		TraceID:     uuid.NewString(),
		ConnectedAt: now,
		LastActive:  now,
	}
	r.nextID++
	r.clients[handle] = c
	return *c
}

// Remove drops the entry for handle. Idempotent.
func (r *Registry) Remove(handle int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, handle)
}

// FindByHandle returns a copy of the entry for handle.
func (r *Registry) FindByHandle(handle int) (Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[handle]
	if !ok {
		return Client{}, false
	}
	return *c, true
}

// FindByUsername returns the entry bound to username. Unbound entries
// never match.
func (r *Registry) FindByUsername(username string) (Client, bool) {
	if username == "" {
		return Client{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.clients {
		if c.Username == username {
			return *c, true
		}
	}
	return Client{}, false
}

// FindByUserID returns the entry bound to the given user identity.
func (r *Registry) FindByUserID(userID int64) (Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.clients {
		if c.Status == StatusAuthenticated && c.UserID == userID {
			return *c, true
		}
	}
	return Client{}, false
}

// Touch updates last-activity to now.
func (r *Registry) Touch(handle int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[handle]; ok {
		c.LastActive = time.Now()
	}
}

// BindIdentity transitions the entry to Authenticated. At most one
// authenticated entry per username is allowed at any instant.
func (r *Registry) BindIdentity(handle int, userID int64, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[handle]
	if !ok {
		return ErrUnknownHandle
	}

	for h, other := range r.clients {
		if h != handle && other.Status == StatusAuthenticated && other.Username == username {
			return ErrUsernameBound
		}
	}

	c.UserID = userID
	c.Username = username
	c.Status = StatusAuthenticated
	return nil
}

// UnbindIdentity clears the bound identity and transitions back to
// Connected. It returns the username that was bound; concurrent
// callers racing on the same handle see at most one true, so an
// explicit LOGOUT and a transport disconnect cannot both claim the
// unbind.
func (r *Registry) UnbindIdentity(handle int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[handle]
	if !ok || c.Status != StatusAuthenticated {
		return "", false
	}
	username := c.Username
	c.UserID = -1
	c.Username = ""
	c.Status = StatusConnected
	return username, true
}

// SetStatus writes the entry's status.
func (r *Registry) SetStatus(handle int, s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[handle]; ok {
		c.Status = s
	}
}

// Snapshot returns a stable copy of every entry, atomic with respect
// to add/remove.
func (r *Registry) Snapshot() []Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, *c)
	}
	return out
}

// Count returns the number of live entries.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
