package core

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pipechat-server/internal/store"
)

// SessionManager drives the per-connection auth state machine:
//
//	Connected --authenticate ok--> Authenticated
//	Connected --authenticate fail--> Connected (error surfaced)
//	Authenticated --logout--> Connected
//
// Transport failures are terminal and handled by the server, which
// removes the registry entry outright.
type SessionManager struct {
	reg   *Registry
	users store.UserStore
	log   zerolog.Logger
}

// NewSessionManager builds a session manager over the registry and
// credential store.
func NewSessionManager(reg *Registry, users store.UserStore, logger zerolog.Logger) *SessionManager {
	return &SessionManager{
		reg:   reg,
		users: users,
		log:   logger.With().Str("component", "session").Logger(),
	}
}

// Authenticate validates the credential and binds the identity to the
// handle. Re-authenticating as the same identity is an idempotent
// success; as a different identity, an auth error.
func (m *SessionManager) Authenticate(ctx context.Context, handle int, username, credential string) *Error {
	client, ok := m.reg.FindByHandle(handle)
	if !ok {
		m.log.Error().Int("handle", handle).Msg("authenticate: client not found")
		return serverError("Client not found")
	}

	if client.Status == StatusAuthenticated {
		if client.Username == username {
			m.log.Debug().Int("handle", handle).Str("user", username).
				Msg("already authenticated as same identity")
			return nil
		}
		m.log.Warn().Int("handle", handle).Str("bound", client.Username).
			Str("requested", username).Msg("re-authentication as different identity")
		return authError("Already authenticated as another user")
	}

	if !m.users.Authenticate(ctx, username, credential) {
		m.log.Warn().Int("handle", handle).Str("user", username).Msg("authentication failed")
		return authError("Invalid username or password")
	}

	user, err := m.users.LookupByName(ctx, username)
	if err != nil {
		m.log.Error().Err(err).Str("user", username).
			Msg("user vanished after successful authentication")
		return serverError("Server internal error")
	}

	if err := m.reg.BindIdentity(handle, user.ID, username); err != nil {
		if errors.Is(err, ErrUsernameBound) {
			m.log.Warn().Str("user", username).Msg("user already logged in on another connection")
			return authError("User already logged in")
		}
		return serverError("Server internal error")
	}

	m.log.Info().Int("handle", handle).Str("user", username).
		Int64("user_id", user.ID).Msg("user authenticated")
	return nil
}

// Logout unbinds the identity. No-op on a handle that is not
// authenticated; returns the username that was bound, if any. The
// unbind is a single registry operation, so when a LOGOUT frame and a
// transport disconnect race only one caller observes the binding.
func (m *SessionManager) Logout(handle int) (string, bool) {
	username, ok := m.reg.UnbindIdentity(handle)
	if !ok {
		return "", false
	}
	m.log.Info().Int("handle", handle).Str("user", username).Msg("user logged out")
	return username, true
}

// IsAuthenticated reports whether the handle has a bound identity.
func (m *SessionManager) IsAuthenticated(handle int) bool {
	client, ok := m.reg.FindByHandle(handle)
	return ok && client.Status == StatusAuthenticated
}

// BoundUsername returns the username bound to the handle.
func (m *SessionManager) BoundUsername(handle int) (string, bool) {
	client, ok := m.reg.FindByHandle(handle)
	if !ok || client.Status != StatusAuthenticated {
		return "", false
	}
	return client.Username, true
}

// BoundUserID returns the user identity bound to the handle.
func (m *SessionManager) BoundUserID(handle int) (int64, bool) {
	client, ok := m.reg.FindByHandle(handle)
	if !ok || client.Status != StatusAuthenticated {
		return 0, false
	}
	return client.UserID, true
}

// IsUserOnline reports whether some authenticated connection is bound
// to username.
func (m *SessionManager) IsUserOnline(username string) bool {
	client, ok := m.reg.FindByUsername(username)
	return ok && client.Status == StatusAuthenticated
}

// OnlineUsers returns the usernames of all authenticated connections.
func (m *SessionManager) OnlineUsers() []string {
	var names []string
	for _, c := range m.reg.Snapshot() {
		if c.Status == StatusAuthenticated {
			names = append(names, c.Username)
		}
	}
	return names
}
