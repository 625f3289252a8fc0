package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pipechat-server/internal/metrics"
	"github.com/vovakirdan/pipechat-server/internal/proto"
	"github.com/vovakirdan/pipechat-server/internal/store"
)

// Handler is the top-level per-frame logic: parse, check permissions,
// mutate the session or route, and always produce a reply.
type Handler struct {
	sessions    *SessionManager
	router      *Router
	reg         *Registry
	users       store.UserStore
	conns       FrameWriter
	requireAuth bool
	startedAt   time.Time
	log         zerolog.Logger
}

// NewHandler wires the command handler.
func NewHandler(sessions *SessionManager, router *Router, reg *Registry,
	users store.UserStore, conns FrameWriter, requireAuth bool, logger zerolog.Logger) *Handler {
	return &Handler{
		sessions:    sessions,
		router:      router,
		reg:         reg,
		users:       users,
		conns:       conns,
		requireAuth: requireAuth,
		startedAt:   time.Now(),
		log:         logger.With().Str("component", "handler").Logger(),
	}
}

// HandleFrame processes one raw frame from handle. Errors never
// propagate past this boundary; every path ends in zero or one reply.
func (h *Handler) HandleFrame(ctx context.Context, handle int, raw string) {
	metrics.FramesReceived.Inc()

	rec, err := proto.Parse(raw)
	if err != nil {
		metrics.FramesRejected.Inc()
		h.log.Warn().Err(err).Int("handle", handle).Msg("frame rejected")
		h.sendResponse(handle, proto.CodeServerError, proto.TypeError, "Failed to parse message")
		return
	}

	h.log.Debug().Int("handle", handle).Str("type", rec.Type).
		Int64("msg_id", rec.MessageID).Msg("handling frame")

	switch rec.Type {
	case proto.TypeLogin:
		h.handleLogin(ctx, handle, rec)
	case proto.TypeLogout:
		h.handleLogout(handle)
	case proto.TypeMsg, proto.TypeBroadcast, proto.TypeGroup:
		h.handleRouted(ctx, handle, rec)
	case proto.TypeHistory:
		h.handleHistory(handle, rec)
	case proto.TypeStatus:
		h.handleStatus(ctx, handle)
	case proto.TypeOK, proto.TypeError:
		// Responses from clients need no action and no reply.
		h.log.Debug().Int("handle", handle).Str("type", rec.Type).
			Msg("client response consumed")
	default:
		h.sendResponse(handle, proto.CodeServerError, proto.TypeError, "Unknown command type")
	}
}

// handleLogin extracts the username from SENDER and the credential
// from CONTENT.
func (h *Handler) handleLogin(ctx context.Context, handle int, rec *proto.Record) {
	username, credential := rec.Sender, rec.Content
	if username == "" || credential == "" {
		h.sendResponse(handle, proto.CodeAuthFailed, proto.TypeError, "Missing username or password")
		return
	}

	if err := h.sessions.Authenticate(ctx, handle, username, credential); err != nil {
		h.sendResponse(handle, err.Code, proto.TypeError, err.Message)
		return
	}

	h.sendResponse(handle, proto.CodeSuccess, proto.TypeOK, "Login successful")
	h.notifyPresence(handle, username, true)
}

func (h *Handler) handleLogout(handle int) {
	if h.requireAuth && !h.sessions.IsAuthenticated(handle) {
		h.sendResponse(handle, proto.CodeAuthFailed, proto.TypeError, "Please login first")
		return
	}

	username, wasBound := h.sessions.Logout(handle)
	h.sendResponse(handle, proto.CodeSuccess, proto.TypeOK, "Logout successful")
	if wasBound {
		h.notifyPresence(handle, username, false)
	}
}

// handleRouted covers MSG, BROADCAST and GROUP: permission checks,
// then the router decides delivery.
func (h *Handler) handleRouted(ctx context.Context, handle int, rec *proto.Record) {
	authenticated := h.sessions.IsAuthenticated(handle)
	if h.requireAuth && !authenticated {
		h.sendResponse(handle, proto.CodeAuthFailed, proto.TypeError, "Please login first")
		return
	}

	if authenticated {
		bound, _ := h.sessions.BoundUsername(handle)
		if bound != rec.Sender {
			h.log.Warn().Int("handle", handle).Str("bound", bound).
				Str("claimed", rec.Sender).Msg("sender mismatch")
			h.sendResponse(handle, proto.CodeAuthFailed, proto.TypeError, "Sender mismatch")
			return
		}
	}

	if err := h.router.Route(ctx, handle, rec); err != nil {
		h.sendResponse(handle, err.Code, proto.TypeError, err.Message)
		return
	}

	reply := "Message sent successfully"
	if rec.Type == proto.TypeBroadcast {
		reply = "Broadcast sent successfully"
	}
	h.sendResponse(handle, proto.CodeSuccess, proto.TypeOK, reply)
}

// handleHistory acknowledges the request shape but the feature is a
// contract stub.
func (h *Handler) handleHistory(handle int, rec *proto.Record) {
	if h.requireAuth && !h.sessions.IsAuthenticated(handle) {
		h.sendResponse(handle, proto.CodeAuthFailed, proto.TypeError, "Please login first")
		return
	}

	// CONTENT packs target|from|to; parsed for the log only.
	parts := strings.SplitN(rec.Content, "|", 3)
	target := "all"
	if len(parts) > 0 && parts[0] != "" {
		target = parts[0]
	}
	h.log.Debug().Str("user", rec.Sender).Str("target", target).Msg("history request")

	h.sendResponse(handle, proto.CodeServerError, proto.TypeError, "History feature not implemented yet")
}

func (h *Handler) handleStatus(ctx context.Context, handle int) {
	authenticated := h.sessions.IsAuthenticated(handle)
	if h.requireAuth && !authenticated {
		h.sendResponse(handle, proto.CodeAuthFailed, proto.TypeError, "Please login first")
		return
	}

	own := "Offline"
	if authenticated {
		own = "Online"
	}

	status := fmt.Sprintf(
		"Server Status:\n"+
			"- Uptime: %s\n"+
			"- Connected clients: %d\n"+
			"- Online users: %d\n"+
			"- Total users: %d\n"+
			"- Your status: %s",
		time.Since(h.startedAt).Round(time.Second),
		h.reg.Count(),
		len(h.sessions.OnlineUsers()),
		h.users.Count(ctx),
		own)

	h.sendResponse(handle, proto.CodeSuccess, proto.TypeOK, status)
}

// HandleDisconnect runs when the transport loses a connection for any
// reason: implicit logout, presence notice, registry removal.
func (h *Handler) HandleDisconnect(handle int) {
	username, wasBound := h.sessions.Logout(handle)
	h.reg.Remove(handle)
	h.log.Info().Int("handle", handle).Str("user", username).Msg("connection closed")
	if wasBound {
		h.notifyPresence(handle, username, false)
	}
}

// notifyPresence broadcasts the online/offline notice to everyone but
// the affected handle.
func (h *Handler) notifyPresence(handle int, username string, online bool) {
	var frame string
	var err error
	if online {
		frame, err = proto.BuildUserOnline(username)
	} else {
		frame, err = proto.BuildUserOffline(username)
	}
	if err != nil {
		h.log.Warn().Err(err).Str("user", username).Msg("presence frame build failed")
		return
	}
	h.router.BroadcastFrame(handle, []byte(frame))
}

// sendResponse is the single reply path. Write failures are logged;
// the transport schedules the connection for removal.
func (h *Handler) sendResponse(handle int, code int, kind, message string) {
	frame, err := proto.BuildResponse(code, kind, message)
	if err != nil {
		h.log.Error().Err(err).Int("handle", handle).Msg("response build failed")
		return
	}
	if err := h.conns.WriteFrame(handle, []byte(frame)); err != nil {
		h.log.Warn().Err(err).Int("handle", handle).Msg("response write failed")
	}
}
