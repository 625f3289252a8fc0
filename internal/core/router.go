package core

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pipechat-server/internal/metrics"
	"github.com/vovakirdan/pipechat-server/internal/proto"
	"github.com/vovakirdan/pipechat-server/internal/store"
)

// FrameWriter delivers a serialized frame to a connection. A write
// failure marks the connection dead; the transport deregisters it on
// its next tick.
type FrameWriter interface {
	WriteFrame(handle int, frame []byte) error
}

// Router turns a verified record into zero or more socket writes. The
// caller guarantees rec.Sender equals the authenticated username of
// the source handle.
type Router struct {
	reg   *Registry
	users store.UserStore
	conns FrameWriter
	log   zerolog.Logger
}

// NewRouter builds a router over the registry, credential store and
// connection writer.
func NewRouter(reg *Registry, users store.UserStore, conns FrameWriter, logger zerolog.Logger) *Router {
	return &Router{
		reg:   reg,
		users: users,
		conns: conns,
		log:   logger.With().Str("component", "router").Logger(),
	}
}

// Route dispatches rec by type. src is used only to exclude the
// sender from broadcasts. A nil return means delivered.
func (r *Router) Route(ctx context.Context, src int, rec *proto.Record) *Error {
	var err *Error
	switch rec.Type {
	case proto.TypeMsg:
		err = r.routePrivate(ctx, rec)
	case proto.TypeBroadcast:
		err = r.routeBroadcast(src, rec)
	case proto.TypeGroup:
		err = serverError("Group feature not implemented yet")
	case proto.TypeLogin, proto.TypeLogout, proto.TypeHistory, proto.TypeStatus:
		// Command records; the handler owns them.
	case proto.TypeOK, proto.TypeError:
		// Responses from clients are consumed silently.
	default:
		err = serverError("Unknown message type")
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.MessagesRouted.WithLabelValues(rec.Type, result).Inc()
	return err
}

func (r *Router) routePrivate(ctx context.Context, rec *proto.Record) *Error {
	target, ok := r.reg.FindByUsername(rec.Receiver)
	if !ok || target.Status != StatusAuthenticated {
		if _, err := r.users.LookupByName(ctx, rec.Receiver); err == nil {
			r.log.Warn().Str("to", rec.Receiver).Msg("recipient offline")
			return coreError(proto.CodeUserOffline, "User is offline")
		}
		r.log.Warn().Str("to", rec.Receiver).Msg("recipient unknown")
		return coreError(proto.CodeUserNotFound, "User not found")
	}

	frame := proto.Serialize(rec)
	if err := r.conns.WriteFrame(target.Handle, []byte(frame)); err != nil {
		r.log.Error().Err(err).Str("from", rec.Sender).Str("to", rec.Receiver).
			Msg("private delivery failed")
		return serverError("Failed to send message")
	}

	rec.Delivered = true
	r.log.Info().Str("from", rec.Sender).Str("to", rec.Receiver).
		Int64("msg_id", rec.MessageID).Msg("private message delivered")
	return nil
}

func (r *Router) routeBroadcast(src int, rec *proto.Record) *Error {
	frame := []byte(proto.Serialize(rec))

	delivered, eligible := r.broadcastFrame(src, frame)
	r.log.Info().Str("from", rec.Sender).Int("delivered", delivered).
		Int("eligible", eligible).Msg("broadcast routed")

	if delivered == 0 {
		return serverError("Failed to broadcast message")
	}
	rec.Delivered = true
	return nil
}

// BroadcastFrame writes a pre-serialized frame to every authenticated
// connection except exclude. Used for presence notifications; partial
// failures are logged, not propagated.
func (r *Router) BroadcastFrame(exclude int, frame []byte) int {
	delivered, _ := r.broadcastFrame(exclude, frame)
	return delivered
}

func (r *Router) broadcastFrame(exclude int, frame []byte) (delivered, eligible int) {
	for _, c := range r.reg.Snapshot() {
		if c.Status != StatusAuthenticated {
			continue
		}
		eligible++
		if c.Handle == exclude {
			continue
		}
		if err := r.conns.WriteFrame(c.Handle, frame); err != nil {
			r.log.Warn().Err(err).Int("handle", c.Handle).Str("user", c.Username).
				Msg("broadcast delivery failed")
			continue
		}
		delivered++
	}
	return delivered, eligible
}
