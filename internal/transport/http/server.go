// Package http is the admin surface: liveness, a JSON status view of
// the chat server, and Prometheus metrics. It is optional and runs
// only when an admin address is configured.
package http

import (
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pipechat-server/internal/core"
)

// NewServer builds the admin HTTP server.
func NewServer(addr string, h *AdminHandlers, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", h.Health)
	r.GET("/api/status", h.Status)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	logger.Info().Str("addr", addr).Msg("admin endpoint configured")

	return &stdhttp.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// AdminHandlers serves the read-only admin views.
type AdminHandlers struct {
	reg       *core.Registry
	sessions  *core.SessionManager
	startedAt time.Time
	log       *zerolog.Logger
}

// NewAdminHandlers creates the admin handlers over live server state.
func NewAdminHandlers(reg *core.Registry, sessions *core.SessionManager, logger *zerolog.Logger) *AdminHandlers {
	return &AdminHandlers{
		reg:       reg,
		sessions:  sessions,
		startedAt: time.Now(),
		log:       logger,
	}
}

// StatusResponse is the /api/status body.
type StatusResponse struct {
	UptimeSeconds int64        `json:"uptime_seconds"`
	Connections   int          `json:"connections"`
	OnlineUsers   []string     `json:"online_users"`
	Clients       []ClientView `json:"clients"`
}

// ClientView is one registry entry as exposed to the admin API.
type ClientView struct {
	ID          int64  `json:"id"`
	Username    string `json:"username,omitempty"`
	Status      string `json:"status"`
	RemoteIP    string `json:"remote_ip"`
	TraceID     string `json:"trace_id"`
	ConnectedAt string `json:"connected_at"`
}

// Health reports liveness.
// GET /health
func (h *AdminHandlers) Health(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}

// Status reports connection and presence state.
// GET /api/status
func (h *AdminHandlers) Status(c *gin.Context) {
	snapshot := h.reg.Snapshot()
	clients := make([]ClientView, 0, len(snapshot))
	for _, cl := range snapshot {
		clients = append(clients, ClientView{
			ID:          cl.ID,
			Username:    cl.Username,
			Status:      cl.Status.String(),
			RemoteIP:    cl.RemoteIP,
			TraceID:     cl.TraceID,
			ConnectedAt: cl.ConnectedAt.UTC().Format(time.RFC3339),
		})
	}

	online := h.sessions.OnlineUsers()
	if online == nil {
		online = []string{}
	}

	c.JSON(stdhttp.StatusOK, StatusResponse{
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Connections:   len(snapshot),
		OnlineUsers:   online,
		Clients:       clients,
	})
}
