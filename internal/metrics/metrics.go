// Package metrics exposes the server's Prometheus collectors. They are
// registered on the default registry and served by the admin endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks live entries in the connection registry.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipechat_connections_active",
		Help: "Number of live client connections.",
	})

	// ConnectionsRefused counts accepts refused at the max-clients cap.
	ConnectionsRefused = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipechat_connections_refused_total",
		Help: "Connections closed immediately because the client cap was reached.",
	})

	// FramesReceived counts frames handed to the command handler.
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipechat_frames_received_total",
		Help: "Frames read from client connections.",
	})

	// FramesRejected counts frames the codec refused to parse.
	FramesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipechat_frames_rejected_total",
		Help: "Frames rejected at the codec boundary.",
	})

	// MessagesRouted counts routing outcomes by record type and result.
	MessagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipechat_messages_routed_total",
		Help: "Routed records by type and result.",
	}, []string{"type", "result"})
)
