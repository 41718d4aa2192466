package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	// wsSessions gauges live authenticated sessions.
	wsSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_sessions_active",
			Help: "Current number of authenticated websocket sessions.",
		},
	)

	// wsFrames counts inbound frames by action. Unknown actions share one
	// label value to keep cardinality bounded.
	wsFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_frames_total",
			Help: "Total number of inbound websocket frames by action.",
		},
		[]string{"action"},
	)

	// wsBroadcastFailures counts per-recipient send failures during fan-out.
	wsBroadcastFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_broadcast_failures_total",
			Help: "Total number of broadcast deliveries that failed and dropped the recipient.",
		},
	)

	// wsAuthFailures counts connections closed during authentication.
	wsAuthFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_auth_failures_total",
			Help: "Total number of websocket connections rejected during authentication.",
		},
	)
)

func init() {
	prometheus.MustRegister(wsSessions, wsFrames, wsBroadcastFailures, wsAuthFailures)
}

func frameLabel(action string) string {
	switch action {
	case ActionAuth, ActionSubscribe, ActionUnsubscribe, ActionSendMessage, ActionTyping, ActionReadMessages:
		return action
	default:
		return "unknown"
	}
}
