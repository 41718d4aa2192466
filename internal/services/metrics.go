package services

import "github.com/prometheus/client_golang/prometheus"

// messagesDeduplicated counts create-message calls that resolved to an
// already-stored row instead of inserting a new one.
var messagesDeduplicated = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "chat_messages_deduplicated_total",
		Help: "Total number of message submissions resolved to an existing row by client_msg_id.",
	},
)

func init() {
	prometheus.MustRegister(messagesDeduplicated)
}
