package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_messages_sent_total",
		Help: "Messages accepted by the delivery state machine.",
	})
	ReceiptFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_receipt_flushes_total",
		Help: "Read-receipt batch flushes written to the store.",
	})
	ReceiptEventsCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_receipt_events_coalesced_total",
		Help: "Individual read events absorbed into batches.",
	})
	TypingSignals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_typing_signals_total",
		Help: "Typing signal writes after debounce.",
	})
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_reconnects_total",
		Help: "Real-time channel reconnection attempts.",
	})
	FallbackActivations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_fallback_activations_total",
		Help: "Transitions into degraded (polling) mode.",
	})
	EventsRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_events_relayed_total",
		Help: "Change events relayed to subscribers.",
	})
	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_connection_state",
		Help: "Current connection mode (0 disconnected, 1 connecting, 2 live, 3 degraded).",
	})
)

// Handler returns the http.Handler for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
