package observe

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	onlineClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tcpchat_online_clients",
		Help: "Number of clients that completed the nickname handshake and are still connected",
	})

	relayedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcpchat_relayed_messages_total",
			Help: "Total chat payloads fanned out, by origin",
		},
		[]string{"origin"}, // local|remote
	)

	noticesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcpchat_notices_total",
			Help: "Total system notices broadcast, by kind",
		},
		[]string{"kind"}, // join|leave
	)

	sendFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tcpchat_send_failures_total",
		Help: "Total deliveries that failed and evicted the recipient",
	})

	handshakeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tcpchat_handshake_failures_total",
		Help: "Total connections that closed before completing the nickname handshake",
	})

	rejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tcpchat_rejected_connections_total",
		Help: "Total connections refused because the server was full",
	})
)

func init() {
	prometheus.MustRegister(
		onlineClients,
		relayedTotal,
		noticesTotal,
		sendFailuresTotal,
		handshakeFailuresTotal,
		rejectedTotal,
	)
}

// AddOnline moves the online client gauge by delta.
func AddOnline(delta float64) { onlineClients.Add(delta) }

// IncRelayed counts one fanned-out chat payload; origin is "local" or "remote".
func IncRelayed(origin string) { relayedTotal.WithLabelValues(origin).Inc() }

// IncNotice counts one broadcast system notice of the given kind.
func IncNotice(kind string) { noticesTotal.WithLabelValues(kind).Inc() }

// IncSendFailure counts a delivery that failed and evicted its recipient.
func IncSendFailure() { sendFailuresTotal.Inc() }

// IncHandshakeFailure counts a connection lost before the nickname handshake completed.
func IncHandshakeFailure() { handshakeFailuresTotal.Inc() }

// IncRejected counts a connection refused because the server was full.
func IncRejected() { rejectedTotal.Inc() }
