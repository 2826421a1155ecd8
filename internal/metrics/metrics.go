package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rice",
		Name:      "peers_connected",
		Help:      "Number of connected gossip peers.",
	})

	KnownTxs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rice",
		Name:      "known_txs",
		Help:      "Size of the shared known-transaction set.",
	})

	MiningTxs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rice",
		Name:      "mining_txs",
		Help:      "Size of the current mining-transaction set.",
	})

	ForgottenTxCaches = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rice",
		Name:      "forgotten_tx_caches",
		Help:      "Depth of the recently-forgotten transaction snapshot ring.",
	})

	ProtocolViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rice",
		Name:      "protocol_violations_total",
		Help:      "Peers disconnected for protocol violations.",
	})

	SharesValidated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rice",
		Name:      "shares_validated_total",
		Help:      "Shares parsed and validated successfully.",
	})

	SharesInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rice",
		Name:      "shares_invalid_total",
		Help:      "Shares rejected by parsing or validation.",
	})

	TasksBuilt = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rice",
		Name:      "tasks_built_total",
		Help:      "Mining tasks constructed from block templates.",
	})

	TasksPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rice",
		Name:      "tasks_published_total",
		Help:      "Mining tasks handed to the publisher.",
	})

	BlockNotifies = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rice",
		Name:      "block_notifies_total",
		Help:      "Distinct block-notify hashes received.",
	})
)

func init() {
	prometheus.MustRegister(
		PeersConnected,
		KnownTxs,
		MiningTxs,
		ForgottenTxCaches,
		ProtocolViolations,
		SharesValidated,
		SharesInvalid,
		TasksBuilt,
		TasksPublished,
		BlockNotifies,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
