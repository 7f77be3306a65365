package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransactionsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fraudwatch_transactions_ingested_total",
		Help: "Total number of transactions applied to the aggregation store.",
	})

	FraudTransactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fraudwatch_fraud_transactions_total",
		Help: "Total number of transactions counted as fraud.",
	})

	BlockedAmount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fraudwatch_blocked_amount_brl",
		Help: "Cumulative BRL amount of transactions classified as fraud.",
	})

	FraudRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fraudwatch_fraud_rate_percent",
		Help: "Percentage of all ingested transactions classified as fraud.",
	})

	Anomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudwatch_anomalies_total",
		Help: "Data-quality anomalies found on ingested records, labelled by kind.",
	}, []string{"kind"})

	ListenerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fraudwatch_listener_failures_total",
		Help: "Total number of store listeners that panicked during notification.",
	})

	BatchesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudwatch_batches_received_total",
		Help: "Total number of batches delivered to the store, labelled by source.",
	}, []string{"source"})

	RecordsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudwatch_records_rejected_total",
		Help: "Records skipped because they could not be decoded, labelled by source.",
	}, []string{"source"})

	TransportReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fraudwatch_transport_reconnects_total",
		Help: "Total number of channel rejoin attempts after a transport failure.",
	})

	TransportConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fraudwatch_transport_connected",
		Help: "1 while the ingestion channel is joined, 0 otherwise.",
	})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudwatch_webhook_deliveries_total",
		Help: "Alert webhook deliveries, labelled by outcome.",
	}, []string{"status"})

	WebhookDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fraudwatch_webhook_dropped_total",
		Help: "Alert webhook jobs rejected because the delivery queue was full.",
	})

	WebhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fraudwatch_webhook_duration_ms",
		Help:    "Alert webhook round-trip latency in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fraudwatch_stream_clients",
		Help: "Number of connected state-stream clients.",
	})
)
