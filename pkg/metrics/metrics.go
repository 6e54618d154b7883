// Package metrics provides Prometheus metrics for the clover service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerSubmissionsTotal tracks ledger transactions by method and outcome
	LedgerSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "ledger",
			Name:      "submissions_total",
			Help:      "Total number of ledger transactions by method and outcome",
		},
		[]string{"method", "status"},
	)

	// LedgerConfirmationDuration tracks time from submission to inclusion
	LedgerConfirmationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "ledger",
			Name:      "confirmation_duration_seconds",
			Help:      "Time from ledger submission to confirmation in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"method"},
	)

	// LedgerNonce is the last nonce used per signing account
	LedgerNonce = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clover",
			Subsystem: "ledger",
			Name:      "nonce",
			Help:      "Last nonce submitted by the signing account",
		},
		[]string{"account"},
	)

	// DualWriteTotal tracks ledger-then-mirror operations by outcome
	DualWriteTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "coordinator",
			Name:      "operations_total",
			Help:      "Total number of dual-write operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	// InFlightOperations tracks submitted operations awaiting confirmation or mirror write
	InFlightOperations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clover",
			Subsystem: "coordinator",
			Name:      "in_flight",
			Help:      "Operations submitted to the ledger whose mirror write has not finished",
		},
	)

	// ReconcileEntriesTotal tracks reconciliation entries by operation and status
	ReconcileEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "reconcile",
			Name:      "entries_total",
			Help:      "Total number of reconciliation entries by operation and status",
		},
		[]string{"operation", "status"},
	)

	// TransfersTotal tracks confirmed transfers between roles
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "batch",
			Name:      "transfers_total",
			Help:      "Total number of confirmed batch transfers by role pair",
		},
		[]string{"from_role", "to_role"},
	)

	// TransferRejectionsTotal tracks transfers rejected before reaching the ledger
	TransferRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "batch",
			Name:      "transfer_rejections_total",
			Help:      "Total number of transfers rejected before ledger submission by error kind",
		},
		[]string{"kind"},
	)

	// HTTPRequestDuration tracks API latency by route and status code
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// KafkaMessagesPublished tracks messages published to Kafka
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"topic"},
	)
)

func RecordLedgerSubmission(method, status string) {
	LedgerSubmissionsTotal.WithLabelValues(method, status).Inc()
}

func RecordLedgerConfirmation(method string, elapsed time.Duration) {
	LedgerConfirmationDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func SetLedgerNonce(account string, nonce uint64) {
	LedgerNonce.WithLabelValues(account).Set(float64(nonce))
}

func RecordDualWrite(operation, outcome string) {
	DualWriteTotal.WithLabelValues(operation, outcome).Inc()
}

func RecordReconcileEntry(operation, status string) {
	ReconcileEntriesTotal.WithLabelValues(operation, status).Inc()
}

func RecordTransfer(fromRole, toRole string) {
	TransfersTotal.WithLabelValues(fromRole, toRole).Inc()
}

func RecordTransferRejection(kind string) {
	TransferRejectionsTotal.WithLabelValues(kind).Inc()
}

func RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.WithLabelValues(topic).Observe(durationSeconds)
}
