// Package metrics declares the Prometheus collectors of the signing engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Signing actions
	SigningActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signflow_signing_actions_total",
		Help: "Signer submissions by operation and result code.",
	}, []string{"operation", "code"}) // code "0" on success

	CollectionsFinalizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signflow_collections_finalized_total",
		Help: "Collections that reached Signed, by signing mode.",
	}, []string{"mode"})

	SigningLinksSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signflow_signing_links_sent_total",
		Help: "Signing links dispatched, by sending method.",
	}, []string{"method"})

	// Step-up authentication
	OtpCodesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signflow_otp_codes_sent_total",
		Help: "One-time codes generated and dispatched.",
	})
	OtpVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signflow_otp_verifications_total",
		Help: "One-time code verifications by result.",
	}, []string{"result"}) // "valid", "invalid", "locked"

	// Infrastructure
	TxRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signflow_tx_retries_total",
		Help: "Transactions re-run after a transient database failure.",
	})
	AttachmentScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "signflow_attachment_scan_duration_seconds",
		Help:    "Latency of malware scans.",
		Buckets: prometheus.DefBuckets,
	})
)
