// Package metrics exposes Prometheus instruments for playlist replication.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Inbound envelope metrics
var (
	EnvelopesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchparty_envelopes_received_total",
			Help: "Total number of inbound sync envelopes by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	DecodeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchparty_decode_failures_total",
			Help: "Total number of inbound payloads dropped by the codec",
		},
		[]string{"source", "reason"},
	)
)

// Outbound envelope metrics
var (
	SendAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchparty_send_attempts_total",
			Help: "Total number of transport send attempts by channel and result",
		},
		[]string{"channel", "result"},
	)

	OutboxDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchparty_outbox_dropped_total",
			Help: "Total number of envelopes dropped because the send queue was full",
		},
	)

	OutboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watchparty_outbox_depth",
			Help: "Number of envelopes waiting to be sent",
		},
	)
)

// Reconciliation metrics
var (
	ResyncRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchparty_resync_requests_total",
			Help: "Total number of REQUEST_SYNC broadcasts issued by the scheduler",
		},
	)

	SnapshotAdoptionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchparty_snapshot_adoptions_total",
			Help: "Total number of foreign snapshots adopted",
		},
	)

	PlaylistLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watchparty_playlist_length",
			Help: "Number of items in the local playlist",
		},
	)
)
