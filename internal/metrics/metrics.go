// Package metrics exposes Prometheus instrumentation for draft persistence and upload.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the draft store, upload pipeline and sync loop.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Draft commits by kind and result ("ok", "error")
	DraftWrites *prometheus.CounterVec

	// Compensating asset deletions after a failed commit, by result
	AssetCompensations *prometheus.CounterVec

	// Upload outcomes by kind and outcome
	UploadOutcomes *prometheus.CounterVec

	// Remote call latency by operation
	RemoteLatency *prometheus.HistogramVec

	// Pending drafts by kind
	PendingDrafts *prometheus.GaugeVec

	// Duration of one sync pass
	SyncPassDuration prometheus.Histogram

	// Connectivity as last observed (1 online, 0 offline)
	Online prometheus.Gauge
}

// New creates a Metrics instance registered on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		DraftWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vxnaid_draft_writes_total",
			Help: "Draft commits by kind and result",
		}, []string{"kind", "result"}),

		AssetCompensations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vxnaid_asset_compensations_total",
			Help: "Asset deletions performed after a failed draft commit",
		}, []string{"result"}),

		UploadOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vxnaid_upload_outcomes_total",
			Help: "Upload attempts by kind and outcome",
		}, []string{"kind", "outcome"}), // outcome: "uploaded", "duplicate", "conflict", "transient", "precondition", "error"

		RemoteLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vxnaid_remote_call_duration_seconds",
			Help:    "Duration of remote API calls by operation",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"op"}),

		PendingDrafts: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vxnaid_pending_drafts",
			Help: "Drafts awaiting upload by kind",
		}, []string{"kind"}),

		SyncPassDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vxnaid_sync_pass_duration_seconds",
			Help:    "Duration of one sync pass over pending drafts",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		Online: f.NewGauge(prometheus.GaugeOpts{
			Name: "vxnaid_online",
			Help: "Remote reachability as last observed by the connectivity monitor",
		}),
	}
}

// IncrementDraftWrite records a draft commit result.
func (m *Metrics) IncrementDraftWrite(kind string, err error) {
	if m != nil {
		m.DraftWrites.WithLabelValues(kind, result(err)).Inc()
	}
}

// IncrementAssetCompensation records a compensating asset deletion.
func (m *Metrics) IncrementAssetCompensation(err error) {
	if m != nil {
		m.AssetCompensations.WithLabelValues(result(err)).Inc()
	}
}

// IncrementUploadOutcome records the outcome of one upload attempt.
func (m *Metrics) IncrementUploadOutcome(kind, outcome string) {
	if m != nil {
		m.UploadOutcomes.WithLabelValues(kind, outcome).Inc()
	}
}

// ObserveRemoteLatency records the duration of a remote call.
func (m *Metrics) ObserveRemoteLatency(op string, d time.Duration) {
	if m != nil {
		m.RemoteLatency.WithLabelValues(op).Observe(d.Seconds())
	}
}

// SetPending sets the pending-draft gauges.
func (m *Metrics) SetPending(participants, visits int) {
	if m != nil {
		m.PendingDrafts.WithLabelValues("participant").Set(float64(participants))
		m.PendingDrafts.WithLabelValues("visit").Set(float64(visits))
	}
}

// ObserveSyncPass records the duration of a sync pass.
func (m *Metrics) ObserveSyncPass(d time.Duration) {
	if m != nil {
		m.SyncPassDuration.Observe(d.Seconds())
	}
}

// SetOnline records the connectivity state.
func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.Online.Set(1)
	} else {
		m.Online.Set(0)
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
