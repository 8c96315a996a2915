package service

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector tracks counts and latencies of the core operations
type MetricsCollector struct {
	votesCast     prometheus.Counter
	castRejected  *prometheus.CounterVec
	castDuration  prometheus.Histogram
	faceAuth      *prometheus.CounterVec
	lockouts      prometheus.Counter
	ovtsIssued    prometheus.Counter
	tallyDuration prometheus.Histogram
	ledgerVerify  *prometheus.CounterVec
}

// NewMetricsCollector registers the collectors with promRegistry. A nil
// registry creates unregistered collectors.
func NewMetricsCollector(promRegistry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(promRegistry)
	return &MetricsCollector{
		votesCast: factory.NewCounter(prometheus.CounterOpts{
			Name: "ballotguard_votes_cast_total",
			Help: "ballots committed to the ledger",
		}),
		castRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ballotguard_votes_rejected_total",
			Help: "ballots rejected, by error code",
		}, []string{"code"}),
		castDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ballotguard_cast_duration_seconds",
			Help:    "time to accept a ballot including the receipt signature",
			Buckets: prometheus.DefBuckets,
		}),
		faceAuth: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ballotguard_face_auth_total",
			Help: "face verifications, by outcome",
		}, []string{"pass"}),
		lockouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "ballotguard_face_auth_lockouts_total",
			Help: "voter lockouts started after repeated face verification failures",
		}),
		ovtsIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "ballotguard_ovts_issued_total",
			Help: "one-time voting tokens issued",
		}),
		tallyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ballotguard_tally_duration_seconds",
			Help:    "time to verify the ledger and decrypt an election's totals",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		ledgerVerify: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ballotguard_ledger_verifications_total",
			Help: "ledger verifications, by result",
		}, []string{"status"}),
	}
}

func (mc *MetricsCollector) RecordVote(duration time.Duration) {
	mc.votesCast.Inc()
	mc.castDuration.Observe(duration.Seconds())
}

func (mc *MetricsCollector) RecordRejection(code string) {
	mc.castRejected.WithLabelValues(code).Inc()
}

func (mc *MetricsCollector) RecordFaceAuth(pass bool) {
	mc.faceAuth.WithLabelValues(strconv.FormatBool(pass)).Inc()
}

func (mc *MetricsCollector) RecordLockout() {
	mc.lockouts.Inc()
}

func (mc *MetricsCollector) RecordOVTIssued() {
	mc.ovtsIssued.Inc()
}

func (mc *MetricsCollector) RecordTally(duration time.Duration) {
	mc.tallyDuration.Observe(duration.Seconds())
}

func (mc *MetricsCollector) RecordLedgerVerify(status string) {
	mc.ledgerVerify.WithLabelValues(status).Inc()
}
