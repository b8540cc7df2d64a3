package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Controller metrics
	WorkersLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudcom_workers_live",
			Help: "Number of workers currently considered live",
		},
	)

	WorkersDown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudcom_workers_down",
			Help: "Number of registered workers currently marked down",
		},
	)

	HeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudcom_heartbeats_total",
			Help: "Total number of heartbeats received by the controller",
		},
	)

	DetectorDownMarkingsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudcom_detector_down_markings_total",
			Help: "Total number of workers flipped to down by the failure detector",
		},
	)

	MapQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudcom_map_queries_total",
			Help: "Total number of replica-set queries by status",
		},
		[]string{"status"},
	)

	// Recovery metrics
	RecoveryCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudcom_recovery_cycles_total",
			Help: "Total number of recovery cycles completed",
		},
	)

	RecoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cloudcom_recovery_duration_seconds",
			Help:    "Time taken for a recovery cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RecoveryDeficit = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudcom_recovery_deficit_keys",
			Help: "Key-replica pairs still missing after the last recovery cycle",
		},
	)

	KeysPulledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudcom_keys_pulled_total",
			Help: "Total number of keys successfully pulled during recovery",
		},
	)

	KeysPullFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudcom_keys_pull_failed_total",
			Help: "Total number of keys that failed to pull during recovery",
		},
	)

	// Worker metrics
	PutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudcom_puts_total",
			Help: "Total number of coordinated PUTs by outcome",
		},
		[]string{"outcome"},
	)

	PutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cloudcom_put_duration_seconds",
			Help:    "Time from PUT receipt to client response in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReplicateSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudcom_replicate_sends_total",
			Help: "Total number of replicate requests sent by outcome",
		},
		[]string{"outcome"},
	)

	ReplicateReceivesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudcom_replicate_receives_total",
			Help: "Total number of replicate requests applied locally",
		},
	)

	StoreKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudcom_store_keys",
			Help: "Number of keys currently held in the local store",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(WorkersLive)
	prometheus.MustRegister(WorkersDown)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(DetectorDownMarkingsTotal)
	prometheus.MustRegister(MapQueriesTotal)
	prometheus.MustRegister(RecoveryCyclesTotal)
	prometheus.MustRegister(RecoveryDuration)
	prometheus.MustRegister(RecoveryDeficit)
	prometheus.MustRegister(KeysPulledTotal)
	prometheus.MustRegister(KeysPullFailedTotal)
	prometheus.MustRegister(PutsTotal)
	prometheus.MustRegister(PutDuration)
	prometheus.MustRegister(ReplicateSendsTotal)
	prometheus.MustRegister(ReplicateReceivesTotal)
	prometheus.MustRegister(StoreKeys)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}
