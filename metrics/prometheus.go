package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver exports engine events as Prometheus metrics.
type PrometheusObserver struct {
	opLatency      *prometheus.HistogramVec
	commitLatency  *prometheus.HistogramVec
	commits        *prometheus.CounterVec
	committedKeys  prometheus.Counter
	committedBytes prometheus.Counter
	compactions    *prometheus.CounterVec
	movedRecords   prometheus.Counter
	queueDepth     *prometheus.GaugeVec
}

var _ Observer = (*PrometheusObserver)(nil)

// NewPrometheusObserver creates the collectors and registers them with reg.
// A nil reg skips registration.
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	o := &PrometheusObserver{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hlkvds_operation_latency_seconds",
			Help:    "Latency of foreground operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "status"}),
		commitLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hlkvds_segment_commit_seconds",
			Help:    "Latency of segment commits",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"shard"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hlkvds_segment_commits_total",
			Help: "Segment commits by trigger and outcome",
		}, []string{"trigger", "status"}),
		committedKeys: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlkvds_committed_keys_total",
			Help: "Records committed by request segments",
		}),
		committedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlkvds_committed_bytes_total",
			Help: "Record bytes committed by request segments",
		}),
		compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hlkvds_compactions_total",
			Help: "Compaction and migration passes",
		}, []string{"status"}),
		movedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlkvds_relocated_records_total",
			Help: "Records rewritten by compaction or migration",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hlkvds_shard_queue_depth",
			Help: "Requests waiting for a shard writer",
		}, []string{"shard"}),
	}

	if reg != nil {
		reg.MustRegister(
			o.opLatency,
			o.commitLatency,
			o.commits,
			o.committedKeys,
			o.committedBytes,
			o.compactions,
			o.movedRecords,
			o.queueDepth,
		)
	}
	return o
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// OnRequest implements Observer.
func (o *PrometheusObserver) OnRequest(op string, d time.Duration, err error) {
	o.opLatency.WithLabelValues(op, status(err)).Observe(d.Seconds())
}

// OnCommit implements Observer.
func (o *PrometheusObserver) OnCommit(shard, keys, bytes int, d time.Duration, expired bool, err error) {
	trigger := "full"
	if expired {
		trigger = "timeout"
	}
	o.commits.WithLabelValues(trigger, status(err)).Inc()
	o.commitLatency.WithLabelValues(strconv.Itoa(shard)).Observe(d.Seconds())
	if err == nil {
		o.committedKeys.Add(float64(keys))
		o.committedBytes.Add(float64(bytes))
	}
}

// OnCompaction implements Observer.
func (o *PrometheusObserver) OnCompaction(_, moved int, _ time.Duration, err error) {
	o.compactions.WithLabelValues(status(err)).Inc()
	if err == nil {
		o.movedRecords.Add(float64(moved))
	}
}

// OnQueueDepth implements Observer.
func (o *PrometheusObserver) OnQueueDepth(shard, depth int) {
	o.queueDepth.WithLabelValues(strconv.Itoa(shard)).Set(float64(depth))
}
