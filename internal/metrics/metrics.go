package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "viewsynth"

var (
	draws = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draws_total",
			Help:      "Sampling draws by result (accepted, exhausted)",
		},
		[]string{"result"},
	)

	drawAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "draw_attempts",
			Help:      "Rejection attempts needed per accepted draw",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
	)

	renderLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "draw_duration_seconds",
			Help:      "Duration of one synchronized draw including rejections",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Total jobs processed by result (success, failed, dlq, cancelled)",
		},
		[]string{"result"},
	)

	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Total number of job retries",
		},
	)

	samplesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_written_total",
			Help:      "Samples written, labeled by sampler mode",
		},
		[]string{"mode"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Queue depth gauges for stream, delayed and dlq",
		},
		[]string{"type"},
	)
)

var once sync.Once

// Init registers collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(draws, drawAttempts, renderLatency, jobsProcessed, retriesTotal, samplesWritten, queueDepth)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveDraw(attempts int, dur time.Duration) {
	draws.WithLabelValues("accepted").Inc()
	drawAttempts.Observe(float64(attempts))
	renderLatency.Observe(dur.Seconds())
}

func IncExhausted()                 { draws.WithLabelValues("exhausted").Inc() }
func IncProcessed(result string)    { jobsProcessed.WithLabelValues(result).Inc() }
func IncRetry()                     { retriesTotal.Inc() }
func IncSamples(mode string, n int) { samplesWritten.WithLabelValues(mode).Add(float64(n)) }

func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }
