// Package metrics exposes scrape engine counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes used as label values
const (
	OutcomeDownloaded = "downloaded"
	OutcomeExisting   = "existing"
	OutcomeFailed     = "failed"
	OutcomeProcessed  = "processed"
	OutcomeSkipped    = "skipped"
)

// Recorder is what the pipeline, the scrape runner and the job controller
// report to.
type Recorder interface {
	RecordDownload(outcome string, bytes int64, duration time.Duration)
	RecordRetry()
	RecordItem(outcome string)
	RecordAuth(method string, ok bool)
	RecordRunFinished(state string)
	SetJobRunning(running bool)
}

// Collector is the Prometheus backed Recorder.
type Collector struct {
	downloads       *prometheus.CounterVec
	downloadBytes   prometheus.Counter
	downloadLatency prometheus.Histogram
	retries         prometheus.Counter
	items           *prometheus.CounterVec
	auth            *prometheus.CounterVec
	runs            *prometheus.CounterVec
	jobRunning      prometheus.Gauge
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "instasave_downloads_total",
			Help: "Media downloads by outcome",
		}, []string{"outcome"}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "instasave_download_bytes_total",
			Help: "Bytes written to the media root",
		}),
		downloadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "instasave_download_latency_seconds",
			Help:    "Time spent downloading one media file including retries",
			Buckets: prometheus.DefBuckets,
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "instasave_download_retries_total",
			Help: "Download attempts repeated after a transient failure",
		}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "instasave_items_total",
			Help: "Saved items handled by the scrape runner by outcome",
		}, []string{"outcome"}),
		auth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "instasave_auth_attempts_total",
			Help: "Authentication attempts by method and result",
		}, []string{"method", "result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "instasave_runs_total",
			Help: "Finished scrape runs by final state",
		}, []string{"state"}),
		jobRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "instasave_job_running",
			Help: "1 while a scrape job is running",
		}),
	}

	reg.MustRegister(
		c.downloads,
		c.downloadBytes,
		c.downloadLatency,
		c.retries,
		c.items,
		c.auth,
		c.runs,
		c.jobRunning,
	)

	return c
}

// RecordDownload counts one media file and its size and latency.
func (c *Collector) RecordDownload(outcome string, bytes int64, duration time.Duration) {
	c.downloads.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		c.downloadBytes.Add(float64(bytes))
	}
	if outcome != OutcomeExisting {
		c.downloadLatency.Observe(duration.Seconds())
	}
}

// RecordRetry counts a repeated download attempt.
func (c *Collector) RecordRetry() {
	c.retries.Inc()
}

// RecordItem counts a saved item.
func (c *Collector) RecordItem(outcome string) {
	c.items.WithLabelValues(outcome).Inc()
}

// RecordAuth counts an authentication attempt.
func (c *Collector) RecordAuth(method string, ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	c.auth.WithLabelValues(method, result).Inc()
}

// RecordRunFinished counts a finished run.
func (c *Collector) RecordRunFinished(state string) {
	c.runs.WithLabelValues(state).Inc()
}

// SetJobRunning flips the running gauge.
func (c *Collector) SetJobRunning(running bool) {
	if running {
		c.jobRunning.Set(1)
		return
	}
	c.jobRunning.Set(0)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordDownload(string, int64, time.Duration) {}
func (Nop) RecordRetry()                                {}
func (Nop) RecordItem(string)                           {}
func (Nop) RecordAuth(string, bool)                     {}
func (Nop) RecordRunFinished(string)                    {}
func (Nop) SetJobRunning(bool)                          {}

// Handler serves the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
