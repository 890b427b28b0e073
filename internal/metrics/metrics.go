// Package metrics exposes prometheus counters for the discussions gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the services depend on; Nop satisfies it in tests.
type Recorder interface {
	RecordRemoteCall(operation, outcome string, elapsed time.Duration)
	RecordRepositoryResolution(outcome string)
	RecordSubmission(outcome string)
}

type Collector struct {
	remoteCalls    *prometheus.CounterVec
	remoteLatency  *prometheus.HistogramVec
	repoResolution *prometheus.CounterVec
	submissions    *prometheus.CounterVec
	gatherer       prometheus.Gatherer
}

// NewCollector registers all metrics on reg. reg is also used as the gatherer
// when it implements prometheus.Gatherer.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discussblog_remote_requests_total",
			Help: "GitHub GraphQL calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "discussblog_remote_request_duration_seconds",
			Help:    "GitHub GraphQL call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		repoResolution: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discussblog_repository_id_resolutions_total",
			Help: "Network resolutions of the repository id.",
		}, []string{"outcome"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discussblog_post_submissions_total",
			Help: "POST /api/post outcomes.",
		}, []string{"outcome"}),
		gatherer: prometheus.DefaultGatherer,
	}

	reg.MustRegister(c.remoteCalls, c.remoteLatency, c.repoResolution, c.submissions)
	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	}
	return c
}

func (c *Collector) RecordRemoteCall(operation, outcome string, elapsed time.Duration) {
	c.remoteCalls.WithLabelValues(operation, outcome).Inc()
	c.remoteLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (c *Collector) RecordRepositoryResolution(outcome string) {
	c.repoResolution.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordSubmission(outcome string) {
	c.submissions.WithLabelValues(outcome).Inc()
}

// Handler serves the registry this collector was registered on.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

type Nop struct{}

func (Nop) RecordRemoteCall(string, string, time.Duration) {}
func (Nop) RecordRepositoryResolution(string)               {}
func (Nop) RecordSubmission(string)                         {}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)
