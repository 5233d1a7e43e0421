// Package metrics exposes pipeline counters and timings to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/biomarker-normalizer/pkg/biomarker"
)

// Pipeline stages
const (
	StageUpload     = "upload"
	StageCreate     = "create_record"
	StageExtraction = "extraction_call"
	StageParse      = "parse"
	StageValidate   = "validate"
	StageClassify   = "classify"
	StagePersist    = "persist"
)

// Stage outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the collectors of one registry. A nil *Metrics records
// nothing, so components can run without metrics.
type Metrics struct {
	registry      *prometheus.Registry
	submissions   *prometheus.CounterVec
	entries       *prometheus.CounterVec
	matches       *prometheus.CounterVec
	statuses      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New registers the collectors under namespace on a fresh registry
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "biomarker"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{Namespace: namespace}))
	registry.MustRegister(prometheus.NewGoCollector())

	m := &Metrics{
		registry: registry,
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Lab report submissions by outcome code.",
		}, []string{"outcome"}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extracted_entries_total",
			Help:      "Extracted biomarker entries by validation result.",
		}, []string{"result"}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "name_matches_total",
			Help:      "Accepted biomarker names by match type.",
		}, []string{"match_type"}),
		statuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classified_biomarkers_total",
			Help:      "Classified biomarkers by clinical status.",
		}, []string{"status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	registry.MustRegister(m.submissions, m.entries, m.matches, m.statuses, m.stageDuration, m.httpRequests, m.httpDuration)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records how long a stage took and whether it succeeded
func (m *Metrics) ObserveStage(stage string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.stageDuration.WithLabelValues(stage, outcome).Observe(time.Since(started).Seconds())
}

// Submission counts a finished submission. outcome is "completed" or a failure code.
func (m *Metrics) Submission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

// Validation counts one validated batch
func (m *Metrics) Validation(batch biomarker.BatchResult) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues("accepted").Add(float64(len(batch.Accepted)))
	m.entries.WithLabelValues("rejected").Add(float64(batch.Rejected))
	for _, e := range batch.Accepted {
		m.matches.WithLabelValues(string(e.Match.MatchType)).Inc()
	}
}

// Classified counts the statuses of a result set
func (m *Metrics) Classified(rs *biomarker.ResultSet) {
	if m == nil || rs == nil {
		return
	}
	for status, n := range rs.CountByStatus() {
		m.statuses.WithLabelValues(string(status)).Add(float64(n))
	}
}

// HTTPRequest records one served request
func (m *Metrics) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
