// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jellytag"

// Recorder publishes Prometheus metrics for remote calls, caches, scans and
// background jobs. A nil *Recorder is valid and records nothing.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	remoteRequests *prometheus.CounterVec
	remoteLatency  *prometheus.HistogramVec

	cacheLookups *prometheus.CounterVec

	scanPages   *prometheus.HistogramVec
	scanLatency *prometheus.HistogramVec

	jobsRunning  prometheus.Gauge
	jobsFinished *prometheus.CounterVec

	tagRefreshes *prometheus.CounterVec
	tagLatency   prometheus.Histogram
}

// NewRecorder registers every collector on reg, or on a private registry when reg is nil.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	r := &Recorder{
		remoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jellyfin",
			Name:      "requests_total",
			Help:      "Requests sent to Jellyfin servers.",
		}, []string{"operation", "status_code"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jellyfin",
			Name:      "request_duration_seconds",
			Help:      "Latency of requests sent to Jellyfin servers.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Item cache lookups by cache and result.",
		}, []string{"cache", "result"}),
		scanPages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "pages",
			Help:      "Pages consumed per library scan.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"path"}),
		scanLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Wall time of library scans.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"path"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "prefetch",
			Name:      "jobs_running",
			Help:      "Prefetch jobs currently scanning.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prefetch",
			Name:      "jobs_finished_total",
			Help:      "Prefetch jobs finished by final status.",
		}, []string{"status"}),
		tagRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tags",
			Name:      "refreshes_total",
			Help:      "Tag vocabulary refreshes by source and outcome.",
		}, []string{"source", "outcome"}),
		tagLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tags",
			Name:      "refresh_duration_seconds",
			Help:      "Wall time of tag vocabulary refreshes.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}

	reg.MustRegister(
		r.remoteRequests, r.remoteLatency,
		r.cacheLookups,
		r.scanPages, r.scanLatency,
		r.jobsRunning, r.jobsFinished,
		r.tagRefreshes, r.tagLatency,
	)

	r.gatherer = reg
	r.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return r
}

// Handler exposes the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

func (r *Recorder) ObserveRemoteRequest(operation string, statusCode int, elapsed time.Duration) {
	if r == nil {
		return
	}
	op := normalizeLabel(operation)
	status := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		status = "error"
	}
	r.remoteRequests.WithLabelValues(op, status).Inc()
	r.remoteLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveCacheLookup(cache string, hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(normalizeLabel(cache), result).Inc()
}

func (r *Recorder) ObserveScan(path string, pages int, elapsed time.Duration) {
	if r == nil {
		return
	}
	label := normalizeLabel(path)
	r.scanPages.WithLabelValues(label).Observe(float64(pages))
	r.scanLatency.WithLabelValues(label).Observe(elapsed.Seconds())
}

func (r *Recorder) PrefetchJobStarted() {
	if r == nil {
		return
	}
	r.jobsRunning.Inc()
}

func (r *Recorder) PrefetchJobFinished(status string) {
	if r == nil {
		return
	}
	r.jobsRunning.Dec()
	r.jobsFinished.WithLabelValues(normalizeLabel(status)).Inc()
}

// ObserveTagRefresh records one finished tag refresh. source is the strategy
// whose result was kept.
func (r *Recorder) ObserveTagRefresh(source string, err error, elapsed time.Duration) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.tagRefreshes.WithLabelValues(normalizeLabel(source), outcome).Inc()
	r.tagLatency.Observe(elapsed.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
