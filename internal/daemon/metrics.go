// Copyright 2026 The Cmdgate Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package daemon

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmdgate_decisions_total",
			Help: "Total number of validation decisions by action and rule pattern.",
		},
		[]string{"action", "rule"},
	)

	evalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "cmdgate_eval_duration_seconds",
			Help: "Command validation duration in seconds.",
			Buckets: []float64{
				0.000001, 0.000005, 0.00001, 0.00005,
				0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1,
			},
		},
	)

	ruleCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cmdgate_rule_count",
			Help: "Current number of merged rules.",
		},
	)

	reloadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cmdgate_rule_reloads_total",
			Help: "Total number of rule set reloads since startup.",
		},
	)

	uptimeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cmdgate_uptime_seconds",
			Help: "Seconds since the daemon started.",
		},
	)

	metricsRegistry = prometheus.NewRegistry()
)

func init() {
	metricsRegistry.MustRegister(
		decisionsTotal,
		evalDuration,
		ruleCount,
		reloadsTotal,
		uptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
}

// RecordDecision records a validation decision for Prometheus metrics.
func RecordDecision(action, rule string, duration time.Duration) {
	if rule == "" {
		rule = "none"
	}
	decisionsTotal.With(prometheus.Labels{"action": action, "rule": rule}).Inc()
	evalDuration.Observe(duration.Seconds())
}

// SetRuleCount sets the current merged rule count gauge.
func SetRuleCount(n int) {
	ruleCount.Set(float64(n))
}

// RecordReload increments the rule reload counter.
func RecordReload() {
	reloadsTotal.Inc()
}

// SetUptime sets the uptime gauge in seconds.
func SetUptime(d time.Duration) {
	uptimeSeconds.Set(d.Seconds())
}

// MetricsHandler returns an HTTP handler for the /metrics endpoint.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{})
}
